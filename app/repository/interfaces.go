package repository

import (
	"gorm.io/gorm"

	"github.com/StyleLoft/StyleLoft/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Update(user *models.User) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// VideoRepository defines the interface for video catalog operations
type VideoRepository interface {
	Create(video *models.Video) error
	GetByID(id uint) (*models.Video, error)
	GetByUUID(uuid string) (*models.Video, error)
	Update(video *models.Video) error
	Delete(id uint) error
	ListPublished(offset, limit int) ([]models.Video, error)
	Count() (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User  UserRepository
	Video VideoRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:  NewUserRepository(db),
		Video: NewVideoRepository(db),
	}
}
