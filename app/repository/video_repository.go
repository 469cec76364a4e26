package repository

import (
	"gorm.io/gorm"

	"github.com/StyleLoft/StyleLoft/app/models"
)

// videoRepository implements the VideoRepository interface
type videoRepository struct {
	db *gorm.DB
}

// NewVideoRepository creates a new video repository instance
func NewVideoRepository(db *gorm.DB) VideoRepository {
	return &videoRepository{db: db}
}

// Create creates a new video in the database
func (r *videoRepository) Create(video *models.Video) error {
	return r.db.Create(video).Error
}

// GetByID retrieves a video by its ID
func (r *videoRepository) GetByID(id uint) (*models.Video, error) {
	var video models.Video
	err := r.db.First(&video, id).Error
	if err != nil {
		return nil, err
	}
	return &video, nil
}

// GetByUUID retrieves a video by its public UUID
func (r *videoRepository) GetByUUID(uuid string) (*models.Video, error) {
	var video models.Video
	err := r.db.Where("uuid = ?", uuid).First(&video).Error
	if err != nil {
		return nil, err
	}
	return &video, nil
}

// Update updates an existing video in the database
func (r *videoRepository) Update(video *models.Video) error {
	return r.db.Save(video).Error
}

// Delete soft deletes a video by its ID
func (r *videoRepository) Delete(id uint) error {
	return r.db.Delete(&models.Video{}, id).Error
}

// ListPublished retrieves a paginated list of published videos
func (r *videoRepository) ListPublished(offset, limit int) ([]models.Video, error) {
	var videos []models.Video
	err := r.db.Where("is_published = ?", true).
		Order("created_at DESC").Offset(offset).Limit(limit).Find(&videos).Error
	return videos, err
}

// Count returns the total number of videos
func (r *videoRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Video{}).Count(&count).Error
	return count, err
}
