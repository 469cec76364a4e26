package teams

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/StyleLoft/StyleLoft/app/models"
)

// Repository provides the membership DB operations the service needs. The
// (team_id, user_id) uniqueness on team_members is the only dedup for
// concurrent joins.
type Repository interface {
	CreateTeam(team *models.Team) error
	GetTeam(id uint) (*models.Team, error)
	CountMembers(teamID uint) (int64, error)
	AddMemberIfNotExists(member *models.TeamMember) (bool, error)
	SetUserTeam(userID uint, teamID *uint) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a teams repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateTeam(team *models.Team) error {
	return r.db.Create(team).Error
}

func (r *gormRepository) GetTeam(id uint) (*models.Team, error) {
	var team models.Team
	err := r.db.First(&team, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &team, nil
}

func (r *gormRepository) CountMembers(teamID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.TeamMember{}).Where("team_id = ?", teamID).Count(&count).Error
	return count, err
}

func (r *gormRepository) AddMemberIfNotExists(member *models.TeamMember) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "team_id"},
			{Name: "user_id"},
		},
		DoNothing: true,
	}).Create(member)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) SetUserTeam(userID uint, teamID *uint) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).
		Update("team_id", teamID).Error
}
