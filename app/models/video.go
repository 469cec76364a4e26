package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Video is a single course lesson. Paid lessons are gated by the viewer's
// entitlement; DripDelayDays staggers availability from the start of the
// viewer's current billing period.
type Video struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	UUID          string         `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	Title         string         `gorm:"type:varchar(255);not null" json:"title" validate:"required,max=255"`
	Description   string         `gorm:"type:text" json:"description"`
	S3ObjectKey   string         `gorm:"type:varchar(512);not null" json:"-"`
	DurationSecs  int            `gorm:"default:0" json:"duration_secs"`
	IsPublished   bool           `gorm:"default:false;index" json:"is_published"`
	IsFree        bool           `gorm:"default:false" json:"is_free"`
	DripDelayDays int            `gorm:"default:0" json:"drip_delay_days" validate:"min=0"`
	ViewCount     int64          `gorm:"default:0" json:"view_count"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

func (v *Video) Validate() error {
	return validator.New().Struct(v)
}

func (v *Video) BeforeCreate(tx *gorm.DB) error {
	if v.UUID == "" {
		v.UUID = uuid.New().String()
	}
	return nil
}
