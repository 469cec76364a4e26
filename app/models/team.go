package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	TeamRoleOwner  = "owner"
	TeamRoleMember = "member"
)

// Team is a salon account. Seats are billed on the salon plan; members must
// not keep a parallel individual subscription (see teams.Service.JoinTeam).
type Team struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"type:varchar(150);not null" json:"name"`
	OwnerID   uint           `gorm:"not null;index" json:"owner_id"`
	SeatLimit int            `gorm:"default:5" json:"seat_limit"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

type TeamMember struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TeamID    uint      `gorm:"not null;index:ux_team_members_team_user,unique,priority:1" json:"team_id"`
	UserID    uint      `gorm:"not null;index:ux_team_members_team_user,unique,priority:2" json:"user_id"`
	Role      string    `gorm:"type:varchar(20);not null;default:'member'" json:"role"`
	JoinedAt  time.Time `gorm:"autoCreateTime" json:"joined_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
