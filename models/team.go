package models

import "time"

// Member roles within a team.
const (
	RoleCaptain = "CAPTAIN"
	RolePlayer  = "PLAYER"
)

// Team groups participants under one shared score.
// Names default to "Team #N"; the captain may rename once before the quest starts.
type Team struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	Name        string `gorm:"uniqueIndex;not null" json:"name"`
	Description string `gorm:"type:text" json:"description,omitempty"`

	// Registration open/closed
	IsLocked bool `gorm:"default:false" json:"is_locked"`

	// One-time rename right, spent by the captain
	CanRename bool `gorm:"default:true" json:"can_rename"`

	// Quest timings: StartedAt set by the captain, FinishedAt when every
	// active task is settled positive
	StartedAt  *time.Time `gorm:"index" json:"started_at,omitempty"`
	FinishedAt *time.Time `gorm:"index" json:"finished_at,omitempty"`

	Members  []TeamMember     `gorm:"foreignKey:TeamID" json:"members,omitempty"`
	Progress []ProgressRecord `gorm:"foreignKey:TeamID" json:"-"`

	Timestamps
}

// User is a participant, keyed by their messenger identity
type User struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	TgID      string `gorm:"uniqueIndex" json:"tg_id"`
	Phone     string `gorm:"index" json:"phone,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	IsActive  bool   `gorm:"default:true" json:"is_active"`

	Timestamps
}

// TeamMember links a user to exactly one team
type TeamMember struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	TeamID string `gorm:"type:uuid;not null;uniqueIndex:uq_team_user" json:"team_id"`
	UserID string `gorm:"type:uuid;not null;uniqueIndex:uq_team_user" json:"user_id"`
	Role   string `gorm:"type:varchar(16);default:'PLAYER'" json:"role"`

	Team Team `gorm:"foreignKey:TeamID" json:"-"`
	User User `gorm:"foreignKey:UserID" json:"-"`

	Timestamps
}
