package models

import "time"

// Session states, linear: not_started → running → ended
const (
	SessionNotStarted = "not_started"
	SessionRunning    = "running"
	SessionEnded      = "ended"
)

// GameSession gates scan acceptance for one event. Kept as a row (not
// process state) so several sessions can coexist and every worker sees the
// same state.
type GameSession struct {
	ID    string `gorm:"primaryKey;type:uuid" json:"id"`
	Name  string `gorm:"not null" json:"name"`
	State string `gorm:"type:varchar(16);not null;default:'not_started';index" json:"state"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// Optional deadline: the scheduler ends the session once EndsAt passes
	EndsAt *time.Time `json:"ends_at,omitempty"`

	Timestamps
}
