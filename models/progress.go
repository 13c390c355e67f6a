package models

import "time"

// Progress statuses. A proof-free scan lands directly in auto_approved; a
// proof-required scan waits in pending until a moderator settles it.
const (
	StatusAutoApproved = "auto_approved"
	StatusPending      = "pending"
	StatusApproved     = "approved"
	StatusRejected     = "rejected"
)

// Moderation outcomes
const (
	OutcomeApprove = "approve"
	OutcomeReject  = "reject"
)

// ProgressRecord is the ledger entry for one team's attempt at one task and
// the source of truth for scoring. The partial unique index is the
// idempotency primitive: at most one non-rejected record may exist per
// (team, task), enforced by the database so two racing scans cannot both
// insert. Rejected records stay behind as an audit trail and do not block a
// fresh attempt.
type ProgressRecord struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	TeamID string `gorm:"type:uuid;not null;index;uniqueIndex:uq_progress_team_task,where:status <> 'rejected'" json:"team_id"`
	TaskID string `gorm:"type:uuid;not null;uniqueIndex:uq_progress_team_task,where:status <> 'rejected'" json:"task_id"`

	Status string `gorm:"type:varchar(16);not null;index" json:"status"`

	// Non-zero only for auto_approved/approved records (scores are summed
	// from this column, never cached elsewhere)
	PointsAwarded int `gorm:"not null;default:0" json:"points_awarded"`

	// Opaque handle to the uploaded proof (object storage URL or messenger
	// file id); the engine never interprets it
	ProofRef *string `gorm:"type:text" json:"proof_ref,omitempty"`

	SubmittedByUserID *string `gorm:"type:uuid;index" json:"submitted_by_user_id,omitempty"`

	// CompletedAt marks the moment points were credited
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	DecidedBy   *string    `json:"decided_by,omitempty"`

	Team Team `gorm:"foreignKey:TeamID" json:"-"`
	Task Task `gorm:"foreignKey:TaskID" json:"-"`

	Timestamps
}

// Settled reports whether the record has credited points.
func (p *ProgressRecord) Settled() bool {
	return p.Status == StatusAutoApproved || p.Status == StatusApproved
}
