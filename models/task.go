package models

// Task is one scannable unit of the quest (the code is what the QR encodes).
// RequiresProof routes completions through photo moderation instead of
// auto-approval.
type Task struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	Code        string `gorm:"uniqueIndex;not null" json:"code"`
	Title       string `gorm:"not null" json:"title"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	Order       *int   `gorm:"column:sort_order;index" json:"order,omitempty"`

	Points        int  `gorm:"not null;default:1" json:"points"`
	IsActive      bool `gorm:"default:true" json:"is_active"`
	RequiresProof bool `gorm:"default:false" json:"requires_proof"`

	// Optional map pin for the mini app
	Lat *float64 `json:"lat,omitempty"`
	Lon *float64 `json:"lon,omitempty"`

	Timestamps
}
