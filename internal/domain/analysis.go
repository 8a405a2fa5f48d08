package domain

import (
	"time"

	"github.com/google/uuid"
)

// TurnAnalysis is the secondary pipeline's verdict for one turn: moderation
// flag plus language correction. Written once, never mutated.
type TurnAnalysis struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_analysis_session_turn,unique,priority:1" json:"session_id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	TurnID    string    `gorm:"column:turn_id;not null;index:idx_analysis_session_turn,unique,priority:2" json:"turn_id"`

	Feature string `gorm:"column:feature;not null;default:''" json:"feature"`

	IsAppropriate       bool   `gorm:"column:is_appropriate;not null;default:true" json:"is_appropriate"`
	InappropriateReason string `gorm:"column:inappropriate_reason;not null;default:''" json:"inappropriate_reason,omitempty"`

	OriginalText    string `gorm:"column:original_text;type:text;not null;default:''" json:"original_text"`
	CorrectedText   string `gorm:"column:corrected_text;type:text;not null;default:''" json:"corrected_text"`
	GrammarFeedback string `gorm:"column:grammar_feedback;type:text;not null;default:''" json:"grammar_feedback,omitempty"`

	ProcessedAt time.Time `gorm:"column:processed_at;not null" json:"processed_at"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
}

func (TurnAnalysis) TableName() string { return "turn_analysis" }
