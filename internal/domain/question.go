package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionQuestion is one prompt in a guided (question-driven) session.
type SessionQuestion struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_question_session_pos,unique,priority:1" json:"session_id"`

	Position int    `gorm:"column:position;not null;index:idx_question_session_pos,unique,priority:2" json:"position"`
	Prompt   string `gorm:"column:prompt;type:text;not null" json:"prompt"`
	Asked    bool   `gorm:"column:asked;not null;default:false;index" json:"asked"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (SessionQuestion) TableName() string { return "session_question" }
