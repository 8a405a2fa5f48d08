package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session modes. Guided sessions walk a question list; free sessions are
// open-ended conversation.
const (
	ModeGuided = "guided"
	ModeFree   = "free"
)

// PracticeSession is one conversational exchange between a learner and a persona.
type PracticeSession struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Mode          string `gorm:"column:mode;not null;default:'guided';index" json:"mode"`
	PersonaID     string `gorm:"column:persona_id;not null;default:''" json:"persona_id,omitempty"`
	LanguageLevel string `gorm:"column:language_level;not null;default:'b1'" json:"language_level"`
	Title         string `gorm:"column:title;not null;default:''" json:"title,omitempty"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (PracticeSession) TableName() string { return "practice_session" }
