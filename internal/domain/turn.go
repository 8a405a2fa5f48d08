package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one submitted unit of user input. Immutable once accepted into a
// pipeline; retries dedupe on (session_id, turn_id, role).
type Turn struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_turn_session_turn_role,unique,priority:1" json:"session_id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	// TurnID correlates primary and secondary pipeline outputs. Caller-supplied
	// when the client wants to track the turn, generated otherwise.
	TurnID string `gorm:"column:turn_id;not null;index:idx_turn_session_turn_role,unique,priority:2" json:"turn_id"`
	Role   string `gorm:"column:role;not null;index:idx_turn_session_turn_role,unique,priority:3" json:"role"`

	Content   string         `gorm:"column:content;type:text;not null;default:''" json:"content"`
	PersonaID string         `gorm:"column:persona_id;not null;default:''" json:"persona_id,omitempty"`
	Metadata  datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Turn) TableName() string { return "practice_turn" }

// TurnResponse accumulates the generated reply for one turn. It moves from
// incomplete (chunks arriving) to complete (terminal chunk observed), and may
// later carry an evaluation score for graded flows.
type TurnResponse struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_response_session_turn,unique,priority:1" json:"session_id"`
	TurnID    string    `gorm:"column:turn_id;not null;index:idx_response_session_turn,unique,priority:2" json:"turn_id"`

	Content    string `gorm:"column:content;type:text;not null;default:''" json:"content"`
	IsComplete bool   `gorm:"column:is_complete;not null;default:false" json:"is_complete"`

	Score    *float64 `gorm:"column:score" json:"score,omitempty"`
	Feedback string   `gorm:"column:feedback;type:text;not null;default:''" json:"feedback,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (TurnResponse) TableName() string { return "turn_response" }
