package practice

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/sueda-gl/bookspire-backend-public/internal/domain"
	"github.com/sueda-gl/bookspire-backend-public/internal/pkg/dbctx"
	"github.com/sueda-gl/bookspire-backend-public/internal/platform/logger"
)

type ResponseRepo interface {
	// Upsert writes the accumulated response text for a turn. Keyed on
	// (session_id, turn_id): a retry replaces content instead of duplicating.
	Upsert(dbc dbctx.Context, row *types.TurnResponse) (*types.TurnResponse, error)
	SetEvaluation(dbc dbctx.Context, sessionID uuid.UUID, turnID string, score *float64, feedback string) error
	GetByTurnID(dbc dbctx.Context, sessionID uuid.UUID, turnID string) (*types.TurnResponse, error)
}

type responseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResponseRepo(db *gorm.DB, log *logger.Logger) ResponseRepo {
	return &responseRepo{db: db, log: log.With("repo", "ResponseRepo")}
}

func (r *responseRepo) Upsert(dbc dbctx.Context, row *types.TurnResponse) (*types.TurnResponse, error) {
	if row == nil {
		return nil, fmt.Errorf("missing row")
	}
	if row.SessionID == uuid.Nil {
		return nil, fmt.Errorf("missing session_id")
	}
	if row.TurnID == "" {
		return nil, fmt.Errorf("missing turn_id")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if err := txx.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "turn_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "is_complete", "updated_at"}),
		}).
		Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *responseRepo) SetEvaluation(dbc dbctx.Context, sessionID uuid.UUID, turnID string, score *float64, feedback string) error {
	if sessionID == uuid.Nil {
		return fmt.Errorf("missing session_id")
	}
	if turnID == "" {
		return fmt.Errorf("missing turn_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Model(&types.TurnResponse{}).
		Where("session_id = ? AND turn_id = ?", sessionID, turnID).
		Updates(map[string]interface{}{
			"score":      score,
			"feedback":   feedback,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *responseRepo) GetByTurnID(dbc dbctx.Context, sessionID uuid.UUID, turnID string) (*types.TurnResponse, error) {
	if sessionID == uuid.Nil {
		return nil, fmt.Errorf("missing session_id")
	}
	if turnID == "" {
		return nil, fmt.Errorf("missing turn_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out types.TurnResponse
	if err := txx.WithContext(dbc.Ctx).
		Where("session_id = ? AND turn_id = ?", sessionID, turnID).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}
