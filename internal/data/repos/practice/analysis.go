package practice

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/sueda-gl/bookspire-backend-public/internal/domain"
	"github.com/sueda-gl/bookspire-backend-public/internal/pkg/dbctx"
	"github.com/sueda-gl/bookspire-backend-public/internal/platform/logger"
)

type AnalysisRepo interface {
	// Create writes the analysis verdict for a turn. Write-once: a second write
	// for the same (session_id, turn_id) is a no-op and reports inserted=false.
	Create(dbc dbctx.Context, row *types.TurnAnalysis) (inserted bool, err error)
	GetByTurnID(dbc dbctx.Context, sessionID uuid.UUID, turnID string) (*types.TurnAnalysis, error)
	ListFlaggedBySession(dbc dbctx.Context, sessionID uuid.UUID, limit int) ([]*types.TurnAnalysis, error)
}

type analysisRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnalysisRepo(db *gorm.DB, log *logger.Logger) AnalysisRepo {
	return &analysisRepo{db: db, log: log.With("repo", "AnalysisRepo")}
}

func (r *analysisRepo) Create(dbc dbctx.Context, row *types.TurnAnalysis) (bool, error) {
	if row == nil {
		return false, fmt.Errorf("missing row")
	}
	if row.SessionID == uuid.Nil {
		return false, fmt.Errorf("missing session_id")
	}
	if row.TurnID == "" {
		return false, fmt.Errorf("missing turn_id")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	res := txx.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "turn_id"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *analysisRepo) GetByTurnID(dbc dbctx.Context, sessionID uuid.UUID, turnID string) (*types.TurnAnalysis, error) {
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
	var out types.TurnAnalysis
	if err := txx.WithContext(dbc.Ctx).
		Where("session_id = ? AND turn_id = ?", sessionID, turnID).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *analysisRepo) ListFlaggedBySession(dbc dbctx.Context, sessionID uuid.UUID, limit int) ([]*types.TurnAnalysis, error) {
	if sessionID == uuid.Nil {
		return nil, fmt.Errorf("missing session_id")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.TurnAnalysis
	if err := txx.WithContext(dbc.Ctx).
		Where("session_id = ? AND is_appropriate = ?", sessionID, false).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
