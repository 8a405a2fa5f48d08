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

type TurnRepo interface {
	// Create inserts turn rows, ignoring duplicates on (session_id, turn_id, role)
	// so that pipeline retries never double-write a turn.
	Create(dbc dbctx.Context, rows []*types.Turn) ([]*types.Turn, error)
	GetByTurnID(dbc dbctx.Context, sessionID uuid.UUID, turnID, role string) (*types.Turn, error)
	ListBySession(dbc dbctx.Context, sessionID uuid.UUID, limit int) ([]*types.Turn, error)
}

type turnRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTurnRepo(db *gorm.DB, log *logger.Logger) TurnRepo {
	return &turnRepo{db: db, log: log.With("repo", "TurnRepo")}
}

func (r *turnRepo) Create(dbc dbctx.Context, rows []*types.Turn) ([]*types.Turn, error) {
	if len(rows) == 0 {
		return []*types.Turn{}, nil
	}
	for _, row := range rows {
		if row.SessionID == uuid.Nil {
			return nil, fmt.Errorf("missing session_id")
		}
		if row.TurnID == "" {
			return nil, fmt.Errorf("missing turn_id")
		}
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if err := txx.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "turn_id"}, {Name: "role"}},
			DoNothing: true,
		}).
		Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *turnRepo) GetByTurnID(dbc dbctx.Context, sessionID uuid.UUID, turnID, role string) (*types.Turn, error) {
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
	var out types.Turn
	if err := txx.WithContext(dbc.Ctx).
		Where("session_id = ? AND turn_id = ? AND role = ?", sessionID, turnID, role).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *turnRepo) ListBySession(dbc dbctx.Context, sessionID uuid.UUID, limit int) ([]*types.Turn, error) {
	if sessionID == uuid.Nil {
		return nil, fmt.Errorf("missing session_id")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.Turn
	if err := txx.WithContext(dbc.Ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
