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

type SessionRepo interface {
	Create(dbc dbctx.Context, row *types.PracticeSession) (*types.PracticeSession, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.PracticeSession, error)
	// SeedQuestions installs the guided-mode question list for a session.
	// Positions already present are left untouched.
	SeedQuestions(dbc dbctx.Context, sessionID uuid.UUID, prompts []string) error
	// NextQuestion returns the lowest-position unasked question, or nil when
	// the session has exhausted its list.
	NextQuestion(dbc dbctx.Context, sessionID uuid.UUID) (*types.SessionQuestion, error)
	// LastAskedQuestion returns the highest-position question already asked,
	// or nil when none has been asked yet.
	LastAskedQuestion(dbc dbctx.Context, sessionID uuid.UUID) (*types.SessionQuestion, error)
	MarkQuestionAsked(dbc dbctx.Context, id uuid.UUID) error
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, log *logger.Logger) SessionRepo {
	return &sessionRepo{db: db, log: log.With("repo", "SessionRepo")}
}

func (r *sessionRepo) Create(dbc dbctx.Context, row *types.PracticeSession) (*types.PracticeSession, error) {
	if row == nil {
		return nil, fmt.Errorf("missing row")
	}
	if row.UserID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if err := txx.WithContext(dbc.Ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *sessionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.PracticeSession, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out types.PracticeSession
	if err := txx.WithContext(dbc.Ctx).Where("id = ?", id).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *sessionRepo) SeedQuestions(dbc dbctx.Context, sessionID uuid.UUID, prompts []string) error {
	if sessionID == uuid.Nil {
		return fmt.Errorf("missing session_id")
	}
	if len(prompts) == 0 {
		return nil
	}
	rows := make([]*types.SessionQuestion, 0, len(prompts))
	for i, p := range prompts {
		rows = append(rows, &types.SessionQuestion{
			ID:        uuid.New(),
			SessionID: sessionID,
			Position:  i,
			Prompt:    p,
		})
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "position"}},
			DoNothing: true,
		}).
		Create(&rows).Error
}

func (r *sessionRepo) NextQuestion(dbc dbctx.Context, sessionID uuid.UUID) (*types.SessionQuestion, error) {
	if sessionID == uuid.Nil {
		return nil, fmt.Errorf("missing session_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out types.SessionQuestion
	err := txx.WithContext(dbc.Ctx).
		Where("session_id = ? AND asked = ?", sessionID, false).
		Order("position ASC").
		First(&out).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *sessionRepo) LastAskedQuestion(dbc dbctx.Context, sessionID uuid.UUID) (*types.SessionQuestion, error) {
	if sessionID == uuid.Nil {
		return nil, fmt.Errorf("missing session_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out types.SessionQuestion
	err := txx.WithContext(dbc.Ctx).
		Where("session_id = ? AND asked = ?", sessionID, true).
		Order("position DESC").
		First(&out).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *sessionRepo) MarkQuestionAsked(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Model(&types.SessionQuestion{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"asked":      true,
			"updated_at": time.Now().UTC(),
		}).Error
}
