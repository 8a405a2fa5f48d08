package practice

import (
	"context"
	"testing"

	"github.com/google/uuid"

	types "github.com/sueda-gl/bookspire-backend-public/internal/domain"
	"github.com/sueda-gl/bookspire-backend-public/internal/data/repos/testutil"
	"github.com/sueda-gl/bookspire-backend-public/internal/pkg/dbctx"
)

func TestTurnRepoCreateDedupes(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := NewTurnRepo(db, log)
	dbc := dbctx.New(context.Background())

	sessionID := uuid.New()
	userID := uuid.New()
	row := &types.Turn{
		SessionID: sessionID,
		UserID:    userID,
		TurnID:    "turn-1",
		Role:      "user",
		Content:   "hola",
	}
	if _, err := repo.Create(dbc, []*types.Turn{row}); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := &types.Turn{
		SessionID: sessionID,
		UserID:    userID,
		TurnID:    "turn-1",
		Role:      "user",
		Content:   "hola otra vez",
	}
	if _, err := repo.Create(dbc, []*types.Turn{dup}); err != nil {
		t.Fatalf("duplicate create should be a no-op, got: %v", err)
	}

	got, err := repo.GetByTurnID(dbc, sessionID, "turn-1", "user")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "hola" {
		t.Fatalf("expected first write to win, got content %q", got.Content)
	}

	turns, err := repo.ListBySession(dbc, sessionID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
}

func TestResponseRepoUpsertReplacesContent(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := NewResponseRepo(db, log)
	dbc := dbctx.New(context.Background())

	sessionID := uuid.New()
	if _, err := repo.Upsert(dbc, &types.TurnResponse{
		SessionID: sessionID,
		TurnID:    "turn-1",
		Content:   "partial text",
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if _, err := repo.Upsert(dbc, &types.TurnResponse{
		SessionID:  sessionID,
		TurnID:     "turn-1",
		Content:    "full text",
		IsComplete: true,
	}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := repo.GetByTurnID(dbc, sessionID, "turn-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "full text" || !got.IsComplete {
		t.Fatalf("expected replaced content, got %q complete=%v", got.Content, got.IsComplete)
	}

	score := 0.8
	if err := repo.SetEvaluation(dbc, sessionID, "turn-1", &score, "well done"); err != nil {
		t.Fatalf("set evaluation: %v", err)
	}
	got, err = repo.GetByTurnID(dbc, sessionID, "turn-1")
	if err != nil {
		t.Fatalf("get after evaluation: %v", err)
	}
	if got.Score == nil || *got.Score != 0.8 || got.Feedback != "well done" {
		t.Fatalf("evaluation not persisted: %+v", got)
	}
}

func TestAnalysisRepoWriteOnce(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := NewAnalysisRepo(db, log)
	dbc := dbctx.New(context.Background())

	sessionID := uuid.New()
	userID := uuid.New()
	first := &types.TurnAnalysis{
		SessionID:           sessionID,
		UserID:              userID,
		TurnID:              "turn-1",
		IsAppropriate:       false,
		InappropriateReason: "off topic",
		OriginalText:        "原文",
		CorrectedText:       "corregido",
	}
	inserted, err := repo.Create(dbc, first)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !inserted {
		t.Fatalf("first create should insert")
	}

	second := &types.TurnAnalysis{
		SessionID:     sessionID,
		UserID:        userID,
		TurnID:        "turn-1",
		IsAppropriate: true,
	}
	inserted, err = repo.Create(dbc, second)
	if err != nil {
		t.Fatalf("second create should be a no-op, got: %v", err)
	}
	if inserted {
		t.Fatalf("second create must not insert")
	}

	got, err := repo.GetByTurnID(dbc, sessionID, "turn-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IsAppropriate {
		t.Fatalf("expected first verdict to stick")
	}

	flagged, err := repo.ListFlaggedBySession(dbc, sessionID, 10)
	if err != nil {
		t.Fatalf("list flagged: %v", err)
	}
	if len(flagged) != 1 {
		t.Fatalf("expected 1 flagged row, got %d", len(flagged))
	}
}

func TestSessionRepoQuestionCursor(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := NewSessionRepo(db, log)
	dbc := dbctx.New(context.Background())

	sess, err := repo.Create(dbc, &types.PracticeSession{
		UserID:        uuid.New(),
		Mode:          "guided",
		LanguageLevel: "b1",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	prompts := []string{"first question", "second question"}
	if err := repo.SeedQuestions(dbc, sess.ID, prompts); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Reseed must not duplicate positions.
	if err := repo.SeedQuestions(dbc, sess.ID, prompts); err != nil {
		t.Fatalf("reseed: %v", err)
	}

	q1, err := repo.NextQuestion(dbc, sess.ID)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if q1 == nil || q1.Prompt != "first question" {
		t.Fatalf("unexpected first question: %+v", q1)
	}
	if err := repo.MarkQuestionAsked(dbc, q1.ID); err != nil {
		t.Fatalf("mark asked: %v", err)
	}

	q2, err := repo.NextQuestion(dbc, sess.ID)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if q2 == nil || q2.Prompt != "second question" {
		t.Fatalf("unexpected second question: %+v", q2)
	}
	if err := repo.MarkQuestionAsked(dbc, q2.ID); err != nil {
		t.Fatalf("mark asked: %v", err)
	}

	q3, err := repo.NextQuestion(dbc, sess.ID)
	if err != nil {
		t.Fatalf("next after exhaustion: %v", err)
	}
	if q3 != nil {
		t.Fatalf("expected nil after exhaustion, got %+v", q3)
	}
}
