package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sueda-gl/bookspire-backend-public/internal/data/repos/practice"
	"github.com/sueda-gl/bookspire-backend-public/internal/data/repos/testutil"
	types "github.com/sueda-gl/bookspire-backend-public/internal/domain"
	"github.com/sueda-gl/bookspire-backend-public/internal/pkg/dbctx"
	"github.com/sueda-gl/bookspire-backend-public/internal/realtime"
)

type fakeGenerator struct {
	mu              sync.Mutex
	textOut         string
	textFails       bool
	textUsers       []string
	moderation      string
	moderationErr   error
	moderationDelay time.Duration
	evaluation      string
	evaluationErr   error
	streamDeltas    []string
	streamErr       error
}

func (g *fakeGenerator) Text(_ context.Context, _, user, fallback string) string {
	g.mu.Lock()
	g.textUsers = append(g.textUsers, user)
	g.mu.Unlock()
	if g.textFails {
		return fallback
	}
	return g.textOut
}

func (g *fakeGenerator) lastTextUser() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.textUsers) == 0 {
		return ""
	}
	return g.textUsers[len(g.textUsers)-1]
}

func (g *fakeGenerator) JSON(_ context.Context, system, _ string) (json.RawMessage, error) {
	if strings.Contains(system, "grading") {
		if g.evaluationErr != nil {
			return nil, g.evaluationErr
		}
		return json.RawMessage(g.evaluation), nil
	}
	if g.moderationDelay > 0 {
		time.Sleep(g.moderationDelay)
	}
	if g.moderationErr != nil {
		return nil, g.moderationErr
	}
	return json.RawMessage(g.moderation), nil
}

func (g *fakeGenerator) Stream(_ context.Context, _, _ string, onDelta func(string)) (string, error) {
	var full strings.Builder
	for _, d := range g.streamDeltas {
		full.WriteString(d)
		if onDelta != nil {
			onDelta(d)
		}
	}
	return full.String(), g.streamErr
}

type notifierEvent struct {
	kind   string
	turnID string
	text   string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifierEvent
}

func (n *recordingNotifier) record(kind, turnID, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notifierEvent{kind: kind, turnID: turnID, text: text})
}

func (n *recordingNotifier) Connected(uuid.UUID, string, uuid.UUID) { n.record("connected", "", "") }
func (n *recordingNotifier) Ack(_ uuid.UUID, _, turnID string)      { n.record("ack", turnID, "") }
func (n *recordingNotifier) Chunk(_ uuid.UUID, _, turnID, text string) {
	n.record("chunk", turnID, text)
}
func (n *recordingNotifier) Terminal(_ uuid.UUID, _, turnID string) { n.record("terminal", turnID, "") }
func (n *recordingNotifier) Evaluation(_ uuid.UUID, _, turnID string, _ *float64, feedback string) {
	n.record("evaluation", turnID, feedback)
}
func (n *recordingNotifier) ModerationNotice(_ uuid.UUID, turnID, reason string) {
	n.record("moderation", turnID, reason)
}
func (n *recordingNotifier) Correction(_ uuid.UUID, _, turnID, _, corrected, _ string) {
	n.record("correction", turnID, corrected)
}
func (n *recordingNotifier) Hint(_ uuid.UUID, _, text string)       { n.record("hint", "", text) }
func (n *recordingNotifier) Question(_ uuid.UUID, _, text string, _ int) {
	n.record("question", "", text)
}
func (n *recordingNotifier) History(_ uuid.UUID, _ string, _ []realtime.HistoryTurn) {
	n.record("history", "", "")
}
func (n *recordingNotifier) Pong(_ uuid.UUID, _, id string) { n.record("pong", "", id) }
func (n *recordingNotifier) Error(_ uuid.UUID, _, code, _, turnID string) {
	n.record("error", turnID, code)
}

func (n *recordingNotifier) indexOf(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, e := range n.events {
		if e.kind == kind {
			return i
		}
	}
	return -1
}

func (n *recordingNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.kind == kind {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) lastIndexOf(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	last := -1
	for i, e := range n.events {
		if e.kind == kind {
			last = i
		}
	}
	return last
}

type processorFixture struct {
	proc      TurnProcessor
	notifier  *recordingNotifier
	turns     practice.TurnRepo
	responses practice.ResponseRepo
	analyses  practice.AnalysisRepo
	sessions  practice.SessionRepo
	questions QuestionService
}

func newProcessorFixture(t *testing.T, gen Generator) *processorFixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)

	turns := practice.NewTurnRepo(db, log)
	responses := practice.NewResponseRepo(db, log)
	analyses := practice.NewAnalysisRepo(db, log)
	sessions := practice.NewSessionRepo(db, log)

	personas, err := NewPersonaService(log)
	if err != nil {
		t.Fatalf("personas: %v", err)
	}
	questions := NewQuestionService(sessions, personas, log)
	moderation := NewModerationService(gen, log)
	notifier := &recordingNotifier{}

	proc := NewTurnProcessor(turns, responses, analyses, sessions, questions, personas, moderation, gen, notifier, log)
	return &processorFixture{
		proc:      proc,
		notifier:  notifier,
		turns:     turns,
		responses: responses,
		analyses:  analyses,
		sessions:  sessions,
		questions: questions,
	}
}

func (f *processorFixture) newGuidedSession(t *testing.T) *types.PracticeSession {
	t.Helper()
	dbc := dbctx.New(context.Background())
	sess, err := f.sessions.Create(dbc, &types.PracticeSession{
		UserID: uuid.New(),
		Mode:   types.ModeGuided,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := f.questions.EnsureSeeded(dbc, sess.ID, "tutor"); err != nil {
		t.Fatalf("seed questions: %v", err)
	}
	return sess
}

func guidedInput(sess *types.PracticeSession, turnID string, stream bool) TurnInput {
	return TurnInput{
		SessionID:     sess.ID,
		UserID:        sess.UserID,
		ParticipantID: sess.UserID.String(),
		TurnID:        turnID,
		Text:          "I goed to the park yesterday",
		Stream:        stream,
		PersonaID:     "tutor",
		Level:         "b1",
		Mode:          sess.Mode,
	}
}

func TestProcessTurnGuidedStreamOrdering(t *testing.T) {
	gen := &fakeGenerator{
		streamDeltas: []string{"That ", "sounds ", "fun!"},
		moderation:   `{"is_appropriate": true, "reason": "", "corrected_text": "I went to the park yesterday", "grammar_feedback": "Use the past tense of go."}`,
		evaluation:   `{"score": 0.7, "feedback": "Nice answer!"}`,
	}
	f := newProcessorFixture(t, gen)
	sess := f.newGuidedSession(t)

	in := guidedInput(sess, "turn-1", true)
	if err := f.proc.ProcessTurn(context.Background(), in); err != nil {
		t.Fatalf("process: %v", err)
	}

	ack := f.notifier.indexOf("ack")
	chunk := f.notifier.indexOf("chunk")
	terminal := f.notifier.indexOf("terminal")
	eval := f.notifier.indexOf("evaluation")
	question := f.notifier.indexOf("question")
	for name, idx := range map[string]int{"ack": ack, "chunk": chunk, "terminal": terminal, "evaluation": eval, "question": question} {
		if idx < 0 {
			t.Fatalf("missing %s envelope: %+v", name, f.notifier.events)
		}
	}
	if !(ack < chunk && chunk < terminal && terminal < eval && eval < question) {
		t.Fatalf("ordering violated: ack=%d chunk=%d terminal=%d eval=%d question=%d", ack, chunk, terminal, eval, question)
	}
	if f.notifier.count("chunk") != 3 {
		t.Fatalf("expected 3 chunks, got %d", f.notifier.count("chunk"))
	}
	if f.notifier.count("moderation") != 0 {
		t.Fatalf("appropriate turn must not produce a moderation notice")
	}
	if f.notifier.count("correction") != 1 {
		t.Fatalf("expected one correction suggestion, got %d", f.notifier.count("correction"))
	}

	dbc := dbctx.New(context.Background())
	resp, err := f.responses.GetByTurnID(dbc, sess.ID, "turn-1")
	if err != nil {
		t.Fatalf("get response: %v", err)
	}
	if resp.Content != "That sounds fun!" || !resp.IsComplete {
		t.Fatalf("response not persisted as complete: %+v", resp)
	}
	if resp.Score == nil || *resp.Score != 0.7 {
		t.Fatalf("evaluation not persisted: %+v", resp)
	}

	analysis, err := f.analyses.GetByTurnID(dbc, sess.ID, "turn-1")
	if err != nil {
		t.Fatalf("get analysis: %v", err)
	}
	if !analysis.IsAppropriate || analysis.CorrectedText != "I went to the park yesterday" {
		t.Fatalf("unexpected analysis: %+v", analysis)
	}

	turns, err := f.turns.ListBySession(dbc, sess.ID, 10)
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected user and assistant turns, got %d", len(turns))
	}
}

func TestProcessTurnFlaggedNoticeExactlyOnce(t *testing.T) {
	gen := &fakeGenerator{
		textOut:    "Let's keep it friendly.",
		moderation: `{"is_appropriate": false, "reason": "unkind language", "corrected_text": "", "grammar_feedback": ""}`,
		evaluation: `{"score": 0.1, "feedback": "Let's try a different answer."}`,
	}
	f := newProcessorFixture(t, gen)
	sess := f.newGuidedSession(t)

	in := guidedInput(sess, "turn-1", false)
	if err := f.proc.ProcessTurn(context.Background(), in); err != nil {
		t.Fatalf("first process: %v", err)
	}
	// A client retry of the same turn.
	if err := f.proc.ProcessTurn(context.Background(), in); err != nil {
		t.Fatalf("retried process: %v", err)
	}

	if got := f.notifier.count("moderation"); got != 1 {
		t.Fatalf("flagged turn must notify exactly once, got %d", got)
	}
}

func TestProcessTurnStreamFailurePersistsPartial(t *testing.T) {
	gen := &fakeGenerator{
		streamDeltas: []string{"partial "},
		streamErr:    fmt.Errorf("upstream dropped"),
		moderation:   `{"is_appropriate": true, "reason": "", "corrected_text": "", "grammar_feedback": ""}`,
	}
	f := newProcessorFixture(t, gen)
	sess := f.newGuidedSession(t)

	in := guidedInput(sess, "turn-1", true)
	if err := f.proc.ProcessTurn(context.Background(), in); err == nil {
		t.Fatalf("expected stream failure to surface")
	}

	if f.notifier.count("terminal") != 0 {
		t.Fatalf("no terminal chunk after a failed stream")
	}
	if f.notifier.count("error") != 1 {
		t.Fatalf("expected one error envelope, got %d", f.notifier.count("error"))
	}
	if f.notifier.count("question") != 0 {
		t.Fatalf("failed turn must not advance the question")
	}

	resp, err := f.responses.GetByTurnID(dbctx.New(context.Background()), sess.ID, "turn-1")
	if err != nil {
		t.Fatalf("get response: %v", err)
	}
	if resp.Content != "partial " || resp.IsComplete {
		t.Fatalf("partial text should be persisted incomplete: %+v", resp)
	}
}

func TestProcessTurnSingleShotFallbackReply(t *testing.T) {
	gen := &fakeGenerator{
		textFails:  true,
		moderation: `{"is_appropriate": true, "reason": "", "corrected_text": "", "grammar_feedback": ""}`,
		evaluation: `{"score": 0.5, "feedback": "ok"}`,
	}
	f := newProcessorFixture(t, gen)
	sess := f.newGuidedSession(t)

	in := guidedInput(sess, "turn-1", false)
	if err := f.proc.ProcessTurn(context.Background(), in); err != nil {
		t.Fatalf("process: %v", err)
	}

	if f.notifier.count("error") != 0 {
		t.Fatalf("single-shot failure must degrade, not error")
	}
	resp, err := f.responses.GetByTurnID(dbctx.New(context.Background()), sess.ID, "turn-1")
	if err != nil {
		t.Fatalf("get response: %v", err)
	}
	if resp.Content != fallbackReply || !resp.IsComplete {
		t.Fatalf("fallback reply should be persisted complete: %+v", resp)
	}
}

func TestProcessTurnEvaluationNeutralDegrade(t *testing.T) {
	gen := &fakeGenerator{
		textOut:       "Sounds great!",
		moderation:    `{"is_appropriate": true, "reason": "", "corrected_text": "", "grammar_feedback": ""}`,
		evaluationErr: fmt.Errorf("model unavailable"),
	}
	f := newProcessorFixture(t, gen)
	sess := f.newGuidedSession(t)

	in := guidedInput(sess, "turn-1", false)
	if err := f.proc.ProcessTurn(context.Background(), in); err != nil {
		t.Fatalf("process: %v", err)
	}

	if f.notifier.count("evaluation") != 1 {
		t.Fatalf("evaluation envelope must still go out, got %d", f.notifier.count("evaluation"))
	}
	resp, err := f.responses.GetByTurnID(dbctx.New(context.Background()), sess.ID, "turn-1")
	if err != nil {
		t.Fatalf("get response: %v", err)
	}
	if resp.Score != nil {
		t.Fatalf("degraded evaluation must not fabricate a score: %+v", resp)
	}
}

func TestProcessTurnFreeModeSkipsQuestions(t *testing.T) {
	gen := &fakeGenerator{
		textOut:    "Nice to chat!",
		moderation: `{"is_appropriate": true, "reason": "", "corrected_text": "", "grammar_feedback": ""}`,
	}
	f := newProcessorFixture(t, gen)

	dbc := dbctx.New(context.Background())
	sess, err := f.sessions.Create(dbc, &types.PracticeSession{UserID: uuid.New(), Mode: types.ModeFree})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	in := guidedInput(sess, "turn-1", false)
	if err := f.proc.ProcessTurn(context.Background(), in); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.notifier.count("question") != 0 {
		t.Fatalf("free mode must not emit questions")
	}
	if f.notifier.count("evaluation") != 0 {
		t.Fatalf("free mode must not grade answers")
	}
}

func TestProcessTurnQuestionExhaustion(t *testing.T) {
	gen := &fakeGenerator{
		textOut:    "Good answer!",
		moderation: `{"is_appropriate": true, "reason": "", "corrected_text": "", "grammar_feedback": ""}`,
		evaluation: `{"score": 0.9, "feedback": "great"}`,
	}
	f := newProcessorFixture(t, gen)
	sess := f.newGuidedSession(t)

	// Builtin tutor persona seeds three questions.
	for i := 0; i < 5; i++ {
		in := guidedInput(sess, fmt.Sprintf("turn-%d", i), false)
		if err := f.proc.ProcessTurn(context.Background(), in); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}

	if got := f.notifier.count("question"); got != 3 {
		t.Fatalf("expected exactly 3 question envelopes before exhaustion, got %d", got)
	}
	if f.notifier.count("error") != 0 {
		t.Fatalf("exhaustion is not an error")
	}
}

func TestProcessTurnSlowAnalysisJoinsBeforeQuestion(t *testing.T) {
	gen := &fakeGenerator{
		textOut:         "Let's keep it friendly.",
		moderation:      `{"is_appropriate": false, "reason": "unkind language", "corrected_text": "", "grammar_feedback": ""}`,
		moderationDelay: 80 * time.Millisecond,
		evaluation:      `{"score": 0.2, "feedback": "Let's try again."}`,
	}
	f := newProcessorFixture(t, gen)
	sess := f.newGuidedSession(t)

	in := guidedInput(sess, "turn-1", false)
	if err := f.proc.ProcessTurn(context.Background(), in); err != nil {
		t.Fatalf("process: %v", err)
	}

	terminal := f.notifier.indexOf("terminal")
	moderation := f.notifier.indexOf("moderation")
	question := f.notifier.indexOf("question")
	if terminal < 0 || moderation < 0 || question < 0 {
		t.Fatalf("missing envelopes: %+v", f.notifier.events)
	}
	if !(terminal < moderation) {
		t.Fatalf("terminal chunk must not wait for the analysis pipeline: terminal=%d moderation=%d", terminal, moderation)
	}
	if !(moderation < question) {
		t.Fatalf("question must not overtake the analysis notice: moderation=%d question=%d", moderation, question)
	}

	analysis, err := f.analyses.GetByTurnID(dbctx.New(context.Background()), sess.ID, "turn-1")
	if err != nil {
		t.Fatalf("analysis must be persisted before the question step: %v", err)
	}
	if analysis.IsAppropriate {
		t.Fatalf("unexpected analysis verdict: %+v", analysis)
	}
}

func TestSendHintFallsBackToPersonaHint(t *testing.T) {
	gen := &fakeGenerator{textFails: true}
	f := newProcessorFixture(t, gen)
	sess := f.newGuidedSession(t)

	f.proc.SendHint(context.Background(), sess.ID, sess.UserID.String(), "tutor", "b1", "")

	if f.notifier.count("hint") != 1 {
		t.Fatalf("expected a hint envelope")
	}
	idx := f.notifier.lastIndexOf("hint")
	f.notifier.mu.Lock()
	text := f.notifier.events[idx].text
	f.notifier.mu.Unlock()
	if text == "" {
		t.Fatalf("hint should carry the persona fallback text")
	}
}

func TestSendHintUsesFinalizedDraft(t *testing.T) {
	gen := &fakeGenerator{textOut: "You could ask about the weather."}
	f := newProcessorFixture(t, gen)
	sess := f.newGuidedSession(t)

	f.proc.SendHint(context.Background(), sess.ID, sess.UserID.String(), "tutor", "b1", "Hello, I would like")

	if got := gen.lastTextUser(); !strings.Contains(got, "Hello, I would like") {
		t.Fatalf("hint prompt must carry the finalized draft, got %q", got)
	}
	if f.notifier.count("hint") != 1 {
		t.Fatalf("expected a hint envelope")
	}
}

func TestSendHintDraftFallbackWhenGenerationFails(t *testing.T) {
	gen := &fakeGenerator{textFails: true}
	f := newProcessorFixture(t, gen)
	sess := f.newGuidedSession(t)

	f.proc.SendHint(context.Background(), sess.ID, sess.UserID.String(), "tutor", "b1", "I goed to")

	idx := f.notifier.lastIndexOf("hint")
	if idx < 0 {
		t.Fatalf("expected a hint envelope")
	}
	f.notifier.mu.Lock()
	text := f.notifier.events[idx].text
	f.notifier.mu.Unlock()
	if !strings.Contains(text, "I goed to") {
		t.Fatalf("degraded hint must derive from the draft, got %q", text)
	}
}
