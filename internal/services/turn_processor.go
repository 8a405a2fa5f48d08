package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sueda-gl/bookspire-backend-public/internal/data/repos/practice"
	types "github.com/sueda-gl/bookspire-backend-public/internal/domain"
	"github.com/sueda-gl/bookspire-backend-public/internal/pkg/dbctx"
	"github.com/sueda-gl/bookspire-backend-public/internal/platform/logger"
)

// TurnInput is one accepted unit of learner input entering the pipelines.
type TurnInput struct {
	SessionID     uuid.UUID
	UserID        uuid.UUID
	ParticipantID string
	TurnID        string
	Text          string
	Stream        bool
	PersonaID     string
	Level         string
	Mode          string
}

// TurnProcessor runs the dual pipeline for one turn. The secondary pipeline
// (moderation + correction) forks before any primary work; the primary
// pipeline persists the turn, acks, streams the reply, persists the
// response, emits the terminal chunk, then evaluates. The pipelines join
// before the next-question step so the question never overtakes an analysis
// notice's persistence.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, in TurnInput) error
	SendHint(ctx context.Context, sessionID uuid.UUID, participantID, personaID, level, draft string)
}

type turnProcessor struct {
	turns      practice.TurnRepo
	responses  practice.ResponseRepo
	analyses   practice.AnalysisRepo
	sessions   practice.SessionRepo
	questions  QuestionService
	personas   PersonaService
	moderation ModerationService
	gen        Generator
	notifier   TurnNotifier
	log        *logger.Logger
}

func NewTurnProcessor(
	turns practice.TurnRepo,
	responses practice.ResponseRepo,
	analyses practice.AnalysisRepo,
	sessions practice.SessionRepo,
	questions QuestionService,
	personas PersonaService,
	moderation ModerationService,
	gen Generator,
	notifier TurnNotifier,
	log *logger.Logger,
) TurnProcessor {
	return &turnProcessor{
		turns:      turns,
		responses:  responses,
		analyses:   analyses,
		sessions:   sessions,
		questions:  questions,
		personas:   personas,
		moderation: moderation,
		gen:        gen,
		notifier:   notifier,
		log:        log.With("service", "TurnProcessor"),
	}
}

func (p *turnProcessor) ProcessTurn(ctx context.Context, in TurnInput) error {
	if in.SessionID == uuid.Nil {
		return fmt.Errorf("missing session_id")
	}
	if in.TurnID == "" {
		in.TurnID = uuid.New().String()
	}

	system := p.personas.SystemPrompt(in.PersonaID, in.Level)

	g := new(errgroup.Group)
	g.Go(func() error {
		p.runAnalysis(ctx, in)
		return nil
	})

	primaryErr := p.runPrimary(ctx, in, system)

	// Join point: the analysis pipeline must land before the conversation
	// advances to the next question.
	_ = g.Wait()

	if primaryErr != nil {
		return primaryErr
	}
	if in.Mode == types.ModeGuided {
		p.advanceQuestion(ctx, in)
	}
	return nil
}

// runAnalysis is the secondary pipeline. It owns its persistence scope and
// never touches the primary pipeline's state. Notices go out only when this
// call actually inserted the verdict, so a retried turn notifies once.
func (p *turnProcessor) runAnalysis(ctx context.Context, in TurnInput) {
	res := p.moderation.Analyze(ctx, in.Text)

	row := &types.TurnAnalysis{
		SessionID:           in.SessionID,
		UserID:              in.UserID,
		TurnID:              in.TurnID,
		IsAppropriate:       res.IsAppropriate,
		InappropriateReason: res.Reason,
		OriginalText:        in.Text,
		CorrectedText:       res.CorrectedText,
		GrammarFeedback:     res.GrammarFeedback,
		ProcessedAt:         time.Now().UTC(),
	}
	inserted, err := p.analyses.Create(dbctx.New(context.WithoutCancel(ctx)), row)
	if err != nil {
		p.log.Error("Failed to persist turn analysis", "session_id", in.SessionID, "turn_id", in.TurnID, "error", err)
		return
	}
	if !inserted {
		return
	}

	if !res.IsAppropriate {
		p.notifier.ModerationNotice(in.SessionID, in.TurnID, res.Reason)
	}
	if res.CorrectedText != "" && res.CorrectedText != in.Text {
		p.notifier.Correction(in.SessionID, in.ParticipantID, in.TurnID, in.Text, res.CorrectedText, res.GrammarFeedback)
	}
}

func (p *turnProcessor) runPrimary(ctx context.Context, in TurnInput, system string) error {
	userTurn := &types.Turn{
		SessionID: in.SessionID,
		UserID:    in.UserID,
		TurnID:    in.TurnID,
		Role:      types.RoleUser,
		Content:   in.Text,
		PersonaID: in.PersonaID,
	}
	if _, err := p.turns.Create(dbctx.New(ctx), []*types.Turn{userTurn}); err != nil {
		p.notifier.Error(in.SessionID, in.ParticipantID, "persist_failed", "could not record your message", in.TurnID)
		return fmt.Errorf("persist user turn: %w", err)
	}

	p.notifier.Ack(in.SessionID, in.ParticipantID, in.TurnID)

	var text string
	if in.Stream {
		streamed, err := p.gen.Stream(ctx, system, in.Text, func(delta string) {
			p.notifier.Chunk(in.SessionID, in.ParticipantID, in.TurnID, delta)
		})
		if err != nil {
			// The client already saw part of the reply; keep what it saw.
			if streamed != "" {
				if _, uErr := p.responses.Upsert(dbctx.New(context.WithoutCancel(ctx)), &types.TurnResponse{
					SessionID: in.SessionID,
					TurnID:    in.TurnID,
					Content:   streamed,
				}); uErr != nil {
					p.log.Error("Failed to persist partial response", "turn_id", in.TurnID, "error", uErr)
				}
			}
			p.notifier.Error(in.SessionID, in.ParticipantID, "generation_failed", "the response was interrupted", in.TurnID)
			return fmt.Errorf("stream reply: %w", err)
		}
		text = streamed
	} else {
		text = p.gen.Text(ctx, system, in.Text, fallbackReply)
		p.notifier.Chunk(in.SessionID, in.ParticipantID, in.TurnID, text)
	}

	if _, err := p.responses.Upsert(dbctx.New(ctx), &types.TurnResponse{
		SessionID:  in.SessionID,
		TurnID:     in.TurnID,
		Content:    text,
		IsComplete: true,
	}); err != nil {
		p.notifier.Error(in.SessionID, in.ParticipantID, "persist_failed", "could not record the response", in.TurnID)
		return fmt.Errorf("persist response: %w", err)
	}

	assistantTurn := &types.Turn{
		SessionID: in.SessionID,
		UserID:    in.UserID,
		TurnID:    in.TurnID,
		Role:      types.RoleAssistant,
		Content:   text,
		PersonaID: in.PersonaID,
	}
	if _, err := p.turns.Create(dbctx.New(ctx), []*types.Turn{assistantTurn}); err != nil {
		p.log.Error("Failed to persist assistant turn", "turn_id", in.TurnID, "error", err)
	}

	p.notifier.Terminal(in.SessionID, in.ParticipantID, in.TurnID)

	if in.Mode == types.ModeGuided {
		p.evaluate(ctx, in)
	}
	return nil
}

// evaluate grades the learner's answer. Any failure degrades to a neutral
// evaluation rather than an error: the learner sees encouragement either way.
func (p *turnProcessor) evaluate(ctx context.Context, in TurnInput) {
	question := ""
	if q, err := p.sessions.LastAskedQuestion(dbctx.New(ctx), in.SessionID); err == nil && q != nil {
		question = q.Prompt
	}

	var score *float64
	feedback := "Thanks for your answer, let's keep going!"

	raw, err := p.gen.JSON(ctx, evaluationSystemPrompt, evaluationUserPrompt(question, in.Text))
	if err == nil {
		var out struct {
			Score    float64 `json:"score"`
			Feedback string  `json:"feedback"`
		}
		if uErr := json.Unmarshal(raw, &out); uErr == nil {
			if out.Score < 0 {
				out.Score = 0
			}
			if out.Score > 1 {
				out.Score = 1
			}
			score = &out.Score
			if out.Feedback != "" {
				feedback = out.Feedback
			}
		}
	} else {
		p.log.Warn("Evaluation degraded to neutral", "turn_id", in.TurnID, "error", err)
	}

	if score != nil {
		if err := p.responses.SetEvaluation(dbctx.New(ctx), in.SessionID, in.TurnID, score, feedback); err != nil {
			p.log.Error("Failed to persist evaluation", "turn_id", in.TurnID, "error", err)
		}
	}
	p.notifier.Evaluation(in.SessionID, in.ParticipantID, in.TurnID, score, feedback)
}

// advanceQuestion moves the session to its next prompt. A storage failure
// here is recoverable: the client is told to refresh and the session stays
// usable.
func (p *turnProcessor) advanceQuestion(ctx context.Context, in TurnInput) {
	q, err := p.questions.Next(dbctx.New(ctx), in.SessionID)
	if err != nil {
		p.log.Warn("Failed to advance question", "session_id", in.SessionID, "error", err)
		p.notifier.Error(in.SessionID, in.ParticipantID, "refresh", "could not load the next question, please refresh", "")
		return
	}
	if q == nil {
		return
	}
	p.notifier.Question(in.SessionID, in.ParticipantID, q.Prompt, q.Position)
}

// SendHint suggests what the learner could say next, building on the draft
// the coalescer finalized. Falls back to a completion of the draft itself,
// or to the persona's canned hints when there is no draft.
func (p *turnProcessor) SendHint(ctx context.Context, sessionID uuid.UUID, participantID, personaID, level, draft string) {
	fallback := "Try telling me more about your day."
	if hints := p.personas.Hints(personaID); len(hints) > 0 {
		fallback = hints[0]
	}
	if draft != "" {
		fallback = fmt.Sprintf("You could continue with: %q", draft)
	}

	recent := ""
	if turns, err := p.turns.ListBySession(dbctx.New(ctx), sessionID, 6); err == nil {
		for _, t := range turns {
			recent += t.Role + ": " + t.Content + "\n"
		}
	}
	user := recent
	if draft != "" {
		user += "The learner has typed so far: " + draft + "\n"
	}

	system := p.personas.SystemPrompt(personaID, level) + "\n\n" + hintSystemPrompt
	text := p.gen.Text(ctx, system, user, fallback)
	p.notifier.Hint(sessionID, participantID, text)
}
