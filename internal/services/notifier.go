package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/sueda-gl/bookspire-backend-public/internal/platform/logger"
	"github.com/sueda-gl/bookspire-backend-public/internal/realtime"
	"github.com/sueda-gl/bookspire-backend-public/internal/realtime/bus"
)

// TurnNotifier emits protocol envelopes for one participant. Delivery is
// best-effort: a failed send drops the connection inside the registry and
// the pipeline carries on.
type TurnNotifier interface {
	Connected(sessionID uuid.UUID, participantID string, userID uuid.UUID)
	Ack(sessionID uuid.UUID, participantID, turnID string)
	Chunk(sessionID uuid.UUID, participantID, turnID, text string)
	Terminal(sessionID uuid.UUID, participantID, turnID string)
	Evaluation(sessionID uuid.UUID, participantID, turnID string, score *float64, feedback string)
	ModerationNotice(sessionID uuid.UUID, turnID, reason string)
	Correction(sessionID uuid.UUID, participantID, turnID, original, corrected, feedback string)
	Hint(sessionID uuid.UUID, participantID, text string)
	Question(sessionID uuid.UUID, participantID, text string, position int)
	History(sessionID uuid.UUID, participantID string, turns []realtime.HistoryTurn)
	Pong(sessionID uuid.UUID, participantID, id string)
	Error(sessionID uuid.UUID, participantID, code, message, turnID string)
}

type turnNotifier struct {
	reg *realtime.Registry
	bus bus.Bus
	log *logger.Logger
}

// NewTurnNotifier wires envelopes onto the registry. envBus may be nil; when
// set, session-wide envelopes travel through it so participants on other
// instances see them too.
func NewTurnNotifier(reg *realtime.Registry, envBus bus.Bus, log *logger.Logger) TurnNotifier {
	return &turnNotifier{reg: reg, bus: envBus, log: log.With("service", "TurnNotifier")}
}

func (n *turnNotifier) send(sessionID uuid.UUID, participantID string, v any) {
	_ = n.reg.SendTo(sessionID, participantID, v)
}

func (n *turnNotifier) broadcast(sessionID uuid.UUID, v any) {
	if n.bus != nil {
		err := n.bus.Publish(context.Background(), sessionID, v)
		if err == nil {
			return
		}
		n.log.Warn("Bus publish failed, broadcasting locally", "session_id", sessionID, "error", err)
	}
	n.reg.Broadcast(sessionID, v, "")
}

func (n *turnNotifier) Connected(sessionID uuid.UUID, participantID string, userID uuid.UUID) {
	n.send(sessionID, participantID, realtime.ConnectedEnvelope{
		Type:      realtime.TypeConnected,
		SessionID: sessionID.String(),
		UserID:    userID.String(),
	})
}

func (n *turnNotifier) Ack(sessionID uuid.UUID, participantID, turnID string) {
	n.send(sessionID, participantID, realtime.AckEnvelope{Type: realtime.TypeAck, TurnID: turnID})
}

func (n *turnNotifier) Chunk(sessionID uuid.UUID, participantID, turnID, text string) {
	n.send(sessionID, participantID, realtime.ChunkEnvelope{
		Type:   realtime.TypeChunk,
		TurnID: turnID,
		Text:   text,
	})
}

func (n *turnNotifier) Terminal(sessionID uuid.UUID, participantID, turnID string) {
	n.send(sessionID, participantID, realtime.ChunkEnvelope{
		Type:       realtime.TypeChunk,
		TurnID:     turnID,
		IsComplete: true,
	})
}

func (n *turnNotifier) Evaluation(sessionID uuid.UUID, participantID, turnID string, score *float64, feedback string) {
	n.send(sessionID, participantID, realtime.EvaluationEnvelope{
		Type:     realtime.TypeEvaluation,
		TurnID:   turnID,
		Score:    score,
		Feedback: feedback,
	})
}

func (n *turnNotifier) ModerationNotice(sessionID uuid.UUID, turnID, reason string) {
	n.broadcast(sessionID, realtime.ModerationEnvelope{
		Type:   realtime.TypeModeration,
		TurnID: turnID,
		Reason: reason,
	})
}

func (n *turnNotifier) Correction(sessionID uuid.UUID, participantID, turnID, original, corrected, feedback string) {
	n.send(sessionID, participantID, realtime.CorrectionEnvelope{
		Type:          realtime.TypeCorrection,
		TurnID:        turnID,
		OriginalText:  original,
		CorrectedText: corrected,
		Feedback:      feedback,
	})
}

func (n *turnNotifier) Hint(sessionID uuid.UUID, participantID, text string) {
	n.send(sessionID, participantID, realtime.HintEnvelope{Type: realtime.TypeHint, Text: text})
}

func (n *turnNotifier) Question(sessionID uuid.UUID, participantID, text string, position int) {
	n.send(sessionID, participantID, realtime.QuestionEnvelope{
		Type:     realtime.TypeQuestion,
		Text:     text,
		Position: position,
	})
}

func (n *turnNotifier) History(sessionID uuid.UUID, participantID string, turns []realtime.HistoryTurn) {
	if turns == nil {
		turns = []realtime.HistoryTurn{}
	}
	n.send(sessionID, participantID, realtime.HistoryEnvelope{Type: realtime.TypeHistory, Turns: turns})
}

func (n *turnNotifier) Pong(sessionID uuid.UUID, participantID, id string) {
	n.send(sessionID, participantID, realtime.PongEnvelope{Type: realtime.TypePong, ID: id})
}

func (n *turnNotifier) Error(sessionID uuid.UUID, participantID, code, message, turnID string) {
	n.send(sessionID, participantID, realtime.ErrorEnvelope{
		Type:    realtime.TypeError,
		Code:    code,
		Message: message,
		TurnID:  turnID,
	})
}
