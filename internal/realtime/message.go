package realtime

// Outbound envelope types. Every frame on the wire is a JSON object whose
// "type" field is one of these.
const (
	TypeConnected  = "connected"
	TypeAck        = "ack"
	TypeChunk      = "chunk"
	TypeEvaluation = "evaluation_complete"
	TypeModeration = "moderation_notice"
	TypeCorrection = "correction_suggestion"
	TypeHint       = "conversation_hint"
	TypeQuestion   = "question"
	TypeHistory    = "history"
	TypePong       = "pong"
	TypeError      = "error"
)

// Inbound envelope types.
const (
	TypeSubmitTurn   = "submit_turn"
	TypePartialInput = "partial_input"
	TypeGetHistory   = "get_history"
	TypeGetQuestion  = "get_question"
	TypePing         = "ping"
)

type ConnectedEnvelope struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type AckEnvelope struct {
	Type   string `json:"type"`
	TurnID string `json:"turn_id"`
}

type ChunkEnvelope struct {
	Type       string `json:"type"`
	TurnID     string `json:"turn_id"`
	Text       string `json:"text"`
	IsComplete bool   `json:"is_complete"`
}

type EvaluationEnvelope struct {
	Type     string   `json:"type"`
	TurnID   string   `json:"turn_id"`
	Score    *float64 `json:"score,omitempty"`
	Feedback string   `json:"feedback,omitempty"`
}

type ModerationEnvelope struct {
	Type   string `json:"type"`
	TurnID string `json:"turn_id"`
	Reason string `json:"reason"`
}

type CorrectionEnvelope struct {
	Type          string `json:"type"`
	TurnID        string `json:"turn_id"`
	OriginalText  string `json:"original_text"`
	CorrectedText string `json:"corrected_text"`
	Feedback      string `json:"feedback,omitempty"`
}

type HintEnvelope struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type QuestionEnvelope struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Position int    `json:"position"`
}

type HistoryEnvelope struct {
	Type  string        `json:"type"`
	Turns []HistoryTurn `json:"turns"`
}

type HistoryTurn struct {
	TurnID  string `json:"turn_id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

type PongEnvelope struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

type ErrorEnvelope struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	TurnID  string `json:"turn_id,omitempty"`
}

// InboundEnvelope is the union of fields a client frame may carry. Type
// selects which fields are meaningful.
type InboundEnvelope struct {
	Type      string `json:"type"`
	TurnID    string `json:"turn_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Stream    *bool  `json:"stream,omitempty"`
	PersonaID string `json:"persona_id,omitempty"`
	Level     string `json:"level,omitempty"`
	ID        string `json:"id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}
