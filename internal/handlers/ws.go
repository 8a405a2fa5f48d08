package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sueda-gl/bookspire-backend-public/internal/data/repos/practice"
	types "github.com/sueda-gl/bookspire-backend-public/internal/domain"
	"github.com/sueda-gl/bookspire-backend-public/internal/pkg/dbctx"
	"github.com/sueda-gl/bookspire-backend-public/internal/platform/envutil"
	"github.com/sueda-gl/bookspire-backend-public/internal/platform/logger"
	"github.com/sueda-gl/bookspire-backend-public/internal/realtime"
	"github.com/sueda-gl/bookspire-backend-public/internal/services"
	"github.com/sueda-gl/bookspire-backend-public/internal/tasks"
)

// WSHandler owns the practice websocket: admission, the read loop, and the
// connection's lifecycle hooks into the registry, coalescer and task manager.
type WSHandler struct {
	log       *logger.Logger
	upgrader  websocket.Upgrader
	auth      services.AuthService
	registry  *realtime.Registry
	coalescer *realtime.Coalescer
	tasks     *tasks.Manager
	processor services.TurnProcessor
	notifier  services.TurnNotifier
	sessions  practice.SessionRepo
	turns     practice.TurnRepo
	questions services.QuestionService
}

func NewWSHandler(
	log *logger.Logger,
	auth services.AuthService,
	registry *realtime.Registry,
	coalescer *realtime.Coalescer,
	taskMgr *tasks.Manager,
	processor services.TurnProcessor,
	notifier services.TurnNotifier,
	sessions practice.SessionRepo,
	turns practice.TurnRepo,
	questions services.QuestionService,
) *WSHandler {
	allowedOrigin := envutil.Get("WS_ALLOWED_ORIGIN", "")
	return &WSHandler{
		log: log.With("handler", "WSHandler"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" {
					return true
				}
				return strings.EqualFold(r.Header.Get("Origin"), allowedOrigin)
			},
		},
		auth:      auth,
		registry:  registry,
		coalescer: coalescer,
		tasks:     taskMgr,
		processor: processor,
		notifier:  notifier,
		sessions:  sessions,
		turns:     turns,
		questions: questions,
	}
}

// Practice upgrades the connection, then admits it. Admission failures close
// with a policy-violation code after the upgrade so the client sees a close
// frame rather than a failed handshake.
func (h *WSHandler) Practice(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Upgrade failed", "error", err)
		return
	}
	conn := realtime.NewWSConn(ws)

	identity, err := h.auth.Authenticate(c.Query("token"))
	if err != nil {
		h.log.Warn("Admission rejected", "session_id", sessionID, "error", err)
		_ = conn.Close(realtime.CloseAuthFailure, "authentication failed")
		return
	}

	dbc := dbctx.New(c.Request.Context())
	sess, err := h.sessions.GetByID(dbc, sessionID)
	if err != nil {
		h.log.Warn("Unknown session on admission", "session_id", sessionID, "error", err)
		_ = conn.Close(realtime.CloseAuthFailure, "unknown session")
		return
	}

	h.registry.Connect(sessionID, identity.ParticipantID, conn)
	connKey := sessionID.String() + ":" + identity.ParticipantID

	defer func() {
		h.registry.Disconnect(sessionID, identity.ParticipantID, conn)
		h.coalescer.CancelAll(connKey)
		h.tasks.OnDisconnect(connKey)
	}()

	h.notifier.Connected(sessionID, identity.ParticipantID, identity.UserID)
	h.greet(c, sess, identity)

	h.readLoop(conn, connKey, sess, identity)
}

// greet pushes the session's opening state: in guided mode the first
// question if none has been asked yet.
func (h *WSHandler) greet(c *gin.Context, sess *types.PracticeSession, identity services.Identity) {
	if sess.Mode != types.ModeGuided {
		return
	}
	dbc := dbctx.New(c.Request.Context())
	last, err := h.sessions.LastAskedQuestion(dbc, sess.ID)
	if err != nil || last != nil {
		return
	}
	q, err := h.questions.Next(dbc, sess.ID)
	if err != nil || q == nil {
		return
	}
	h.notifier.Question(sess.ID, identity.ParticipantID, q.Prompt, q.Position)
}

func (h *WSHandler) readLoop(conn *realtime.WSConn, connKey string, sess *types.PracticeSession, identity services.Identity) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("Connection dropped", "conn_key", connKey, "error", err)
			}
			return
		}

		var env realtime.InboundEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			h.notifier.Error(sess.ID, identity.ParticipantID, "bad_envelope", "could not parse message", "")
			continue
		}

		switch env.Type {
		case realtime.TypePing:
			h.notifier.Pong(sess.ID, identity.ParticipantID, env.ID)

		case realtime.TypeSubmitTurn:
			h.handleSubmitTurn(connKey, sess, identity, env)

		case realtime.TypePartialInput:
			h.handlePartialInput(connKey, sess, identity, env)

		case realtime.TypeGetHistory:
			h.handleGetHistory(sess, identity, env)

		case realtime.TypeGetQuestion:
			h.handleGetQuestion(sess, identity)

		default:
			h.notifier.Error(sess.ID, identity.ParticipantID, "unknown_type", "unsupported message type", "")
		}
	}
}

func (h *WSHandler) handleSubmitTurn(connKey string, sess *types.PracticeSession, identity services.Identity, env realtime.InboundEnvelope) {
	text := strings.TrimSpace(env.Text)
	if text == "" {
		h.notifier.Error(sess.ID, identity.ParticipantID, "empty_turn", "turn text required", env.TurnID)
		return
	}

	// A submitted turn obsoletes any pending partial-input fire.
	h.coalescer.Cancel(connKey)

	stream := true
	if env.Stream != nil {
		stream = *env.Stream
	}
	personaID := env.PersonaID
	if personaID == "" {
		personaID = sess.PersonaID
	}
	level := env.Level
	if level == "" {
		level = sess.LanguageLevel
	}

	in := services.TurnInput{
		SessionID:     sess.ID,
		UserID:        identity.UserID,
		ParticipantID: identity.ParticipantID,
		TurnID:        env.TurnID,
		Text:          text,
		Stream:        stream,
		PersonaID:     personaID,
		Level:         level,
		Mode:          sess.Mode,
	}
	h.tasks.Spawn(connKey, "process_turn", func(ctx context.Context) {
		if err := h.processor.ProcessTurn(ctx, in); err != nil {
			h.log.Warn("Turn processing failed", "conn_key", connKey, "turn_id", in.TurnID, "error", err)
		}
	})
}

func (h *WSHandler) handlePartialInput(connKey string, sess *types.PracticeSession, identity services.Identity, env realtime.InboundEnvelope) {
	text := strings.TrimSpace(env.Text)
	if text == "" {
		return
	}
	personaID := env.PersonaID
	if personaID == "" {
		personaID = sess.PersonaID
	}
	level := env.Level
	if level == "" {
		level = sess.LanguageLevel
	}
	// Each submit replaces the pending one, so the closure that finally
	// fires carries the latest draft.
	h.coalescer.Submit(connKey, func() {
		h.tasks.Spawn(connKey, "hint", func(ctx context.Context) {
			h.processor.SendHint(ctx, sess.ID, identity.ParticipantID, personaID, level, text)
		})
	})
}

func (h *WSHandler) handleGetHistory(sess *types.PracticeSession, identity services.Identity, env realtime.InboundEnvelope) {
	limit := env.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := h.turns.ListBySession(dbctx.New(context.Background()), sess.ID, limit)
	if err != nil {
		h.notifier.Error(sess.ID, identity.ParticipantID, "history_failed", "could not load history", "")
		return
	}
	out := make([]realtime.HistoryTurn, 0, len(rows))
	for _, t := range rows {
		out = append(out, realtime.HistoryTurn{TurnID: t.TurnID, Role: t.Role, Content: t.Content})
	}
	h.notifier.History(sess.ID, identity.ParticipantID, out)
}

func (h *WSHandler) handleGetQuestion(sess *types.PracticeSession, identity services.Identity) {
	if sess.Mode != types.ModeGuided {
		h.notifier.Error(sess.ID, identity.ParticipantID, "not_guided", "session has no question list", "")
		return
	}
	q, err := h.questions.Next(dbctx.New(context.Background()), sess.ID)
	if err != nil {
		h.notifier.Error(sess.ID, identity.ParticipantID, "refresh", "could not load the next question, please refresh", "")
		return
	}
	if q == nil {
		h.notifier.Error(sess.ID, identity.ParticipantID, "questions_exhausted", "no questions left in this session", "")
		return
	}
	h.notifier.Question(sess.ID, identity.ParticipantID, q.Prompt, q.Position)
}
