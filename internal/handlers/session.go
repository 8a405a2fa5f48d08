package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sueda-gl/bookspire-backend-public/internal/data/repos/practice"
	types "github.com/sueda-gl/bookspire-backend-public/internal/domain"
	"github.com/sueda-gl/bookspire-backend-public/internal/middleware"
	"github.com/sueda-gl/bookspire-backend-public/internal/pkg/dbctx"
	"github.com/sueda-gl/bookspire-backend-public/internal/platform/logger"
	"github.com/sueda-gl/bookspire-backend-public/internal/services"
)

type SessionHandler struct {
	log       *logger.Logger
	sessions  practice.SessionRepo
	turns     practice.TurnRepo
	analyses  practice.AnalysisRepo
	questions services.QuestionService
}

func NewSessionHandler(
	log *logger.Logger,
	sessions practice.SessionRepo,
	turns practice.TurnRepo,
	analyses practice.AnalysisRepo,
	questions services.QuestionService,
) *SessionHandler {
	return &SessionHandler{
		log:       log.With("handler", "SessionHandler"),
		sessions:  sessions,
		turns:     turns,
		analyses:  analyses,
		questions: questions,
	}
}

type createSessionRequest struct {
	Mode          string `json:"mode"`
	PersonaID     string `json:"persona_id"`
	LanguageLevel string `json:"language_level"`
	Title         string `json:"title"`
}

func (h *SessionHandler) Create(c *gin.Context) {
	id, err := middleware.IdentityFrom(c)
	if err != nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", err)
		return
	}

	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if req.Mode == "" {
		req.Mode = types.ModeGuided
	}
	if req.Mode != types.ModeGuided && req.Mode != types.ModeFree {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("unknown mode %q", req.Mode))
		return
	}
	if req.LanguageLevel == "" {
		req.LanguageLevel = "b1"
	}

	dbc := dbctx.New(c.Request.Context())
	sess, err := h.sessions.Create(dbc, &types.PracticeSession{
		UserID:        id.UserID,
		Mode:          req.Mode,
		PersonaID:     req.PersonaID,
		LanguageLevel: req.LanguageLevel,
		Title:         req.Title,
	})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "create_failed", err)
		return
	}

	if sess.Mode == types.ModeGuided {
		if err := h.questions.EnsureSeeded(dbc, sess.ID, sess.PersonaID); err != nil {
			h.log.Warn("Failed to seed session questions", "session_id", sess.ID, "error", err)
		}
	}

	RespondOK(c, sess)
}

func (h *SessionHandler) History(c *gin.Context) {
	if _, err := middleware.IdentityFrom(c); err != nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", err)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid session id"))
		return
	}

	dbc := dbctx.New(c.Request.Context())
	if _, err := h.sessions.GetByID(dbc, sessionID); err != nil {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("session not found"))
		return
	}

	turns, err := h.turns.ListBySession(dbc, sessionID, 200)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, gin.H{"session_id": sessionID, "turns": turns})
}

// Flagged lists the turns the analysis pipeline marked inappropriate.
func (h *SessionHandler) Flagged(c *gin.Context) {
	if _, err := middleware.IdentityFrom(c); err != nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", err)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid session id"))
		return
	}

	dbc := dbctx.New(c.Request.Context())
	rows, err := h.analyses.ListFlaggedBySession(dbc, sessionID, 50)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, gin.H{"session_id": sessionID, "flagged": rows})
}
