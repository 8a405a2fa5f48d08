package services

import (
	"github.com/google/uuid"

	types "github.com/sueda-gl/bookspire-backend-public/internal/domain"
	"github.com/sueda-gl/bookspire-backend-public/internal/data/repos/practice"
	"github.com/sueda-gl/bookspire-backend-public/internal/pkg/dbctx"
	"github.com/sueda-gl/bookspire-backend-public/internal/platform/logger"
)

// QuestionService drives guided-mode sessions through their question list.
type QuestionService interface {
	// EnsureSeeded installs the persona's question list for a session if it
	// has none yet.
	EnsureSeeded(dbc dbctx.Context, sessionID uuid.UUID, personaID string) error
	// Next returns the next unasked question and marks it asked. (nil, nil)
	// means the session has exhausted its list.
	Next(dbc dbctx.Context, sessionID uuid.UUID) (*types.SessionQuestion, error)
}

type questionService struct {
	sessions practice.SessionRepo
	personas PersonaService
	log      *logger.Logger
}

func NewQuestionService(sessions practice.SessionRepo, personas PersonaService, log *logger.Logger) QuestionService {
	return &questionService{
		sessions: sessions,
		personas: personas,
		log:      log.With("service", "QuestionService"),
	}
}

func (s *questionService) EnsureSeeded(dbc dbctx.Context, sessionID uuid.UUID, personaID string) error {
	prompts := s.personas.Questions(personaID)
	if len(prompts) == 0 {
		return nil
	}
	return s.sessions.SeedQuestions(dbc, sessionID, prompts)
}

func (s *questionService) Next(dbc dbctx.Context, sessionID uuid.UUID) (*types.SessionQuestion, error) {
	q, err := s.sessions.NextQuestion(dbc, sessionID)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, nil
	}
	if err := s.sessions.MarkQuestionAsked(dbc, q.ID); err != nil {
		return nil, err
	}
	return q, nil
}
