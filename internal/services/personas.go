package services

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sueda-gl/bookspire-backend-public/internal/platform/envutil"
	"github.com/sueda-gl/bookspire-backend-public/internal/platform/logger"
)

// Persona is one conversational character loaded from the persona config.
type Persona struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	SystemPrompt string   `yaml:"system_prompt"`
	Hints        []string `yaml:"hints"`
	Questions    []string `yaml:"questions"`
}

type personaFile struct {
	DefaultPersona string    `yaml:"default_persona"`
	Personas       []Persona `yaml:"personas"`
}

// PersonaService resolves persona ids to system prompts and seed material.
type PersonaService interface {
	Resolve(personaID string) Persona
	SystemPrompt(personaID, level string) string
	Questions(personaID string) []string
	Hints(personaID string) []string
}

type personaService struct {
	log       *logger.Logger
	byID      map[string]Persona
	defaultID string
}

// NewPersonaService loads PERSONAS_PATH (default config/personas.yaml). A
// missing or empty file still yields a working service with the built-in
// default persona.
func NewPersonaService(log *logger.Logger) (PersonaService, error) {
	svc := &personaService{
		log:       log.With("service", "PersonaService"),
		byID:      map[string]Persona{},
		defaultID: builtinPersona.ID,
	}
	svc.byID[builtinPersona.ID] = builtinPersona

	path := envutil.Get("PERSONAS_PATH", "config/personas.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			svc.log.Warn("Persona config missing, using built-in persona", "path", path)
			return svc, nil
		}
		return nil, fmt.Errorf("read personas: %w", err)
	}

	var file personaFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse personas: %w", err)
	}
	for _, p := range file.Personas {
		if strings.TrimSpace(p.ID) == "" {
			continue
		}
		svc.byID[p.ID] = p
	}
	if file.DefaultPersona != "" {
		if _, ok := svc.byID[file.DefaultPersona]; ok {
			svc.defaultID = file.DefaultPersona
		}
	}
	svc.log.Info("Personas loaded", "count", len(svc.byID), "default", svc.defaultID)
	return svc, nil
}

var builtinPersona = Persona{
	ID:           "tutor",
	Name:         "Alex",
	Description:  "A friendly language tutor",
	SystemPrompt: "You are Alex, a friendly and patient language tutor. Keep replies short, encouraging and at the learner's level. Always answer in the language the learner is practicing.",
	Hints: []string{
		"Try describing what you did yesterday.",
		"Ask your partner a question about their hobbies.",
	},
	Questions: []string{
		"What did you do last weekend?",
		"What is your favorite food, and why?",
		"Describe the place where you live.",
	},
}

func (s *personaService) Resolve(personaID string) Persona {
	if p, ok := s.byID[strings.TrimSpace(personaID)]; ok {
		return p
	}
	return s.byID[s.defaultID]
}

// SystemPrompt composes the persona prompt with the learner's level.
func (s *personaService) SystemPrompt(personaID, level string) string {
	p := s.Resolve(personaID)
	level = strings.TrimSpace(level)
	if level == "" {
		level = "b1"
	}
	return fmt.Sprintf("%s\n\nThe learner's language level is %s. Adjust vocabulary and sentence length accordingly.", p.SystemPrompt, strings.ToUpper(level))
}

func (s *personaService) Questions(personaID string) []string {
	return s.Resolve(personaID).Questions
}

func (s *personaService) Hints(personaID string) []string {
	return s.Resolve(personaID).Hints
}
