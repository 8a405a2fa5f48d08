package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sueda-gl/bookspire-backend-public/internal/platform/logger"
)

// AnalysisResult is the combined moderation and correction verdict for one
// turn of learner input.
type AnalysisResult struct {
	IsAppropriate   bool   `json:"is_appropriate"`
	Reason          string `json:"reason"`
	CorrectedText   string `json:"corrected_text"`
	GrammarFeedback string `json:"grammar_feedback"`
}

// ModerationService runs the secondary pipeline's model call. Analyze never
// fails: when the model is unreachable or returns garbage, the verdict
// degrades to appropriate-with-no-correction so the learner is never blocked
// by an analysis outage.
type ModerationService interface {
	Analyze(ctx context.Context, text string) AnalysisResult
}

type moderationService struct {
	gen Generator
	log *logger.Logger
}

func NewModerationService(gen Generator, log *logger.Logger) ModerationService {
	return &moderationService{gen: gen, log: log.With("service", "ModerationService")}
}

func (s *moderationService) Analyze(ctx context.Context, text string) AnalysisResult {
	fallback := AnalysisResult{
		IsAppropriate: true,
		CorrectedText: text,
	}

	raw, err := s.gen.JSON(ctx, analysisSystemPrompt, text)
	if err != nil {
		s.log.Warn("Analysis degraded to default verdict", "error", err)
		return fallback
	}

	var out AnalysisResult
	if err := json.Unmarshal(raw, &out); err != nil {
		s.log.Warn("Analysis output did not match schema", "error", err)
		return fallback
	}

	if strings.TrimSpace(out.CorrectedText) == "" {
		out.CorrectedText = text
	}
	return out
}
