package services

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sueda-gl/bookspire-backend-public/internal/clients/openai"
	"github.com/sueda-gl/bookspire-backend-public/internal/platform/logger"
)

// Generator is the port the turn pipelines talk to. Single-shot calls never
// surface transport errors: Text degrades to the caller's fallback and JSON
// reports the error so the caller can substitute its typed default. Stream
// propagates errors because chunks already reached the client.
type Generator interface {
	Text(ctx context.Context, system, user, fallback string) string
	JSON(ctx context.Context, system, user string) (json.RawMessage, error)
	Stream(ctx context.Context, system, user string, onDelta func(delta string)) (string, error)
}

type generator struct {
	ai     openai.Client
	tracer trace.Tracer
	log    *logger.Logger
}

func NewGenerator(ai openai.Client, log *logger.Logger) Generator {
	return &generator{
		ai:     ai,
		tracer: otel.Tracer("services/generator"),
		log:    log.With("service", "Generator"),
	}
}

func (g *generator) Text(ctx context.Context, system, user, fallback string) string {
	ctx, span := g.tracer.Start(ctx, "generator.Text")
	defer span.End()

	out, err := g.ai.GenerateText(ctx, system, user)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("generation.fallback", true))
		g.log.Warn("Text generation degraded to fallback", "error", err)
		return fallback
	}
	return out
}

func (g *generator) JSON(ctx context.Context, system, user string) (json.RawMessage, error) {
	ctx, span := g.tracer.Start(ctx, "generator.JSON")
	defer span.End()

	out, err := g.ai.GenerateJSON(ctx, system, user)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (g *generator) Stream(ctx context.Context, system, user string, onDelta func(delta string)) (string, error) {
	ctx, span := g.tracer.Start(ctx, "generator.Stream")
	defer span.End()

	out, err := g.ai.StreamText(ctx, system, user, onDelta)
	span.SetAttributes(attribute.Int("generation.stream_bytes", len(out)))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}
