package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sueda-gl/bookspire-backend-public/internal/pkg/ctxutil"
	"github.com/sueda-gl/bookspire-backend-public/internal/pkg/httpx"
	"github.com/sueda-gl/bookspire-backend-public/internal/platform/envutil"
	"github.com/sueda-gl/bookspire-backend-public/internal/platform/logger"
)

const (
	singleShotTimeout = 10 * time.Second
	streamTimeout     = 30 * time.Second

	maxAttempts = 3
	retryDelay  = time.Second
)

// Client is the generation backend. Single-shot calls go through the
// response cache, the rate limiter and the retry loop; streaming calls skip
// cache and retry because chunks already left for the client.
type Client interface {
	GenerateText(ctx context.Context, system, user string) (string, error)
	GenerateJSON(ctx context.Context, system, user string) (json.RawMessage, error)
	StreamText(ctx context.Context, system, user string, onDelta func(delta string)) (string, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client

	limiter *slidingWindow
	cache   ResponseCache

	retryDelay time.Duration
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	apiKey := envutil.Get("OPENAI_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimRight(envutil.Get("OPENAI_BASE_URL", "https://api.openai.com"), "/")
	model := envutil.Get("OPENAI_MODEL", "gpt-4o-mini")

	limit := envutil.Int("OPENAI_RATE_LIMIT", 50)
	window := envutil.Duration("OPENAI_RATE_WINDOW", time.Minute)

	clientLog := log.With("service", "OpenAIClient")
	return &client{
		log:        clientLog,
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{},
		limiter:    newSlidingWindow(limit, window),
		cache:      NewResponseCache(clientLog),
		retryDelay: retryDelay,
	}, nil
}

type apiHTTPError struct {
	StatusCode int
	Body       string
}

func (e *apiHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *apiHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

type responsesRequest struct {
	Model string `json:"model"`

	Input []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"input"`

	Text struct {
		Format map[string]any `json:"format,omitempty"`
	} `json:"text,omitempty"`

	Temperature float64 `json:"temperature,omitempty"`

	Stream bool `json:"stream,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					out.WriteString(c.Text)
				}
			}
		}
	}
	return out.String()
}

func newPromptInput(system, user string) []struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
} {
	return []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	}{
		{Role: "system", Content: strings.TrimSpace(system)},
		{Role: "user", Content: user},
	}
}

func (c *client) doOnce(ctx context.Context, body any, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/responses", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if uErr := json.Unmarshal(raw, out); uErr != nil {
		return fmt.Errorf("openai decode error: %w", uErr)
	}
	return nil
}

// do runs the single-shot retry loop: up to maxAttempts tries with a linear
// backoff of retryDelay*attempt and a fresh timeout per attempt.
func (c *client) do(ctx context.Context, body any, out any) error {
	ctx = ctxutil.Default(ctx)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, singleShotTimeout)
		err := c.doOnce(attemptCtx, body, out)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if !httpx.IsRetryableError(err) || attempt == maxAttempts {
			return err
		}

		sleepFor := c.retryDelay * time.Duration(attempt)
		c.log.Warn("Generation request retrying",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
	}
	return lastErr
}

func (c *client) GenerateText(ctx context.Context, system, user string) (string, error) {
	key := cacheKey(c.model, system, user)
	if cached, ok := c.cache.Get(ctx, key); ok {
		return cached, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req := responsesRequest{
		Model:       c.model,
		Input:       newPromptInput(system, user),
		Temperature: 0.7,
	}

	var resp responsesResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return "", err
	}
	if resp.Refusal != "" {
		return "", fmt.Errorf("model refused: %s", resp.Refusal)
	}

	text := extractOutputText(resp)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no output_text found in response")
	}

	c.cache.Set(ctx, key, text)
	return text, nil
}

// GenerateJSON asks for a JSON object and runs the structural repair chain
// on whatever comes back. Callers supply their own default when it errors.
func (c *client) GenerateJSON(ctx context.Context, system, user string) (json.RawMessage, error) {
	key := cacheKey(c.model+"#json", system, user)
	if cached, ok := c.cache.Get(ctx, key); ok {
		if repaired, err := RepairJSON(cached); err == nil {
			return repaired, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := responsesRequest{
		Model:       c.model,
		Input:       newPromptInput(system, user),
		Temperature: 0.2,
	}
	req.Text.Format = map[string]any{"type": "json_object"}

	var resp responsesResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	if resp.Refusal != "" {
		return nil, fmt.Errorf("model refused: %s", resp.Refusal)
	}

	text := extractOutputText(resp)
	repaired, err := RepairJSON(text)
	if err != nil {
		return nil, fmt.Errorf("unparseable model output: %w", err)
	}

	c.cache.Set(ctx, key, string(repaired))
	return repaired, nil
}

// StreamText forwards output_text deltas to onDelta and returns the full
// accumulated text. No cache, no retry: a failure mid-stream surfaces as an
// error with whatever text was collected so far.
func (c *client) StreamText(ctx context.Context, system, user string, onDelta func(delta string)) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	reqBody := responsesRequest{
		Model:       c.model,
		Input:       newPromptInput(system, user),
		Temperature: 0.7,
		Stream:      true,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return "", err
	}

	streamCtx, cancel := context.WithTimeout(ctxutil.Default(ctx), streamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(streamCtx, "POST", c.baseURL+"/v1/responses", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return "", &apiHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var full strings.Builder
	err = streamSSE(resp.Body, func(event, data string) error {
		if strings.TrimSpace(data) == "" || strings.TrimSpace(data) == "[DONE]" {
			return nil
		}

		var obj map[string]any
		if err := json.Unmarshal([]byte(data), &obj); err != nil {
			return nil
		}

		evt := strings.TrimSpace(event)
		if t, ok := obj["type"].(string); ok && strings.TrimSpace(t) != "" {
			evt = strings.TrimSpace(t)
		}

		if r, ok := obj["refusal"].(string); ok && strings.TrimSpace(r) != "" {
			return fmt.Errorf("model refused: %s", r)
		}
		if eAny, ok := obj["error"]; ok && eAny != nil {
			b, _ := json.Marshal(eAny)
			return fmt.Errorf("stream error: %s", string(b))
		}

		if d, ok := obj["delta"].(string); ok && d != "" {
			if strings.Contains(evt, "output_text.delta") {
				full.WriteString(d)
				if onDelta != nil {
					onDelta(d)
				}
			}
		}
		return nil
	})
	if err != nil {
		// Partial text still matters to the caller, who persists what the
		// client already saw.
		return full.String(), err
	}
	return full.String(), nil
}
