package openai

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/sueda-gl/bookspire-backend-public/internal/pkg/errors"
)

// slidingWindow admits at most limit requests per window. Wait blocks until
// a slot frees up or the context ends; a caller whose deadline cannot cover
// the wait fails fast with ErrRateLimited.
type slidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	if limit <= 0 {
		limit = 50
	}
	if window <= 0 {
		window = time.Minute
	}
	return &slidingWindow{limit: limit, window: window}
}

func (w *slidingWindow) Wait(ctx context.Context) error {
	for {
		w.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-w.window)
		kept := w.stamps[:0]
		for _, s := range w.stamps {
			if s.After(cutoff) {
				kept = append(kept, s)
			}
		}
		w.stamps = kept

		if len(w.stamps) < w.limit {
			w.stamps = append(w.stamps, now)
			w.mu.Unlock()
			return nil
		}

		wait := w.stamps[0].Add(w.window).Sub(now)
		w.mu.Unlock()

		if wait <= 0 {
			continue
		}
		if deadline, ok := ctx.Deadline(); ok && now.Add(wait).After(deadline) {
			return fmt.Errorf("window full for another %s: %w", wait.Round(time.Millisecond), apperrors.ErrRateLimited)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Used reports how many slots the current window holds.
func (w *slidingWindow) Used() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := time.Now().Add(-w.window)
	n := 0
	for _, s := range w.stamps {
		if s.After(cutoff) {
			n++
		}
	}
	return n
}
