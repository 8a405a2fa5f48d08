package openai

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/sueda-gl/bookspire-backend-public/internal/pkg/errors"
)

func TestSlidingWindowAdmitsUpToLimit(t *testing.T) {
	w := newSlidingWindow(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		start := time.Now()
		if err := w.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
		if time.Since(start) > 50*time.Millisecond {
			t.Fatalf("wait %d should not block", i)
		}
	}
	if w.Used() != 3 {
		t.Fatalf("expected 3 used slots, got %d", w.Used())
	}
}

func TestSlidingWindowBlocksUntilSlotExpires(t *testing.T) {
	w := newSlidingWindow(1, 100*time.Millisecond)
	ctx := context.Background()

	if err := w.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	start := time.Now()
	if err := w.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("second wait should block for the window, took %v", elapsed)
	}
}

func TestSlidingWindowFailsFastWhenDeadlineInsideWindow(t *testing.T) {
	w := newSlidingWindow(1, time.Minute)
	if err := w.Wait(context.Background()); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := w.Wait(ctx)
	if !errors.Is(err, apperrors.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited while window is full, got %v", err)
	}
	if time.Since(start) > 30*time.Millisecond {
		t.Fatalf("deadline that cannot cover the wait must fail fast")
	}
}

func TestSlidingWindowRespectsCancellation(t *testing.T) {
	w := newSlidingWindow(1, time.Minute)
	if err := w.Wait(context.Background()); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if err := w.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error while window is full, got %v", err)
	}
}
