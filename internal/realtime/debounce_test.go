package realtime

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCoalescerLatestPayloadWins(t *testing.T) {
	c := NewCoalescer(30*time.Millisecond, mustTestLogger(t))

	var mu sync.Mutex
	var fired []string
	record := func(payload string) func() {
		return func() {
			mu.Lock()
			fired = append(fired, payload)
			mu.Unlock()
		}
	}

	c.Submit("s1:user-1", record("first"))
	c.Submit("s1:user-1", record("second"))
	c.Submit("s1:user-1", record("third"))

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 || fired[0] != "third" {
		t.Fatalf("expected only the latest payload to fire, got %v", fired)
	}
	if c.PendingCount() != 0 {
		t.Fatalf("expected no pending fires, got %d", c.PendingCount())
	}
}

func TestCoalescerIndependentKeys(t *testing.T) {
	c := NewCoalescer(30*time.Millisecond, mustTestLogger(t))

	var a, b atomic.Int32
	c.Submit("s1:user-1", func() { a.Add(1) })
	c.Submit("s1:user-2", func() { b.Add(1) })

	time.Sleep(100 * time.Millisecond)

	if a.Load() != 1 || b.Load() != 1 {
		t.Fatalf("each key should fire once: a=%d b=%d", a.Load(), b.Load())
	}
}

func TestCoalescerCancelAllByPrefix(t *testing.T) {
	c := NewCoalescer(50*time.Millisecond, mustTestLogger(t))

	var fired atomic.Int32
	c.Submit("s1:user-1", func() { fired.Add(1) })
	c.Submit("s1:user-2", func() { fired.Add(1) })
	c.Submit("s2:user-1", func() { fired.Add(1) })

	c.CancelAll("s1:")

	time.Sleep(120 * time.Millisecond)

	if got := fired.Load(); got != 1 {
		t.Fatalf("only the s2 fire should run, got %d", got)
	}
	if c.PendingCount() != 0 {
		t.Fatalf("expected no pending fires, got %d", c.PendingCount())
	}
}

func TestCoalescerCancelAllWaitsForInflightFire(t *testing.T) {
	c := NewCoalescer(10*time.Millisecond, mustTestLogger(t))

	started := make(chan struct{})
	var finished atomic.Bool
	c.Submit("s1:user-1", func() {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})

	<-started
	c.CancelAll("s1:")

	if !finished.Load() {
		t.Fatalf("CancelAll returned before the in-flight fire finished")
	}
}

func TestCoalescerCancelBeatsTimer(t *testing.T) {
	c := NewCoalescer(40*time.Millisecond, mustTestLogger(t))

	var fired atomic.Int32
	c.Submit("s1:user-1", func() { fired.Add(1) })
	c.Cancel("s1:user-1")

	time.Sleep(100 * time.Millisecond)

	if fired.Load() != 0 {
		t.Fatalf("cancelled fire should not run")
	}
	// Cancelling an absent key is a no-op.
	c.Cancel("s1:user-1")
}
