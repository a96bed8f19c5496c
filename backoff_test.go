package pipz

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

// augmentCall mirrors the shape rule.Engine pushes through its remote
// dispatch pipeline: a key identifying the remote lookup and the value it
// resolves to.
type augmentCall struct {
	key   string
	value string
}

func TestBackoff(t *testing.T) {
	t.Run("succeeds on first attempt", func(t *testing.T) {
		calls := 0
		remote := Apply("geo-lookup", func(_ context.Context, c augmentCall) (augmentCall, error) {
			calls++
			c.value = "resolved"
			return c, nil
		})

		backoff := NewBackoff("geo-lookup-backoff", remote, 3, 10*time.Millisecond)
		result, err := backoff.Process(context.Background(), augmentCall{key: "ip:1.2.3.4"})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.value != "resolved" {
			t.Errorf("expected resolved value, got %q", result.value)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("retries exponentially then succeeds", func(t *testing.T) {
		var calls int32
		remote := Apply("flaky-enrich", func(_ context.Context, c augmentCall) (augmentCall, error) {
			n := atomic.AddInt32(&calls, 1)
			if n < 3 {
				return c, errors.New("remote unavailable")
			}
			c.value = "resolved"
			return c, nil
		})

		clock := clockz.NewFakeClock()
		backoff := NewBackoff("flaky-enrich-backoff", remote, 3, 50*time.Millisecond).WithClock(clock)

		done := make(chan struct{})
		var result augmentCall
		var err error
		go func() {
			result, err = backoff.Process(context.Background(), augmentCall{key: "asn:64500"})
			close(done)
		}()

		time.Sleep(10 * time.Millisecond)
		clock.Advance(50 * time.Millisecond)
		clock.BlockUntilReady()
		time.Sleep(10 * time.Millisecond)
		clock.Advance(100 * time.Millisecond)
		clock.BlockUntilReady()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("test timed out")
		}

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.value != "resolved" {
			t.Errorf("expected resolved value, got %q", result.value)
		}
		if atomic.LoadInt32(&calls) != 3 {
			t.Errorf("expected 3 attempts, got %d", calls)
		}
	})

	t.Run("exhausts attempts and returns wrapped error", func(t *testing.T) {
		wantErr := errors.New("remote permanently down")
		remote := Apply("down-enrich", func(_ context.Context, c augmentCall) (augmentCall, error) {
			return c, wantErr
		})

		clock := clockz.NewFakeClock()
		backoff := NewBackoff("down-enrich-backoff", remote, 2, 10*time.Millisecond).WithClock(clock)

		done := make(chan struct{})
		var err error
		go func() {
			_, err = backoff.Process(context.Background(), augmentCall{key: "x"})
			close(done)
		}()

		time.Sleep(10 * time.Millisecond)
		clock.Advance(10 * time.Millisecond)
		clock.BlockUntilReady()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("test timed out")
		}

		if err == nil {
			t.Fatal("expected error, got nil")
		}
		var pipeErr *Error[augmentCall]
		if !errors.As(err, &pipeErr) {
			t.Fatalf("expected *Error[augmentCall], got %T", err)
		}
		if !errors.Is(pipeErr.Err, wantErr) {
			t.Errorf("expected wrapped %v, got %v", wantErr, pipeErr.Err)
		}
	})

	t.Run("stops immediately on context cancellation", func(t *testing.T) {
		remote := Apply("slow-enrich", func(_ context.Context, c augmentCall) (augmentCall, error) {
			return c, errors.New("transient")
		})

		clock := clockz.NewFakeClock()
		backoff := NewBackoff("slow-enrich-backoff", remote, 5, time.Second).WithClock(clock)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		var err error
		go func() {
			_, err = backoff.Process(ctx, augmentCall{key: "y"})
			close(done)
		}()

		time.Sleep(10 * time.Millisecond)
		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("test timed out")
		}

		if err == nil {
			t.Fatal("expected error from cancellation")
		}
	})

	t.Run("getters and setters mutate live configuration", func(t *testing.T) {
		remote := Apply("noop", func(_ context.Context, c augmentCall) (augmentCall, error) { return c, nil })
		backoff := NewBackoff("noop-backoff", remote, 3, 10*time.Millisecond)

		backoff.SetMaxAttempts(5)
		backoff.SetBaseDelay(20 * time.Millisecond)

		if got := backoff.GetMaxAttempts(); got != 5 {
			t.Errorf("expected max attempts 5, got %d", got)
		}
		if got := backoff.GetBaseDelay(); got != 20*time.Millisecond {
			t.Errorf("expected base delay 20ms, got %v", got)
		}
		if backoff.Name() != "noop-backoff" {
			t.Errorf("expected name noop-backoff, got %s", backoff.Name())
		}
	})

	t.Run("hooks observe attempt and success events", func(t *testing.T) {
		var attempts, successes, calls int32
		remote := Apply("hooked-enrich", func(_ context.Context, c augmentCall) (augmentCall, error) {
			// Fail once so a retry happens; attempt events fire only for retries.
			if atomic.AddInt32(&calls, 1) == 1 {
				return c, errors.New("transient")
			}
			return c, nil
		})

		backoff := NewBackoff("hooked-enrich-backoff", remote, 3, time.Millisecond)
		if err := backoff.OnAttempt(func(_ context.Context, _ BackoffEvent) error {
			atomic.AddInt32(&attempts, 1)
			return nil
		}); err != nil {
			t.Fatalf("OnAttempt: %v", err)
		}
		if err := backoff.OnSuccess(func(_ context.Context, _ BackoffEvent) error {
			atomic.AddInt32(&successes, 1)
			return nil
		}); err != nil {
			t.Fatalf("OnSuccess: %v", err)
		}

		if _, err := backoff.Process(context.Background(), augmentCall{key: "z"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		time.Sleep(10 * time.Millisecond)

		if atomic.LoadInt32(&attempts) == 0 {
			t.Error("expected at least one attempt event")
		}
		if atomic.LoadInt32(&successes) == 0 {
			t.Error("expected a success event")
		}

		if err := backoff.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
}
