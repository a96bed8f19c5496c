package pipz

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func TestCircuitBreaker(t *testing.T) {
	t.Run("passes through while closed", func(t *testing.T) {
		var calls int32
		remote := Apply("geo-lookup", func(_ context.Context, c augmentCall) (augmentCall, error) {
			atomic.AddInt32(&calls, 1)
			c.value = "resolved"
			return c, nil
		})

		breaker := NewCircuitBreaker("geo-lookup-breaker", remote, 3, time.Second)
		result, err := breaker.Process(context.Background(), augmentCall{key: "ip:1.2.3.4"})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.value != "resolved" {
			t.Errorf("expected resolved value, got %q", result.value)
		}
		if breaker.GetState() != stateClosed {
			t.Errorf("expected state closed, got %s", breaker.GetState())
		}
	})

	t.Run("opens after consecutive failures and rejects fast", func(t *testing.T) {
		var calls int32
		wantErr := errors.New("remote down")
		remote := Apply("down-enrich", func(_ context.Context, c augmentCall) (augmentCall, error) {
			atomic.AddInt32(&calls, 1)
			return c, wantErr
		})

		breaker := NewCircuitBreaker("down-enrich-breaker", remote, 2, time.Minute)

		for i := 0; i < 2; i++ {
			if _, err := breaker.Process(context.Background(), augmentCall{key: "x"}); err == nil {
				t.Fatal("expected failure to propagate")
			}
		}

		if breaker.GetState() != stateOpen {
			t.Fatalf("expected state open after threshold, got %s", breaker.GetState())
		}

		_, err := breaker.Process(context.Background(), augmentCall{key: "y"})
		if err == nil {
			t.Fatal("expected rejection while open")
		}
		if atomic.LoadInt32(&calls) != 2 {
			t.Errorf("processor should not run again while circuit is open, got %d calls", calls)
		}
		var pipeErr *Error[augmentCall]
		if !errors.As(err, &pipeErr) {
			t.Fatalf("expected *Error[augmentCall], got %T", err)
		}
	})

	t.Run("transitions through half-open to closed on recovery", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		healthy := int32(1) // 0 = fail, 1 = succeed
		remote := Apply("recovering-enrich", func(_ context.Context, c augmentCall) (augmentCall, error) {
			if atomic.LoadInt32(&healthy) == 0 {
				return c, errors.New("still down")
			}
			c.value = "resolved"
			return c, nil
		})

		breaker := NewCircuitBreaker("recovering-breaker", remote, 2, 30*time.Second).WithClock(clock)

		atomic.StoreInt32(&healthy, 0)
		for i := 0; i < 2; i++ {
			breaker.Process(context.Background(), augmentCall{key: "z"}) //nolint:errcheck
		}
		if breaker.GetState() != stateOpen {
			t.Fatalf("expected open, got %s", breaker.GetState())
		}

		clock.Advance(31 * time.Second)
		if breaker.GetState() != stateHalfOpen {
			t.Fatalf("expected half-open after reset timeout, got %s", breaker.GetState())
		}

		atomic.StoreInt32(&healthy, 1)
		result, err := breaker.Process(context.Background(), augmentCall{key: "z"})
		if err != nil {
			t.Fatalf("unexpected error during recovery: %v", err)
		}
		if result.value != "resolved" {
			t.Errorf("expected resolved value, got %q", result.value)
		}
		if breaker.GetState() != stateClosed {
			t.Errorf("expected closed after recovery success, got %s", breaker.GetState())
		}
	})

	t.Run("failure in half-open reopens the circuit", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		fail := true
		remote := Apply("flapping-enrich", func(_ context.Context, c augmentCall) (augmentCall, error) {
			if fail {
				return c, errors.New("still flapping")
			}
			return c, nil
		})

		breaker := NewCircuitBreaker("flapping-breaker", remote, 1, 10*time.Second).WithClock(clock)
		breaker.Process(context.Background(), augmentCall{key: "a"}) //nolint:errcheck
		if breaker.GetState() != stateOpen {
			t.Fatalf("expected open, got %s", breaker.GetState())
		}

		clock.Advance(11 * time.Second)
		if breaker.GetState() != stateHalfOpen {
			t.Fatalf("expected half-open, got %s", breaker.GetState())
		}

		breaker.Process(context.Background(), augmentCall{key: "a"}) //nolint:errcheck
		if breaker.GetState() != stateOpen {
			t.Errorf("expected reopened after half-open failure, got %s", breaker.GetState())
		}
	})

	t.Run("setters and getters mutate live thresholds", func(t *testing.T) {
		remote := Apply("noop", func(_ context.Context, c augmentCall) (augmentCall, error) { return c, nil })
		breaker := NewCircuitBreaker("noop-breaker", remote, 3, time.Second)

		breaker.SetFailureThreshold(5)
		breaker.SetSuccessThreshold(2)
		breaker.SetResetTimeout(20 * time.Second)

		if breaker.GetFailureThreshold() != 5 {
			t.Errorf("expected failure threshold 5, got %d", breaker.GetFailureThreshold())
		}
		if breaker.GetSuccessThreshold() != 2 {
			t.Errorf("expected success threshold 2, got %d", breaker.GetSuccessThreshold())
		}
		if breaker.GetResetTimeout() != 20*time.Second {
			t.Errorf("expected reset timeout 20s, got %v", breaker.GetResetTimeout())
		}
		if breaker.Name() != "noop-breaker" {
			t.Errorf("expected name noop-breaker, got %s", breaker.Name())
		}

		if err := breaker.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
}
