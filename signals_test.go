package pipz

import "testing"

// TestSignalsInitialized verifies all signals are properly initialized.
// This file tests declaration-only code in signals.go.
func TestSignalsInitialized(t *testing.T) {
	signals := []struct {
		name   string
		signal any
	}{
		{"CircuitBreakerOpened", SignalCircuitBreakerOpened},
		{"CircuitBreakerClosed", SignalCircuitBreakerClosed},
		{"CircuitBreakerHalfOpen", SignalCircuitBreakerHalfOpen},
		{"CircuitBreakerRejected", SignalCircuitBreakerRejected},
		{"RateLimiterThrottled", SignalRateLimiterThrottled},
		{"RateLimiterDropped", SignalRateLimiterDropped},
		{"RateLimiterAllowed", SignalRateLimiterAllowed},
		{"SequenceCompleted", SignalSequenceCompleted},
	}

	for _, s := range signals {
		if s.signal == nil {
			t.Errorf("Signal %s is nil", s.name)
		}
	}
}

// TestFieldKeysInitialized verifies all field keys are properly initialized.
func TestFieldKeysInitialized(t *testing.T) {
	fields := []struct {
		name string
		key  any
	}{
		{"Name", FieldName},
		{"Timestamp", FieldTimestamp},
		{"State", FieldState},
		{"Failures", FieldFailures},
		{"Successes", FieldSuccesses},
		{"FailureThreshold", FieldFailureThreshold},
		{"SuccessThreshold", FieldSuccessThreshold},
		{"Generation", FieldGeneration},
		{"Rate", FieldRate},
		{"Burst", FieldBurst},
		{"Tokens", FieldTokens},
		{"Mode", FieldMode},
		{"WaitTime", FieldWaitTime},
		{"ProcessorCount", FieldProcessorCount},
		{"Duration", FieldDuration},
	}

	for _, f := range fields {
		if f.key == nil {
			t.Errorf("Field key %s is nil", f.name)
		}
	}
}
