package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream 502")
var errMissing = errors.New("no lyrics for track")

// trip records threshold failures so the breaker opens
func trip(cb *CircuitBreaker) {
	for i := 0; i < cb.Threshold(); i++ {
		cb.RecordFailure()
	}
}

func TestNew(t *testing.T) {
	cb := New(Config{Name: "lyrics", Threshold: 3, Cooldown: 10 * time.Second})

	if cb.name != "lyrics" {
		t.Errorf("Expected name 'lyrics', got %q", cb.name)
	}
	if cb.threshold != 3 {
		t.Errorf("Expected threshold 3, got %d", cb.threshold)
	}
	if cb.cooldown != 10*time.Second {
		t.Errorf("Expected cooldown 10s, got %v", cb.cooldown)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected initial state CLOSED, got %s", cb.State())
	}
}

func TestNew_Defaults(t *testing.T) {
	cb := New(Config{})

	if cb.threshold != 5 || cb.cooldown != 5*time.Minute || cb.halfOpenTimeout != 30*time.Second {
		t.Errorf("Unexpected defaults: threshold=%d cooldown=%v halfOpen=%v", cb.threshold, cb.cooldown, cb.halfOpenTimeout)
	}
	if cb.name != "default" {
		t.Errorf("Expected default name 'default', got %q", cb.name)
	}
	if cb.isFailure == nil || cb.isFailure(nil) || !cb.isFailure(errUpstream) {
		t.Error("Expected default classifier to count every non-nil error")
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := New(Config{Threshold: 3, Cooldown: time.Minute})

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Fatalf("Expected CLOSED below threshold, got %s", cb.State())
	}

	cb.RecordFailure()
	if !cb.IsOpen() {
		t.Fatalf("Expected OPEN at threshold, got %s", cb.State())
	}
	if cb.Allow() {
		t.Error("Expected Allow() to return false in OPEN state")
	}
	if cb.TimeUntilRetry() <= 0 {
		t.Error("Expected a positive retry delay while OPEN")
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := New(Config{Threshold: 3, Cooldown: time.Minute})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()

	if cb.Failures() != 0 {
		t.Errorf("Expected 0 failures after success, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	tests := []struct {
		name     string
		outcome  func(cb *CircuitBreaker)
		expected State
	}{
		{
			name:     "probe succeeds",
			outcome:  func(cb *CircuitBreaker) { cb.RecordSuccess() },
			expected: StateClosed,
		},
		{
			name:     "probe fails",
			outcome:  func(cb *CircuitBreaker) { cb.RecordFailure() },
			expected: StateOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := New(Config{Threshold: 2, Cooldown: 30 * time.Millisecond})
			trip(cb)

			time.Sleep(40 * time.Millisecond)
			if !cb.Allow() {
				t.Fatal("Expected one probe request after cooldown")
			}
			if !cb.IsHalfOpen() {
				t.Fatalf("Expected HALF-OPEN, got %s", cb.State())
			}
			if cb.Allow() {
				t.Error("Expected concurrent probes to be blocked in HALF-OPEN")
			}

			tt.outcome(cb)
			if cb.State() != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, cb.State())
			}
		})
	}
}

func TestCircuitBreaker_HalfOpenTimeout(t *testing.T) {
	cb := New(Config{
		Threshold:       2,
		Cooldown:        30 * time.Millisecond,
		HalfOpenTimeout: 50 * time.Millisecond,
	})
	trip(cb)

	time.Sleep(40 * time.Millisecond)
	cb.Allow()
	if !cb.IsHalfOpen() {
		t.Fatalf("Expected HALF-OPEN, got %s", cb.State())
	}

	time.Sleep(60 * time.Millisecond)
	if cb.Allow() {
		t.Error("Expected Allow() to return false once the probe times out")
	}
	if cb.State() != StateOpen {
		t.Errorf("Expected OPEN after probe timeout, got %s", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New(Config{Threshold: 2, Cooldown: time.Hour})
	trip(cb)

	cb.Reset()

	state, failures, lastFailure := cb.Stats()
	if state != StateClosed || failures != 0 || !lastFailure.IsZero() {
		t.Errorf("Expected clean CLOSED breaker after Reset, got state=%s failures=%d last=%v", state, failures, lastFailure)
	}
	if !cb.Allow() {
		t.Error("Expected requests to flow after Reset")
	}
}

func TestCircuitBreaker_Do(t *testing.T) {
	cb := New(Config{
		Name:      "lyrics",
		Threshold: 2,
		Cooldown:  time.Hour,
		IsFailure: func(err error) bool { return !errors.Is(err, errMissing) },
	})

	// A missing track is a valid answer from a healthy upstream
	for i := 0; i < 5; i++ {
		if err := cb.Do(func() error { return errMissing }); !errors.Is(err, errMissing) {
			t.Fatalf("Expected fn error to be returned, got %v", err)
		}
	}
	if cb.Failures() != 0 {
		t.Errorf("Expected classified errors not to count, got %d failures", cb.Failures())
	}

	cb.Do(func() error { return errUpstream })
	cb.Do(func() error { return errUpstream })
	if !cb.IsOpen() {
		t.Fatalf("Expected OPEN after upstream failures, got %s", cb.State())
	}

	called := false
	err := cb.Do(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected fn not to run while the circuit is open")
	}
}

func TestCircuitBreaker_Snapshot(t *testing.T) {
	cb := New(Config{Name: "lyrics", Threshold: 2, Cooldown: time.Minute})

	snap := cb.Snapshot()
	if snap.Name != "lyrics" || snap.State != "CLOSED" || snap.Threshold != 2 {
		t.Errorf("Unexpected closed snapshot: %+v", snap)
	}
	if snap.TimeUntilRetry != "" || snap.LastFailure != "" {
		t.Errorf("Expected empty retry fields while CLOSED, got %+v", snap)
	}

	trip(cb)
	snap = cb.Snapshot()
	if snap.State != "OPEN" || snap.Failures != 2 {
		t.Errorf("Unexpected open snapshot: %+v", snap)
	}
	if snap.TimeUntilRetry == "" || snap.LastFailure == "" {
		t.Errorf("Expected retry fields while OPEN, got %+v", snap)
	}
	if snap.Cooldown != "1m0s" {
		t.Errorf("Expected cooldown 1m0s, got %q", snap.Cooldown)
	}
}

func TestCircuitBreaker_StateString(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "CLOSED",
		StateOpen:     "OPEN",
		StateHalfOpen: "HALF-OPEN",
		State(99):     "UNKNOWN",
	}
	for state, expected := range cases {
		if state.String() != expected {
			t.Errorf("Expected %q, got %q", expected, state.String())
		}
	}
}

func TestCircuitBreaker_ConcurrentDo(t *testing.T) {
	cb := New(Config{Threshold: 1000, Cooldown: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if (i+j)%2 == 0 {
					cb.Do(func() error { return errUpstream })
				} else {
					cb.Do(func() error { return nil })
				}
				cb.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	state := cb.State()
	if state != StateClosed && state != StateOpen && state != StateHalfOpen {
		t.Errorf("Invalid state after concurrent access: %v", state)
	}
}

// fakeClock replaces the breaker's clock and returns a function that advances it
func fakeClock(cb *CircuitBreaker) func(time.Duration) {
	var mu sync.Mutex
	now := time.Unix(1_700_000_000, 0)
	cb.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	return func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
}

func TestCircuitBreaker_LateProbe(t *testing.T) {
	tests := []struct {
		name     string
		outcome  func(cb *CircuitBreaker)
		expected State
	}{
		{"late success closes", func(cb *CircuitBreaker) { cb.RecordSuccess() }, StateClosed},
		{"late failure stays open", func(cb *CircuitBreaker) { cb.RecordFailure() }, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := New(Config{Threshold: 2, Cooldown: time.Minute, HalfOpenTimeout: 10 * time.Second})
			advance := fakeClock(cb)
			trip(cb)

			advance(time.Minute)
			if !cb.Allow() {
				t.Fatal("Expected a probe after cooldown")
			}
			advance(11 * time.Second)
			if cb.Allow() || cb.State() != StateOpen {
				t.Fatalf("Expected OPEN after the probe window, got %s", cb.State())
			}

			tt.outcome(cb)
			if cb.State() != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, cb.State())
			}
		})
	}
}

func TestCircuitBreaker_LateFailureEndsProbe(t *testing.T) {
	cb := New(Config{Threshold: 2, Cooldown: time.Minute, HalfOpenTimeout: 10 * time.Second})
	advance := fakeClock(cb)
	trip(cb)

	advance(time.Minute)
	cb.Allow()
	advance(11 * time.Second)
	cb.Allow()
	cb.RecordFailure()

	// a straggler that was admitted before the trip must not close the circuit
	cb.RecordSuccess()
	if cb.State() != StateOpen {
		t.Errorf("Expected OPEN, got %s", cb.State())
	}
}

func TestCircuitBreaker_IgnoredOutcome(t *testing.T) {
	errAbandoned := errors.New("caller went away")
	cb := New(Config{
		Threshold: 2,
		Cooldown:  time.Minute,
		IsIgnored: func(err error) bool { return errors.Is(err, errAbandoned) },
	})
	advance := fakeClock(cb)

	for i := 0; i < 5; i++ {
		cb.Do(func() error { return errAbandoned })
	}
	if cb.State() != StateClosed || cb.Failures() != 0 {
		t.Fatalf("Expected ignored errors not to count, got %s with %d failures", cb.State(), cb.Failures())
	}

	cb.RecordFailure()
	cb.Do(func() error { return errAbandoned })
	if cb.Failures() != 1 {
		t.Errorf("Expected ignored error to leave the failure count alone, got %d", cb.Failures())
	}

	trip(cb)
	advance(time.Minute)
	if err := cb.Do(func() error { return errAbandoned }); !errors.Is(err, errAbandoned) {
		t.Fatalf("Expected the probe to run, got %v", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected an abandoned probe to leave the circuit OPEN, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Error("Expected the next request to probe again")
	}
	if !cb.IsHalfOpen() {
		t.Errorf("Expected HALF-OPEN, got %s", cb.State())
	}
}
