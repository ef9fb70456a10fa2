// Package circuitbreaker stops calls to a failing upstream for a cooldown, then lets a
// single probe through to decide whether to close again.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"spotify-lyrics-api-go/logcolors"
	"spotify-lyrics-api-go/services/notifier"

	log "github.com/sirupsen/logrus"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = map[State]string{
	StateClosed:   "CLOSED",
	StateOpen:     "OPEN",
	StateHalfOpen: "HALF-OPEN",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Classifier decides whether an error returned through Do counts against the breaker.
// Errors it rejects (for example a missing resource) are recorded as successes.
type Classifier func(err error) bool

type Config struct {
	Name            string
	Threshold       int           // consecutive failures before opening, default 5
	Cooldown        time.Duration // time spent OPEN before a probe, default 5m
	HalfOpenTimeout time.Duration // a probe that has not reported back by then reopens the circuit, default 30s
	IsFailure       Classifier    // every non-nil error counts when unset
	IsIgnored       Classifier    // outcomes recorded as neither success nor failure, e.g. a caller giving up
}

type CircuitBreaker struct {
	name            string
	threshold       int
	cooldown        time.Duration
	halfOpenTimeout time.Duration
	isFailure       Classifier
	isIgnored       Classifier
	now             func() time.Time

	mu          sync.RWMutex
	state       State
	failures    int
	openedAt    time.Time // start of the current OPEN period
	probeAt     time.Time // when the HALF-OPEN probe was let through
	probing     bool      // a probe is outstanding, possibly past its timeout
	lastFailure time.Time
}

func New(cfg Config) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.HalfOpenTimeout <= 0 {
		cfg.HalfOpenTimeout = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.IsIgnored == nil {
		cfg.IsIgnored = func(error) bool { return false }
	}

	return &CircuitBreaker{
		name:            cfg.Name,
		threshold:       cfg.Threshold,
		cooldown:        cfg.Cooldown,
		halfOpenTimeout: cfg.HalfOpenTimeout,
		isFailure:       cfg.IsFailure,
		isIgnored:       cfg.IsIgnored,
		now:             time.Now,
		state:           StateClosed,
	}
}

// Do runs fn if the breaker allows it and records the outcome.
// Returns ErrCircuitOpen without calling fn when the circuit is blocking.
func (cb *CircuitBreaker) Do(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}

	err := fn()
	switch {
	case err == nil:
		cb.RecordSuccess()
	case cb.isIgnored(err):
		cb.release()
	case cb.isFailure(err):
		cb.RecordFailure()
	default:
		cb.RecordSuccess()
	}
	return err
}

// release hands an outstanding probe slot back without judging the upstream,
// so the next Allow sends a fresh probe.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.probing {
		return
	}
	cb.probing = false
	if cb.state == StateHalfOpen {
		cb.state = StateOpen
		cb.openedAt = cb.now().Add(-cb.cooldown)
		log.Debugf("%s Probe abandoned, next request probes again", logcolors.CircuitBreakerPrefix(cb.name))
	}
}

// transition must be called with mu held
func (cb *CircuitBreaker) transition(to State, why string) {
	from := cb.state
	cb.state = to
	now := cb.now()

	switch to {
	case StateOpen:
		cb.openedAt = now
		log.Warnf("%s %s -> OPEN: %s (retry in %v)", logcolors.CircuitBreakerPrefix(cb.name), from, why, cb.cooldown)
		notifier.PublishCircuitBreakerOpen(cb.name, cb.failures, cb.cooldown)
	case StateHalfOpen:
		cb.probeAt = now
		cb.probing = true
		log.Infof("%s %s -> HALF-OPEN: %s", logcolors.CircuitBreakerPrefix(cb.name), from, why)
	case StateClosed:
		cb.failures = 0
		cb.probing = false
		log.Infof("%s %s -> CLOSED: %s", logcolors.CircuitBreakerPrefix(cb.name), from, why)
		if from != StateClosed {
			notifier.PublishCircuitBreakerRecovered(cb.name)
		}
	}
}

// Allow reports whether a request may proceed. After the cooldown exactly one probe is let through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.state {
	case StateOpen:
		if now.Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.transition(StateHalfOpen, "cooldown elapsed, sending probe")
		return true
	case StateHalfOpen:
		if now.Sub(cb.probeAt) >= cb.halfOpenTimeout {
			cb.transition(StateOpen, "probe timed out")
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateClosed, "probe succeeded")
	case StateOpen:
		if cb.probing {
			cb.transition(StateClosed, "late probe succeeded")
		}
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()

	switch cb.state {
	case StateHalfOpen:
		cb.probing = false
		cb.transition(StateOpen, "probe failed")
	case StateOpen:
		cb.probing = false
	case StateClosed:
		if cb.failures == warningLevel(cb.threshold) {
			log.Warnf("%s %d/%d failures", logcolors.CircuitBreakerPrefix(cb.name), cb.failures, cb.threshold)
			notifier.PublishHighFailureRate(cb.name, cb.failures, cb.threshold)
		}
		if cb.failures >= cb.threshold {
			cb.transition(StateOpen, "failure threshold reached")
		}
	}
}

// warningLevel is 60% of threshold, never below 2
func warningLevel(threshold int) int {
	if w := threshold * 3 / 5; w > 2 {
		return w
	}
	return 2
}

func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

func (cb *CircuitBreaker) Threshold() int {
	return cb.threshold
}

func (cb *CircuitBreaker) Stats() (state State, failures int, lastFailure time.Time) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state, cb.failures, cb.lastFailure
}

// Reset forces the circuit CLOSED, for the admin endpoint
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.openedAt = time.Time{}
	cb.probeAt = time.Time{}
	cb.probing = false
	cb.lastFailure = time.Time{}
	log.Infof("%s Manually reset to CLOSED", logcolors.CircuitBreakerPrefix(cb.name))
}

func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

func (cb *CircuitBreaker) IsHalfOpen() bool {
	return cb.State() == StateHalfOpen
}

// TimeUntilRetry is the remaining cooldown while OPEN, the remaining probe window
// while HALF-OPEN, and zero while CLOSED.
func (cb *CircuitBreaker) TimeUntilRetry() time.Duration {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.timeUntilRetry()
}

func (cb *CircuitBreaker) timeUntilRetry() time.Duration {
	var remaining time.Duration
	switch cb.state {
	case StateOpen:
		remaining = cb.cooldown - cb.now().Sub(cb.openedAt)
	case StateHalfOpen:
		remaining = cb.halfOpenTimeout - cb.now().Sub(cb.probeAt)
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Snapshot is a point-in-time view of the breaker, shaped for the status endpoint
type Snapshot struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	Failures       int    `json:"failures"`
	Threshold      int    `json:"threshold"`
	Cooldown       string `json:"cooldown"`
	TimeUntilRetry string `json:"time_until_retry,omitempty"`
	LastFailure    string `json:"last_failure,omitempty"`
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	snap := Snapshot{
		Name:      cb.name,
		State:     cb.state.String(),
		Failures:  cb.failures,
		Threshold: cb.threshold,
		Cooldown:  cb.cooldown.String(),
	}
	if retry := cb.timeUntilRetry(); retry > 0 {
		snap.TimeUntilRetry = retry.Round(time.Second).String()
	}
	if !cb.lastFailure.IsZero() {
		snap.LastFailure = cb.lastFailure.UTC().Format(time.RFC3339)
	}
	return snap
}
