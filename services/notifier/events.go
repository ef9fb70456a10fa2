package notifier

import (
	"strconv"
	"sync"
	"time"

	"spotify-lyrics-api-go/logcolors"

	log "github.com/sirupsen/logrus"
)

// EventType identifies what happened in the token pipeline or the server
type EventType string

const (
	EventCredentialRejected  EventType = "credential_rejected"
	EventTokenRefreshFailed  EventType = "token_refresh_failed"
	EventCircuitBreakerOpen  EventType = "circuit_breaker_open"
	EventHighFailureRate     EventType = "high_failure_rate"
	EventServerStartupFailed EventType = "server_startup_failed"

	EventCircuitBreakerRecovered EventType = "circuit_breaker_recovered"
	EventServerStarted           EventType = "server_started"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Event is one published occurrence. Fields carry the rendered values the alert templates need.
type Event struct {
	Type     EventType
	Severity Severity
	Message  string
	Fields   map[string]string
	Time     time.Time
}

// NewEvent builds an event from alternating key/value pairs. A trailing key without a value is dropped.
func NewEvent(eventType EventType, severity Severity, message string, kv ...string) *Event {
	fields := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[kv[i]] = kv[i+1]
	}
	return &Event{
		Type:     eventType,
		Severity: severity,
		Message:  message,
		Fields:   fields,
		Time:     time.Now(),
	}
}

type EventHandler func(event *Event)

type subscription struct {
	handler EventHandler
	types   map[EventType]bool // nil means every type
}

// Bus fans events out to subscribers. Each delivery runs on its own goroutine, so
// handlers see no ordering between events.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
}

func NewBus() *Bus {
	return &Bus{}
}

var (
	defaultBus     *Bus
	defaultBusOnce sync.Once
)

// DefaultBus is the process-wide bus used by the Publish helpers
func DefaultBus() *Bus {
	defaultBusOnce.Do(func() {
		defaultBus = NewBus()
	})
	return defaultBus
}

// Subscribe registers handler for the given event types, or for every event when none are given
func (b *Bus) Subscribe(handler EventHandler, types ...EventType) {
	sub := subscription{handler: handler}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
}

func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[event.Type] {
			continue
		}
		go deliver(sub.handler, event)
	}
}

func deliver(handler EventHandler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s Handler for %s panicked: %v", logcolors.LogNotifier, event.Type, r)
		}
	}()
	handler(event)
}

func PublishCircuitBreakerOpen(name string, failures int, cooldown time.Duration) {
	DefaultBus().Publish(NewEvent(EventCircuitBreakerOpen, SeverityCritical,
		"Circuit breaker opened after consecutive failures",
		"name", name,
		"failures", strconv.Itoa(failures),
		"cooldown", cooldown.String()))
}

func PublishCircuitBreakerRecovered(name string) {
	DefaultBus().Publish(NewEvent(EventCircuitBreakerRecovered, SeverityInfo,
		"Circuit breaker closed again",
		"name", name))
}

// PublishHighFailureRate warns before the breaker trips
func PublishHighFailureRate(name string, failures, threshold int) {
	DefaultBus().Publish(NewEvent(EventHighFailureRate, SeverityWarning,
		"Circuit breaker is close to opening",
		"name", name,
		"failures", strconv.Itoa(failures),
		"threshold", strconv.Itoa(threshold)))
}

// PublishCredentialRejected fires when the token endpoint answers the sp_dc cookie with an anonymous token
func PublishCredentialRejected(reason string) {
	DefaultBus().Publish(NewEvent(EventCredentialRejected, SeverityCritical,
		"Session credential rejected",
		"reason", reason))
}

func PublishTokenRefreshFailed(err error) {
	DefaultBus().Publish(NewEvent(EventTokenRefreshFailed, SeverityWarning,
		"Bearer token refresh failed",
		"error", err.Error()))
}

func PublishServerStarted(port, tokenStore string) {
	DefaultBus().Publish(NewEvent(EventServerStarted, SeverityInfo,
		"Server started",
		"port", port,
		"token_store", tokenStore))
}

func PublishServerStartupFailed(component string, err error) {
	DefaultBus().Publish(NewEvent(EventServerStartupFailed, SeverityCritical,
		"Server failed to start",
		"component", component,
		"error", err.Error()))
}
