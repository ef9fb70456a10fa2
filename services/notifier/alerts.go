package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"spotify-lyrics-api-go/logcolors"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultAlertCooldown = 15 * time.Minute
	defaultSendTimeout   = 30 * time.Second
)

// Alert is a rendered event ready for delivery
type Alert struct {
	Event    EventType
	Severity Severity
	Subject  string
	Body     string
}

var severityPrefix = map[Severity]string{
	SeverityCritical: "🚨 ",
	SeverityWarning:  "⚠️ ",
	SeverityInfo:     "ℹ️ ",
}

// alertTemplates renders subject and body per event type. Events without a template are not alerted.
var alertTemplates = map[EventType]func(f map[string]string) (string, string){
	EventCredentialRejected: func(f map[string]string) (string, string) {
		return "Session Credential Rejected", fmt.Sprintf(
			"The token endpoint returned an anonymous token for the configured SP_DC.\n\n"+
				"Reason: %s\n\n"+
				"Log in to the web player again and replace SP_DC. Lyrics requests fail until then.",
			f["reason"])
	},
	EventTokenRefreshFailed: func(f map[string]string) (string, string) {
		return "Token Refresh Failed", fmt.Sprintf(
			"Refreshing the bearer token failed.\n\n"+
				"Error: %s\n\n"+
				"The next request retries. If this repeats, check the secret registry and the server-time endpoint.",
			f["error"])
	},
	EventCircuitBreakerOpen: func(f map[string]string) (string, string) {
		return "Circuit Breaker OPEN", fmt.Sprintf(
			"The %s circuit breaker tripped after %s consecutive failures.\n\n"+
				"Lyrics requests are answered with 503 for %s.",
			f["name"], f["failures"], f["cooldown"])
	},
	EventHighFailureRate: func(f map[string]string) (string, string) {
		return "High Failure Rate Warning", fmt.Sprintf(
			"The %s circuit breaker has recorded %s/%s failures and opens at the threshold.",
			f["name"], f["failures"], f["threshold"])
	},
	EventServerStartupFailed: func(f map[string]string) (string, string) {
		return "Server Startup FAILED", fmt.Sprintf(
			"The server failed to start.\n\nComponent: %s\nError: %s",
			f["component"], f["error"])
	},
	EventCircuitBreakerRecovered: func(f map[string]string) (string, string) {
		return "Circuit Breaker Recovered", fmt.Sprintf(
			"The %s circuit breaker closed and lyrics requests flow again.", f["name"])
	},
	EventServerStarted: func(f map[string]string) (string, string) {
		return "Server Started", fmt.Sprintf(
			"Listening on port %s (token store: %s).", f["port"], f["token_store"])
	},
}

// Render turns an event into an alert. ok is false for events that are never alerted.
func Render(event *Event) (alert Alert, ok bool) {
	tmpl, ok := alertTemplates[event.Type]
	if !ok {
		return Alert{}, false
	}
	subject, body := tmpl(event.Fields)
	return Alert{
		Event:    event.Type,
		Severity: event.Severity,
		Subject:  severityPrefix[event.Severity] + subject,
		Body:     body,
	}, true
}

// AlertHandler delivers rendered events to every notifier, at most once per cooldown per event type
type AlertHandler struct {
	notifiers   []Notifier
	cooldown    time.Duration
	sendTimeout time.Duration

	mu       sync.Mutex
	lastSent map[EventType]time.Time
	now      func() time.Time
}

type AlertConfig struct {
	Notifiers        []Notifier
	CooldownDuration time.Duration
	SendTimeout      time.Duration
}

func NewAlertHandler(cfg AlertConfig) *AlertHandler {
	if cfg.CooldownDuration <= 0 {
		cfg.CooldownDuration = DefaultAlertCooldown
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &AlertHandler{
		notifiers:   cfg.Notifiers,
		cooldown:    cfg.CooldownDuration,
		sendTimeout: cfg.SendTimeout,
		lastSent:    make(map[EventType]time.Time),
		now:         time.Now,
	}
}

// Start subscribes the handler to the default bus
func (h *AlertHandler) Start() {
	h.Attach(DefaultBus())
}

func (h *AlertHandler) Attach(bus *Bus) {
	bus.Subscribe(h.handleEvent)
	log.Infof("%s Alert handler started (cooldown: %v, notifiers: %d)",
		logcolors.LogNotifier, h.cooldown, len(h.notifiers))
}

func (h *AlertHandler) handleEvent(event *Event) {
	alert, ok := Render(event)
	if !ok {
		return
	}
	if !h.allow(event.Type) {
		log.Debugf("%s Cooldown active, dropping %s", logcolors.LogNotifier, event.Type)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.sendTimeout)
	defer cancel()

	if err := h.dispatch(ctx, alert); err != nil {
		log.Errorf("%s %v", logcolors.LogNotifier, err)
	}
}

// allow records a send for eventType unless one happened within the cooldown
func (h *AlertHandler) allow(eventType EventType) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	if last, ok := h.lastSent[eventType]; ok && now.Sub(last) < h.cooldown {
		return false
	}
	h.lastSent[eventType] = now
	return true
}

// dispatch sends alert through every notifier in parallel and joins their errors
func (h *AlertHandler) dispatch(ctx context.Context, alert Alert) error {
	if len(h.notifiers) == 0 {
		return nil
	}

	log.Infof("%s Sending alert: %s", logcolors.LogNotifier, alert.Subject)

	errs := make([]error, len(h.notifiers))
	var wg sync.WaitGroup
	for i, n := range h.notifiers {
		wg.Add(1)
		go func(i int, n Notifier) {
			defer wg.Done()
			if err := n.Send(ctx, alert); err != nil {
				errs[i] = fmt.Errorf("%s: %w", n.Name(), err)
			}
		}(i, n)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// ResetCooldown lets the next event of eventType through immediately
func (h *AlertHandler) ResetCooldown(eventType EventType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.lastSent, eventType)
}

func (h *AlertHandler) ResetAllCooldowns() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSent = make(map[EventType]time.Time)
}
