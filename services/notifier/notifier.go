// Package notifier publishes token pipeline events and delivers them as alerts
// over email, Telegram and ntfy.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"spotify-lyrics-api-go/logcolors"

	log "github.com/sirupsen/logrus"
)

type Notifier interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// post sends body to url and treats any non-2xx status as an error
func post(ctx context.Context, url, contentType string, body []byte, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// EmailNotifier sends plain-text mail through an SMTP relay with PLAIN auth
type EmailNotifier struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	ToEmail      string
}

func (e *EmailNotifier) Name() string { return "email" }

func (e *EmailNotifier) Send(ctx context.Context, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.FromEmail)
	fmt.Fprintf(&msg, "To: %s\r\n", e.ToEmail)
	fmt.Fprintf(&msg, "Subject: %s\r\n", alert.Subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(strings.ReplaceAll(alert.Body, "\n", "\r\n"))
	msg.WriteString("\r\n")

	var auth smtp.Auth
	if e.SMTPUsername != "" {
		auth = smtp.PlainAuth("", e.SMTPUsername, e.SMTPPassword, e.SMTPHost)
	}

	addr := e.SMTPHost + ":" + e.SMTPPort
	if err := smtp.SendMail(addr, auth, e.FromEmail, []string{e.ToEmail}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	log.Infof("%s Email alert sent to %s", logcolors.LogNotifier, e.ToEmail)
	return nil
}

// TelegramNotifier posts to a chat through the Bot API
type TelegramNotifier struct {
	BotToken string
	ChatID   string
	APIBase  string // Default: https://api.telegram.org
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	base := t.APIBase
	if base == "" {
		base = "https://api.telegram.org"
	}

	payload, err := json.Marshal(map[string]interface{}{
		"chat_id":    t.ChatID,
		"text":       "<b>" + html.EscapeString(alert.Subject) + "</b>\n\n" + html.EscapeString(alert.Body),
		"parse_mode": "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(base, "/"), t.BotToken)
	if err := post(ctx, url, "application/json", payload, nil); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	log.Infof("%s Telegram alert sent to chat %s", logcolors.LogNotifier, t.ChatID)
	return nil
}

// NtfyNotifier publishes to an ntfy topic. Priority and tags follow the alert severity.
type NtfyNotifier struct {
	Topic  string
	Server string // Default: https://ntfy.sh
}

var ntfyPriority = map[Severity][2]string{
	SeverityCritical: {"urgent", "rotating_light"},
	SeverityWarning:  {"high", "warning"},
	SeverityInfo:     {"default", "information_source"},
}

func (n *NtfyNotifier) Name() string { return "ntfy" }

func (n *NtfyNotifier) Send(ctx context.Context, alert Alert) error {
	server := n.Server
	if server == "" {
		server = "https://ntfy.sh"
	}

	header := http.Header{}
	header.Set("Title", alert.Subject)
	if p, ok := ntfyPriority[alert.Severity]; ok {
		header.Set("Priority", p[0])
		header.Set("Tags", p[1])
	}

	url := strings.TrimRight(server, "/") + "/" + n.Topic
	if err := post(ctx, url, "text/plain; charset=utf-8", []byte(alert.Body), header); err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}

	log.Infof("%s Ntfy alert sent to topic %s", logcolors.LogNotifier, n.Topic)
	return nil
}
