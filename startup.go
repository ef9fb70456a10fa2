package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"spotify-lyrics-api-go/circuitbreaker"
	"spotify-lyrics-api-go/config"
	"spotify-lyrics-api-go/logcolors"
	"spotify-lyrics-api-go/services/notifier"
	"spotify-lyrics-api-go/services/spotify"

	log "github.com/sirupsen/logrus"
)

// app holds the wired token pipeline and lyrics client shared by the server and the CLI
type app struct {
	conf   config.Config
	store  spotify.TokenStore
	tokens *spotify.TokenManager
	lyrics *spotify.LyricsClient
}

func newApp(cfg config.Config) (*app, error) {
	c := cfg.Configuration
	client := spotify.NewHTTPClient(cfg.HTTPTimeout())

	var secrets spotify.SecretProvider
	if cfg.HasPinnedSecret() {
		log.Infof("%s Using pinned TOTP secret version %s", logcolors.LogSecret, c.TOTPSecretVersion)
		secrets = spotify.StaticSecretProvider{Version: c.TOTPSecretVersion, Cipher: c.TOTPSecretCipher}
	} else {
		secrets = spotify.NewHTTPSecretProvider(client, c.SecretsURL, c.UserAgent)
	}

	store, err := spotify.OpenTokenStore(c.TokenStore, c.TokenCacheFile, c.TokenCacheDBPath)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}

	clock := spotify.NewServerTimeSync(client, c.ServerTimeURL, c.UserAgent, secrets)
	tokens := spotify.NewTokenManager(spotify.TokenManagerConfig{
		Credential:       c.SpDC,
		TokenURL:         c.TokenURL,
		UserAgent:        c.UserAgent,
		RefreshThreshold: time.Duration(c.TokenRefreshThresholdSeconds) * time.Second,
	}, client, clock, store)

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:      "Spotify",
		Threshold: c.CircuitBreakerThreshold,
		Cooldown:  time.Duration(c.CircuitBreakerCooldownSecs) * time.Second,
		// a probe may wait on a full token refresh before the lyrics call
		HalfOpenTimeout: cfg.HTTPTimeout(),
		IsFailure:       spotify.LyricsBreakerFailure,
		IsIgnored:       spotify.LyricsBreakerIgnored,
	})

	return &app{
		conf:   cfg,
		store:  store,
		tokens: tokens,
		lyrics: spotify.NewLyricsClient(client, tokens, c.LyricsURL, c.UserAgent, breaker),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// startAlerts subscribes the configured notifiers to the event bus
func startAlerts() {
	notifiers := setupNotifiers()
	if len(notifiers) == 0 {
		log.Infof("%s No notifiers configured, alerts disabled", logcolors.LogNotifier)
		return
	}

	names := make([]string, len(notifiers))
	for i, n := range notifiers {
		names[i] = n.Name()
	}
	log.Infof("%s Alerts enabled via %v", logcolors.LogNotifier, names)
	notifier.NewAlertHandler(notifier.AlertConfig{Notifiers: notifiers}).Start()
}

// startTokenRefresher runs the proactive refresher when the feature flag is on
func (a *app) startTokenRefresher(ctx context.Context) {
	if !a.conf.FeatureFlags.ProactiveTokenRefresh {
		return
	}
	if !a.tokens.Configured() {
		log.Warnf("%s SP_DC is not set, proactive refresh disabled", logcolors.LogTokenMonitor)
		return
	}

	interval := time.Duration(a.conf.Configuration.TokenMonitorIntervalSeconds) * time.Second
	log.Infof("%s Proactive refresh enabled, checking every %v", logcolors.LogTokenMonitor, interval)
	a.tokens.StartRefresher(ctx, interval)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setupNotifiers() []notifier.Notifier {
	var notifiers []notifier.Notifier

	if smtpHost := os.Getenv("NOTIFIER_SMTP_HOST"); smtpHost != "" {
		notifiers = append(notifiers, &notifier.EmailNotifier{
			SMTPHost:     smtpHost,
			SMTPPort:     getEnvOrDefault("NOTIFIER_SMTP_PORT", "587"),
			SMTPUsername: os.Getenv("NOTIFIER_SMTP_USERNAME"),
			SMTPPassword: os.Getenv("NOTIFIER_SMTP_PASSWORD"),
			FromEmail:    os.Getenv("NOTIFIER_FROM_EMAIL"),
			ToEmail:      os.Getenv("NOTIFIER_TO_EMAIL"),
		})
	}

	if botToken := os.Getenv("NOTIFIER_TELEGRAM_BOT_TOKEN"); botToken != "" {
		notifiers = append(notifiers, &notifier.TelegramNotifier{
			BotToken: botToken,
			ChatID:   os.Getenv("NOTIFIER_TELEGRAM_CHAT_ID"),
		})
	}

	if topic := os.Getenv("NOTIFIER_NTFY_TOPIC"); topic != "" {
		notifiers = append(notifiers, &notifier.NtfyNotifier{
			Topic:  topic,
			Server: getEnvOrDefault("NOTIFIER_NTFY_SERVER", "https://ntfy.sh"),
		})
	}

	return notifiers
}
