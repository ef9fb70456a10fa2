package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"spotify-lyrics-api-go/logcolors"
	"spotify-lyrics-api-go/services/notifier"
	"spotify-lyrics-api-go/stats"

	log "github.com/sirupsen/logrus"
)

// A record that vanishes after a refresh is refreshed again at most this many times
const maxCacheRaceRetries = 1

// TokenParamsBuilder produces the query parameters for one token exchange
type TokenParamsBuilder interface {
	BuildTokenParams(ctx context.Context) (TokenParams, error)
}

type TokenManagerConfig struct {
	Credential       string // sp_dc cookie value
	TokenURL         string
	UserAgent        string
	RefreshThreshold time.Duration // proactive refresh window before expiry
}

// TokenManager hands out bearer tokens, refreshing the cached record when it is unusable.
// Refreshes are serialised; callers waiting on an in-flight refresh reuse its result.
type TokenManager struct {
	client           *http.Client
	params           TokenParamsBuilder
	store            TokenStore
	credential       string
	tokenURL         string
	userAgent        string
	refreshThreshold time.Duration

	now       func() time.Time
	refreshMu sync.Mutex
	rejected  atomic.Bool
}

func NewTokenManager(cfg TokenManagerConfig, client *http.Client, params TokenParamsBuilder, store TokenStore) *TokenManager {
	threshold := cfg.RefreshThreshold
	if threshold <= 0 {
		threshold = time.Minute
	}
	return &TokenManager{
		client:           withoutRedirects(client),
		params:           params,
		store:            store,
		credential:       cfg.Credential,
		tokenURL:         cfg.TokenURL,
		userAgent:        cfg.UserAgent,
		refreshThreshold: threshold,
		now:              time.Now,
	}
}

func (m *TokenManager) nowMs() int64 {
	return m.now().UnixMilli()
}

// GetValidToken returns a bearer token that is not anonymous and not expired.
// Every failure is an *AuthError wrapping the cause.
func (m *TokenManager) GetValidToken(ctx context.Context) (string, error) {
	if m.credential == "" {
		return "", newAuthError("no session credential", ErrNotConfigured)
	}

	if rec, err := m.store.Load(); err == nil && IsValid(rec, m.nowMs()) {
		stats.Get().RecordTokenCacheHit()
		log.Debugf("%s Using cached token", logcolors.LogSpotifyToken)
		return rec.AccessToken, nil
	}
	stats.Get().RecordTokenCacheMiss()

	usable := func(rec *TokenRecord) bool { return IsValid(rec, m.nowMs()) }
	for retries := 0; ; retries++ {
		rec, persisted, err := m.refresh(ctx, usable)
		if err != nil {
			return "", err
		}
		if !persisted {
			return rec.AccessToken, nil
		}

		stored, err := m.store.Load()
		if err == nil {
			return stored.AccessToken, nil
		}

		if retries >= maxCacheRaceRetries {
			log.Errorf("%s Token record vanished again after a forced refresh", logcolors.LogSpotifyToken)
			return "", newAuthError("token cache", fmt.Errorf("%w: %w", ErrCacheRaceNotFound, ErrUpstreamUnavailable))
		}
		log.Warnf("%s Token record vanished after refresh, forcing one more refresh", logcolors.LogSpotifyToken)
		usable = nil
	}
}

// ForceRefresh exchanges a new token even when the cached one is still valid
func (m *TokenManager) ForceRefresh(ctx context.Context) (*TokenRecord, error) {
	if m.credential == "" {
		return nil, newAuthError("no session credential", ErrNotConfigured)
	}
	rec, _, err := m.refresh(ctx, nil)
	return rec, err
}

// refresh runs under refreshMu. When usable accepts the stored record (another caller
// refreshed while we waited), that record is returned without a token exchange.
// A Store failure is logged and the fresh record is still returned with persisted=false.
func (m *TokenManager) refresh(ctx context.Context, usable func(*TokenRecord) bool) (rec *TokenRecord, persisted bool, err error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	// Double-check after acquiring the lock
	if usable != nil {
		if current, err := m.store.Load(); err == nil && usable(current) {
			return current, true, nil
		}
	}

	log.Infof("%s Refreshing bearer token...", logcolors.LogSpotifyToken)

	rec, err = m.exchange(ctx)
	if err != nil {
		stats.Get().RecordTokenRefreshFailure()
		if errors.Is(err, ErrCredentialRejected) {
			m.rejected.Store(true)
			log.Errorf("%s %v", logcolors.LogSpotifyToken, err)
			notifier.PublishCredentialRejected(err.Error())
			return nil, false, newAuthError("token exchange", err)
		}
		log.Warnf("%s Token refresh failed: %v", logcolors.LogSpotifyToken, err)
		notifier.PublishTokenRefreshFailed(err)
		return nil, false, newAuthError("token refresh", err)
	}

	m.rejected.Store(false)
	stats.Get().RecordTokenRefresh()

	expiry := time.UnixMilli(rec.AccessTokenExpirationTimestampMs)
	log.Infof("%s Bearer token refreshed, expires in %v (at %s)",
		logcolors.LogSpotifyToken, expiry.Sub(m.now()).Round(time.Second), expiry.Format(time.RFC3339))

	if err := m.store.Store(*rec); err != nil {
		log.Errorf("%s Could not persist token, using it for this call only: %v", logcolors.LogTokenStore, err)
		return rec, false, nil
	}
	return rec, true, nil
}

// exchange trades the session cookie and a fresh one-time code for a bearer token
func (m *TokenManager) exchange(ctx context.Context) (*TokenRecord, error) {
	params, err := m.params.BuildTokenParams(ctx)
	if err != nil {
		return nil, err
	}

	sep := "?"
	if strings.Contains(m.tokenURL, "?") {
		sep = "&"
	}
	reqURL := m.tokenURL + sep + params.Values().Encode()

	header := http.Header{}
	header.Set("Cookie", "sp_dc="+m.credential)

	status, body, err := get(ctx, m.client, "token exchange", reqURL, m.userAgent, header)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, newUpstreamError("token exchange", status, nil)
	}

	var rec TokenRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, newUpstreamError("token exchange", status, fmt.Errorf("malformed token response: %w", err))
	}

	if rec.IsAnonymous {
		return nil, ErrCredentialRejected
	}
	if rec.AccessToken == "" {
		return nil, newUpstreamError("token exchange", status, errors.New("response has no access token"))
	}
	if rec.AccessTokenExpirationTimestampMs <= m.nowMs() {
		return nil, newUpstreamError("token exchange", status, errors.New("token is already expired"))
	}
	return &rec, nil
}

// Status returns the cached token's expiry for monitoring. A missing or unusable record needs a refresh.
func (m *TokenManager) Status() (expiry time.Time, remaining time.Duration, needsRefresh bool) {
	rec, err := m.store.Load()
	if err != nil || rec.AccessTokenExpirationTimestampMs == 0 {
		return time.Time{}, 0, true
	}

	now := m.now()
	expiry = time.UnixMilli(rec.AccessTokenExpirationTimestampMs)
	remaining = expiry.Sub(now)
	needsRefresh = !IsValid(rec, now.Add(m.refreshThreshold).UnixMilli())
	return expiry, remaining, needsRefresh
}

// CredentialRejected reports whether the last exchange came back anonymous
func (m *TokenManager) CredentialRejected() bool {
	return m.rejected.Load()
}

// Configured reports whether a session credential is set
func (m *TokenManager) Configured() bool {
	return m.credential != ""
}

// StartRefresher refreshes the token in the background before it expires.
// It stops when ctx is cancelled or when the credential is rejected or missing.
func (m *TokenManager) StartRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		if _, err := m.GetValidToken(ctx); err != nil {
			log.Errorf("%s Initial token fetch failed: %v", logcolors.LogTokenMonitor, err)
			if isTerminal(err) {
				return
			}
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Infof("%s Stopped", logcolors.LogTokenMonitor)
				return
			case <-ticker.C:
			}

			if _, _, needsRefresh := m.Status(); !needsRefresh {
				continue
			}

			threshold := m.refreshThreshold
			_, _, err := m.refresh(ctx, func(rec *TokenRecord) bool {
				return IsValid(rec, m.now().Add(threshold).UnixMilli())
			})
			if err != nil {
				log.Errorf("%s Proactive token refresh failed: %v", logcolors.LogTokenMonitor, err)
				if isTerminal(err) {
					log.Errorf("%s Credential cannot be used, stopping proactive refresh", logcolors.LogTokenMonitor)
					return
				}
			}
		}
	}()
}

func isTerminal(err error) bool {
	return errors.Is(err, ErrCredentialRejected) || errors.Is(err, ErrNotConfigured)
}
