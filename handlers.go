package main

import (
	"crypto/subtle"
	"errors"
	"math"
	"net/http"
	"time"

	"spotify-lyrics-api-go/circuitbreaker"
	"spotify-lyrics-api-go/logcolors"
	"spotify-lyrics-api-go/services/lyrics"
	"spotify-lyrics-api-go/services/spotify"
	"spotify-lyrics-api-go/stats"

	log "github.com/sirupsen/logrus"
)

const usageMessage = "url or trackid parameter is required!"

// Seconds suggested to clients when the upstream is unavailable and no breaker cooldown applies
const defaultRetryAfterSecs = 5

// statusForError maps a lyrics pipeline error to an HTTP status and a client-facing message
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, spotify.ErrNotConfigured):
		return http.StatusUnauthorized, "SP_DC is not configured on this server"
	case errors.Is(err, spotify.ErrCredentialRejected):
		return http.StatusUnauthorized, "The SP_DC cookie is invalid or expired"
	case errors.Is(err, spotify.ErrRateLimited):
		return http.StatusTooManyRequests, "Spotify is rate limiting requests, try again later"
	case errors.Is(err, spotify.ErrLyricsNotFound):
		return http.StatusNotFound, "lyrics for this track is not available on spotify!"
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "Spotify is temporarily unavailable, try again later"
	case errors.Is(err, spotify.ErrUpstreamUnavailable), errors.Is(err, spotify.ErrInvalidSecretFormat):
		return http.StatusServiceUnavailable, "Spotify is unavailable, try again later"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (a *app) retryAfter(err error) int {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		if wait := a.lyrics.Breaker().TimeUntilRetry(); wait > 0 {
			return int(math.Ceil(wait.Seconds()))
		}
	}
	return defaultRetryAfterSecs
}

// authorized reports whether the request carries the admin access token
func (a *app) authorized(r *http.Request) bool {
	token := a.conf.Configuration.AdminAccessToken
	return token != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), []byte(token)) == 1
}

func (a *app) getLyrics(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	trackParam := query.Get("trackid")
	urlParam := query.Get("url")
	format := query.Get("format")

	if trackParam == "" && urlParam == "" {
		Respond(w, r).Error(http.StatusBadRequest, usageMessage)
		return
	}

	trackID, err := lyrics.ResolveTrackID(trackParam, urlParam)
	if err != nil {
		Respond(w, r).Error(http.StatusBadRequest, err.Error())
		return
	}

	log.Infof("%s Lyrics requested for %s (format=%q)", logcolors.LogRequest, logcolors.Track(trackID), format)

	resp, err := a.lyrics.FetchLyrics(r.Context(), trackID)
	if err != nil {
		status, message := statusForError(err)
		stats.Get().RecordLyricsResult(false)

		res := Respond(w, r).SetTrackID(trackID)
		if status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests {
			res.SetRetryAfter(a.retryAfter(err))
		}
		switch {
		case status == http.StatusUnauthorized:
			log.Errorf("%s Lyrics for %s: %v", logcolors.LogAuthError, logcolors.Track(trackID), err)
		case status >= http.StatusInternalServerError:
			log.Errorf("%s Lyrics for %s failed: %v", logcolors.LogLyrics, logcolors.Track(trackID), err)
		default:
			log.Warnf("%s Lyrics for %s: %v", logcolors.LogLyrics, logcolors.Track(trackID), err)
		}
		res.Error(status, message)
		return
	}

	stats.Get().RecordLyricsResult(true)
	log.Infof("%s Served %s lyrics for %s", logcolors.LogSuccess, resp.Lyrics.SyncType, logcolors.Track(trackID))
	Respond(w, r).SetTrackID(trackID).JSON(LyricsResponse{
		Error:    false,
		SyncType: resp.Lyrics.SyncType,
		Lines:    lyrics.Convert(format, resp.Lyrics.Lines),
	})
}

func (a *app) tokenStatus() TokenStatus {
	status := TokenStatus{
		Configured:         a.tokens.Configured(),
		CredentialRejected: a.tokens.CredentialRejected(),
		Store:              a.conf.Configuration.TokenStore,
	}

	expiry, remaining, needsRefresh := a.tokens.Status()
	status.NeedsRefresh = needsRefresh
	if !expiry.IsZero() {
		status.Expires = expiry.UTC().Format(time.RFC3339)
		status.Remaining = remaining.Round(time.Second).String()
	}
	return status
}

func (a *app) getHealthStatus(w http.ResponseWriter, r *http.Request) {
	breaker := a.lyrics.Breaker()

	health := HealthResponse{
		Status:         "ok",
		CircuitBreaker: breaker.State().String(),
	}

	if breaker.IsOpen() {
		health.Status = "degraded"
		health.RetryIn = breaker.TimeUntilRetry().Round(time.Second).String()
	}

	if !a.tokens.Configured() {
		health.Status = "unhealthy"
		health.Error = "SP_DC is not configured"
	} else if a.tokens.CredentialRejected() {
		health.Status = "unhealthy"
		health.Error = "SP_DC cookie was rejected by Spotify"
	}

	if a.authorized(r) {
		token := a.tokenStatus()
		snap := breaker.Snapshot()
		health.Token = &token
		health.Breaker = &snap
	}

	Respond(w, r).JSON(health)
}

func (a *app) getStats(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		Respond(w, r).Error(http.StatusUnauthorized, "Unauthorized")
		return
	}

	snapshot := stats.Get().Snapshot()
	snapshot["circuit_breaker"] = a.lyrics.Breaker().Snapshot()
	snapshot["token"] = a.tokenStatus()

	Respond(w, r).JSON(snapshot)
}

func (a *app) getTokenStatus(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		Respond(w, r).Error(http.StatusUnauthorized, "Unauthorized")
		return
	}

	Respond(w, r).JSON(a.tokenStatus())
}

func (a *app) getCircuitBreakerStatus(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		Respond(w, r).Error(http.StatusUnauthorized, "Unauthorized")
		return
	}

	Respond(w, r).JSON(a.lyrics.Breaker().Snapshot())
}

func (a *app) resetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		Respond(w, r).Error(http.StatusUnauthorized, "Unauthorized")
		return
	}

	a.lyrics.Breaker().Reset()
	log.Infof("%s Reset by admin request", logcolors.LogCircuitBreaker)

	Respond(w, r).JSON(map[string]interface{}{
		"message": "Circuit breaker reset to CLOSED state",
	})
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	Respond(w, r).JSON(map[string]interface{}{
		"help": "Use /api/?trackid=<id> or /api/?url=<open.spotify.com track url> to get time-synced lyrics.",
		"parameters": map[string]string{
			"trackid": "Spotify track id",
			"url":     "Spotify track URL or spotify:track: URI, takes precedence over trackid",
			"format":  "Optional: lrc, srt or raw. Defaults to Spotify's line objects",
		},
		"endpoints": map[string]string{
			"/api/":                  "Lyrics for a track",
			"/health":                "Service health",
			"/stats":                 "Request statistics (requires Authorization)",
			"/token/status":          "Bearer token expiry (requires Authorization)",
			"/circuit-breaker":       "Circuit breaker status (requires Authorization)",
			"/circuit-breaker/reset": "Close the circuit breaker (requires Authorization)",
		},
	})
}
