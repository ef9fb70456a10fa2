package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"spotify-lyrics-api-go/circuitbreaker"
	"spotify-lyrics-api-go/logcolors"

	log "github.com/sirupsen/logrus"
)

// TokenSource yields a bearer token for the lyrics endpoint
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
}

// LyricsClient fetches color-lyrics documents with a bearer token.
// Upstream failures trip the breaker; a missing track does not.
type LyricsClient struct {
	client    *http.Client
	tokens    TokenSource
	baseURL   string
	userAgent string
	breaker   *circuitbreaker.CircuitBreaker
}

func NewLyricsClient(client *http.Client, tokens TokenSource, baseURL, userAgent string, breaker *circuitbreaker.CircuitBreaker) *LyricsClient {
	return &LyricsClient{
		client:    client,
		tokens:    tokens,
		baseURL:   baseURL,
		userAgent: userAgent,
		breaker:   breaker,
	}
}

// LyricsBreakerFailure is the breaker classifier for lyrics calls.
// Missing lyrics and authentication problems say nothing about upstream health.
func LyricsBreakerFailure(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrLyricsNotFound) && !IsAuthError(err) && !errors.Is(err, ErrRequestAbandoned)
}

// LyricsBreakerIgnored marks calls the caller gave up on. They neither trip nor close the breaker.
func LyricsBreakerIgnored(err error) bool {
	return errors.Is(err, ErrRequestAbandoned)
}

// Breaker exposes the client's circuit breaker for status endpoints
func (c *LyricsClient) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// FetchLyrics returns the lyrics response for trackID
func (c *LyricsClient) FetchLyrics(ctx context.Context, trackID string) (*LyricsResponse, error) {
	if trackID == "" {
		return nil, fmt.Errorf("track id is required")
	}

	if c.breaker == nil {
		return c.fetch(ctx, trackID)
	}

	var resp *LyricsResponse
	err := c.breaker.Do(func() error {
		var err error
		resp, err = c.fetch(ctx, trackID)
		if err != nil && ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ErrRequestAbandoned, err)
		}
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		log.Warnf("%s Circuit open, skipping lyrics request for %s", logcolors.LogCircuitBreaker, logcolors.Track(trackID))
	}
	return resp, err
}

func (c *LyricsClient) fetch(ctx context.Context, trackID string) (*LyricsResponse, error) {
	token, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	reqURL := c.baseURL + url.PathEscape(trackID) + "?format=json&market=from_token"

	header := http.Header{}
	header.Set("App-Platform", "WebPlayer")
	header.Set("Authorization", "Bearer "+token)

	log.Debugf("%s Fetching lyrics for %s", logcolors.LogLyrics, logcolors.Track(trackID))

	status, body, err := get(ctx, c.client, "fetch lyrics", reqURL, c.userAgent, header)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case status == http.StatusNotFound:
		return nil, ErrLyricsNotFound
	case status >= 400:
		return nil, newUpstreamError("fetch lyrics", status, nil)
	case !isSuccess(status):
		return nil, newUpstreamError("fetch lyrics", status, errors.New("unexpected status"))
	}

	var resp LyricsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, newUpstreamError("fetch lyrics", status, fmt.Errorf("Spotify returned an invalid response: %w", err))
	}
	if resp.Lyrics == nil {
		return nil, newUpstreamError("fetch lyrics", status, errors.New("Spotify returned an invalid response"))
	}

	log.Infof("%s Found %d lines (%s) for %s", logcolors.LogLyrics, len(resp.Lyrics.Lines), resp.Lyrics.SyncType, logcolors.Track(trackID))
	return &resp, nil
}
