package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"spotify-lyrics-api-go/logcolors"

	log "github.com/sirupsen/logrus"
)

const (
	tokenReason      = "transport"
	tokenProductType = "web-player"
)

// TokenParams is the query string of a token exchange
type TokenParams struct {
	TOTP        string
	TOTPVersion string
	Timestamp   int64 // local wall clock, seconds
	Reason      string
	ProductType string
}

func (p TokenParams) Values() url.Values {
	v := url.Values{}
	v.Set("reason", p.Reason)
	v.Set("productType", p.ProductType)
	v.Set("totp", p.TOTP)
	v.Set("totpVer", p.TOTPVersion)
	v.Set("ts", strconv.FormatInt(p.Timestamp, 10))
	return v
}

// ServerTimeSync builds token parameters from Spotify's clock and the current secret
type ServerTimeSync struct {
	client    *http.Client
	url       string
	userAgent string
	secrets   SecretProvider
	now       func() time.Time
}

func NewServerTimeSync(client *http.Client, serverTimeURL, userAgent string, secrets SecretProvider) *ServerTimeSync {
	return &ServerTimeSync{
		client:    client,
		url:       serverTimeURL,
		userAgent: userAgent,
		secrets:   secrets,
		now:       time.Now,
	}
}

// FetchServerTime returns the remote clock in (possibly fractional) Unix seconds
func (s *ServerTimeSync) FetchServerTime(ctx context.Context) (float64, error) {
	status, body, err := get(ctx, s.client, "fetch server time", s.url, s.userAgent, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrServerTimeUnavailable, err)
	}
	if !isSuccess(status) {
		return 0, fmt.Errorf("%w: status %d", ErrServerTimeUnavailable, status)
	}

	var payload serverTimeResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("%w: malformed response: %v", ErrServerTimeUnavailable, err)
	}
	if payload.ServerTime == nil {
		return 0, fmt.Errorf("%w: response has no serverTime", ErrServerTimeUnavailable)
	}
	if ts := *payload.ServerTime; ts < 0 || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return 0, fmt.Errorf("%w: serverTime %v is out of range", ErrServerTimeUnavailable, ts)
	}
	return *payload.ServerTime, nil
}

// BuildTokenParams fetches the server time, then the current secret, and derives the code.
// Secret and code errors are returned unchanged.
func (s *ServerTimeSync) BuildTokenParams(ctx context.Context) (TokenParams, error) {
	serverTime, err := s.FetchServerTime(ctx)
	if err != nil {
		return TokenParams{}, err
	}

	secret, version, err := s.secrets.FetchCurrentSecret(ctx)
	if err != nil {
		return TokenParams{}, err
	}

	code, err := GenerateCode(serverTime, secret)
	if err != nil {
		return TokenParams{}, err
	}

	local := s.now().Unix()
	log.Debugf("%s Server time %.0f, local time %d, secret version %s", logcolors.LogServerTime, serverTime, local, version)

	return TokenParams{
		TOTP:        code,
		TOTPVersion: version,
		Timestamp:   local,
		Reason:      tokenReason,
		ProductType: tokenProductType,
	}, nil
}
