package spotify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSecrets struct {
	secret  []byte
	version string
	err     error
	calls   int
}

func (s *stubSecrets) FetchCurrentSecret(ctx context.Context) ([]byte, string, error) {
	s.calls++
	return s.secret, s.version, s.err
}

func clockServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBuildTokenParams(t *testing.T) {
	srv := clockServer(t, http.StatusOK, `{"serverTime": 1111111109}`)
	secrets := &stubSecrets{secret: rfcSecret, version: "61"}

	s := NewServerTimeSync(srv.Client(), srv.URL, "", secrets)
	s.now = func() time.Time { return time.Unix(1750000000, 0) }

	params, err := s.BuildTokenParams(context.Background())
	require.NoError(t, err)

	// Code comes from the remote clock, ts from the local one
	assert.Equal(t, "081804", params.TOTP)
	assert.Equal(t, "61", params.TOTPVersion)
	assert.Equal(t, int64(1750000000), params.Timestamp)

	values := params.Values()
	assert.Equal(t, "transport", values.Get("reason"))
	assert.Equal(t, "web-player", values.Get("productType"))
	assert.Equal(t, "081804", values.Get("totp"))
	assert.Equal(t, "61", values.Get("totpVer"))
	assert.Equal(t, "1750000000", values.Get("ts"))
}

func TestFetchServerTime_Fractional(t *testing.T) {
	srv := clockServer(t, http.StatusOK, `{"serverTime": 1700000000.5}`)
	s := NewServerTimeSync(srv.Client(), srv.URL, "", &stubSecrets{})

	ts, err := s.FetchServerTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1700000000.5, ts)
}

func TestBuildTokenParams_ClockErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"non-2xx", http.StatusServiceUnavailable, `{"serverTime": 1}`},
		{"missing field", http.StatusOK, `{"time": 1700000000}`},
		{"null field", http.StatusOK, `{"serverTime": null}`},
		{"negative", http.StatusOK, `{"serverTime": -5}`},
		{"malformed", http.StatusOK, `not json`},
		{"wrong type", http.StatusOK, `{"serverTime": "soon"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := clockServer(t, tt.status, tt.body)
			secrets := &stubSecrets{secret: rfcSecret, version: "61"}
			s := NewServerTimeSync(srv.Client(), srv.URL, "", secrets)

			_, err := s.BuildTokenParams(context.Background())
			assert.ErrorIs(t, err, ErrServerTimeUnavailable)
			assert.ErrorIs(t, err, ErrUpstreamUnavailable)
			assert.Zero(t, secrets.calls, "secret must not be fetched when the clock fails")
		})
	}
}

func TestBuildTokenParams_SecretErrorPropagates(t *testing.T) {
	srv := clockServer(t, http.StatusOK, `{"serverTime": 1700000000}`)
	cause := errors.New("registry changed shape")
	secretErr := errors.Join(ErrInvalidSecretFormat, cause)

	s := NewServerTimeSync(srv.Client(), srv.URL, "", &stubSecrets{err: secretErr})

	_, err := s.BuildTokenParams(context.Background())
	assert.Same(t, secretErr, err)
	assert.NotErrorIs(t, err, ErrServerTimeUnavailable)
}

func TestBuildTokenParams_EmptySecret(t *testing.T) {
	srv := clockServer(t, http.StatusOK, `{"serverTime": 1700000000}`)
	s := NewServerTimeSync(srv.Client(), srv.URL, "", &stubSecrets{version: "61"})

	_, err := s.BuildTokenParams(context.Background())
	assert.ErrorIs(t, err, ErrInvalidSecretFormat)
}
