package spotify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fixedNow is the clock used by manager tests
var fixedNow = time.UnixMilli(1_700_000_000_000)

// fakeSpotify serves the clock, secret registry and token endpoints
type fakeSpotify struct {
	server *httptest.Server

	serverTimeCalls atomic.Int32
	secretCalls     atomic.Int32
	tokenCalls      atomic.Int32

	mu         sync.Mutex
	tokenDelay time.Duration
	tokenReply func(n int32) (int, interface{})
	lastQuery  url.Values
	lastCookie string
}

func newFakeSpotify(t *testing.T) *fakeSpotify {
	t.Helper()
	f := &fakeSpotify{}
	f.tokenReply = func(n int32) (int, interface{}) {
		return http.StatusOK, TokenRecord{
			AccessToken:                      fmt.Sprintf("token-%d", n),
			AccessTokenExpirationTimestampMs: fixedNow.Add(time.Hour).UnixMilli(),
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/server-time", func(w http.ResponseWriter, r *http.Request) {
		f.serverTimeCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]float64{"serverTime": 1700000000})
	})
	mux.HandleFunc("/secrets", func(w http.ResponseWriter, r *http.Request) {
		f.secretCalls.Add(1)
		w.Write([]byte(`{"59":[1,2,3],"61":[12,56,76,33,88,44,88,33,78,78,11,66,22,22,55,69,54]}`))
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		n := f.tokenCalls.Add(1)

		f.mu.Lock()
		f.lastQuery = r.URL.Query()
		f.lastCookie = r.Header.Get("Cookie")
		delay := f.tokenDelay
		reply := f.tokenReply
		f.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		status, body := reply(n)
		if status >= 300 && status < 400 {
			w.Header().Set("Location", "/login")
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	})
	// Following a token redirect lands here and would yield a usable token
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TokenRecord{
			AccessToken:                      "from-login-page",
			AccessTokenExpirationTimestampMs: fixedNow.Add(time.Hour).UnixMilli(),
		})
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeSpotify) url(path string) string {
	return f.server.URL + path
}

func (f *fakeSpotify) networkCalls() int32 {
	return f.serverTimeCalls.Load() + f.secretCalls.Load() + f.tokenCalls.Load()
}

func (f *fakeSpotify) setTokenReply(reply func(n int32) (int, interface{})) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenReply = reply
}

func (f *fakeSpotify) query() (url.Values, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery, f.lastCookie
}

// newTestManager wires a TokenManager against f with a fixed clock
func newTestManager(t *testing.T, f *fakeSpotify, credential string, store TokenStore) *TokenManager {
	t.Helper()
	client := NewHTTPClient(5 * time.Second)
	secrets := NewHTTPSecretProvider(client, f.url("/secrets"), "test-agent")
	clock := NewServerTimeSync(client, f.url("/server-time"), "test-agent", secrets)

	m := NewTokenManager(TokenManagerConfig{
		Credential:       credential,
		TokenURL:         f.url("/token"),
		UserAgent:        "test-agent",
		RefreshThreshold: time.Minute,
	}, client, clock, store)
	m.now = func() time.Time { return fixedNow }
	return m
}

func newTempFileStore(t *testing.T) *FileTokenStore {
	t.Helper()
	return NewFileTokenStore(filepath.Join(t.TempDir(), "spotify_token.json"))
}

// memoryStore is an in-memory TokenStore whose writes can be made to vanish or fail
type memoryStore struct {
	mu         sync.Mutex
	rec        *TokenRecord
	dropStores int   // Store calls that succeed but keep nothing
	storeErr   error // returned by every Store when set
	storeCalls int
}

func (s *memoryStore) Load() (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil, ErrTokenNotFound
	}
	rec := *s.rec
	return &rec, nil
}

func (s *memoryStore) Store(rec TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeCalls++
	if s.storeErr != nil {
		return s.storeErr
	}
	if s.dropStores > 0 {
		s.dropStores--
		s.rec = nil
		return nil
	}
	s.rec = &rec
	return nil
}

func (s *memoryStore) Close() error { return nil }
