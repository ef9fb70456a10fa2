package stats

import (
	"testing"
	"time"
)

func TestRecordRequest(t *testing.T) {
	s := New()

	for _, endpoint := range []string{EndpointLyrics, EndpointLyrics, EndpointHealth, EndpointStats, EndpointToken, "/"} {
		s.RecordRequest(endpoint)
	}

	tests := []struct {
		name     string
		got      int64
		expected int64
	}{
		{"total", s.TotalRequests.Load(), 6},
		{"lyrics", s.LyricsRequests.Load(), 2},
		{"health", s.HealthRequests.Load(), 1},
		{"stats", s.StatsRequests.Load(), 1},
		{"token", s.TokenRequests.Load(), 1},
		{"other", s.OtherRequests.Load(), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.expected {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.expected, tt.got)
		}
	}
}

func TestTokenCacheHitRate(t *testing.T) {
	s := New()
	if s.TokenCacheHitRate() != 0 {
		t.Errorf("Expected 0%% hit rate with no lookups, got %v", s.TokenCacheHitRate())
	}

	s.RecordTokenCacheHit()
	s.RecordTokenCacheHit()
	s.RecordTokenCacheHit()
	s.RecordTokenCacheMiss()

	if rate := s.TokenCacheHitRate(); rate != 75 {
		t.Errorf("Expected 75%% hit rate, got %v", rate)
	}
}

func TestRecordStatusCode(t *testing.T) {
	s := New()
	for _, code := range []int{200, 204, 301, 400, 404, 429, 500, 503} {
		s.RecordStatusCode(code)
	}

	if s.Status2xx.Load() != 2 || s.Status4xx.Load() != 3 || s.Status5xx.Load() != 2 {
		t.Errorf("Unexpected status counts: 2xx=%d 4xx=%d 5xx=%d",
			s.Status2xx.Load(), s.Status4xx.Load(), s.Status5xx.Load())
	}
}

func TestResponseTimes(t *testing.T) {
	s := New()
	if s.MinResponseTime() != 0 || s.AvgResponseTime() != 0 {
		t.Error("Expected zero response times before any request")
	}

	s.RecordResponseTime(10*time.Millisecond, EndpointLyrics)
	s.RecordResponseTime(30*time.Millisecond, EndpointLyrics)
	s.RecordResponseTime(2*time.Millisecond, EndpointHealth)

	if s.MinResponseTime() != 2*time.Millisecond {
		t.Errorf("Expected min 2ms, got %v", s.MinResponseTime())
	}
	if s.MaxResponseTime() != 30*time.Millisecond {
		t.Errorf("Expected max 30ms, got %v", s.MaxResponseTime())
	}
	if s.AvgLyricsResponseTime() != 20*time.Millisecond {
		t.Errorf("Expected lyrics avg 20ms, got %v", s.AvgLyricsResponseTime())
	}
	if s.AvgResponseTime() != 14*time.Millisecond {
		t.Errorf("Expected overall avg 14ms, got %v", s.AvgResponseTime())
	}
}

func TestSnapshot(t *testing.T) {
	s := New()
	s.RecordTokenRefresh()
	s.RecordTokenRefreshFailure()
	s.RecordLyricsResult(true)
	s.RecordLyricsResult(false)
	s.RecordRateLimit(true)
	s.RecordRateLimit(false)

	snap := s.Snapshot()

	token, ok := snap["token"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected token section in snapshot, got %T", snap["token"])
	}
	if token["refreshes"].(int64) != 1 || token["refresh_failures"].(int64) != 1 {
		t.Errorf("Unexpected token section: %v", token)
	}

	lyrics := snap["lyrics"].(map[string]interface{})
	if lyrics["found"].(int64) != 1 || lyrics["not_found"].(int64) != 1 {
		t.Errorf("Unexpected lyrics section: %v", lyrics)
	}

	rl := snap["rate_limiting"].(map[string]interface{})
	if rl["allowed"].(int64) != 1 || rl["exceeded"].(int64) != 1 {
		t.Errorf("Unexpected rate limiting section: %v", rl)
	}

	for _, section := range []string{"server", "requests", "responses", "response_times"} {
		if _, ok := snap[section]; !ok {
			t.Errorf("Expected %q section in snapshot", section)
		}
	}
}

func TestLyricsAliasWithoutSlash(t *testing.T) {
	s := New()
	s.RecordRequest("/api")
	s.RecordResponseTime(4*time.Millisecond, "/api")

	if s.LyricsRequests.Load() != 1 || s.OtherRequests.Load() != 0 {
		t.Errorf("Expected /api to count as a lyrics request, got lyrics=%d other=%d",
			s.LyricsRequests.Load(), s.OtherRequests.Load())
	}
	if s.AvgLyricsResponseTime() != 4*time.Millisecond {
		t.Errorf("Expected lyrics avg 4ms, got %v", s.AvgLyricsResponseTime())
	}
}
