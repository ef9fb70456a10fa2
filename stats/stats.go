// Package stats keeps process-wide counters for the /stats endpoint.
package stats

import (
	"math"
	"sync/atomic"
	"time"
)

const (
	EndpointLyrics = "/api/"
	EndpointStats  = "/stats"
	EndpointHealth = "/health"
	EndpointToken  = "/token/status"
)

// latency accumulates response times in microseconds
type latency struct {
	total atomic.Int64
	count atomic.Int64
	min   atomic.Int64
	max   atomic.Int64
}

func newLatency() *latency {
	l := &latency{}
	l.min.Store(math.MaxInt64)
	return l
}

func (l *latency) observe(d time.Duration) {
	us := d.Microseconds()
	l.total.Add(us)
	l.count.Add(1)

	for cur := l.min.Load(); us < cur; cur = l.min.Load() {
		if l.min.CompareAndSwap(cur, us) {
			break
		}
	}
	for cur := l.max.Load(); us > cur; cur = l.max.Load() {
		if l.max.CompareAndSwap(cur, us) {
			break
		}
	}
}

func (l *latency) avg() time.Duration {
	n := l.count.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(l.total.Load()/n) * time.Microsecond
}

func (l *latency) lowest() time.Duration {
	if l.count.Load() == 0 {
		return 0
	}
	return time.Duration(l.min.Load()) * time.Microsecond
}

func (l *latency) highest() time.Duration {
	return time.Duration(l.max.Load()) * time.Microsecond
}

type Stats struct {
	StartTime time.Time

	TotalRequests  atomic.Int64
	LyricsRequests atomic.Int64
	StatsRequests  atomic.Int64
	HealthRequests atomic.Int64
	TokenRequests  atomic.Int64
	OtherRequests  atomic.Int64

	TokenCacheHits       atomic.Int64
	TokenCacheMisses     atomic.Int64
	TokenRefreshes       atomic.Int64
	TokenRefreshFailures atomic.Int64

	LyricsFound    atomic.Int64
	LyricsNotFound atomic.Int64

	RateLimitAllowed  atomic.Int64
	RateLimitExceeded atomic.Int64

	Status2xx atomic.Int64
	Status4xx atomic.Int64
	Status5xx atomic.Int64

	endpoints map[string]*atomic.Int64
	all       *latency
	lyrics    *latency
}

var global = New()

func New() *Stats {
	s := &Stats{
		StartTime: time.Now(),
		all:       newLatency(),
		lyrics:    newLatency(),
	}
	s.endpoints = map[string]*atomic.Int64{
		EndpointLyrics: &s.LyricsRequests,
		"/api":         &s.LyricsRequests,
		EndpointStats:  &s.StatsRequests,
		EndpointHealth: &s.HealthRequests,
		EndpointToken:  &s.TokenRequests,
	}
	return s
}

// Get returns the process-wide instance
func Get() *Stats {
	return global
}

func (s *Stats) RecordRequest(path string) {
	s.TotalRequests.Add(1)
	if c, ok := s.endpoints[path]; ok {
		c.Add(1)
		return
	}
	s.OtherRequests.Add(1)
}

func (s *Stats) RecordTokenCacheHit()       { s.TokenCacheHits.Add(1) }
func (s *Stats) RecordTokenCacheMiss()      { s.TokenCacheMisses.Add(1) }
func (s *Stats) RecordTokenRefresh()        { s.TokenRefreshes.Add(1) }
func (s *Stats) RecordTokenRefreshFailure() { s.TokenRefreshFailures.Add(1) }

func (s *Stats) RecordLyricsResult(found bool) {
	pick(found, &s.LyricsFound, &s.LyricsNotFound).Add(1)
}

func (s *Stats) RecordRateLimit(allowed bool) {
	pick(allowed, &s.RateLimitAllowed, &s.RateLimitExceeded).Add(1)
}

func pick(cond bool, yes, no *atomic.Int64) *atomic.Int64 {
	if cond {
		return yes
	}
	return no
}

// RecordStatusCode buckets code by class. 1xx and 3xx are not counted.
func (s *Stats) RecordStatusCode(code int) {
	switch code / 100 {
	case 2:
		s.Status2xx.Add(1)
	case 4:
		s.Status4xx.Add(1)
	case 5:
		s.Status5xx.Add(1)
	}
}

func (s *Stats) RecordResponseTime(d time.Duration, path string) {
	s.all.observe(d)
	if c, ok := s.endpoints[path]; ok && c == &s.LyricsRequests {
		s.lyrics.observe(d)
	}
}

func (s *Stats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// TokenCacheHitRate is the percentage of token lookups served from cache
func (s *Stats) TokenCacheHitRate() float64 {
	hits := s.TokenCacheHits.Load()
	total := hits + s.TokenCacheMisses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

func (s *Stats) AvgResponseTime() time.Duration       { return s.all.avg() }
func (s *Stats) MinResponseTime() time.Duration       { return s.all.lowest() }
func (s *Stats) MaxResponseTime() time.Duration       { return s.all.highest() }
func (s *Stats) AvgLyricsResponseTime() time.Duration { return s.lyrics.avg() }

type section = map[string]interface{}

func (s *Stats) Snapshot() map[string]interface{} {
	uptime := s.Uptime()

	return section{
		"server": section{
			"start_time":     s.StartTime.Format(time.RFC3339),
			"uptime":         uptime.Round(time.Second).String(),
			"uptime_seconds": int64(uptime.Seconds()),
		},
		"requests": section{
			"total":  s.TotalRequests.Load(),
			"lyrics": s.LyricsRequests.Load(),
			"stats":  s.StatsRequests.Load(),
			"health": s.HealthRequests.Load(),
			"token":  s.TokenRequests.Load(),
			"other":  s.OtherRequests.Load(),
		},
		"token": section{
			"cache_hits":       s.TokenCacheHits.Load(),
			"cache_misses":     s.TokenCacheMisses.Load(),
			"hit_rate":         s.TokenCacheHitRate(),
			"refreshes":        s.TokenRefreshes.Load(),
			"refresh_failures": s.TokenRefreshFailures.Load(),
		},
		"lyrics": section{
			"found":     s.LyricsFound.Load(),
			"not_found": s.LyricsNotFound.Load(),
		},
		"rate_limiting": section{
			"allowed":  s.RateLimitAllowed.Load(),
			"exceeded": s.RateLimitExceeded.Load(),
		},
		"responses": section{
			"2xx": s.Status2xx.Load(),
			"4xx": s.Status4xx.Load(),
			"5xx": s.Status5xx.Load(),
		},
		"response_times": section{
			"avg":        s.AvgResponseTime().String(),
			"min":        s.MinResponseTime().String(),
			"max":        s.MaxResponseTime().String(),
			"avg_lyrics": s.AvgLyricsResponseTime().String(),
		},
	}
}
