package main

import "spotify-lyrics-api-go/circuitbreaker"

// LyricsResponse is the success envelope of /api/
type LyricsResponse struct {
	Error    bool        `json:"error"`
	SyncType string      `json:"syncType"`
	Lines    interface{} `json:"lines"`
}

// ErrorResponse is the failure envelope shared by every endpoint
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// TokenStatus describes the cached bearer token without exposing it
type TokenStatus struct {
	Configured         bool   `json:"configured"`
	CredentialRejected bool   `json:"credential_rejected"`
	Store              string `json:"store"`
	Expires            string `json:"expires,omitempty"`
	Remaining          string `json:"remaining,omitempty"`
	NeedsRefresh       bool   `json:"needs_refresh"`
}

// HealthResponse is returned by /health
type HealthResponse struct {
	Status         string                   `json:"status"`
	Error          string                   `json:"error,omitempty"`
	CircuitBreaker string                   `json:"circuit_breaker"`
	RetryIn        string                   `json:"circuit_breaker_retry_in,omitempty"`
	Token          *TokenStatus             `json:"token,omitempty"`
	Breaker        *circuitbreaker.Snapshot `json:"circuit_breaker_details,omitempty"`
}
