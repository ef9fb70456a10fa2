package main

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// APIResponse handles consistent header setting and JSON responses
type APIResponse struct {
	w          http.ResponseWriter
	r          *http.Request
	retryAfter int
	trackID    string
}

// Respond creates a response helper for the request
func Respond(w http.ResponseWriter, r *http.Request) *APIResponse {
	return &APIResponse{w: w, r: r}
}

// SetRetryAfter sets the Retry-After header in seconds; zero leaves it unset
func (a *APIResponse) SetRetryAfter(seconds int) *APIResponse {
	a.retryAfter = seconds
	return a
}

// SetTrackID sets the X-Track-ID header value
func (a *APIResponse) SetTrackID(trackID string) *APIResponse {
	a.trackID = trackID
	return a
}

func (a *APIResponse) writeHeaders() {
	a.w.Header().Set("Content-Type", "application/json")

	if a.trackID != "" {
		a.w.Header().Set("X-Track-ID", a.trackID)
	}
	if a.retryAfter > 0 {
		a.w.Header().Set("Retry-After", strconv.Itoa(a.retryAfter))
	}
}

// JSON writes headers and encodes data as JSON (200 OK)
func (a *APIResponse) JSON(data interface{}) error {
	a.writeHeaders()
	return json.NewEncoder(a.w).Encode(data)
}

// Error writes the {"error": true, "message": ...} envelope with statusCode
func (a *APIResponse) Error(statusCode int, message string) error {
	a.writeHeaders()
	a.w.WriteHeader(statusCode)
	return json.NewEncoder(a.w).Encode(ErrorResponse{Error: true, Message: message})
}
