package main

import (
	"github.com/gorilla/mux"
)

// setupRoutes configures all HTTP routes for the API
func setupRoutes(router *mux.Router, a *app) {
	router.HandleFunc("/api/", a.getLyrics).Methods("GET")
	router.HandleFunc("/api", a.getLyrics).Methods("GET")

	// Health and stats endpoints
	router.HandleFunc("/health", a.getHealthStatus)
	router.HandleFunc("/stats", a.getStats)
	router.HandleFunc("/token/status", a.getTokenStatus)

	// Circuit breaker endpoints
	router.HandleFunc("/circuit-breaker", a.getCircuitBreakerStatus)
	router.HandleFunc("/circuit-breaker/reset", a.resetCircuitBreaker)

	// Help endpoint
	router.HandleFunc("/", helpHandler)
}
