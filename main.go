package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spotify-lyrics-api-go/config"
	"spotify-lyrics-api-go/logcolors"
	"spotify-lyrics-api-go/middleware"
	"spotify-lyrics-api-go/services/lyrics"
	"spotify-lyrics-api-go/services/notifier"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

func init() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel) // Set to InfoLevel (change to DebugLevel for detailed logs)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the lyrics HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	root := &cobra.Command{
		Use:           "spotify-lyrics-api",
		Short:         "Spotify time-synced lyrics API",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.AddCommand(serve, newTokenCmd(), newLyricsCmd())
	return root
}

// newHandler builds the middleware chain around the routes
func newHandler(a *app, limiter *middleware.IPRateLimiter) http.Handler {
	c := a.conf.Configuration

	router := mux.NewRouter()
	setupRoutes(router, a)

	var handler http.Handler = router
	handler = middleware.APIKeyMiddleware(c.APIKey, c.APIKeyRequired, []string{"/", "/health"})(handler)
	handler = middleware.RateLimitMiddleware(limiter, c.APIKey)(handler)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: c.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "X-API-Key", "Content-Type"},
		ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-Track-ID"},
	})
	handler = corsHandler.Handler(handler)

	return middleware.LoggingMiddleware(handler)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Get()
	c := cfg.Configuration

	startAlerts()

	a, err := newApp(cfg)
	if err != nil {
		log.Errorf("%s %v", logcolors.LogServer, err)
		notifier.PublishServerStartupFailed("token store", err)
		return err
	}
	defer a.Close()

	if !a.tokens.Configured() {
		log.Warnf("%s SP_DC is not set, lyrics requests will be rejected", logcolors.LogConfig)
	}

	a.startTokenRefresher(ctx)

	limiter := middleware.NewIPRateLimiter(rate.Limit(c.RateLimitPerSecond), c.RateLimitBurstLimit)
	limiter.StartCleanup(5*time.Minute, 10*time.Minute, ctx.Done())

	server := &http.Server{
		Addr:              ":" + c.Port,
		Handler:           newHandler(a, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Infof("%s Shutting down...", logcolors.LogServer)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Infof("%s Listening on port %s (token store: %s)", logcolors.LogServer, c.Port, c.TokenStore)
	notifier.PublishServerStarted(c.Port, c.TokenStore)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		notifier.PublishServerStartupFailed("http server", err)
		return err
	}
	return nil
}

// cliApp opens the app for a one-shot command, keeping logs off stdout
func cliApp() (*app, error) {
	log.SetOutput(os.Stderr)
	cfg := config.Get()
	log.Debugf("%s Using %s token store", logcolors.LogCLI, cfg.Configuration.TokenStore)
	return newApp(cfg)
}

func newTokenCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a valid bearer token and its expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := cliApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if refresh {
				if _, err := a.tokens.ForceRefresh(ctx); err != nil {
					return fmt.Errorf("refresh token: %w", err)
				}
			}

			token, err := a.tokens.GetValidToken(ctx)
			if err != nil {
				return fmt.Errorf("get token: %w", err)
			}

			expiry, remaining, _ := a.tokens.Status()
			out := map[string]interface{}{
				"accessToken": token,
				"expires":     expiry.UTC().Format(time.RFC3339),
				"remaining":   remaining.Round(time.Second).String(),
			}
			return writeJSON(cmd, out)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "exchange a new token even if the cached one is valid")
	return cmd
}

func newLyricsCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "lyrics <trackid|url>",
		Short: "Print lyrics for a track as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			trackID, ok := lyrics.ExtractTrackID(args[0])
			if !ok {
				trackID = args[0]
			}

			a, err := cliApp()
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.lyrics.FetchLyrics(cmd.Context(), trackID)
			if err != nil {
				_, message := statusForError(err)
				return fmt.Errorf("%s: %w", message, err)
			}

			return writeJSON(cmd, LyricsResponse{
				Error:    false,
				SyncType: resp.Lyrics.SyncType,
				Lines:    lyrics.Convert(format, resp.Lyrics.Lines),
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "output format: lrc, srt or raw")
	return cmd
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
