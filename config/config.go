package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

var conf = mustLoad()

type Config struct {
	Configuration struct {
		Port string `envconfig:"PORT" default:"8080"`

		// Long-lived sp_dc session cookie; the only required input
		SpDC string `envconfig:"SP_DC" default:""`

		// Upstream endpoints
		TokenURL      string `envconfig:"SPOTIFY_TOKEN_URL" default:"https://open.spotify.com/api/token"`
		ServerTimeURL string `envconfig:"SPOTIFY_SERVER_TIME_URL" default:"https://open.spotify.com/api/server-time"`
		SecretsURL    string `envconfig:"SPOTIFY_SECRETS_URL" default:"https://raw.githubusercontent.com/xyloflake/spot-secrets-go/refs/heads/main/secrets/secretDict.json"`
		LyricsURL     string `envconfig:"SPOTIFY_LYRICS_URL" default:"https://spclient.wg.spotify.com/color-lyrics/v2/track/"`
		UserAgent     string `envconfig:"USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"`

		// Pinned secret, bypasses the remote registry when both are set
		TOTPSecretVersion string `envconfig:"TOTP_SECRET_VERSION" default:""`
		TOTPSecretCipher  []int  `envconfig:"TOTP_SECRET_CIPHER"`

		// Token cache storage: "file" or "bolt"
		TokenStore       string `envconfig:"TOKEN_STORE" default:"file"`
		TokenCacheFile   string `envconfig:"TOKEN_CACHE_FILE" default:"./spotify_token.json"`
		TokenCacheDBPath string `envconfig:"TOKEN_CACHE_DB_PATH" default:"./data/token.db"`

		HTTPTimeoutSeconds           int `envconfig:"HTTP_TIMEOUT_SECONDS" default:"600"`
		TokenRefreshThresholdSeconds int `envconfig:"TOKEN_REFRESH_THRESHOLD_SECONDS" default:"60"`
		TokenMonitorIntervalSeconds  int `envconfig:"TOKEN_MONITOR_INTERVAL_SECONDS" default:"60"`

		RateLimitPerSecond  int `envconfig:"RATE_LIMIT_PER_SECOND" default:"2"`
		RateLimitBurstLimit int `envconfig:"RATE_LIMIT_BURST_LIMIT" default:"5"`

		CircuitBreakerThreshold    int `envconfig:"CIRCUIT_BREAKER_THRESHOLD" default:"5"`       // Consecutive failures before circuit opens
		CircuitBreakerCooldownSecs int `envconfig:"CIRCUIT_BREAKER_COOLDOWN_SECS" default:"300"` // Seconds to wait before retrying (default: 5 minutes)

		APIKey           string   `envconfig:"API_KEY" default:""`
		APIKeyRequired   bool     `envconfig:"API_KEY_REQUIRED" default:"false"`
		AdminAccessToken string   `envconfig:"ADMIN_ACCESS_TOKEN" default:""`
		AllowedOrigins   []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	}

	FeatureFlags struct {
		ProactiveTokenRefresh bool `envconfig:"FF_PROACTIVE_TOKEN_REFRESH" default:"false"`
	}
}

// HTTPTimeout returns the upper bound applied to every upstream call
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Configuration.HTTPTimeoutSeconds) * time.Second
}

// HasPinnedSecret reports whether a static TOTP secret was configured
func (c Config) HasPinnedSecret() bool {
	return c.Configuration.TOTPSecretVersion != "" && len(c.Configuration.TOTPSecretCipher) > 0
}

// load loads the configuration from the environment.
func load() (Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Warnf("Error loading env config: %v", err)
	}

	cfg := Config{}
	err = envconfig.Process("", &cfg)
	return cfg, err
}

func mustLoad() Config {
	c, err := load()
	if err != nil {
		log.WithError(err).Warnf("Unable to load configuration")
	}

	return c
}

func Get() Config {
	return conf
}
