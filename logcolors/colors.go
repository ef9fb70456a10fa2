package logcolors

// ANSI color codes for log prefixes
const (
	Reset  = "\033[0m"
	Green  = "\033[32m"
	Blue   = "\033[34m"
	Purple = "\033[35m"
	Cyan   = "\033[36m"

	// Bright variants for more color variety
	BrightGreen   = "\033[92m"
	BrightBlue    = "\033[94m"
	BrightMagenta = "\033[95m"
	BrightCyan    = "\033[96m"

	Red       = "\033[31m"
	BrightRed = "\033[91m"
)

// Token pipeline log prefixes
const (
	LogSpotifyToken = Cyan + "[Spotify Token]" + Reset
	LogSecret       = BrightMagenta + "[Secret]" + Reset
	LogServerTime   = BrightBlue + "[Server Time]" + Reset
	LogTokenStore   = Blue + "[Token Store]" + Reset
	LogTokenMonitor = Cyan + "[Token Monitor]" + Reset
)

// Rate limiting log prefixes
const (
	LogRateLimit = Purple + "[RateLimit]" + Reset
	LogAPIKey    = Purple + "[APIKey]" + Reset
)

// CircuitBreakerPrefix returns a colored circuit breaker prefix with the given name
func CircuitBreakerPrefix(name string) string {
	return Purple + "[CircuitBreaker:" + name + "]" + Reset
}

// trackColors are rotated over track IDs so interleaved requests stay readable
var trackColors = []string{
	Green, Blue, Purple, Cyan, Red,
	BrightGreen, BrightBlue, BrightMagenta, BrightCyan, BrightRed,
}

// Track returns a colored track ID for log messages.
// Same track ID always gets the same color.
func Track(id string) string {
	hash := 0
	for _, c := range id {
		hash += int(c)
	}
	color := trackColors[hash%len(trackColors)]
	return color + id + Reset
}

// Server/Init log prefixes
const (
	LogServer = Green + "[Server]" + Reset
	LogConfig = Cyan + "[Config]" + Reset
	LogCLI    = BrightGreen + "[CLI]" + Reset
)

// Notification log prefixes
const (
	LogNotifier = Cyan + "[Notifier]" + Reset
)

// Lyrics request log prefixes
const (
	LogRequest        = Purple + "[Request]" + Reset
	LogHTTP           = Cyan + "[HTTP]" + Reset
	LogSuccess        = Green + "[Success]" + Reset
	LogLyrics         = Blue + "[Lyrics]" + Reset
	LogAuthError      = Purple + "[Auth Error]" + Reset
	LogCircuitBreaker = Purple + "[CircuitBreaker]" + Reset
)
