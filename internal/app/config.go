package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	SentryDSN   string
	LogLevel    string

	// External processing services. One capability token authorizes both
	// calls; the env value seeds the service_credentials table fallback.
	ServiceAPIKey string
	STTBaseURL    string
	STTModel      string
	FormatBaseURL string
	FormatModel   string

	// Pipeline
	PipelineCallTimeout time.Duration // zero disables per-call timeouts

	// Audio capture
	CaptureSource string // "bridge" (client websocket feed) or "portaudio"
	SampleRate    int
	DefaultMode   string // "single" or "continuous"

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Notifications
	DiscordWebhookURL string

	// APNs Push Notifications
	APNsKeyPath    string // Path to .p8 key file
	APNsKeyID      string // Key ID from Apple Developer Portal
	APNsTeamID     string // Team ID from Apple Developer Portal
	APNsBundleID   string // App bundle ID (e.g., io.potline.app)
	APNsProduction bool
}

func LoadConfigFromEnv() Config {
	jwtExpiry, err := time.ParseDuration(getenv("JWT_EXPIRY", "720h"))
	if err != nil {
		jwtExpiry = 720 * time.Hour
	}

	callTimeout, err := time.ParseDuration(getenv("PIPELINE_CALL_TIMEOUT", "120s"))
	if err != nil || callTimeout < 0 {
		callTimeout = 120 * time.Second
	}

	return Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		SentryDSN:   getenv("SENTRY_DSN", ""),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		// External processing services
		ServiceAPIKey: getenv("SERVICE_API_KEY", ""),
		STTBaseURL:    getenv("STT_BASE_URL", ""),
		STTModel:      getenv("STT_MODEL", "nova-3"),
		FormatBaseURL: getenv("FORMAT_BASE_URL", ""),
		FormatModel:   getenv("FORMAT_MODEL", "gpt-4o-mini"),

		PipelineCallTimeout: callTimeout,

		// Audio capture
		CaptureSource: getenv("CAPTURE_SOURCE", "bridge"),
		SampleRate:    getenvIntClamped("SAMPLE_RATE", 16000, 8000, 48000),
		DefaultMode:   getenv("RECORDING_MODE", "single"),

		// JWT Authentication
		JWTSecret: os.Getenv("JWT_SECRET"), // Required - no fallback for security
		JWTExpiry: jwtExpiry,

		// Notifications
		DiscordWebhookURL: getenv("DISCORD_WEBHOOK_URL", ""),

		// APNs Push Notifications
		APNsKeyPath:    getenv("APNS_KEY_PATH", ""),
		APNsKeyID:      getenv("APNS_KEY_ID", ""),
		APNsTeamID:     getenv("APNS_TEAM_ID", ""),
		APNsBundleID:   getenv("APNS_BUNDLE_ID", ""),
		APNsProduction: getenvBool("APNS_PRODUCTION", false),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntClamped(k string, def, min, max int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
