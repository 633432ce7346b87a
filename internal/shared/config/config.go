package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"unicornio-backend/internal/shared/telemetry"
)

const (
	AnalyzerModeHTTP     = "http"
	AnalyzerModeLocal    = "local"
	AnalyzerModeDisabled = "disabled"

	DispatchInline = "inline"
	DispatchSQS    = "sqs"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string
	DatabaseURL     string
	AutoMigrate     bool

	AnalyzerMode         string
	AnalyzerURL          string
	AnalyzerTimeout      time.Duration
	AnalyzerTokenURL     string
	AnalyzerClientID     string
	AnalyzerClientSecret string

	AnalysisDispatch  string
	SQSQueueURL       string
	AWSRegion         string
	WorkerConcurrency int

	RedisAddr     string
	RedisPassword string
	RedisChannel  string

	OTelEnabled      bool
	OTelEndpoint     string
	OTelSamplerRatio float64
	ServiceName      string

	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")
	if env == "production" && dbURL == "" {
		telemetry.Warn("config.missing", map[string]any{"key": "DATABASE_URL", "env": env})
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		DatabaseURL:     dbURL,
		AutoMigrate:     getBool("DB_AUTO_MIGRATE", env == "dev" || env == "local"),

		AnalyzerMode:         normalizeAnalyzerMode(getEnv("ANALYZER_MODE", AnalyzerModeHTTP)),
		AnalyzerURL:          strings.TrimRight(getEnv("IA_ANALYZER_URL", "http://localhost:6000"), "/"),
		AnalyzerTimeout:      getDuration("ANALYZER_TIMEOUT", 120*time.Second),
		AnalyzerTokenURL:     getEnv("ANALYZER_TOKEN_URL", ""),
		AnalyzerClientID:     getEnv("ANALYZER_CLIENT_ID", ""),
		AnalyzerClientSecret: getEnv("ANALYZER_CLIENT_SECRET", ""),

		AnalysisDispatch:  normalizeDispatch(getEnv("ANALYSIS_DISPATCH", DispatchInline)),
		SQSQueueURL:       getEnv("SQS_QUEUE_URL", ""),
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
		WorkerConcurrency: getInt("WORKER_CONCURRENCY", 4),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisChannel:  getEnv("REDIS_CHANNEL", "informes"),

		OTelEnabled:      getBool("OTEL_ENABLED", false),
		OTelEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelSamplerRatio: getFloat("OTEL_SAMPLER_RATIO", 1.0),
		ServiceName:      getEnv("OTEL_SERVICE_NAME", "unicornio-backend"),

		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// IsDevLike reports whether env permits in-memory fallbacks.
func IsDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		telemetry.Warn("config.invalid", map[string]any{"key": key, "value": raw})
		return def
	}
	return val
}

func getInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		telemetry.Warn("config.invalid", map[string]any{"key": key, "value": raw})
		return def
	}
	return val
}

func getFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		telemetry.Warn("config.invalid", map[string]any{"key": key, "value": raw})
		return def
	}
	return val
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil || val <= 0 {
		telemetry.Warn("config.invalid", map[string]any{"key": key, "value": raw})
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeAnalyzerMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case AnalyzerModeLocal, "heuristic":
		return AnalyzerModeLocal
	case AnalyzerModeDisabled, "off", "none":
		return AnalyzerModeDisabled
	default:
		return AnalyzerModeHTTP
	}
}

func normalizeDispatch(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case DispatchSQS:
		return DispatchSQS
	default:
		return DispatchInline
	}
}
