package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	DBMaxConns         int
	JWTSecret          string
	LogLevel           string
	BFLAPIKey          string
	BFLBaseURL         string
	BFLModel           string
	CORSAllowedOrigins []string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int

	// Admission
	MaxRequestsPerWindow     int
	RateWindow               time.Duration
	MaxConcurrentJobsPerUser int

	// Polling
	PollInterval     time.Duration
	PollTimeout      time.Duration
	PollFetchRetries int
	HandleTracking   string

	TaskRetention          time.Duration
	RetentionSweepInterval time.Duration
	ShutdownTimeout        time.Duration
}

const (
	HandleTrackingAll    = "all"
	HandleTrackingLatest = "latest"
)

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		DBMaxConns:         getEnvInt("DB_MAX_CONNS", 16),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		LogLevel:           os.Getenv("LOG_LEVEL"),
		BFLAPIKey:          strings.TrimSpace(os.Getenv("BFL_API_KEY")),
		BFLBaseURL:         getEnv("BFL_BASE_URL", "https://api.bfl.ai"),
		BFLModel:           getEnv("BFL_MODEL", "flux-pro-1.1"),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		MaxRequestsPerWindow:     getEnvInt("MAX_REQUESTS_PER_WINDOW", 10),
		RateWindow:               time.Second * time.Duration(getEnvInt("RATE_WINDOW_SECONDS", 60)),
		MaxConcurrentJobsPerUser: getEnvInt("MAX_CONCURRENT_JOBS_PER_USER", 5),

		PollInterval:     time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 2)),
		PollTimeout:      time.Second * time.Duration(getEnvInt("POLL_TIMEOUT_SECONDS", 300)),
		PollFetchRetries: getEnvInt("POLL_FETCH_RETRIES", 0),
		HandleTracking:   strings.ToLower(getEnv("HANDLE_TRACKING", HandleTrackingAll)),

		TaskRetention:          24 * time.Hour * time.Duration(getEnvInt("TASK_RETENTION_DAYS", 7)),
		RetentionSweepInterval: time.Minute * time.Duration(getEnvInt("RETENTION_SWEEP_MINUTES", 60)),
		ShutdownTimeout:        time.Second * time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 30)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.MaxRequestsPerWindow <= 0 || cfg.MaxConcurrentJobsPerUser <= 0 {
		return nil, fmt.Errorf("admission limits must be positive")
	}
	if cfg.RateWindow <= 0 || cfg.PollInterval <= 0 || cfg.PollTimeout <= 0 {
		return nil, fmt.Errorf("rate window and poll timings must be positive")
	}
	if cfg.PollFetchRetries < 0 {
		cfg.PollFetchRetries = 0
	}

	switch cfg.HandleTracking {
	case HandleTrackingAll, HandleTrackingLatest:
	default:
		return nil, fmt.Errorf("HANDLE_TRACKING must be %q or %q", HandleTrackingAll, HandleTrackingLatest)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
