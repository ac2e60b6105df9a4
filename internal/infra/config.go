package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendRenders = "renders"
	BackendReve    = "reve"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	LogLevel           string
	Port               string
	DatabaseURL        string
	DBMaxConns         int
	GenerationBackend  string
	RendersBaseURL     string
	RendersToken       string
	RendersTimeout     time.Duration
	FalKey             string
	ReveBaseURL        string
	RevePollInterval   time.Duration
	ReveTimeout        time.Duration
	CORSAllowedOrigins []string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	TrustProxyHeaders  bool
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
// Backend URLs and credentials are checked when a request needs them, not here.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		LogLevel:           strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:         getEnvInt("DB_MAX_CONNS", 4),
		GenerationBackend:  strings.ToLower(getEnv("GENERATION_BACKEND", BackendRenders)),
		RendersBaseURL:     strings.TrimSpace(os.Getenv("RENDERS_BASE_URL")),
		RendersToken:       strings.TrimSpace(os.Getenv("RENDERS_API_TOKEN")),
		RendersTimeout:     time.Millisecond * time.Duration(getEnvInt("RENDERS_TIMEOUT_MS", 120000)),
		FalKey:             strings.TrimSpace(os.Getenv("FAL_KEY")),
		ReveBaseURL:        getEnv("REVE_QUEUE_BASE_URL", "https://queue.fal.run"),
		RevePollInterval:   time.Millisecond * time.Duration(getEnvInt("REVE_POLL_INTERVAL_MS", 500)),
		ReveTimeout:        time.Millisecond * time.Duration(getEnvInt("REVE_TIMEOUT_MS", 120000)),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 150)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		TrustProxyHeaders:  getEnvBool("TRUST_PROXY_HEADERS", false),
	}

	switch cfg.GenerationBackend {
	case BackendRenders, BackendReve:
	default:
		return nil, fmt.Errorf("GENERATION_BACKEND must be %q or %q, got %q", BackendRenders, BackendReve, cfg.GenerationBackend)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && i > 0 {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
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
