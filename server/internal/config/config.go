// Package config centralizes environment-driven settings for every core
// component. It is loaded once at process start and passed down through
// constructors, rather than re-reading the environment from inside leaf
// packages.
package config

import (
	"os"
	"strconv"
	"time"
)

// Environment gates kill-switch defaults and secret lookup behavior.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the full set of environment-derived settings for the core.
// Secret loading itself (where values actually come from — Vault, SSM, a
// .env file) is out of scope; Config only knows the final string values.
type Config struct {
	Environment Environment

	DatabaseURL string

	AWSRegion       string
	S3Bucket        string
	S3PublicBaseURL string

	GeminiAPIKey            string
	GeminiBaseURL           string
	GeminiRPMLimit          int
	GeminiMonthlyTokenLimit int64
	GeminiKillSwitchPath    string
	GeminiMonthlyTokensPath string

	IntelligenceModel string
	ArticleModel      string
	FallbackModel     string

	EntityConfidenceThreshold float64
	AutoCommitThreshold       float64
	GlossaryCacheTTL          time.Duration
	ArtistCacheTTL            time.Duration

	WorkerPollInterval time.Duration
	WorkerID           string

	FeedURLKo string
	FeedURLEn string

	LogLevel string
	LogDir   string
}

// Load reads configuration from the environment, applying the documented
// defaults. It never fails — missing production secrets are
// the responsibility of the (out of scope) deployment tooling, not this
// package; callers in production paths should check the fields they need.
func Load() Config {
	env := Environment(getenv("ENVIRONMENT", string(Development)))

	return Config{
		Environment: env,

		DatabaseURL: os.Getenv("DATABASE_URL"),

		AWSRegion:       getenv("AWS_REGION", "ap-northeast-2"),
		S3Bucket:        os.Getenv("S3_BUCKET_NAME"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),

		GeminiAPIKey:            os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:           getenv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai"),
		GeminiRPMLimit:          getenvInt("GEMINI_RPM_LIMIT", 60),
		GeminiMonthlyTokenLimit: getenvInt64("GEMINI_MONTHLY_TOKEN_LIMIT", 2_000_000),
		GeminiKillSwitchPath:    getenv("GEMINI_KILL_SWITCH_PATH", "/corehub/gemini/kill_switch"),
		GeminiMonthlyTokensPath: getenv("GEMINI_MONTHLY_TOKENS_PATH", "/corehub/gemini/monthly_tokens"),

		IntelligenceModel: getenv("INTELLIGENCE_MODEL", "gemini-1.5-pro"),
		ArticleModel:      getenv("ARTICLE_MODEL", "gemini-1.5-flash"),
		FallbackModel:     getenv("FALLBACK_MODEL", "gemini-1.5-flash-8b"),

		EntityConfidenceThreshold: getenvFloat("ENTITY_CONFIDENCE_THRESHOLD", 0.80),
		AutoCommitThreshold:       getenvFloat("AUTO_COMMIT_THRESHOLD", 0.95),
		GlossaryCacheTTL:          getenvDuration("GLOSSARY_CACHE_TTL", 600*time.Second),
		ArtistCacheTTL:            5 * time.Minute,

		WorkerPollInterval: getenvDuration("WORKER_POLL_INTERVAL", 10*time.Second),
		WorkerID:           workerID(),

		FeedURLKo: os.Getenv("FEED_URL_KO"),
		FeedURLEn: os.Getenv("FEED_URL_EN"),

		LogLevel: getenv("LOG_LEVEL", "info"),
		LogDir:   getenv("LOG_DIR", "./logs"),
	}
}

func workerID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-unknown"
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
