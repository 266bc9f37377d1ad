// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the service reads at startup. Fields are grouped
// by the component that consumes them.
type Config struct {
	Host string
	Port int

	// Store / persistence
	DatabaseURL string

	// Vector index
	VectorBackend  string // "postgres" | "qdrant" | "memory"
	QdrantURL      string
	QdrantAPIKey   string
	VectorDim      int
	VectorMetric   string // cosine|l2|ip

	// Embedding provider
	EmbeddingBaseURL string
	EmbeddingAPIKey  string
	EmbeddingModel   string
	EmbeddingTimeout time.Duration
	EmbeddingBatch   int

	// LLM provider
	LLMProvider  string // "openai" | "anthropic"
	LLMBaseURL   string
	LLMAPIKey    string
	LLMModel     string
	RewriteModel string

	// Redis (optional shared cache backend for C1/C3)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// C1 Embedding cache
	EmbedCacheSize int
	EmbedCacheTTL  time.Duration

	// C3 Answer cache
	AnswerCacheTTL time.Duration

	// C5 Hybrid search
	DefaultMatchCount    int
	MinSimilarity        float64
	ContentNamespaceFrac float64 // applied as ceil(limit * frac)

	// C7 Confidence
	ConfidenceHigh   float64
	ConfidenceMedium float64

	// C9 connectors
	ScrapeMaxPages    int
	ICalDaysAhead     int
	StalenessHorizon  time.Duration

	// C11 monitor
	MonitorTimeout time.Duration

	// Cron / admin
	CronBearerToken string
	AdminPassword   string

	// Tenant fallback contact, used by the fallback answer (spec §4.8.2)
	DefaultTenantPhone string
	DefaultTenantURL   string

	LogMode string // "console" | "json"
}

// Load reads .env (best effort) then the process environment, applying
// defaults for anything unset.
func Load() (Config, error) {
	_ = godotenv.Overload(".env")

	c := Config{
		Host:                 getString("HOST", "0.0.0.0"),
		Port:                 getInt("PORT", 8080),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		VectorBackend:        getString("VECTOR_BACKEND", "memory"),
		QdrantURL:            os.Getenv("QDRANT_URL"),
		QdrantAPIKey:         os.Getenv("QDRANT_API_KEY"),
		VectorDim:            getInt("VECTOR_DIM", 1536),
		VectorMetric:         getString("VECTOR_METRIC", "cosine"),
		EmbeddingBaseURL:     getString("EMBEDDING_BASE_URL", "https://api.openai.com/v1"),
		EmbeddingAPIKey:      os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingModel:       getString("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingTimeout:     getDuration("EMBEDDING_TIMEOUT", 30*time.Second),
		EmbeddingBatch:       getInt("EMBEDDING_BATCH_SIZE", 100),
		LLMProvider:          getString("LLM_PROVIDER", "openai"),
		LLMBaseURL:           os.Getenv("LLM_BASE_URL"),
		LLMAPIKey:            os.Getenv("LLM_API_KEY"),
		LLMModel:             getString("LLM_MODEL", "gpt-4o-mini"),
		RewriteModel:         getString("LLM_REWRITE_MODEL", "gpt-4o-mini"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		EmbedCacheSize:       getInt("EMBED_CACHE_SIZE", 1000),
		EmbedCacheTTL:        getDuration("EMBED_CACHE_TTL", 30*time.Minute),
		AnswerCacheTTL:       getDuration("ANSWER_CACHE_TTL", 7*24*time.Hour),
		DefaultMatchCount:    getInt("DEFAULT_MATCH_COUNT", 20),
		MinSimilarity:        getFloat("MIN_SIMILARITY_THRESHOLD", 0.30),
		ContentNamespaceFrac: getFloat("CONTENT_NAMESPACE_FRAC", 0.5),
		ConfidenceHigh:       getFloat("CONFIDENCE_HIGH", 0.60),
		ConfidenceMedium:     getFloat("CONFIDENCE_MEDIUM", 0.40),
		ScrapeMaxPages:       getInt("SCRAPE_MAX_PAGES", 20),
		ICalDaysAhead:        getInt("ICAL_DAYS_AHEAD", 90),
		StalenessHorizon:     getDuration("STALENESS_HORIZON", 90*24*time.Hour),
		MonitorTimeout:       getDuration("MONITOR_STEP_TIMEOUT", 90*time.Second),
		CronBearerToken:      os.Getenv("CRON_BEARER_TOKEN"),
		AdminPassword:        os.Getenv("ADMIN_PASSWORD"),
		DefaultTenantPhone:   getString("DEFAULT_TENANT_PHONE", "(000) 000-0000"),
		DefaultTenantURL:     getString("DEFAULT_TENANT_URL", "https://example.gov"),
		LogMode:              getString("LOG_MODE", "console"),
	}

	if c.VectorBackend == "postgres" && c.DatabaseURL == "" {
		return c, fmt.Errorf("config: VECTOR_BACKEND=postgres requires DATABASE_URL")
	}
	if c.VectorBackend == "qdrant" && c.QdrantURL == "" {
		return c, fmt.Errorf("config: VECTOR_BACKEND=qdrant requires QDRANT_URL")
	}
	return c, nil
}

func getString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}
