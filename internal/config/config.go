package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config centralizes runtime settings for the API and the routing worker.
type Config struct {
	Port string

	AuthToken string

	// RecordStore selects the durable record backend: memory, postgres,
	// sqlite or redis.
	RecordStore string
	DatabaseURL string
	SQLitePath  string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
	RedisStream    string
	RedisDLQ       string
	RedisGroup     string
	RedisConsumer  string

	OllamaBaseURL    string
	OllamaMaxRetries int

	OpenRouterAPIKey     string
	OpenRouterBaseURL    string
	OpenRouterSiteURL    string
	OpenRouterAppName    string
	OpenRouterMaxRetries int

	WorkflowWebhookURL   string
	WorkflowWebhookToken string

	ModelTimeoutMS int

	RecordCacheTTLSeconds int
	RecordCacheMaxEntries int

	BatchSize     int
	MaxBatchItems int

	StaleProcessingSeconds int

	RateLimitRPS   float64
	RateLimitBurst int

	QueueCapacity int
	WorkerEnabled bool

	RoutingConfigPath string
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken: getEnv("API_AUTH_TOKEN", ""),

		RecordStore: strings.ToLower(getEnv("RECORD_STORE", "memory")),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		SQLitePath:  getEnv("SQLITE_PATH", "content-router.db"),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "content_router"),
		RedisStream:    getEnv("REDIS_STREAM", "route_jobs"),
		RedisDLQ:       getEnv("REDIS_DLQ_STREAM", "route_jobs_dlq"),
		RedisGroup:     getEnv("REDIS_GROUP", "route_workers"),
		RedisConsumer:  getEnv("REDIS_CONSUMER", "api-1"),

		OllamaBaseURL:    getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaMaxRetries: getEnvInt("OLLAMA_MAX_RETRIES", 1),

		OpenRouterAPIKey:     getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL:    getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterSiteURL:    getEnv("OPENROUTER_SITE_URL", ""),
		OpenRouterAppName:    getEnv("OPENROUTER_APP_NAME", "Content Router"),
		OpenRouterMaxRetries: getEnvInt("OPENROUTER_MAX_RETRIES", 2),

		WorkflowWebhookURL:   getEnv("WORKFLOW_WEBHOOK_URL", ""),
		WorkflowWebhookToken: getEnv("WORKFLOW_WEBHOOK_TOKEN", ""),

		ModelTimeoutMS: getEnvInt("MODEL_TIMEOUT_MS", 60000),

		RecordCacheTTLSeconds: getEnvInt("RECORD_CACHE_TTL_SECONDS", 86400),
		RecordCacheMaxEntries: getEnvInt("RECORD_CACHE_MAX_ENTRIES", 10000),

		BatchSize:     getEnvInt("BATCH_SIZE", 10),
		MaxBatchItems: getEnvInt("MAX_BATCH_ITEMS", 100),

		StaleProcessingSeconds: getEnvInt("STALE_PROCESSING_SECONDS", 600),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		QueueCapacity: getEnvInt("QUEUE_CAPACITY", 1024),
		WorkerEnabled: getEnvBool("WORKER_ENABLED", true),

		RoutingConfigPath: getEnv("ROUTING_CONFIG_PATH", ""),
	}
}

func (c Config) ModelTimeout() time.Duration {
	return time.Duration(c.ModelTimeoutMS) * time.Millisecond
}

// WriteTimeout covers the slowest accepted batch. Groups run one after
// another and every item may need a local call plus the cloud fallback.
func (c Config) WriteTimeout() time.Duration {
	batchSize := c.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	items := c.MaxBatchItems
	if items <= 0 {
		items = 100
	}
	groups := (items + batchSize - 1) / batchSize
	return time.Duration(groups)*2*c.ModelTimeout() + 15*time.Second
}

// StaleProcessingAfter is never shorter than a single item's worst case, so
// a live run is not reclaimed.
func (c Config) StaleProcessingAfter() time.Duration {
	configured := time.Duration(c.StaleProcessingSeconds) * time.Second
	if floor := 2*c.ModelTimeout() + 30*time.Second; configured < floor {
		return floor
	}
	return configured
}

func (c Config) RecordCacheTTL() time.Duration {
	return time.Duration(c.RecordCacheTTLSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
