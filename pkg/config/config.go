package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port            string
		GRPCPort        string
		Env             string
		ShutdownTimeout time.Duration
		OpenAPISchema   string
		ServiceName     string
	}

	// Database configuration
	Database struct {
		Driver   string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
	}

	// Redis configuration, used by the redis bus driver
	Redis struct {
		Addr     string
		Password string
		DB       int
		PoolSize int
	}

	// Bus selects and configures the fan-out transport
	Bus struct {
		Driver      string
		NATSURL     string
		NATSUser    string
		NATSPass    string
		TopicPrefix string
		BufferSize  int
	}

	// JWT configuration
	JWT struct {
		Secret string
		Expiry time.Duration
	}

	// Security configuration
	Security struct {
		RateLimit       float64
		RateLimitBurst  int
		AllowedOrigins  []string
		MaxBodySize     int64
		WSSendRate      float64
		WSSendBurst     int
		WSSendQueueSize int
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// AI holds generative completion settings for the bot pipeline
	AI struct {
		URL          string
		APIKey       string
		Model        string
		Timeout      time.Duration
		RetryBackoff time.Duration
		HistoryLimit int
		Workers      int
		QueueSize    int
		FallbackText string
	}

	// Knowledge lookup used to augment bot prompts
	Knowledge struct {
		Driver    string
		Addresses []string
		Index     string
		K         int
		Timeout   time.Duration
	}

	// Cache settings
	Cache struct {
		TTL         time.Duration
		MaxSize     int
		PurgeWindow time.Duration
	}

	// Vault settings for the secrets manager
	Vault struct {
		Enabled     bool
		Addr        string
		Token       string
		SecretsPath string
	}
}

const (
	minAITimeout = 10 * time.Second
	maxAITimeout = 60 * time.Second
)

var (
	instance *Config
	once     sync.Once
)

// New creates the process-wide Config from environment variables.
// A .env file in the working directory is loaded first when present.
func New() *Config {
	once.Do(func() {
		godotenv.Load()
		instance = Load()
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Load reads a fresh Config from the environment without touching the singleton.
func Load() *Config {
	cfg := &Config{}

	cfg.Server.Port = getEnvString("PORT", "8081")
	cfg.Server.GRPCPort = getEnvString("GRPC_PORT", "9091")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second)
	cfg.Server.OpenAPISchema = getEnvString("OPENAPI_SCHEMA_PATH", "")
	cfg.Server.ServiceName = getEnvString("SERVICE_NAME", "soop-chat")

	cfg.Database.Driver = getEnvString("DB_DRIVER", "postgres")
	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "soop")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

	cfg.Redis.Addr = getEnvString("REDIS_URL", "localhost:6379")
	cfg.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.PoolSize = getEnvInt("REDIS_POOL_SIZE", 10)

	cfg.Bus.Driver = getEnvString("BUS_DRIVER", "redis")
	cfg.Bus.NATSURL = getEnvString("NATS_URL", "nats://localhost:4222")
	cfg.Bus.NATSUser = getEnvString("NATS_USER", "")
	cfg.Bus.NATSPass = getEnvString("NATS_PASS", "")
	cfg.Bus.TopicPrefix = getEnvString("BUS_TOPIC_PREFIX", "chat.room")
	cfg.Bus.BufferSize = getEnvInt("BUS_BUFFER_SIZE", 256)

	cfg.JWT.Secret = getEnvString("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
	cfg.JWT.Expiry = getEnvDuration("JWT_EXPIRY", 24*time.Hour)

	cfg.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
	cfg.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 1<<20)
	cfg.Security.WSSendRate = getEnvFloat("WS_SEND_RATE", 5)
	cfg.Security.WSSendBurst = getEnvInt("WS_SEND_BURST", 10)
	cfg.Security.WSSendQueueSize = getEnvInt("WS_SEND_QUEUE_SIZE", 256)

	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	cfg.AI.URL = getEnvString("AI_API_URL", "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent")
	cfg.AI.APIKey = getEnvString("AI_API_KEY", "")
	cfg.AI.Model = getEnvString("AI_MODEL", "gemini-2.0-flash")
	cfg.AI.Timeout = clampDuration(getEnvDuration("AI_TIMEOUT", 30*time.Second), minAITimeout, maxAITimeout)
	cfg.AI.RetryBackoff = getEnvDuration("AI_RETRY_BACKOFF", 500*time.Millisecond)
	cfg.AI.HistoryLimit = getEnvInt("AI_HISTORY_LIMIT", 10)
	cfg.AI.Workers = getEnvInt("AI_WORKERS", 8)
	cfg.AI.QueueSize = getEnvInt("AI_QUEUE_SIZE", 128)
	cfg.AI.FallbackText = getEnvString("AI_FALLBACK_TEXT", "AI response failed, please retry")

	cfg.Knowledge.Driver = getEnvString("KNOWLEDGE_DRIVER", "none")
	cfg.Knowledge.Addresses = getEnvStringSlice("ELASTICSEARCH_ADDRESSES", []string{"http://localhost:9200"})
	cfg.Knowledge.Index = getEnvString("KNOWLEDGE_INDEX", "references")
	cfg.Knowledge.K = getEnvInt("KNOWLEDGE_K", 3)
	cfg.Knowledge.Timeout = getEnvDuration("KNOWLEDGE_TIMEOUT", 2*time.Second)

	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", 10*time.Minute)
	cfg.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 10000)
	cfg.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 5*time.Minute)

	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Addr = getEnvString("VAULT_ADDR", "")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.SecretsPath = getEnvString("VAULT_SECRETS_PATH", "soop-chat")

	return cfg
}

// IsProduction reports whether the server runs with production settings
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
