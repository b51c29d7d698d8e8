package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Instance
	InstanceID string

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string

	// Proof requests
	ProofStore           string
	ProofEventsTopic     string
	ProofListCacheTTL    time.Duration
	ProofTemplatesFile   string
	ProofDefaultPageSize int
	ProofMaxPageSize     int
	ProofDefaultExpiry   time.Duration

	// Attachments
	AttachmentBaseURL    string
	AttachmentServiceURL string
	AttachmentTimeout    time.Duration
	AttachmentBudget     time.Duration

	// Gateway
	GatewayRateLimitRPS   int
	GatewayRateLimitBurst int
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8090"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "synaptica"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "synaptica123"),
		PostgresDB:       getEnv("POSTGRES_DB", "proof_portal"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		InstanceID: getEnv("INSTANCE_ID", defaultInstanceID()),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", nil),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "proof-service"),

		ProofStore:           getEnv("PROOF_STORE", "postgres"),
		ProofEventsTopic:     getEnv("PROOF_EVENTS_TOPIC", "proof-request-events"),
		ProofListCacheTTL:    getDuration("PROOF_LIST_CACHE_TTL", 30*time.Second),
		ProofTemplatesFile:   getEnv("PROOF_TEMPLATES_FILE", ""),
		ProofDefaultPageSize: getIntEnv("PROOF_DEFAULT_PAGE_SIZE", 10),
		ProofMaxPageSize:     getIntEnv("PROOF_MAX_PAGE_SIZE", 100),
		ProofDefaultExpiry:   getDuration("PROOF_DEFAULT_EXPIRY", 0),

		AttachmentBaseURL:    getEnv("ATTACHMENT_BASE_URL", ""),
		AttachmentServiceURL: getEnv("ATTACHMENT_SERVICE_URL", ""),
		AttachmentTimeout:    getDuration("ATTACHMENT_TIMEOUT", 5*time.Second),
		AttachmentBudget:     getDuration("ATTACHMENT_RESOLVE_BUDGET", 2*time.Second),

		GatewayRateLimitRPS:   getIntEnv("GATEWAY_RATE_LIMIT_RPS", 50),
		GatewayRateLimitBurst: getIntEnv("GATEWAY_RATE_LIMIT_BURST", 100),
	}
}

// RedisEnabled is false when no REDIS_HOST is configured; the list cache is
// then skipped.
func (c *Config) RedisEnabled() bool { return c.RedisHost != "" }

func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// CacheGroupID is the consumer group for cache invalidation. It is unique per
// instance so that every instance sees every write.
func (c *Config) CacheGroupID() string {
	return c.KafkaGroupID + "-" + c.InstanceID
}

func defaultInstanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.New().String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getStringSliceEnv splits a comma separated list, dropping blanks.
func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
