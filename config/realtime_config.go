package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateConsumerName creates a unique stream consumer name using hostname and PID
func generateConsumerName() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "realtime"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// MongoDB (account + order collections owned by the CRUD service)
	MongoDBURL         string
	MongoDBName        string
	AccountsCollection string
	OrdersCollection   string

	// Redis
	RedisURL string

	// WebSocket
	WSPath                      string
	WSPingInterval              time.Duration
	WSConnectionTimeout         time.Duration
	WSWriteWait                 time.Duration
	WSMaxMessageSize            int
	WSSendBuffer                int
	WSInboundBuffer             int
	WSInboundRate               float64 // messages per second, 0 disables
	WSInboundBurst              int
	WSPurgeSubscriptionsOnClose bool
	WSHandshakeRate             float64 // upgrade attempts per second per IP, 0 disables
	WSHandshakeBurst            int
	WSAllowedOrigins            []string // empty accepts any origin, including native clients that send none

	// Order lookup cache
	OrderCacheTTL time.Duration

	// Order status stream
	OrderStatusStream string
	ConsumerGroup     string
	ConsumerName      string
	ConsumerBatchSize int
	ConsumerBlock     time.Duration
	ConsumerWorkers   int

	// Persistence circuit breaker
	BreakerConsecutiveFailures int
	BreakerTimeout             time.Duration

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// MongoDB
		MongoDBURL:         getEnv("MONGODB_URL", ""),
		MongoDBName:        getEnv("MONGODB_DATABASE", "delivery"),
		AccountsCollection: getEnv("MONGODB_ACCOUNTS_COLLECTION", "accounts"),
		OrdersCollection:   getEnv("MONGODB_ORDERS_COLLECTION", "orders"),

		// Redis
		RedisURL: getEnv("REDIS_URL", ""),

		// WebSocket
		WSPath:                      getEnv("WS_PATH", "/ws"),
		WSPingInterval:              time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 5000)) * time.Millisecond,
		WSConnectionTimeout:         time.Duration(getEnvInt("WS_CONNECTION_TIMEOUT_MS", 15000)) * time.Millisecond,
		WSWriteWait:                 time.Duration(getEnvInt("WS_WRITE_WAIT_SEC", 10)) * time.Second,
		WSMaxMessageSize:            getEnvInt("WS_MAX_MESSAGE_SIZE", 64*1024),
		WSSendBuffer:                getEnvInt("WS_SEND_BUFFER", 256),
		WSInboundBuffer:             getEnvInt("WS_INBOUND_BUFFER", 64),
		WSInboundRate:               getEnvFloat("WS_INBOUND_RATE", 20),
		WSInboundBurst:              getEnvInt("WS_INBOUND_BURST", 40),
		WSPurgeSubscriptionsOnClose: getEnvBool("WS_PURGE_SUBSCRIPTIONS_ON_CLOSE", true),
		WSHandshakeRate:             getEnvFloat("WS_HANDSHAKE_RATE", 5),
		WSHandshakeBurst:            getEnvInt("WS_HANDSHAKE_BURST", 20),
		WSAllowedOrigins:            getEnvSlice("WS_ALLOWED_ORIGINS", nil),

		// Order lookup cache
		OrderCacheTTL: time.Duration(getEnvInt("ORDER_CACHE_TTL_SEC", 300)) * time.Second,

		// Order status stream
		OrderStatusStream: getEnv("ORDER_STATUS_STREAM", "order:status"),
		ConsumerGroup:     getEnv("CONSUMER_GROUP", "realtime"),
		ConsumerName:      getEnv("CONSUMER_NAME", generateConsumerName()),
		ConsumerBatchSize: getEnvInt("CONSUMER_BATCH_SIZE", 50),
		ConsumerBlock:     time.Duration(getEnvInt("CONSUMER_BLOCK_MS", 5000)) * time.Millisecond,
		ConsumerWorkers:   getEnvInt("CONSUMER_WORKERS", 8),

		// Persistence circuit breaker
		BreakerConsecutiveFailures: getEnvInt("BREAKER_CONSECUTIVE_FAILURES", 5),
		BreakerTimeout:             time.Duration(getEnvInt("BREAKER_TIMEOUT_SEC", 30)) * time.Second,

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the heartbeat and transport cannot work with.
func (c *Config) Validate() error {
	if c.WSPingInterval <= 0 {
		return fmt.Errorf("WS_PING_INTERVAL_MS must be positive")
	}
	if c.WSConnectionTimeout <= c.WSPingInterval {
		return fmt.Errorf("WS_CONNECTION_TIMEOUT_MS (%v) must exceed WS_PING_INTERVAL_MS (%v)", c.WSConnectionTimeout, c.WSPingInterval)
	}
	if c.WSSendBuffer <= 0 || c.WSInboundBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER and WS_INBOUND_BUFFER must be positive")
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("WS_PATH must start with '/'")
	}
	if c.ConsumerWorkers <= 0 {
		return fmt.Errorf("CONSUMER_WORKERS must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
