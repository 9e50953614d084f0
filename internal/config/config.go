package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Gateway  GatewayConfig
	Symbols  SymbolsConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	HTTPPort    int
	GRPCPort    int
	Environment string
}

type RedisConfig struct {
	Host          string
	Port          int
	Password      string
	DB            int
	SessionPrefix string
	PubSubPrefix  string
}

type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
}

type GatewayConfig struct {
	AdapterMode        string // live, simulated
	CandlePollInterval time.Duration
	CandleInterval     string
	CandleLimit        int
	SendBufferSize     int
	PollRate           float64
	PollBurst          int
	MirrorToRedis      bool
}

type SymbolsConfig struct {
	FilePath string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			HTTPPort:    getEnvInt("HTTP_PORT", 8080),
			GRPCPort:    getEnvInt("GRPC_PORT", 50051),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Redis: RedisConfig{
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			SessionPrefix: getEnv("REDIS_SESSION_PREFIX", "tb:session:"),
			PubSubPrefix:  getEnv("REDIS_PUBSUB_PREFIX", "tb:market:"),
		},
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			Database: getEnv("POSTGRES_DATABASE", "tradebitcoin"),
			Username: getEnv("POSTGRES_USERNAME", "tradebitcoin"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Gateway: GatewayConfig{
			AdapterMode:        getEnv("ADAPTER_MODE", "simulated"),
			CandlePollInterval: parseDuration(getEnv("CANDLE_POLL_INTERVAL", "60s"), 60*time.Second),
			CandleInterval:     getEnv("CANDLE_INTERVAL", "1m"),
			CandleLimit:        getEnvInt("CANDLE_LIMIT", 100),
			SendBufferSize:     getEnvInt("CLIENT_SEND_BUFFER", 256),
			PollRate:           getEnvFloat("CANDLE_POLL_RATE", 10),
			PollBurst:          getEnvInt("CANDLE_POLL_BURST", 20),
			MirrorToRedis:      getEnvBool("MIRROR_TO_REDIS", true),
		},
		Symbols: SymbolsConfig{
			FilePath: getEnv("SYMBOLS_FILE", "config/symbols.yaml"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.Gateway.AdapterMode != "live" && c.Gateway.AdapterMode != "simulated" {
		return fmt.Errorf("ADAPTER_MODE must be live or simulated, got %q", c.Gateway.AdapterMode)
	}
	if c.Gateway.AdapterMode == "live" && c.Postgres.Host == "" {
		return fmt.Errorf("POSTGRES_HOST is required in live mode")
	}
	if c.Gateway.CandlePollInterval <= 0 {
		return fmt.Errorf("CANDLE_POLL_INTERVAL must be positive")
	}
	if c.Gateway.SendBufferSize <= 0 {
		return fmt.Errorf("CLIENT_SEND_BUFFER must be positive")
	}
	return nil
}

func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.Username, c.Password, c.SSLMode)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func parseDuration(s string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}
