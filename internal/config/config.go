package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	LogLevel    string
	HTTPPort    string
	Store       StoreConfig
	Postgres    PostgresConfig
	Kafka       KafkaConfig
	Analytics   AnalyticsConfig
	Resilience  ResilienceConfig
}

type StoreConfig struct {
	// Backend is "postgres" or "memory".
	Backend      string
	PollInterval time.Duration
}

type PostgresConfig struct {
	Host            string
	Port            string
	Database        string
	Username        string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SSLMode         string
}

type KafkaConfig struct {
	Enabled          bool
	Brokers          []string
	Topic            string
	ProducerRetries  int
	ProducerTimeout  time.Duration
	RequiredAcks     int
	CompressionType  string
	MaxMessageBytes  int
	IdempotentWrites bool
}

type AnalyticsConfig struct {
	// SiteHost is the blog's own hostname; referrers from it are not counted
	// as a traffic source.
	SiteHost          string
	ActiveWindow      time.Duration
	SweepMaxAge       time.Duration
	SweepInterval     time.Duration
	TrendingThreshold float64
	RealtimeRefresh   time.Duration
	HealthInterval    time.Duration
}

type ResilienceConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	Multiplier       float64
	Jitter           float64
	StaleTime        time.Duration
	CacheSize        int
}

func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
	}

	cfg.Store = StoreConfig{
		Backend:      getEnv("STORE_BACKEND", "postgres"),
		PollInterval: getEnvAsDuration("STORE_POLL_INTERVAL", 2*time.Second),
	}

	cfg.Postgres = PostgresConfig{
		Host:            getEnv("POSTGRES_HOST", "localhost"),
		Port:            getEnv("POSTGRES_PORT", "5432"),
		Database:        getEnv("POSTGRES_DB", "blog_analytics"),
		Username:        getEnv("POSTGRES_USER", "admin"),
		Password:        getEnv("POSTGRES_PASSWORD", "password"),
		MaxOpenConns:    getEnvAsInt("POSTGRES_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("POSTGRES_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("POSTGRES_CONN_MAX_LIFETIME", 5*time.Minute),
		SSLMode:         getEnv("POSTGRES_SSL_MODE", "disable"),
	}

	brokers := getEnv("KAFKA_BROKERS", "localhost:9092")
	cfg.Kafka = KafkaConfig{
		Enabled:          getEnvAsBool("KAFKA_ENABLED", true),
		Brokers:          strings.Split(brokers, ","),
		Topic:            getEnv("KAFKA_TOPIC_PAGE_VIEWS", "page-views"),
		ProducerRetries:  getEnvAsInt("KAFKA_PRODUCER_RETRIES", 3),
		ProducerTimeout:  getEnvAsDuration("KAFKA_PRODUCER_TIMEOUT", 10*time.Second),
		RequiredAcks:     getEnvAsInt("KAFKA_REQUIRED_ACKS", -1),
		CompressionType:  getEnv("KAFKA_COMPRESSION", "snappy"),
		IdempotentWrites: getEnvAsBool("KAFKA_IDEMPOTENT", true),
		MaxMessageBytes:  getEnvAsInt("KAFKA_MAX_MESSAGE_BYTES", 1000000),
	}

	cfg.Analytics = AnalyticsConfig{
		SiteHost:          getEnv("SITE_HOST", ""),
		ActiveWindow:      getEnvAsDuration("ACTIVE_VISITOR_WINDOW", 5*time.Minute),
		SweepMaxAge:       getEnvAsDuration("VISITOR_SWEEP_MAX_AGE", time.Hour),
		SweepInterval:     getEnvAsDuration("VISITOR_SWEEP_INTERVAL", 5*time.Minute),
		TrendingThreshold: getEnvAsFloat("TRENDING_THRESHOLD", 10.0),
		RealtimeRefresh:   getEnvAsDuration("REALTIME_REFRESH", 5*time.Second),
		HealthInterval:    getEnvAsDuration("HEALTH_CHECK_INTERVAL", 2*time.Minute),
	}

	cfg.Resilience = ResilienceConfig{
		FailureThreshold: getEnvAsInt("CIRCUIT_FAILURE_THRESHOLD", 5),
		RecoveryTimeout:  getEnvAsDuration("CIRCUIT_RECOVERY_TIMEOUT", 60*time.Second),
		BaseDelay:        getEnvAsDuration("RETRY_BASE_DELAY", 100*time.Millisecond),
		MaxDelay:         getEnvAsDuration("RETRY_MAX_DELAY", 5*time.Second),
		Multiplier:       getEnvAsFloat("RETRY_MULTIPLIER", 2.0),
		Jitter:           getEnvAsFloat("RETRY_JITTER", 0.1),
		StaleTime:        getEnvAsDuration("STALE_TIME", 2*time.Minute),
		CacheSize:        getEnvAsInt("STALE_CACHE_SIZE", 128),
	}

	return cfg, nil
}

func (c *PostgresConfig) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
