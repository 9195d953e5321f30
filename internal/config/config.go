// Package config loads runtime configuration from the environment, with a
// .env file picked up in development. Every knob has a default that works
// against the docker-compose stack.
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
	HTTPPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	PostgresHost   string
	PostgresPort   int
	PostgresUser   string
	PostgresPass   string
	PostgresDB     string
	MigrationsPath string

	MongoURI      string
	MongoDatabase string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers []string

	PayPalBaseURL      string
	PayPalClientID     string
	PayPalClientSecret string
	PayPalReturnURL    string
	PayPalCancelURL    string
	PayPalTimeout      time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	JWTSecret  string
	JWTTTL     time.Duration
	AppBaseURL string

	VerifyTokenTTL time.Duration
	ResetTokenTTL  time.Duration

	OutboxEventTick    time.Duration
	OutboxRecoveryTick time.Duration
	PendingMaxAge      time.Duration
	StuckAfter         time.Duration
}

func Load() (*Config, error) {
	// Absent .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	pgPort, err := getEnvInt("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}
	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	smtpPort, err := getEnvInt("SMTP_PORT", 587)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		PostgresHost:   getEnv("DB_HOST", "localhost"),
		PostgresPort:   pgPort,
		PostgresUser:   getEnv("DB_USER", "postgres"),
		PostgresPass:   getEnv("DB_PASSWORD", "postgres"),
		PostgresDB:     getEnv("DB_NAME", "terranostra"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "./migrations"),

		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "terranostra"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       redisDB,

		KafkaBrokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),

		PayPalBaseURL:      getEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
		PayPalClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
		PayPalClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
		PayPalReturnURL:    getEnv("PAYPAL_RETURN_URL", "http://localhost:8080/api/v1/checkout/return"),
		PayPalCancelURL:    getEnv("PAYPAL_CANCEL_URL", "http://localhost:8080/api/v1/checkout/cancel"),
		PayPalTimeout:      getEnvDuration("PAYPAL_TIMEOUT", 10*time.Second),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     smtpPort,
		SMTPFrom:     getEnv("SMTP_FROM", "no-reply@terra-nostra.local"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		JWTSecret:  getEnv("JWT_SECRET", ""),
		JWTTTL:     getEnvDuration("JWT_TTL", 24*time.Hour),
		AppBaseURL: getEnv("APP_BASE_URL", "http://localhost:8080"),

		VerifyTokenTTL: getEnvDuration("VERIFY_TOKEN_TTL", 48*time.Hour),
		ResetTokenTTL:  getEnvDuration("RESET_TOKEN_TTL", time.Hour),

		OutboxEventTick:    getEnvDuration("OUTBOX_EVENT_TICK", time.Second),
		OutboxRecoveryTick: getEnvDuration("OUTBOX_RECOVERY_TICK", 30*time.Second),
		PendingMaxAge:      getEnvDuration("PENDING_SESSION_MAX_AGE", time.Hour),
		StuckAfter:         getEnvDuration("STUCK_SESSION_AFTER", 5*time.Minute),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
