// Package config loads application configuration from environment variables.
// A .env file in the working directory is read first when present.
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
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Stripe     StripeConfig
	Generation GenerationConfig
	Broker     BrokerConfig
	Pressure   PressureConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Env            string
	Port           string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN prefers DATABASE_URL and falls back to the discrete DB_* variables.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret   string
	TokenTTL    time.Duration
	SupabaseURL string
	// SupabaseJWTSecret verifies the access token handed back by the OAuth
	// provider redirect.
	SupabaseJWTSecret string
	AppURL            string
	AdminEmail        string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	AppURL        string
}

// Configured reports whether checkout and portal calls can be made.
func (s StripeConfig) Configured() bool {
	return s.SecretKey != ""
}

type GenerationConfig struct {
	ReplyWebhookURL      string
	EmailWebhookURL      string
	WebhookToken         string
	Timeout              time.Duration
	EncryptionPassphrase string
	EncryptionSalt       string
}

// WebhookConfigured mirrors the frontend rule: both URLs must be set.
func (g GenerationConfig) WebhookConfigured() bool {
	return g.ReplyWebhookURL != "" && g.EmailWebhookURL != ""
}

type BrokerConfig struct {
	URL string
}

type PressureConfig struct {
	Interval time.Duration
	Source   string
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Load reads .env (if any) and the process environment. Missing optional
// collaborators are left empty; callers decide how to degrade.
func Load() Config {
	_ = godotenv.Load()

	appURL := envStr("APP_URL", "http://localhost:5173")

	return Config{
		Server: ServerConfig{
			Env:            envStr("APP_ENV", "development"),
			Port:           envStr("PORT", "8080"),
			AllowedOrigins: envList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			URL:      os.Getenv("DATABASE_URL"),
			Host:     envStr("DB_HOST", "localhost"),
			Port:     envStr("DB_PORT", "5432"),
			User:     envStr("DB_USER", "postgres"),
			Password: envStr("DB_PASSWORD", "password"),
			Name:     envStr("DB_NAME", "mailoreply"),
			SSLMode:  envStr("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     redisAddr(),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret:         envStr("JWT_SECRET", "your-super-secret-key-change-in-production"),
			TokenTTL:          envDur("TOKEN_TTL", 24*time.Hour),
			SupabaseURL:       strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
			SupabaseJWTSecret: os.Getenv("SUPABASE_JWT_SECRET"),
			AppURL:            appURL,
			AdminEmail:        envStr("ADMIN_EMAIL", "admin@mailoreply.com"),
		},
		Stripe: StripeConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			AppURL:        appURL,
		},
		Generation: GenerationConfig{
			ReplyWebhookURL:      os.Getenv("N8N_REPLY_WEBHOOK_URL"),
			EmailWebhookURL:      os.Getenv("N8N_EMAIL_WEBHOOK_URL"),
			WebhookToken:         os.Getenv("N8N_WEBHOOK_TOKEN"),
			Timeout:              envDur("GENERATION_TIMEOUT", 30*time.Second),
			EncryptionPassphrase: envStr("ENCRYPTION_PASSPHRASE", "mailoreply-ai-encryption-key-v1"),
			EncryptionSalt:       envStr("ENCRYPTION_SALT", "mailoreply-salt"),
		},
		Broker: BrokerConfig{
			URL: envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
		},
		Pressure: PressureConfig{
			Interval: envDur("PRESSURE_INTERVAL", 3*time.Second),
			Source:   envStr("PRESSURE_SOURCE", "synthetic"),
		},
		RateLimit: RateLimitConfig{
			Requests: envInt("RATE_LIMIT_REQUESTS", 20),
			Window:   envDur("RATE_LIMIT_WINDOW", time.Minute),
		},
	}
}

func redisAddr() string {
	host := os.Getenv("REDIS_HOST")
	port := os.Getenv("REDIS_PORT")
	if host != "" && port != "" {
		return host + ":" + port
	}
	return os.Getenv("REDIS_ADDR")
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil && dur > 0 {
		return dur
	}
	return d
}

func envList(k string, d []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return d
	}
	return out
}
