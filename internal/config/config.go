// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port             string `default:"8080"`
	Env              string `default:"development"` // "development", "staging", "production"
	LogLevel         string `default:"info"`
	LogFormat        string `default:"text"`
	CORSAllowOrigins string `default:"*"`
	BodyLimitMB      int    `default:"50"`
	AppBaseURL       string `default:"http://localhost:3000"`

	// Database. Either DatabaseURL or every DB* field; neither means in-memory.
	DatabaseURL string
	DBHost      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBPort      string

	// Payments
	StripeSecretKey     string
	StripeWebhookSecret string
	PaymentCurrency     string `default:"usd"`

	// Advisory AI
	DeepSeekAPIKey string
	DeepSeekAPIURL string `default:"https://api.deepseek.com/v1/chat/completions"`
	DeepSeekModel  string `default:"deepseek-chat"`

	// Object store
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string `default:"middleman/files"`

	// Email
	ResendAPIKey string
	FromEmail    string `default:"onboarding@resend.dev"`

	// Identity tokens issued by the external provider (optional)
	AuthJWTSecret string

	ReleaseSweepInterval time.Duration `default:"1m"`
}

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                os.Getenv("PORT"),
		Env:                 os.Getenv("ENV"),
		LogLevel:            os.Getenv("LOG_LEVEL"),
		LogFormat:           os.Getenv("LOG_FORMAT"),
		CORSAllowOrigins:    os.Getenv("CORS_ALLOW_ORIGINS"),
		AppBaseURL:          os.Getenv("APP_BASE_URL"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		DBHost:              os.Getenv("DB_HOST"),
		DBUser:              os.Getenv("DB_USER"),
		DBPassword:          os.Getenv("DB_PASSWORD"),
		DBName:              os.Getenv("DB_NAME"),
		DBPort:              os.Getenv("DB_PORT"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PaymentCurrency:     os.Getenv("PAYMENT_CURRENCY"),
		DeepSeekAPIKey:      os.Getenv("DEEPSEEK_API_KEY"),
		DeepSeekAPIURL:      os.Getenv("DEEPSEEK_API_URL"),
		DeepSeekModel:       os.Getenv("DEEPSEEK_MODEL"),
		CloudinaryCloudName: os.Getenv("CLOUDINARY_CLOUD_NAME"),
		CloudinaryAPIKey:    os.Getenv("CLOUDINARY_API_KEY"),
		CloudinaryAPISecret: os.Getenv("CLOUDINARY_API_SECRET"),
		CloudinaryFolder:    os.Getenv("CLOUDINARY_FOLDER"),
		ResendAPIKey:        os.Getenv("RESEND_API_KEY"),
		FromEmail:           os.Getenv("FROM_EMAIL"),
		AuthJWTSecret:       os.Getenv("AUTH_JWT_SECRET"),
	}

	var err error
	if cfg.BodyLimitMB, err = getEnvInt("BODY_LIMIT_MB"); err != nil {
		return nil, err
	}
	if cfg.ReleaseSweepInterval, err = getEnvDuration("RELEASE_SWEEP_INTERVAL"); err != nil {
		return nil, err
	}

	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}
	if c.BodyLimitMB <= 0 {
		return fmt.Errorf("BODY_LIMIT_MB must be positive")
	}
	if c.ReleaseSweepInterval <= 0 {
		return fmt.Errorf("RELEASE_SWEEP_INTERVAL must be positive")
	}
	if c.IsProduction() && c.DSN() == "" {
		return fmt.Errorf("database configuration not provided: either set DATABASE_URL or all of DB_HOST, DB_USER, DB_PASSWORD, DB_NAME, and DB_PORT")
	}
	return nil
}

// DSN returns the postgres connection string, or "" when the service should
// run on the in-memory stores.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.DBHost == "" || c.DBUser == "" || c.DBPassword == "" || c.DBName == "" || c.DBPort == "" {
		return ""
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort,
	)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) StripeEnabled() bool {
	return c.StripeSecretKey != ""
}

func (c *Config) CloudinaryEnabled() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

func getEnvInt(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 30s or 5m: %w", key, err)
	}
	return d, nil
}
