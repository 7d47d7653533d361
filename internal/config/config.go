package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Channel transports
const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
)

// Payment providers
const (
	ProviderCheckout = "checkout"
	ProviderStripe   = "stripe"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	RabbitMQ    RabbitMQConfig
	Channel     ChannelConfig
	Payment     PaymentConfig
	Reservation ReservationConfig
	Hold        HoldConfig
	Waiting     WaitingConfig
	Session     SessionConfig
	CORS        CORSConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
	RunRelay    bool   // also serve the hold/webhook relay from this process
}

// DatabaseConfig holds database-related configuration (relay only)
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// RedisConfig holds Redis connection settings; empty Addr disables Redis
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RabbitMQConfig holds the broker URL; empty disables AMQP
type RabbitMQConfig struct {
	URL string
}

// ChannelConfig selects the push channel transport
type ChannelConfig struct {
	Transport string // memory or redis
}

// PaymentConfig holds payment gateway configuration
type PaymentConfig struct {
	Provider       string // checkout or stripe
	CheckoutAPIURL string
	MerchantKey    string
	MerchantToken  string // SECRET - only used for the check value, never sent
	StripeSecret   string
	StripeWebhook  string // signing secret of the Stripe webhook endpoint
	LogoURL        string
	ReturnURL      string // gateway sends the customer here to wait for the verdict
	CancelURL      string
	WebhookURL     string
	Currency       string
}

// ReservationConfig points at the reservation service
type ReservationConfig struct {
	APIURL string
}

// HoldConfig holds relay hold timing
type HoldConfig struct {
	TTL           time.Duration
	WarningLead   time.Duration
	SweepInterval time.Duration
}

// WaitingConfig controls the confirmation fallback
type WaitingConfig struct {
	Timeout      time.Duration
	PollInterval time.Duration
	MaxPolls     int
}

// SessionConfig holds booking session settings
type SessionConfig struct {
	IdleTTL time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	port := getEnv("PORT", "8080")

	config := &Config{
		Server: ServerConfig{
			Port:        port,
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			RunRelay:    getEnvAsBool("RUN_RELAY", true),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RabbitMQ: RabbitMQConfig{
			URL: getEnv("RABBITMQ_URL", ""),
		},
		Channel: ChannelConfig{
			Transport: strings.ToLower(getEnv("CHANNEL_TRANSPORT", TransportMemory)),
		},
		Payment: PaymentConfig{
			Provider:       strings.ToLower(getEnv("PAYMENT_PROVIDER", ProviderCheckout)),
			CheckoutAPIURL: getEnv("CHECKOUT_API_URL", ""),
			MerchantKey:    getEnv("CHECKOUT_MERCHANT_KEY", ""),
			MerchantToken:  getEnv("CHECKOUT_MERCHANT_TOKEN", ""),
			StripeSecret:   getEnv("STRIPE_SECRET_KEY", ""),
			StripeWebhook:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
			LogoURL:        getEnv("CHECKOUT_LOGO_URL", ""),
			ReturnURL:      getEnv("PAYMENT_RETURN_URL", "http://localhost:3000/payment/waiting"),
			CancelURL:      getEnv("PAYMENT_CANCEL_URL", "http://localhost:3000/payment/cancelled"),
			WebhookURL:     getEnv("PAYMENT_WEBHOOK_URL", ""),
			Currency:       strings.ToLower(getEnv("PAYMENT_CURRENCY", "usd")),
		},
		Reservation: ReservationConfig{
			APIURL: getEnv("RESERVATION_API_URL", "http://localhost:"+port),
		},
		Hold: HoldConfig{
			TTL:           time.Duration(getEnvAsInt("HOLD_TTL_SECONDS", 600)) * time.Second,
			WarningLead:   time.Duration(getEnvAsInt("HOLD_WARNING_SECONDS", 30)) * time.Second,
			SweepInterval: getEnvAsDuration("HOLD_SWEEP_INTERVAL", 5*time.Second),
		},
		Waiting: WaitingConfig{
			Timeout:      time.Duration(getEnvAsInt("WAIT_TIMEOUT_SECONDS", 60)) * time.Second,
			PollInterval: time.Duration(getEnvAsInt("WAIT_POLL_INTERVAL_SECONDS", 5)) * time.Second,
			MaxPolls:     getEnvAsInt("WAIT_MAX_POLLS", 10),
		},
		Session: SessionConfig{
			IdleTTL: time.Duration(getEnvAsInt("SESSION_IDLE_TTL_MINUTES", 30)) * time.Minute,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization", "Last-Event-ID"}),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.RunRelay && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when RUN_RELAY is enabled")
	}

	switch c.Channel.Transport {
	case TransportMemory:
		if !c.Server.RunRelay {
			return fmt.Errorf("CHANNEL_TRANSPORT=memory requires RUN_RELAY=true")
		}
	case TransportRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required for redis transport")
		}
		if c.RabbitMQ.URL == "" {
			return fmt.Errorf("RABBITMQ_URL is required for redis transport")
		}
	default:
		return fmt.Errorf("invalid CHANNEL_TRANSPORT: %s (must be 'memory' or 'redis')", c.Channel.Transport)
	}

	switch c.Payment.Provider {
	case ProviderCheckout:
		if c.Payment.CheckoutAPIURL == "" {
			return fmt.Errorf("CHECKOUT_API_URL is required for checkout provider")
		}
		if c.Payment.MerchantKey == "" || c.Payment.MerchantToken == "" {
			return fmt.Errorf("CHECKOUT_MERCHANT_KEY and CHECKOUT_MERCHANT_TOKEN are required for checkout provider")
		}
	case ProviderStripe:
		if c.Payment.StripeSecret == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required for stripe provider")
		}
		if c.Server.RunRelay && c.Payment.StripeWebhook == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when the relay handles stripe webhooks")
		}
	default:
		return fmt.Errorf("invalid PAYMENT_PROVIDER: %s (must be 'checkout' or 'stripe')", c.Payment.Provider)
	}

	if c.Hold.WarningLead <= 0 || c.Hold.WarningLead >= c.Hold.TTL {
		return fmt.Errorf("HOLD_WARNING_SECONDS must be positive and shorter than HOLD_TTL_SECONDS")
	}
	if c.Hold.SweepInterval <= 0 {
		return fmt.Errorf("HOLD_SWEEP_INTERVAL must be positive")
	}

	if c.Waiting.Timeout <= 0 || c.Waiting.PollInterval <= 0 || c.Waiting.MaxPolls <= 0 {
		return fmt.Errorf("WAIT_TIMEOUT_SECONDS, WAIT_POLL_INTERVAL_SECONDS and WAIT_MAX_POLLS must be positive")
	}

	return nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil || value <= 0 {
		log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
