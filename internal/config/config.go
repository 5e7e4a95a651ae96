// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Redis       RedisConfig
	AWS         AWSConfig
	Payment     PaymentConfig
	Gateway     GatewayConfig
	RabbitMQ    RabbitMQConfig
	Scheduler   SchedulerConfig
	Retry       RetryConfig
	Email       EmailConfig
	I18n        I18nConfig
	Frontend    FrontendConfig
	CORS        CORSConfig
}

type CORSConfig struct {
	AllowedOrigins []string
}

type FrontendConfig struct {
	BaseURL string
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

type JWTConfig struct {
	SecretKey      string
	AccessTokenTTL int // in hours
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	LeaseTTL time.Duration
}

func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
	ArchivePrefix   string
}

// PaymentConfig holds the ledger policy values injected into the orchestrator.
type PaymentConfig struct {
	PlatformFeePercent decimal.Decimal
	// RefundFlatFee is deducted from the recipient on every refund and kept by
	// the platform; the payer is credited the original amount only.
	RefundFlatFee         decimal.Decimal
	EarningsClearanceDays int
	Currency              string
	DefaultGateway        string
	TestMode              bool
	TestAdapterApprove    bool
}

type GatewayConfig struct {
	CCBill CCBillConfig
	Stripe StripeConfig
	Test   TestGatewayConfig
}

type CCBillConfig struct {
	BaseURL          string
	DataLinkURL      string
	ClientAccnum     string
	ClientSubacc     string
	FlexFormID       string
	Salt             string
	DataLinkUsername string
	DataLinkPassword string
	// WebhookSecret is appended by CCBill to the webhook URL as ?key=...;
	// events that carry no form digest are only trusted with it.
	WebhookSecret string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

type TestGatewayConfig struct {
	Secret      string
	CompleteURL string
}

type RabbitMQConfig struct {
	URL      string
	Exchange string
}

type SchedulerConfig struct {
	ExpireSubscriptionsSpec string
	ReleaseEarningsSpec     string
	RetryReferralsSpec      string
	BatchSize               int
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	FromName     string
}

type I18nConfig struct {
	DefaultLocale string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "fanvault"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "warn"),
		},
		JWT: JWTConfig{
			SecretKey:      getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			AccessTokenTTL: getEnvAsInt("JWT_ACCESS_TTL", 24), // 24 hours
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			LeaseTTL: getEnvAsDuration("REDIS_LEASE_TTL", 10*time.Second),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			S3Bucket:        getEnv("AWS_S3_BUCKET", ""),
			ArchivePrefix:   getEnv("AWS_WEBHOOK_ARCHIVE_PREFIX", "webhooks"),
		},
		Payment: PaymentConfig{
			PlatformFeePercent:    getEnvAsDecimal("PLATFORM_FEE_PERCENT", decimal.NewFromInt(20)),
			RefundFlatFee:         getEnvAsDecimal("REFUND_FLAT_FEE", decimal.Zero),
			EarningsClearanceDays: getEnvAsInt("EARNINGS_CLEARANCE_DAYS", 0),
			Currency:              strings.ToUpper(getEnv("PAYMENT_CURRENCY", "USD")),
			DefaultGateway:        getEnv("PAYMENT_GATEWAY", "ccbill"),
			TestMode:              getEnvAsBool("PAYMENT_TEST_MODE", true),
			TestAdapterApprove:    getEnvAsBool("PAYMENT_TEST_APPROVE", true),
		},
		Gateway: GatewayConfig{
			CCBill: CCBillConfig{
				BaseURL:          getEnv("CCBILL_BASE_URL", "https://api.ccbill.com"),
				DataLinkURL:      getEnv("CCBILL_DATALINK_URL", "https://datalink.ccbill.com/utils/subscriptionManagement.cgi"),
				ClientAccnum:     getEnv("CCBILL_ACCOUNT_NUMBER", ""),
				ClientSubacc:     getEnv("CCBILL_SUBACCOUNT", ""),
				FlexFormID:       getEnv("CCBILL_FLEXFORM_ID", ""),
				Salt:             getEnv("CCBILL_SALT", ""),
				DataLinkUsername: getEnv("CCBILL_DATALINK_USERNAME", ""),
				DataLinkPassword: getEnv("CCBILL_DATALINK_PASSWORD", ""),
				WebhookSecret:    getEnv("CCBILL_WEBHOOK_SECRET", ""),
			},
			Stripe: StripeConfig{
				SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
				WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
				SuccessURL:    getEnv("STRIPE_SUCCESS_URL", "http://localhost:3000/payments/success"),
				CancelURL:     getEnv("STRIPE_CANCEL_URL", "http://localhost:3000/payments/cancel"),
			},
			Test: TestGatewayConfig{
				Secret:      getEnv("TEST_GATEWAY_SECRET", "test-gateway-secret"),
				CompleteURL: getEnv("TEST_GATEWAY_COMPLETE_URL", "http://localhost:8080/v1/payments/test-adapter/complete"),
			},
		},
		RabbitMQ: RabbitMQConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "payment_events"),
		},
		Scheduler: SchedulerConfig{
			ExpireSubscriptionsSpec: getEnv("SCHEDULE_EXPIRE_SUBSCRIPTIONS", "*/5 * * * *"),
			ReleaseEarningsSpec:     getEnv("SCHEDULE_RELEASE_EARNINGS", "0 * * * *"),
			RetryReferralsSpec:      getEnv("SCHEDULE_RETRY_REFERRALS", "*/15 * * * *"),
			BatchSize:               getEnvAsInt("SCHEDULE_BATCH_SIZE", 100),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvAsInt("SETTLEMENT_RETRY_ATTEMPTS", 5),
			BaseDelay:   getEnvAsDuration("SETTLEMENT_RETRY_BASE_DELAY", 50*time.Millisecond),
			MaxDelay:    getEnvAsDuration("SETTLEMENT_RETRY_MAX_DELAY", 2*time.Second),
		},
		Email: EmailConfig{
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			FromEmail:    getEnv("FROM_EMAIL", "noreply@fanvault.app"),
			FromName:     getEnv("FROM_NAME", "FanVault"),
		},
		I18n: I18nConfig{
			DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),
		},
		Frontend: FrontendConfig{
			BaseURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "your-secret-key-change-in-production" && c.Environment == "production" {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Password == "" && c.Environment == "production" {
		return fmt.Errorf("database password is required in production")
	}

	if c.Payment.PlatformFeePercent.IsNegative() || c.Payment.PlatformFeePercent.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("platform fee percent must be between 0 and 100")
	}

	if c.Payment.RefundFlatFee.IsNegative() {
		return fmt.Errorf("refund flat fee must not be negative")
	}

	if c.Payment.TestMode && c.Environment == "production" {
		return fmt.Errorf("payment test mode cannot be enabled in production")
	}

	if !c.Payment.TestMode && c.Payment.DefaultGateway == "ccbill" && c.Gateway.CCBill.Salt == "" {
		return fmt.Errorf("CCBILL_SALT is required when the ccbill gateway is active")
	}

	if !c.Payment.TestMode && c.Payment.DefaultGateway == "ccbill" && c.Gateway.CCBill.WebhookSecret == "" {
		return fmt.Errorf("CCBILL_WEBHOOK_SECRET is required when the ccbill gateway is active")
	}

	if !c.Payment.TestMode && c.Payment.DefaultGateway == "stripe" && c.Gateway.Stripe.WebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when the stripe gateway is active")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("settlement retry attempts must be at least 1")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
