package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the runtime configuration, read from the environment (and .env).
type Config struct {
	AppEnv   string
	Port     string
	LogLevel string
	LogFile  string

	MongoURI      string
	MongoDatabase string

	JWTSecret      string
	JWTIssuer      string
	FrontendURL    string
	InternalAPIKey string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripePrices        map[string]string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	TelegramBotToken string
	TelegramChannels map[string]int64

	RedisURL    string
	JobsEnabled bool

	EmailBatchSize    int
	EmailBatchDelay   time.Duration
	TrialDays         int
	SubscriptionDays  int
	TrialReminderDays int

	RateLimitRPS   float64
	RateLimitBurst int
}

// Development reports whether the service runs outside production.
func (c *Config) Development() bool {
	return c.AppEnv != "production"
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MONGO_DATABASE", "trading_alerts")
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("JOBS_ENABLED", false)
	v.SetDefault("EMAIL_BATCH_SIZE", 50)
	v.SetDefault("EMAIL_BATCH_DELAY", "2s")
	v.SetDefault("TRIAL_DAYS", 30)
	v.SetDefault("SUBSCRIPTION_DAYS", 30)
	v.SetDefault("TRIAL_REMINDER_DAYS", 3)
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	return v
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()
	return fromViper(newViper())
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		AppEnv:   v.GetString("APP_ENV"),
		Port:     v.GetString("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFile:  v.GetString("LOG_FILE"),

		MongoURI:      v.GetString("MONGO_URI"),
		MongoDatabase: v.GetString("MONGO_DATABASE"),

		JWTSecret:      v.GetString("JWT_SECRET"),
		JWTIssuer:      v.GetString("JWT_ISSUER"),
		FrontendURL:    strings.TrimRight(v.GetString("FRONTEND_URL"), "/"),
		InternalAPIKey: v.GetString("INTERNAL_API_KEY"),

		StripeSecretKey:     v.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
		StripePrices: map[string]string{
			"TraderCall": v.GetString("STRIPE_PRICE_TRADERCALL"),
			"SmartMoney": v.GetString("STRIPE_PRICE_SMARTMONEY"),
		},

		SMTPHost:     v.GetString("SMTP_HOST"),
		SMTPPort:     v.GetInt("SMTP_PORT"),
		SMTPUser:     v.GetString("SMTP_USER"),
		SMTPPassword: v.GetString("SMTP_PASSWORD"),
		SMTPFrom:     v.GetString("SMTP_FROM"),

		TelegramBotToken: v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramChannels: map[string]int64{
			"TraderCall": v.GetInt64("TELEGRAM_CHANNEL_TRADERCALL"),
			"SmartMoney": v.GetInt64("TELEGRAM_CHANNEL_SMARTMONEY"),
		},

		RedisURL:    v.GetString("REDIS_URL"),
		JobsEnabled: v.GetBool("JOBS_ENABLED"),

		EmailBatchSize:    v.GetInt("EMAIL_BATCH_SIZE"),
		EmailBatchDelay:   v.GetDuration("EMAIL_BATCH_DELAY"),
		TrialDays:         v.GetInt("TRIAL_DAYS"),
		SubscriptionDays:  v.GetInt("SUBSCRIPTION_DAYS"),
		TrialReminderDays: v.GetInt("TRIAL_REMINDER_DAYS"),

		RateLimitRPS:   v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.MongoURI == "" {
		missing = append(missing, "MONGO_URI")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.EmailBatchSize <= 0 {
		return fmt.Errorf("EMAIL_BATCH_SIZE must be positive, got %d", c.EmailBatchSize)
	}
	if c.TrialDays <= 0 || c.SubscriptionDays <= 0 {
		return fmt.Errorf("TRIAL_DAYS and SUBSCRIPTION_DAYS must be positive")
	}
	return nil
}
