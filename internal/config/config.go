package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Guest     GuestConfig     `mapstructure:"guest"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Payments  PaymentsConfig  `mapstructure:"payments"`
	Mail      MailConfig      `mapstructure:"mail"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Security  SecurityConfig  `mapstructure:"security"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topics  struct {
		GenerationDispatch string `mapstructure:"generation_dispatch"`
	} `mapstructure:"topics"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	SessionCookie string        `mapstructure:"session_cookie"`
}

type GuestConfig struct {
	IDCookie       string        `mapstructure:"id_cookie"`
	CreditsCookie  string        `mapstructure:"credits_cookie"`
	DefaultCredits int           `mapstructure:"default_credits"`
	CookieMaxAge   time.Duration `mapstructure:"cookie_max_age"`
	CookieDomain   string        `mapstructure:"cookie_domain"`
	CookieSecure   bool          `mapstructure:"cookie_secure"`
}

// RateLimitConfig describes the fixed-window admission gates. Only paths
// matching a configured prefix are gated; everything else bypasses the
// limiter.
type RateLimitConfig struct {
	Window   time.Duration  `mapstructure:"window"`
	Prefixes []PrefixBudget `mapstructure:"prefixes"`
}

type PrefixBudget struct {
	Prefix string `mapstructure:"prefix"`
	Limit  int    `mapstructure:"limit"`
}

type ProviderConfig struct {
	URL            string        `mapstructure:"url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
}

type PaymentsConfig struct {
	URL           string `mapstructure:"url"`
	APIKey        string `mapstructure:"api_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	CreditsPerSKU int    `mapstructure:"credits_per_sku"`
}

type MailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	// Set defaults
	setDefaults()

	// Environment variable overrides
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if len(config.RateLimit.Prefixes) == 0 {
		config.RateLimit.Prefixes = DefaultPrefixBudgets()
	}

	return &config, nil
}

// DefaultPrefixBudgets lists the mutating route groups that are admission
// gated when no explicit table is configured.
func DefaultPrefixBudgets() []PrefixBudget {
	return []PrefixBudget{
		{Prefix: "/api/upload", Limit: 10},
		{Prefix: "/api/generate", Limit: 5},
		{Prefix: "/api/checkout", Limit: 10},
		{Prefix: "/api/orders/lookup", Limit: 10},
	}
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "development")

	// Database defaults
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.max_idle_time", "15m")
	viper.SetDefault("database.max_lifetime", "1h")
	viper.SetDefault("database.connect_timeout", "10s")

	// Redis defaults
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.timeout", "5s")

	// Kafka defaults
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topics.generation_dispatch", "generation-dispatch")

	// Auth defaults
	viper.SetDefault("auth.session_ttl", "24h")
	viper.SetDefault("auth.session_cookie", "pawtrait_session")

	// Guest defaults
	viper.SetDefault("guest.id_cookie", "pawtrait_guest_id")
	viper.SetDefault("guest.credits_cookie", "pawtrait_guest_credits")
	viper.SetDefault("guest.default_credits", 3)
	viper.SetDefault("guest.cookie_max_age", "720h")
	viper.SetDefault("guest.cookie_secure", true)

	// Rate limit defaults
	viper.SetDefault("rate_limit.window", "60s")

	// Provider defaults
	viper.SetDefault("provider.request_timeout", "30s")
	viper.SetDefault("provider.job_timeout", "5m")

	// Payments defaults
	viper.SetDefault("payments.url", "https://api.payments.example")
	viper.SetDefault("payments.credits_per_sku", 10)

	// Mail defaults
	viper.SetDefault("mail.port", 587)
	viper.SetDefault("mail.from", "orders@pawtrait.example")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Security defaults
	viper.SetDefault("security.cors.allowed_origins", []string{"*"})
	viper.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"})
	viper.SetDefault("security.cors.allowed_headers", []string{"*"})
}
