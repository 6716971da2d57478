package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Escrow    EscrowConfig    `mapstructure:"escrow"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Events    EventsConfig    `mapstructure:"events"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres or memory
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout"` // SET LOCAL lock_timeout per transfer
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// EscrowConfig names the platform-owned accounts and money defaults.
type EscrowConfig struct {
	OwnerID         string `mapstructure:"owner_id"`
	PlatformOwnerID string `mapstructure:"platform_owner_id"`
	Currency        string `mapstructure:"currency"`
	BoostFee        string `mapstructure:"boost_fee"` // major units
	BoostDays       int    `mapstructure:"boost_days"`
}

// Owners parses the escrow and platform owner ids.
func (e EscrowConfig) Owners() (escrow, platform uuid.UUID, err error) {
	if escrow, err = uuid.Parse(e.OwnerID); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("escrow.owner_id: %w", err)
	}
	if platform, err = uuid.Parse(e.PlatformOwnerID); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("escrow.platform_owner_id: %w", err)
	}
	return escrow, platform, nil
}

// BoostFeeAmount parses the boost fee.
func (e EscrowConfig) BoostFeeAmount() (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(e.BoostFee)
	if err != nil {
		return decimal.Zero, fmt.Errorf("escrow.boost_fee: %w", err)
	}
	return fee, nil
}

type GatewayConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	SecretKey          string        `mapstructure:"secret_key"`
	WebhookSecret      string        `mapstructure:"webhook_secret"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
	InitialBackoff     time.Duration `mapstructure:"initial_backoff"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
	SignatureTolerance time.Duration `mapstructure:"signature_tolerance"`
}

// RabbitMQConfig configures the event publisher. An empty URL logs events instead.
type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type EventsConfig struct {
	SigningKey string `mapstructure:"signing_key"`
}

type RateLimitConfig struct {
	Requests int64         `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: ESC_.
// Nested keys use underscore: ESC_DATABASE_HOST, ESC_ESCROW_OWNER_ID, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "escrow")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.lock_timeout", "3s")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "marketplace")
	v.SetDefault("escrow.owner_id", "")
	v.SetDefault("escrow.platform_owner_id", "")
	v.SetDefault("escrow.currency", "KZT")
	v.SetDefault("escrow.boost_fee", "500")
	v.SetDefault("escrow.boost_days", 3)
	v.SetDefault("gateway.base_url", "https://api.stripe.com")
	v.SetDefault("gateway.secret_key", "")
	v.SetDefault("gateway.webhook_secret", "")
	v.SetDefault("gateway.timeout", "10s")
	v.SetDefault("gateway.max_retries", 2)
	v.SetDefault("gateway.initial_backoff", "200ms")
	v.SetDefault("gateway.breaker_timeout", "30s")
	v.SetDefault("gateway.signature_tolerance", "5m")
	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "escrow.events")
	v.SetDefault("events.signing_key", "")
	v.SetDefault("ratelimit.requests", 60)
	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: ESC_DATABASE_HOST -> database.host
	v.SetEnvPrefix("ESC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings the engine cannot start without.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %s or %s", DriverPostgres, DriverMemory))
	}
	escrow, platform, err := c.Escrow.Owners()
	if err != nil {
		errs = append(errs, err)
	} else if escrow == platform {
		errs = append(errs, errors.New("escrow.owner_id and escrow.platform_owner_id must differ"))
	}
	if len(c.Escrow.Currency) != 3 || strings.ToUpper(c.Escrow.Currency) != c.Escrow.Currency {
		errs = append(errs, errors.New("escrow.currency must be a 3-letter ISO-4217 code"))
	}
	if fee, err := c.Escrow.BoostFeeAmount(); err != nil {
		errs = append(errs, err)
	} else if !fee.IsPositive() {
		errs = append(errs, errors.New("escrow.boost_fee must be positive"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if c.Gateway.WebhookSecret == "" {
		errs = append(errs, errors.New("gateway.webhook_secret is required"))
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("ratelimit.requests and ratelimit.window must be positive"))
	}
	return errors.Join(errs...)
}
