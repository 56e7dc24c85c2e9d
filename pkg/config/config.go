package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds all application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	OTel       OTelConfig       `mapstructure:"otel"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Payment    PaymentConfig    `mapstructure:"payment"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
	LogLevel    string `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	ClientID string   `mapstructure:"client_id"`
	Topic    string   `mapstructure:"topic"`
	// DeadLetter parks events that could not be published on <topic>.dlq
	DeadLetter bool `mapstructure:"dead_letter"`
}

// JWTConfig holds settings for verifying session tokens
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// SettlementConfig holds reservation and settlement settings
type SettlementConfig struct {
	LedgerBackend  string        `mapstructure:"ledger_backend"` // memory, postgres, redis
	ReservationTTL time.Duration `mapstructure:"reservation_ttl"`
	PaymentTimeout time.Duration `mapstructure:"payment_timeout"`
	MaxPerPurchase int           `mapstructure:"max_per_purchase"`
	SweepEnabled   bool          `mapstructure:"sweep_enabled"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize int           `mapstructure:"sweep_batch_size"`
	AttemptRetain  time.Duration `mapstructure:"attempt_retain"`
}

// PaymentConfig holds payment provider settings
type PaymentConfig struct {
	DefaultProvider      string        `mapstructure:"default_provider"` // onchain, hosted_checkout, mock
	Currency             string        `mapstructure:"currency"`
	Merchant             string        `mapstructure:"merchant"`
	StripeSecretKey      string        `mapstructure:"stripe_secret_key"`
	StripeWebhookSecret  string        `mapstructure:"stripe_webhook_secret"`
	OnChainChainID       int64         `mapstructure:"onchain_chain_id"`
	OnChainRecipient     string        `mapstructure:"onchain_recipient"`
	OnChainDecimals      int32         `mapstructure:"onchain_decimals"`
	OnChainRPCURL        string        `mapstructure:"onchain_rpc_url"`
	OnChainTrustWallet   bool          `mapstructure:"onchain_trust_wallet"` // skip receipt checks, development only
	OnChainConfirmations uint64        `mapstructure:"onchain_confirmations"`
	OnChainVerifyTimeout time.Duration `mapstructure:"onchain_verify_timeout"`
	MockEnabled          bool          `mapstructure:"mock_enabled"`
	MockSuccessRate      float64       `mapstructure:"mock_success_rate"`
	MockDelay            time.Duration `mapstructure:"mock_delay"`
}

// Load loads configuration from environment variables and an optional .env file
func Load() (*Config, error) {
	return load(".env", false)
}

// LoadWithPath loads configuration from a specific env file
func LoadWithPath(path string) (*Config, error) {
	return load(path, true)
}

func load(path string, required bool) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	// .env is optional; environment variables still apply
	if err := v.ReadInConfig(); err != nil && required {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("APP_NAME", "eticket-settlement")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("APP_LOG_LEVEL", "info")

	// Server
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "150s") // purchases may wait on a payment
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Database
	v.SetDefault("DATABASE_ENABLED", false)
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "eticket")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_CONNS", 50)
	v.SetDefault("DATABASE_MIN_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "5m")
	v.SetDefault("DATABASE_AUTO_MIGRATE", true)

	// Redis
	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka
	v.SetDefault("KAFKA_ENABLED", false)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CLIENT_ID", "eticket-settlement")
	v.SetDefault("KAFKA_TOPIC", "settlement-events")
	v.SetDefault("KAFKA_DEAD_LETTER", true)

	// JWT
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_ISSUER", "eticket")

	// OTel
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "eticket-settlement")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Settlement
	v.SetDefault("SETTLEMENT_LEDGER_BACKEND", "memory")
	v.SetDefault("SETTLEMENT_RESERVATION_TTL", "10m")
	v.SetDefault("SETTLEMENT_PAYMENT_TIMEOUT", "2m")
	v.SetDefault("SETTLEMENT_MAX_PER_PURCHASE", 10)
	v.SetDefault("SETTLEMENT_SWEEP_ENABLED", true)
	v.SetDefault("SETTLEMENT_SWEEP_INTERVAL", "5s")
	v.SetDefault("SETTLEMENT_SWEEP_BATCH_SIZE", 100)
	v.SetDefault("SETTLEMENT_ATTEMPT_RETAIN", "1h")

	// Payment
	v.SetDefault("PAYMENT_DEFAULT_PROVIDER", "onchain")
	v.SetDefault("PAYMENT_CURRENCY", "inr")
	v.SetDefault("PAYMENT_MERCHANT", "EventTix")
	v.SetDefault("PAYMENT_STRIPE_SECRET_KEY", "")
	v.SetDefault("PAYMENT_STRIPE_WEBHOOK_SECRET", "")
	v.SetDefault("PAYMENT_ONCHAIN_CHAIN_ID", 41)
	v.SetDefault("PAYMENT_ONCHAIN_RECIPIENT", "0xF5FeFBf4eE405d61eFa05870357ca86b14196462")
	v.SetDefault("PAYMENT_ONCHAIN_DECIMALS", 18)
	v.SetDefault("PAYMENT_ONCHAIN_RPC_URL", "https://testnet.telos.net/evm")
	v.SetDefault("PAYMENT_ONCHAIN_TRUST_WALLET", false)
	v.SetDefault("PAYMENT_ONCHAIN_CONFIRMATIONS", 1)
	v.SetDefault("PAYMENT_ONCHAIN_VERIFY_TIMEOUT", "20s")
	v.SetDefault("PAYMENT_MOCK_ENABLED", false)
	v.SetDefault("PAYMENT_MOCK_SUCCESS_RATE", 0.95)
	v.SetDefault("PAYMENT_MOCK_DELAY", "500ms")
}

func bindConfig(v *viper.Viper, cfg *Config) {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")
	cfg.App.LogLevel = v.GetString("APP_LOG_LEVEL")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Database
	cfg.Database.Enabled = v.GetBool("DATABASE_ENABLED")
	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxConns = v.GetInt("DATABASE_MAX_CONNS")
	cfg.Database.MinConns = v.GetInt("DATABASE_MIN_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")
	cfg.Database.AutoMigrate = v.GetBool("DATABASE_AUTO_MIGRATE")

	// Redis
	cfg.Redis.Enabled = v.GetBool("REDIS_ENABLED")
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	cfg.Kafka.Enabled = v.GetBool("KAFKA_ENABLED")
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.Topic = v.GetString("KAFKA_TOPIC")
	cfg.Kafka.DeadLetter = v.GetBool("KAFKA_DEAD_LETTER")

	// JWT
	cfg.JWT.Secret = v.GetString("JWT_SECRET")
	cfg.JWT.Issuer = v.GetString("JWT_ISSUER")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Settlement
	cfg.Settlement.LedgerBackend = strings.ToLower(v.GetString("SETTLEMENT_LEDGER_BACKEND"))
	cfg.Settlement.ReservationTTL = v.GetDuration("SETTLEMENT_RESERVATION_TTL")
	cfg.Settlement.PaymentTimeout = v.GetDuration("SETTLEMENT_PAYMENT_TIMEOUT")
	cfg.Settlement.MaxPerPurchase = v.GetInt("SETTLEMENT_MAX_PER_PURCHASE")
	cfg.Settlement.SweepEnabled = v.GetBool("SETTLEMENT_SWEEP_ENABLED")
	cfg.Settlement.SweepInterval = v.GetDuration("SETTLEMENT_SWEEP_INTERVAL")
	cfg.Settlement.SweepBatchSize = v.GetInt("SETTLEMENT_SWEEP_BATCH_SIZE")
	cfg.Settlement.AttemptRetain = v.GetDuration("SETTLEMENT_ATTEMPT_RETAIN")

	// Payment
	cfg.Payment.DefaultProvider = strings.ToLower(v.GetString("PAYMENT_DEFAULT_PROVIDER"))
	cfg.Payment.Currency = strings.ToLower(v.GetString("PAYMENT_CURRENCY"))
	cfg.Payment.Merchant = v.GetString("PAYMENT_MERCHANT")
	cfg.Payment.StripeSecretKey = v.GetString("PAYMENT_STRIPE_SECRET_KEY")
	cfg.Payment.StripeWebhookSecret = v.GetString("PAYMENT_STRIPE_WEBHOOK_SECRET")
	cfg.Payment.OnChainChainID = v.GetInt64("PAYMENT_ONCHAIN_CHAIN_ID")
	cfg.Payment.OnChainRecipient = v.GetString("PAYMENT_ONCHAIN_RECIPIENT")
	cfg.Payment.OnChainDecimals = v.GetInt32("PAYMENT_ONCHAIN_DECIMALS")
	cfg.Payment.OnChainRPCURL = v.GetString("PAYMENT_ONCHAIN_RPC_URL")
	cfg.Payment.OnChainTrustWallet = v.GetBool("PAYMENT_ONCHAIN_TRUST_WALLET")
	cfg.Payment.OnChainConfirmations = v.GetUint64("PAYMENT_ONCHAIN_CONFIRMATIONS")
	cfg.Payment.OnChainVerifyTimeout = v.GetDuration("PAYMENT_ONCHAIN_VERIFY_TIMEOUT")
	cfg.Payment.MockEnabled = v.GetBool("PAYMENT_MOCK_ENABLED")
	cfg.Payment.MockSuccessRate = v.GetFloat64("PAYMENT_MOCK_SUCCESS_RATE")
	cfg.Payment.MockDelay = v.GetDuration("PAYMENT_MOCK_DELAY")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.IsProduction() && c.JWT.Secret == defaultJWTSecret {
		return fmt.Errorf("JWT secret must be changed in production")
	}

	switch c.Settlement.LedgerBackend {
	case "memory":
	case "postgres":
		if !c.Database.Enabled {
			return fmt.Errorf("postgres ledger requires DATABASE_ENABLED=true")
		}
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("redis ledger requires REDIS_ENABLED=true")
		}
	default:
		return fmt.Errorf("unknown ledger backend: %q", c.Settlement.LedgerBackend)
	}

	if c.Settlement.ReservationTTL <= 0 {
		return fmt.Errorf("reservation TTL must be positive")
	}
	if c.Settlement.PaymentTimeout <= 0 || c.Settlement.PaymentTimeout >= c.Settlement.ReservationTTL {
		return fmt.Errorf("payment timeout (%s) must be positive and shorter than reservation TTL (%s)",
			c.Settlement.PaymentTimeout, c.Settlement.ReservationTTL)
	}
	if c.Settlement.MaxPerPurchase <= 0 {
		return fmt.Errorf("max per purchase must be positive")
	}

	if c.Payment.OnChainDecimals < 0 || c.Payment.OnChainDecimals > 36 {
		return fmt.Errorf("invalid on-chain decimals: %d", c.Payment.OnChainDecimals)
	}
	if c.Payment.OnChainTrustWallet {
		if c.IsProduction() {
			return fmt.Errorf("PAYMENT_ONCHAIN_TRUST_WALLET must be false in production")
		}
	} else if c.Payment.OnChainRPCURL == "" {
		return fmt.Errorf("PAYMENT_ONCHAIN_RPC_URL is required to verify wallet payments")
	}
	if c.Payment.MockSuccessRate < 0 || c.Payment.MockSuccessRate > 1 {
		return fmt.Errorf("mock success rate must be within [0,1]")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
