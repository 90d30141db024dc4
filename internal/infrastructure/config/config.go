package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Event     EventConfig
	Bus       BusConfig
	Billing   BillingConfig
	Wallet    WalletConfig
	Pricing   PricingConfig
	Retention RetentionConfig
	Storage   StorageConfig
	HTTP      HTTPConfig
	Telemetry TelemetryConfig
	Profiling ProfilingConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name    string
	Env     string
	Port    string
	Version string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings. An empty Host disables every
// Redis-backed component.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Enabled reports whether a Redis server is configured
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// EventConfig holds outbox relay and consumer idempotency settings
type EventConfig struct {
	ProcessorEnabled bool
	BatchSize        int
	PollInterval     time.Duration
	MaxRetries       int
	CleanupEnabled   bool
	CleanupInterval  time.Duration
	CleanupRetention time.Duration
	ProcessingLease  time.Duration
	IdempotencyStore string // memory, redis
	IdempotencyTTL   time.Duration
}

// BusConfig selects and configures the event bus
type BusConfig struct {
	Driver          string // memory, nats
	NATSURL         string
	NATSToken       string
	Stream          string
	ConsumerPrefix  string
	MaxDeliver      int
	AckWait         time.Duration
	DuplicateWindow time.Duration
}

// BillingConfig holds billing calculator settings
type BillingConfig struct {
	PricingTimeout   time.Duration
	DefaultTokenRate decimal.Decimal
	// MaxAttempts bounds transient redeliveries before billing.error is published
	MaxAttempts int
}

// WalletConfig holds settlement settings
type WalletConfig struct {
	AccountingUnit string // usd, token
	LockDriver     string // none, local, redis
	LockTTL        time.Duration
	LockRetries    int
	DebitTimeout   time.Duration
	Currency       string
}

// PricingConfig holds the price cache settings
type PricingConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// RetentionConfig holds the scheduled maintenance jobs
type RetentionConfig struct {
	Enabled          bool
	ArchiveSchedule  string
	UsageRetention   time.Duration
	ArchiveBatchSize int
	SweepSchedule    string
	PendingThreshold time.Duration
}

// StorageConfig holds S3-compatible object storage settings for usage archives
type StorageConfig struct {
	Enabled         bool
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	MaxBodySize      int64
	CORSAllowOrigins []string
	TrustedProxies   []string
	// SwaggerEnabled serves the API docs under /swagger, limited to SwaggerAllowedIPs when set
	SwaggerEnabled    bool
	SwaggerAllowedIPs []string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string
	Insecure          bool // development only
	MetricsInterval   time.Duration
	LogsEnabled       bool
	DBTraceEnabled    bool
	DBLogFullSQL      bool
	DBSlowQueryThresh time.Duration
}

// ProfilingConfig holds Pyroscope settings
type ProfilingConfig struct {
	Enabled           bool
	ServerAddress     string
	BasicAuthUser     string
	BasicAuthPassword string
	ProfileTypes      []string
	SpanProfiles      bool
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with BILLFLOW_ prefix (e.g., BILLFLOW_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("BILLFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name:    v.GetString("app.name"),
			Env:     v.GetString("app.env"),
			Port:    v.GetString("app.port"),
			Version: v.GetString("app.version"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Event: EventConfig{
			ProcessorEnabled: v.GetBool("event.processor_enabled"),
			BatchSize:        v.GetInt("event.batch_size"),
			PollInterval:     v.GetDuration("event.poll_interval"),
			MaxRetries:       v.GetInt("event.max_retries"),
			CleanupEnabled:   v.GetBool("event.cleanup_enabled"),
			CleanupInterval:  v.GetDuration("event.cleanup_interval"),
			CleanupRetention: v.GetDuration("event.cleanup_retention"),
			ProcessingLease:  v.GetDuration("event.processing_lease"),
			IdempotencyStore: v.GetString("event.idempotency_store"),
			IdempotencyTTL:   v.GetDuration("event.idempotency_ttl"),
		},
		Bus: BusConfig{
			Driver:          v.GetString("bus.driver"),
			NATSURL:         v.GetString("bus.nats_url"),
			NATSToken:       v.GetString("bus.nats_token"),
			Stream:          v.GetString("bus.stream"),
			ConsumerPrefix:  v.GetString("bus.consumer_prefix"),
			MaxDeliver:      v.GetInt("bus.max_deliver"),
			AckWait:         v.GetDuration("bus.ack_wait"),
			DuplicateWindow: v.GetDuration("bus.duplicate_window"),
		},
		Billing: BillingConfig{
			PricingTimeout: v.GetDuration("billing.pricing_timeout"),
			MaxAttempts:    v.GetInt("billing.max_attempts"),
		},
		Wallet: WalletConfig{
			AccountingUnit: v.GetString("wallet.accounting_unit"),
			LockDriver:     v.GetString("wallet.lock_driver"),
			LockTTL:        v.GetDuration("wallet.lock_ttl"),
			LockRetries:    v.GetInt("wallet.lock_retries"),
			DebitTimeout:   v.GetDuration("wallet.debit_timeout"),
			Currency:       v.GetString("wallet.currency"),
		},
		Pricing: PricingConfig{
			CacheEnabled: v.GetBool("pricing.cache_enabled"),
			CacheTTL:     v.GetDuration("pricing.cache_ttl"),
		},
		Retention: RetentionConfig{
			Enabled:          v.GetBool("retention.enabled"),
			ArchiveSchedule:  v.GetString("retention.archive_schedule"),
			UsageRetention:   v.GetDuration("retention.usage_retention"),
			ArchiveBatchSize: v.GetInt("retention.archive_batch_size"),
			SweepSchedule:    v.GetString("retention.sweep_schedule"),
			PendingThreshold: v.GetDuration("retention.pending_threshold"),
		},
		Storage: StorageConfig{
			Enabled:         v.GetBool("storage.enabled"),
			Bucket:          v.GetString("storage.bucket"),
			Prefix:          v.GetString("storage.prefix"),
			Region:          v.GetString("storage.region"),
			Endpoint:        v.GetString("storage.endpoint"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:       v.GetDuration("http.read_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:    v.GetInt("http.max_header_bytes"),
			MaxBodySize:       v.GetInt64("http.max_body_size"),
			CORSAllowOrigins:  v.GetStringSlice("http.cors_allow_origins"),
			TrustedProxies:    v.GetStringSlice("http.trusted_proxies"),
			SwaggerEnabled:    v.GetBool("http.swagger_enabled"),
			SwaggerAllowedIPs: v.GetStringSlice("http.swagger_allowed_ips"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
		Profiling: ProfilingConfig{
			Enabled:           v.GetBool("profiling.enabled"),
			ServerAddress:     v.GetString("profiling.server_address"),
			BasicAuthUser:     v.GetString("profiling.basic_auth_user"),
			BasicAuthPassword: v.GetString("profiling.basic_auth_password"),
			ProfileTypes:      v.GetStringSlice("profiling.profile_types"),
			SpanProfiles:      v.GetBool("profiling.span_profiles"),
		},
	}

	if raw := strings.TrimSpace(v.GetString("billing.default_token_rate")); raw != "" {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("billing.default_token_rate: %w", err)
		}
		cfg.Billing.DefaultTokenRate = rate
	}

	// Processor on by default; only an explicit false disables it
	if !v.IsSet("event.processor_enabled") {
		cfg.Event.ProcessorEnabled = true
	}
	if !v.IsSet("event.cleanup_enabled") {
		cfg.Event.CleanupEnabled = true
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for empty configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "billflow"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "billflow"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host != "" && cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.Event.BatchSize == 0 {
		cfg.Event.BatchSize = 100
	}
	if cfg.Event.PollInterval == 0 {
		cfg.Event.PollInterval = time.Second
	}
	if cfg.Event.MaxRetries == 0 {
		cfg.Event.MaxRetries = 5
	}
	if cfg.Event.CleanupInterval == 0 {
		cfg.Event.CleanupInterval = time.Hour
	}
	if cfg.Event.CleanupRetention == 0 {
		cfg.Event.CleanupRetention = 7 * 24 * time.Hour
	}
	if cfg.Event.ProcessingLease == 0 {
		cfg.Event.ProcessingLease = 5 * time.Minute
	}
	if cfg.Event.IdempotencyStore == "" {
		cfg.Event.IdempotencyStore = "memory"
	}
	if cfg.Event.IdempotencyTTL == 0 {
		cfg.Event.IdempotencyTTL = 24 * time.Hour
	}

	if cfg.Bus.Driver == "" {
		cfg.Bus.Driver = "memory"
	}
	if cfg.Bus.NATSURL == "" {
		cfg.Bus.NATSURL = "nats://localhost:4222"
	}
	if cfg.Bus.Stream == "" {
		cfg.Bus.Stream = "BILLFLOW"
	}
	if cfg.Bus.ConsumerPrefix == "" {
		cfg.Bus.ConsumerPrefix = "billflow"
	}
	if cfg.Bus.MaxDeliver == 0 {
		cfg.Bus.MaxDeliver = 5
	}
	if cfg.Bus.AckWait == 0 {
		cfg.Bus.AckWait = 30 * time.Second
	}
	if cfg.Bus.DuplicateWindow == 0 {
		cfg.Bus.DuplicateWindow = 2 * time.Minute
	}

	if cfg.Billing.PricingTimeout == 0 {
		cfg.Billing.PricingTimeout = 2 * time.Second
	}
	if cfg.Billing.DefaultTokenRate.IsZero() {
		cfg.Billing.DefaultTokenRate = decimal.NewFromInt(1000)
	}
	if cfg.Billing.MaxAttempts == 0 {
		cfg.Billing.MaxAttempts = cfg.Bus.MaxDeliver
	}

	if cfg.Wallet.AccountingUnit == "" {
		cfg.Wallet.AccountingUnit = "usd"
	}
	if cfg.Wallet.LockDriver == "" {
		cfg.Wallet.LockDriver = "none"
	}
	if cfg.Wallet.LockTTL == 0 {
		cfg.Wallet.LockTTL = 10 * time.Second
	}
	if cfg.Wallet.LockRetries == 0 {
		cfg.Wallet.LockRetries = 32
	}
	if cfg.Wallet.DebitTimeout == 0 {
		cfg.Wallet.DebitTimeout = 5 * time.Second
	}
	if cfg.Wallet.Currency == "" {
		cfg.Wallet.Currency = "USD"
	}

	if cfg.Pricing.CacheTTL == 0 {
		cfg.Pricing.CacheTTL = time.Minute
	}

	if cfg.Retention.ArchiveSchedule == "" {
		cfg.Retention.ArchiveSchedule = "0 3 * * *"
	}
	if cfg.Retention.UsageRetention == 0 {
		cfg.Retention.UsageRetention = 90 * 24 * time.Hour
	}
	if cfg.Retention.ArchiveBatchSize == 0 {
		cfg.Retention.ArchiveBatchSize = 1000
	}
	if cfg.Retention.SweepSchedule == "" {
		cfg.Retention.SweepSchedule = "*/15 * * * *"
	}
	if cfg.Retention.PendingThreshold == 0 {
		cfg.Retention.PendingThreshold = 30 * time.Minute
	}

	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "usage-archive"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 30 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 120 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = time.Minute
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}

	if cfg.Profiling.ServerAddress == "" {
		cfg.Profiling.ServerAddress = "http://localhost:4040"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Bus.Driver {
	case "memory", "nats":
	default:
		return fmt.Errorf("bus.driver must be memory or nats, got %q", c.Bus.Driver)
	}
	if c.Bus.MaxDeliver < 1 {
		return fmt.Errorf("bus.max_deliver must be at least 1")
	}

	switch c.Event.IdempotencyStore {
	case "memory":
	case "redis":
		if !c.Redis.Enabled() {
			return fmt.Errorf("event.idempotency_store=redis requires redis.host")
		}
	default:
		return fmt.Errorf("event.idempotency_store must be memory or redis, got %q", c.Event.IdempotencyStore)
	}

	if c.Billing.DefaultTokenRate.IsNegative() {
		return fmt.Errorf("billing.default_token_rate cannot be negative")
	}
	if c.Billing.MaxAttempts < 1 {
		return fmt.Errorf("billing.max_attempts must be at least 1")
	}

	switch c.Wallet.AccountingUnit {
	case "usd", "token":
	default:
		return fmt.Errorf("wallet.accounting_unit must be usd or token, got %q", c.Wallet.AccountingUnit)
	}
	switch c.Wallet.LockDriver {
	case "none", "local":
	case "redis":
		if !c.Redis.Enabled() {
			return fmt.Errorf("wallet.lock_driver=redis requires redis.host")
		}
	default:
		return fmt.Errorf("wallet.lock_driver must be none, local or redis, got %q", c.Wallet.LockDriver)
	}

	if c.Pricing.CacheEnabled && !c.Redis.Enabled() {
		return fmt.Errorf("pricing.cache_enabled requires redis.host")
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}
	if c.Retention.Enabled && !c.Storage.Enabled {
		return fmt.Errorf("retention.enabled requires storage.enabled so usage is archived before deletion")
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
