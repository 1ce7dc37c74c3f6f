package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Server        ServerConfig        `mapstructure:"server"`
	Email         EmailConfig         `mapstructure:"email"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	S3            S3Config            `mapstructure:"s3"`
	Nats          NatsConfig          `mapstructure:"nats"`
	Scheduling    SchedulingConfig    `mapstructure:"scheduling"`
	Signing       SigningConfig       `mapstructure:"signing"`
}

type NatsConfig struct {
	URL           string `mapstructure:"url" yaml:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
}

type DatabaseConfig struct {
	Host       string                  `mapstructure:"host"`
	Port       int                     `mapstructure:"port"`
	User       string                  `mapstructure:"user"`
	Password   string                  `mapstructure:"password"`
	DBName     string                  `mapstructure:"dbname"`
	SSLMode    string                  `mapstructure:"sslmode"`
	Pool       DatabasePoolConfig      `mapstructure:"pool"`
	Migrations DatabaseMigrationConfig `mapstructure:"migrations"`
}

type DatabasePoolConfig struct {
	MaxOpenConns       int `mapstructure:"max_open_conns"`
	MaxIdleConns       int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMin int `mapstructure:"conn_max_lifetime_minutes"`
}

type DatabaseMigrationConfig struct {
	AutoMigrate bool `mapstructure:"auto_migrate"`
	// SerializationRetries bounds how often a serializable transaction is
	// replayed after a 40001 failure.
	SerializationRetries int `mapstructure:"serialization_retries"`
}

type RedisConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	Addr                string `mapstructure:"addr"`
	DB                  int    `mapstructure:"db"`
	Username            string `mapstructure:"username"`
	Password            string `mapstructure:"password"`
	PoolSize            int    `mapstructure:"pool_size"`
	MinIdleConns        int    `mapstructure:"min_idle_conns"`
	DialTimeoutSeconds  int    `mapstructure:"dial_timeout_seconds"`
	ReadTimeoutSeconds  int    `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds"`
}

type ServerConfig struct {
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	Environment    string   `mapstructure:"environment"`
	Databases      []string `mapstructure:"databases"`
}

type EmailConfig struct {
	Enabled bool       `mapstructure:"enabled"`
	From    string     `mapstructure:"from"`
	SMTP    SMTPConfig `mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	UseTLS         bool   `mapstructure:"use_tls"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type ObservabilityConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ServiceName    string        `mapstructure:"service_name"`
	ServiceVersion string        `mapstructure:"service_version"`
	Tracing        TracingConfig `mapstructure:"tracing"`
	Metrics        MetricsConfig `mapstructure:"metrics"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	ListenAddr string `mapstructure:"listen_addr"`
}

type LoggingConfig struct {
	Level  string       `mapstructure:"level"`  // debug, info, warn, error
	Format string       `mapstructure:"format"` // text, json
	Output OutputConfig `mapstructure:"output"`
}

type OutputConfig struct {
	Stdout bool          `mapstructure:"stdout"`
	File   FileLogConfig `mapstructure:"file"`
	Loki   LokiConfig    `mapstructure:"loki"`
}

type FileLogConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`        // e.g. "logs/keystone.log"
	MaxSizeMB  int    `mapstructure:"max_size_mb"` // rotate after N MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type LokiConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"` // e.g. "http://localhost:3100"
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type S3Config struct {
	Endpoint         string `mapstructure:"endpoint"`
	Region           string `mapstructure:"region"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	Bucket           string `mapstructure:"bucket"`
	PublicBaseURL    string `mapstructure:"public_base_url"`
	PresignTTLSec    int    `mapstructure:"presign_ttl_sec"`
	UploadTimeoutSec int    `mapstructure:"upload_timeout_sec"`
}

type SchedulingConfig struct {
	DefaultTimezone    string `mapstructure:"default_timezone"`
	DefaultSlotMinutes int    `mapstructure:"default_slot_minutes"`
	CacheTTLSeconds    int    `mapstructure:"cache_ttl_seconds"`
}

// CacheTTL returns how long a cached availability record stays valid.
func (c SchedulingConfig) CacheTTL() time.Duration {
	if c.CacheTTLSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

type SigningConfig struct {
	FetchTimeoutSec  int    `mapstructure:"fetch_timeout_sec"`
	UploadTimeoutSec int    `mapstructure:"upload_timeout_sec"`
	KeyPrefix        string `mapstructure:"key_prefix"`
	LegalStatement   string `mapstructure:"legal_statement"`
	MaxPDFBytes      int64  `mapstructure:"max_pdf_bytes"`
}

func (c SigningConfig) FetchTimeout() time.Duration {
	if c.FetchTimeoutSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

func (c SigningConfig) UploadTimeout() time.Duration {
	if c.UploadTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.UploadTimeoutSec) * time.Second
}

func (c *Config) Validate() error {
	var errs []error

	if c.Scheduling.DefaultTimezone != "" {
		if _, err := time.LoadLocation(c.Scheduling.DefaultTimezone); err != nil {
			errs = append(errs, fmt.Errorf("scheduling.default_timezone: %w", err))
		}
	}
	if c.Scheduling.DefaultSlotMinutes < 0 {
		errs = append(errs, errors.New("scheduling.default_slot_minutes must not be negative"))
	}
	if c.Email.Enabled && strings.TrimSpace(c.Email.From) == "" {
		errs = append(errs, errors.New("email.from is required when email is enabled"))
	}
	if c.Signing.MaxPDFBytes < 0 {
		errs = append(errs, errors.New("signing.max_pdf_bytes must not be negative"))
	}

	return errors.Join(errs...)
}
