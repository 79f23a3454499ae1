// Package config provides configuration loading and validation for the
// housekeeping daemons. Supports YAML files with environment variable
// overrides.
package config

import (
	"time"

	"github.com/dray-io/housekeeper/internal/housekeeping"
)

// Config holds all configuration for the housekeeping daemons.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	ObjectStore   ObjectStoreConfig   `yaml:"objectStore"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Events        EventsConfig        `yaml:"events"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Cleanup       CleanupConfig       `yaml:"cleanup"`
	Retention     RetentionConfig     `yaml:"retention"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver" env:"HOUSEKEEPER_DB_DRIVER" validate:"oneof=postgres sqlite"`
	DSN          string `yaml:"dsn" env:"HOUSEKEEPER_DB_DSN" validate:"required"`
	MaxOpenConns int    `yaml:"maxOpenConns" env:"HOUSEKEEPER_DB_MAX_OPEN_CONNS" validate:"min=1"`
	LogLevel     string `yaml:"logLevel" env:"HOUSEKEEPER_DB_LOG_LEVEL" validate:"oneof=silent error warn info"`
}

type ObjectStoreConfig struct {
	Endpoint     string `yaml:"endpoint" env:"HOUSEKEEPER_S3_ENDPOINT"`
	Region       string `yaml:"region" env:"HOUSEKEEPER_S3_REGION"`
	AccessKey    string `yaml:"accessKey" env:"HOUSEKEEPER_S3_ACCESS_KEY"`
	SecretKey    string `yaml:"secretKey" env:"HOUSEKEEPER_S3_SECRET_KEY"`
	UsePathStyle bool   `yaml:"usePathStyle" env:"HOUSEKEEPER_S3_USE_PATH_STYLE"`

	// Buckets lists the buckets cleanup may delete from.
	Buckets []string `yaml:"buckets" env:"HOUSEKEEPER_S3_BUCKETS" validate:"min=1,dive,required"`
}

type CatalogConfig struct {
	// Type is "glue" or "memory". The memory catalog is for local runs.
	Type      string `yaml:"type" env:"HOUSEKEEPER_CATALOG_TYPE" validate:"oneof=glue memory"`
	Region    string `yaml:"region" env:"HOUSEKEEPER_CATALOG_REGION"`
	CatalogID string `yaml:"catalogId" env:"HOUSEKEEPER_CATALOG_ID"`
	Endpoint  string `yaml:"endpoint" env:"HOUSEKEEPER_CATALOG_ENDPOINT"`
}

type EventsConfig struct {
	Brokers        []string `yaml:"brokers" env:"HOUSEKEEPER_KAFKA_BROKERS" validate:"min=1,dive,hostname_port"`
	Topic          string   `yaml:"topic" env:"HOUSEKEEPER_KAFKA_TOPIC" validate:"required"`
	Group          string   `yaml:"group" env:"HOUSEKEEPER_KAFKA_GROUP" validate:"required"`
	RetryBackoffMs int64    `yaml:"retryBackoffMs" env:"HOUSEKEEPER_KAFKA_RETRY_BACKOFF_MS" validate:"min=0"`

	// SASLMechanism enables broker authentication: PLAIN, SCRAM-SHA-256
	// or SCRAM-SHA-512.
	SASLMechanism string `yaml:"saslMechanism" env:"HOUSEKEEPER_KAFKA_SASL_MECHANISM" validate:"omitempty,oneof=PLAIN SCRAM-SHA-256 SCRAM-SHA-512"`
	SASLUsername  string `yaml:"saslUsername" env:"HOUSEKEEPER_KAFKA_SASL_USERNAME" validate:"required_with=SASLMechanism"`
	SASLPassword  string `yaml:"saslPassword" env:"HOUSEKEEPER_KAFKA_SASL_PASSWORD"`

	// CreateTopic creates the topic at startup when it does not exist.
	CreateTopic       bool  `yaml:"createTopic" env:"HOUSEKEEPER_KAFKA_CREATE_TOPIC"`
	Partitions        int32 `yaml:"partitions" env:"HOUSEKEEPER_KAFKA_PARTITIONS" validate:"min=1"`
	ReplicationFactor int16 `yaml:"replicationFactor" env:"HOUSEKEEPER_KAFKA_REPLICATION_FACTOR" validate:"min=1"`
}

type SchedulerConfig struct {
	// ExpiredDelay applies to tables and partitions without a
	// beekeeper.expired.data.retention.period parameter.
	ExpiredDelay string `yaml:"expiredDelay" env:"HOUSEKEEPER_EXPIRED_DELAY" validate:"period"`

	// UnreferencedDelay applies to superseded locations without a
	// beekeeper.unreferenced.data.retention.period parameter.
	UnreferencedDelay string `yaml:"unreferencedDelay" env:"HOUSEKEEPER_UNREFERENCED_DELAY" validate:"period"`

	ConflictRetries uint `yaml:"conflictRetries" env:"HOUSEKEEPER_CONFLICT_RETRIES" validate:"min=1"`
}

type CleanupConfig struct {
	DryRun         bool     `yaml:"dryRun" env:"HOUSEKEEPER_DRY_RUN"`
	PageSize       int      `yaml:"pageSize" env:"HOUSEKEEPER_PAGE_SIZE" validate:"min=1"`
	ScanIntervalMs int64    `yaml:"scanIntervalMs" env:"HOUSEKEEPER_CLEANUP_INTERVAL_MS" validate:"min=1000"`
	Lifecycles     []string `yaml:"lifecycles" env:"HOUSEKEEPER_LIFECYCLES" validate:"min=1,dive,lifecycle"`
}

type RetentionConfig struct {
	Enabled    bool  `yaml:"enabled" env:"HOUSEKEEPER_RETENTION_ENABLED"`
	IntervalMs int64 `yaml:"intervalMs" env:"HOUSEKEEPER_RETENTION_INTERVAL_MS" validate:"min=1000"`
	AgeDays    int   `yaml:"ageDays" env:"HOUSEKEEPER_RETENTION_AGE_DAYS" validate:"min=1"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"HOUSEKEEPER_METRICS_ADDR"`
	HealthAddr  string `yaml:"healthAddr" env:"HOUSEKEEPER_HEALTH_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"HOUSEKEEPER_LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat   string `yaml:"logFormat" env:"HOUSEKEEPER_LOG_FORMAT" validate:"oneof=json text"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:       "postgres",
			DSN:          "host=localhost user=housekeeper dbname=housekeeper sslmode=disable",
			MaxOpenConns: 10,
			LogLevel:     "warn",
		},
		ObjectStore: ObjectStoreConfig{
			Region: "us-east-1",
		},
		Catalog: CatalogConfig{
			Type:   "glue",
			Region: "us-east-1",
		},
		Events: EventsConfig{
			Brokers:           []string{"localhost:9092"},
			Topic:             "apiary-events",
			Group:             "housekeeper-scheduler",
			RetryBackoffMs:    5000,
			Partitions:        1,
			ReplicationFactor: 1,
		},
		Scheduler: SchedulerConfig{
			ExpiredDelay:      "P30D",
			UnreferencedDelay: "P3D",
			ConflictRetries:   3,
		},
		Cleanup: CleanupConfig{
			DryRun:         false,
			PageSize:       500,
			ScanIntervalMs: 300000, // 5 minutes
			Lifecycles:     []string{"EXPIRED", "UNREFERENCED"},
		},
		Retention: RetentionConfig{
			Enabled:    true,
			IntervalMs: 86400000, // 1 day
			AgeDays:    182,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			HealthAddr:  ":8080",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Delays returns the parsed default cleanup delays. Call after Validate.
func (c SchedulerConfig) Delays() (expired, unreferenced housekeeping.Period) {
	return housekeeping.MustParsePeriod(c.ExpiredDelay), housekeeping.MustParsePeriod(c.UnreferencedDelay)
}

// LifecycleTypes returns the configured lifecycle types. Call after Validate.
func (c CleanupConfig) LifecycleTypes() []housekeeping.LifecycleType {
	out := make([]housekeeping.LifecycleType, 0, len(c.Lifecycles))
	for _, l := range c.Lifecycles {
		lt, _ := housekeeping.ParseLifecycleType(l)
		out = append(out, lt)
	}
	return out
}

// ScanInterval returns the cleanup interval.
func (c CleanupConfig) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalMs) * time.Millisecond
}

// RetryBackoff returns the consumer retry backoff.
func (c EventsConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}
