package config

import "time"

// Object store type constants
const (
	// ObjectStoreTypeMemory keeps objects in process memory
	ObjectStoreTypeMemory = "memory"
	// ObjectStoreTypeS3 stores objects in AWS S3 or an S3-compatible endpoint
	ObjectStoreTypeS3 = "s3"
	// ObjectStoreTypeRedis stores objects in Redis hashes
	ObjectStoreTypeRedis = "redis"
	// ObjectStoreTypeMongoDB stores objects in MongoDB collections
	ObjectStoreTypeMongoDB = "mongodb"
	// ObjectStoreTypeDynamoDB stores objects in DynamoDB tables
	ObjectStoreTypeDynamoDB = "dynamodb"
)

// Create policy constants
const (
	// CreatePolicyUpsert lets CreateObject overwrite an existing key
	CreatePolicyUpsert = "upsert"
	// CreatePolicyCreateOnly makes CreateObject fail on an existing key
	CreatePolicyCreateOnly = "create-only"
)

// Config is the root configuration structure for the object bank
type Config struct {
	Service       ServiceConfig       `mapstructure:"service" yaml:"service"`
	Bank          BankConfig          `mapstructure:"bank" yaml:"bank"`
	ObjectStore   ObjectStoreConfig   `mapstructure:"object_store" yaml:"object_store"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
}

// ServiceConfig identifies the running service
type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// BankConfig configures the bank container and its lease
type BankConfig struct {
	Container           string        `mapstructure:"container" yaml:"container"`
	LeaseExpireWindow   time.Duration `mapstructure:"lease_expire_window" yaml:"lease_expire_window"`
	LeaseRenewWindow    time.Duration `mapstructure:"lease_renew_window" yaml:"lease_renew_window"`
	LeaseValidityWindow time.Duration `mapstructure:"lease_validity_window" yaml:"lease_validity_window"`
	LeaseGating         bool          `mapstructure:"lease_gating" yaml:"lease_gating"`
	CreatePolicy        string        `mapstructure:"create_policy" yaml:"create_policy"`
	DurableLease        bool          `mapstructure:"durable_lease" yaml:"durable_lease"`
	LeaseObjectKey      string        `mapstructure:"lease_object_key" yaml:"lease_object_key"`
}

// ObjectStoreConfig selects and configures the backing object store
type ObjectStoreConfig struct {
	Type             string         `mapstructure:"type" yaml:"type"`
	OperationTimeout time.Duration  `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	S3               S3Config       `mapstructure:"s3" yaml:"s3"`
	Redis            RedisConfig    `mapstructure:"redis" yaml:"redis"`
	MongoDB          MongoDBConfig  `mapstructure:"mongodb" yaml:"mongodb"`
	DynamoDB         DynamoDBConfig `mapstructure:"dynamodb" yaml:"dynamodb"`

	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
}

// CircuitBreakerConfig guards the object store with a circuit breaker
type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxFailures  int           `mapstructure:"max_failures" yaml:"max_failures"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout"`
}

// S3Config configures the S3 backend. The bank container is the bucket name.
type S3Config struct {
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token" yaml:"session_token"`
	UsePathStyle    bool   `mapstructure:"use_path_style" yaml:"use_path_style"`
}

// RedisConfig configures the Redis backend
type RedisConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
	MaxConns int    `mapstructure:"max_conns" yaml:"max_conns"`
}

// MongoDBConfig configures the MongoDB backend
type MongoDBConfig struct {
	URL            string        `mapstructure:"url" yaml:"url"`
	Database       string        `mapstructure:"database" yaml:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// DynamoDBConfig configures the DynamoDB backend
type DynamoDBConfig struct {
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token" yaml:"session_token"`
}

// ObservabilityConfig configures logging, metrics exposition and tracing
type ObservabilityConfig struct {
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"` // json, text

	// MetricsAddr is the listen address of the /metrics and /healthz endpoints. Empty disables them.
	MetricsAddr string        `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	Tracing     TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// TracingConfig configures OTLP trace export
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "objectbank",
			Environment: "development",
		},
		Bank: BankConfig{
			Container:           "objects",
			LeaseExpireWindow:   600 * time.Second,
			LeaseRenewWindow:    120 * time.Second,
			LeaseValidityWindow: 100 * time.Second,
			LeaseGating:         false,
			CreatePolicy:        CreatePolicyUpsert,
			DurableLease:        false,
			LeaseObjectKey:      ".bank-lease",
		},
		ObjectStore: ObjectStoreConfig{
			Type:             ObjectStoreTypeMemory,
			OperationTimeout: 10 * time.Second,
			S3: S3Config{
				Region: "us-east-1",
			},
			Redis: RedisConfig{
				Prefix:   "objectbank",
				MaxConns: 10,
			},
			MongoDB: MongoDBConfig{
				Database:       "objectbank",
				ConnectTimeout: 10 * time.Second,
			},
			DynamoDB: DynamoDBConfig{
				Region: "us-east-1",
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:      false,
				MaxFailures:  5,
				ResetTimeout: 30 * time.Second,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing: TracingConfig{
				Enabled:    false,
				SampleRate: 1.0,
			},
		},
	}
}
