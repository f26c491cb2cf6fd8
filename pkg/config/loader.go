package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile string
	envPrefix  string
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "BANK")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// Load loads configuration with precedence: ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	l.setDefaults(v, defaults)

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	// Bank
	v.BindEnv("bank.container", l.prefixedEnv("BANK_CONTAINER"), l.prefixedEnv("CONTAINER"))
	v.BindEnv("bank.lease_expire_window", l.prefixedEnv("BANK_LEASE_EXPIRE_WINDOW"))
	v.BindEnv("bank.lease_renew_window", l.prefixedEnv("BANK_LEASE_RENEW_WINDOW"))
	v.BindEnv("bank.lease_validity_window", l.prefixedEnv("BANK_LEASE_VALIDITY_WINDOW"))
	v.BindEnv("bank.lease_gating", l.prefixedEnv("BANK_LEASE_GATING"))
	v.BindEnv("bank.create_policy", l.prefixedEnv("BANK_CREATE_POLICY"))
	v.BindEnv("bank.durable_lease", l.prefixedEnv("BANK_DURABLE_LEASE"))
	v.BindEnv("bank.lease_object_key", l.prefixedEnv("BANK_LEASE_OBJECT_KEY"))

	// Object store
	v.BindEnv("object_store.type", l.prefixedEnv("OBJECT_STORE_TYPE"), l.prefixedEnv("STORE_TYPE"))
	v.BindEnv("object_store.operation_timeout", l.prefixedEnv("OBJECT_STORE_OPERATION_TIMEOUT"))
	v.BindEnv("object_store.s3.region", l.prefixedEnv("OBJECT_STORE_S3_REGION"))
	v.BindEnv("object_store.s3.endpoint", l.prefixedEnv("OBJECT_STORE_S3_ENDPOINT"))
	v.BindEnv("object_store.s3.access_key_id", l.prefixedEnv("OBJECT_STORE_S3_ACCESS_KEY_ID"))
	v.BindEnv("object_store.s3.secret_access_key", l.prefixedEnv("OBJECT_STORE_S3_SECRET_ACCESS_KEY"))
	v.BindEnv("object_store.s3.session_token", l.prefixedEnv("OBJECT_STORE_S3_SESSION_TOKEN"))
	v.BindEnv("object_store.s3.use_path_style", l.prefixedEnv("OBJECT_STORE_S3_USE_PATH_STYLE"))
	v.BindEnv("object_store.redis.url", l.prefixedEnv("OBJECT_STORE_REDIS_URL"))
	v.BindEnv("object_store.redis.prefix", l.prefixedEnv("OBJECT_STORE_REDIS_PREFIX"))
	v.BindEnv("object_store.redis.max_conns", l.prefixedEnv("OBJECT_STORE_REDIS_MAX_CONNS"))
	v.BindEnv("object_store.mongodb.url", l.prefixedEnv("OBJECT_STORE_MONGODB_URL"))
	v.BindEnv("object_store.mongodb.database", l.prefixedEnv("OBJECT_STORE_MONGODB_DATABASE"))
	v.BindEnv("object_store.mongodb.connect_timeout", l.prefixedEnv("OBJECT_STORE_MONGODB_CONNECT_TIMEOUT"))
	v.BindEnv("object_store.dynamodb.region", l.prefixedEnv("OBJECT_STORE_DYNAMODB_REGION"))
	v.BindEnv("object_store.dynamodb.endpoint", l.prefixedEnv("OBJECT_STORE_DYNAMODB_ENDPOINT"))
	v.BindEnv("object_store.dynamodb.access_key_id", l.prefixedEnv("OBJECT_STORE_DYNAMODB_ACCESS_KEY_ID"))
	v.BindEnv("object_store.dynamodb.secret_access_key", l.prefixedEnv("OBJECT_STORE_DYNAMODB_SECRET_ACCESS_KEY"))
	v.BindEnv("object_store.dynamodb.session_token", l.prefixedEnv("OBJECT_STORE_DYNAMODB_SESSION_TOKEN"))
	v.BindEnv("object_store.circuit_breaker.enabled", l.prefixedEnv("OBJECT_STORE_CIRCUIT_BREAKER_ENABLED"))
	v.BindEnv("object_store.circuit_breaker.max_failures", l.prefixedEnv("OBJECT_STORE_CIRCUIT_BREAKER_MAX_FAILURES"))
	v.BindEnv("object_store.circuit_breaker.reset_timeout", l.prefixedEnv("OBJECT_STORE_CIRCUIT_BREAKER_RESET_TIMEOUT"))

	// Observability
	v.BindEnv("observability.log_level", l.prefixedEnv("OBSERVABILITY_LOG_LEVEL"), l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("observability.log_format", l.prefixedEnv("OBSERVABILITY_LOG_FORMAT"), l.prefixedEnv("LOG_FORMAT"))
	v.BindEnv("observability.metrics_addr", l.prefixedEnv("OBSERVABILITY_METRICS_ADDR"), l.prefixedEnv("METRICS_ADDR"))
	v.BindEnv("observability.tracing.enabled", l.prefixedEnv("OBSERVABILITY_TRACING_ENABLED"))
	v.BindEnv("observability.tracing.endpoint", l.prefixedEnv("OBSERVABILITY_TRACING_ENDPOINT"))
	v.BindEnv("observability.tracing.sample_rate", l.prefixedEnv("OBSERVABILITY_TRACING_SAMPLE_RATE"))
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = "BANK"
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

// setDefaults sets default values in viper
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	// Bank defaults
	v.SetDefault("bank.container", cfg.Bank.Container)
	v.SetDefault("bank.lease_expire_window", cfg.Bank.LeaseExpireWindow)
	v.SetDefault("bank.lease_renew_window", cfg.Bank.LeaseRenewWindow)
	v.SetDefault("bank.lease_validity_window", cfg.Bank.LeaseValidityWindow)
	v.SetDefault("bank.lease_gating", cfg.Bank.LeaseGating)
	v.SetDefault("bank.create_policy", cfg.Bank.CreatePolicy)
	v.SetDefault("bank.durable_lease", cfg.Bank.DurableLease)
	v.SetDefault("bank.lease_object_key", cfg.Bank.LeaseObjectKey)

	// Object store defaults
	v.SetDefault("object_store.type", cfg.ObjectStore.Type)
	v.SetDefault("object_store.operation_timeout", cfg.ObjectStore.OperationTimeout)
	v.SetDefault("object_store.s3.region", cfg.ObjectStore.S3.Region)
	v.SetDefault("object_store.s3.endpoint", cfg.ObjectStore.S3.Endpoint)
	v.SetDefault("object_store.s3.access_key_id", cfg.ObjectStore.S3.AccessKeyID)
	v.SetDefault("object_store.s3.secret_access_key", cfg.ObjectStore.S3.SecretAccessKey)
	v.SetDefault("object_store.s3.session_token", cfg.ObjectStore.S3.SessionToken)
	v.SetDefault("object_store.s3.use_path_style", cfg.ObjectStore.S3.UsePathStyle)
	v.SetDefault("object_store.redis.url", cfg.ObjectStore.Redis.URL)
	v.SetDefault("object_store.redis.prefix", cfg.ObjectStore.Redis.Prefix)
	v.SetDefault("object_store.redis.max_conns", cfg.ObjectStore.Redis.MaxConns)
	v.SetDefault("object_store.mongodb.url", cfg.ObjectStore.MongoDB.URL)
	v.SetDefault("object_store.mongodb.database", cfg.ObjectStore.MongoDB.Database)
	v.SetDefault("object_store.mongodb.connect_timeout", cfg.ObjectStore.MongoDB.ConnectTimeout)
	v.SetDefault("object_store.dynamodb.region", cfg.ObjectStore.DynamoDB.Region)
	v.SetDefault("object_store.dynamodb.endpoint", cfg.ObjectStore.DynamoDB.Endpoint)
	v.SetDefault("object_store.dynamodb.access_key_id", cfg.ObjectStore.DynamoDB.AccessKeyID)
	v.SetDefault("object_store.dynamodb.secret_access_key", cfg.ObjectStore.DynamoDB.SecretAccessKey)
	v.SetDefault("object_store.dynamodb.session_token", cfg.ObjectStore.DynamoDB.SessionToken)
	v.SetDefault("object_store.circuit_breaker.enabled", cfg.ObjectStore.CircuitBreaker.Enabled)
	v.SetDefault("object_store.circuit_breaker.max_failures", cfg.ObjectStore.CircuitBreaker.MaxFailures)
	v.SetDefault("object_store.circuit_breaker.reset_timeout", cfg.ObjectStore.CircuitBreaker.ResetTimeout)

	// Observability defaults
	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.metrics_addr", cfg.Observability.MetricsAddr)
	v.SetDefault("observability.tracing.enabled", cfg.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.endpoint", cfg.Observability.Tracing.Endpoint)
	v.SetDefault("observability.tracing.sample_rate", cfg.Observability.Tracing.SampleRate)
}

// Validate validates the configuration and returns every problem found
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []error

	cfg.Service.Name = strings.TrimSpace(cfg.Service.Name)
	cfg.Bank.Container = strings.TrimSpace(cfg.Bank.Container)
	cfg.Bank.CreatePolicy = strings.ToLower(strings.TrimSpace(cfg.Bank.CreatePolicy))
	cfg.Bank.LeaseObjectKey = strings.TrimSpace(cfg.Bank.LeaseObjectKey)
	cfg.ObjectStore.Type = strings.ToLower(strings.TrimSpace(cfg.ObjectStore.Type))
	cfg.Observability.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Observability.LogLevel))
	cfg.Observability.LogFormat = strings.ToLower(strings.TrimSpace(cfg.Observability.LogFormat))

	if cfg.Service.Name == "" {
		errs = append(errs, errors.New("service.name is required"))
	}

	// Validate Bank configuration
	if cfg.Bank.Container == "" {
		errs = append(errs, errors.New("bank.container is required"))
	}
	if cfg.Bank.LeaseExpireWindow <= 0 {
		errs = append(errs, fmt.Errorf("invalid bank.lease_expire_window: %s (must be > 0)", cfg.Bank.LeaseExpireWindow))
	}
	if cfg.Bank.LeaseRenewWindow < 0 {
		errs = append(errs, errors.New("bank.lease_renew_window cannot be negative"))
	}
	if cfg.Bank.LeaseValidityWindow < 0 {
		errs = append(errs, errors.New("bank.lease_validity_window cannot be negative"))
	}
	if cfg.Bank.LeaseExpireWindow > 0 && cfg.Bank.LeaseValidityWindow >= cfg.Bank.LeaseExpireWindow {
		errs = append(errs, errors.New("bank.lease_validity_window must be smaller than bank.lease_expire_window"))
	}
	if cfg.Bank.LeaseExpireWindow > 0 && cfg.Bank.LeaseRenewWindow >= cfg.Bank.LeaseExpireWindow {
		errs = append(errs, errors.New("bank.lease_renew_window must be smaller than bank.lease_expire_window"))
	}
	validPolicies := []string{CreatePolicyUpsert, CreatePolicyCreateOnly}
	if !contains(validPolicies, cfg.Bank.CreatePolicy) {
		errs = append(errs, fmt.Errorf("invalid bank.create_policy: %s (must be one of: %v)", cfg.Bank.CreatePolicy, validPolicies))
	}
	if cfg.Bank.DurableLease && cfg.Bank.LeaseObjectKey == "" {
		errs = append(errs, errors.New("bank.lease_object_key is required when durable_lease is enabled"))
	}

	// Validate ObjectStore configuration. Types registered at runtime are checked by the factory.
	if cfg.ObjectStore.Type == "" {
		errs = append(errs, errors.New("object_store.type is required"))
	}
	if cfg.ObjectStore.OperationTimeout < 0 {
		errs = append(errs, errors.New("object_store.operation_timeout cannot be negative"))
	}
	switch cfg.ObjectStore.Type {
	case ObjectStoreTypeS3:
		if strings.TrimSpace(cfg.ObjectStore.S3.Region) == "" {
			errs = append(errs, errors.New("object_store.s3.region is required when object_store.type is s3"))
		}
	case ObjectStoreTypeRedis:
		if strings.TrimSpace(cfg.ObjectStore.Redis.URL) == "" {
			errs = append(errs, errors.New("object_store.redis.url is required when object_store.type is redis"))
		}
		if cfg.ObjectStore.Redis.MaxConns < 0 {
			errs = append(errs, errors.New("object_store.redis.max_conns cannot be negative"))
		}
	case ObjectStoreTypeMongoDB:
		if strings.TrimSpace(cfg.ObjectStore.MongoDB.URL) == "" {
			errs = append(errs, errors.New("object_store.mongodb.url is required when object_store.type is mongodb"))
		}
		if strings.TrimSpace(cfg.ObjectStore.MongoDB.Database) == "" {
			errs = append(errs, errors.New("object_store.mongodb.database is required when object_store.type is mongodb"))
		}
	case ObjectStoreTypeDynamoDB:
		if strings.TrimSpace(cfg.ObjectStore.DynamoDB.Region) == "" {
			errs = append(errs, errors.New("object_store.dynamodb.region is required when object_store.type is dynamodb"))
		}
	}

	if cb := cfg.ObjectStore.CircuitBreaker; cb.Enabled {
		if cb.MaxFailures <= 0 {
			errs = append(errs, fmt.Errorf("invalid object_store.circuit_breaker.max_failures: %d (must be > 0)", cb.MaxFailures))
		}
		if cb.ResetTimeout <= 0 {
			errs = append(errs, fmt.Errorf("invalid object_store.circuit_breaker.reset_timeout: %s (must be > 0)", cb.ResetTimeout))
		}
	}

	// Validate Observability configuration
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, cfg.Observability.LogLevel) {
		errs = append(errs, fmt.Errorf("invalid observability.log_level: %s (must be one of: %v)", cfg.Observability.LogLevel, validLogLevels))
	}
	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, cfg.Observability.LogFormat) {
		errs = append(errs, fmt.Errorf("invalid observability.log_format: %s (must be one of: %v)", cfg.Observability.LogFormat, validLogFormats))
	}
	cfg.Observability.MetricsAddr = strings.TrimSpace(cfg.Observability.MetricsAddr)
	if tr := cfg.Observability.Tracing; tr.Enabled {
		if strings.TrimSpace(tr.Endpoint) == "" {
			errs = append(errs, errors.New("observability.tracing.endpoint is required when tracing is enabled"))
		}
		if tr.SampleRate < 0 || tr.SampleRate > 1 {
			errs = append(errs, fmt.Errorf("invalid observability.tracing.sample_rate: %v (must be between 0 and 1)", tr.SampleRate))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// contains checks if a string slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
