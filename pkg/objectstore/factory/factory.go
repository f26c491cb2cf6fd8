// Package factory builds objectstore adapters from configuration through a static registry
// keyed by object_store.type.
package factory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nimburion/objectbank/pkg/config"
	"github.com/nimburion/objectbank/pkg/objectstore"
	"github.com/nimburion/objectbank/pkg/objectstore/dynamodb"
	"github.com/nimburion/objectbank/pkg/objectstore/memory"
	"github.com/nimburion/objectbank/pkg/objectstore/mongodb"
	"github.com/nimburion/objectbank/pkg/objectstore/redis"
	"github.com/nimburion/objectbank/pkg/objectstore/resilient"
	"github.com/nimburion/objectbank/pkg/objectstore/s3"
	"github.com/nimburion/objectbank/pkg/observability/logger"
)

const callTimeoutGrace = time.Second

// Builder constructs an adapter from the object_store section.
type Builder func(cfg config.ObjectStoreConfig, log logger.Logger) (objectstore.Adapter, error)

var (
	mu       sync.RWMutex
	builders = map[string]Builder{
		config.ObjectStoreTypeMemory:   newMemory,
		config.ObjectStoreTypeS3:       newS3,
		config.ObjectStoreTypeRedis:    newRedis,
		config.ObjectStoreTypeMongoDB:  newMongoDB,
		config.ObjectStoreTypeDynamoDB: newDynamoDB,
	}
)

// Register adds or replaces the builder for name.
func Register(name string, builder Builder) error {
	name = normalize(name)
	if name == "" {
		return fmt.Errorf("object store type name is required")
	}
	if builder == nil {
		return fmt.Errorf("object store builder for %q is nil", name)
	}
	mu.Lock()
	defer mu.Unlock()
	builders[name] = builder
	return nil
}

// Types returns the registered type names, sorted.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Cosa fa: seleziona e inizializza l'object store in base a object_store.type.
// Cosa NON fa: non crea il container; se ne occupa bank.New.
// Esempio minimo: adp, err := factory.New(cfg.ObjectStore, log)
func New(cfg config.ObjectStoreConfig, log logger.Logger) (objectstore.Adapter, error) {
	if log == nil {
		log = logger.Nop()
	}
	storeType := normalize(cfg.Type)

	mu.RLock()
	builder, ok := builders[storeType]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported object_store.type %q (supported: %s)", cfg.Type, strings.Join(Types(), ", "))
	}

	adapter, err := builder(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s object store: %w", storeType, err)
	}
	if !cfg.CircuitBreaker.Enabled {
		return adapter, nil
	}

	guarded, err := resilient.New(adapter, resilient.Config{
		Name:         storeType,
		MaxFailures:  cfg.CircuitBreaker.MaxFailures,
		ResetTimeout: cfg.CircuitBreaker.ResetTimeout,
		CallTimeout:  callTimeout(cfg.OperationTimeout),
	}, log)
	if err != nil {
		_ = adapter.Close()
		return nil, fmt.Errorf("failed to guard %s object store: %w", storeType, err)
	}
	return guarded, nil
}

// callTimeout leaves the backend a grace period to report its own deadline first.
func callTimeout(operationTimeout time.Duration) time.Duration {
	if operationTimeout <= 0 {
		return 0
	}
	return operationTimeout + callTimeoutGrace
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func newMemory(config.ObjectStoreConfig, logger.Logger) (objectstore.Adapter, error) {
	return memory.NewAdapter(), nil
}

func newS3(cfg config.ObjectStoreConfig, log logger.Logger) (objectstore.Adapter, error) {
	return s3.NewAdapter(s3.Config{
		Region:           cfg.S3.Region,
		Endpoint:         cfg.S3.Endpoint,
		AccessKeyID:      cfg.S3.AccessKeyID,
		SecretAccessKey:  cfg.S3.SecretAccessKey,
		SessionToken:     cfg.S3.SessionToken,
		UsePathStyle:     cfg.S3.UsePathStyle,
		OperationTimeout: cfg.OperationTimeout,
	}, log)
}

func newRedis(cfg config.ObjectStoreConfig, log logger.Logger) (objectstore.Adapter, error) {
	return redis.NewAdapter(redis.Config{
		URL:              cfg.Redis.URL,
		Prefix:           cfg.Redis.Prefix,
		MaxConns:         cfg.Redis.MaxConns,
		OperationTimeout: cfg.OperationTimeout,
	}, log)
}

func newMongoDB(cfg config.ObjectStoreConfig, log logger.Logger) (objectstore.Adapter, error) {
	return mongodb.NewAdapter(mongodb.Config{
		URL:              cfg.MongoDB.URL,
		Database:         cfg.MongoDB.Database,
		ConnectTimeout:   cfg.MongoDB.ConnectTimeout,
		OperationTimeout: cfg.OperationTimeout,
	}, log)
}

func newDynamoDB(cfg config.ObjectStoreConfig, log logger.Logger) (objectstore.Adapter, error) {
	return dynamodb.NewAdapter(dynamodb.Config{
		Region:           cfg.DynamoDB.Region,
		Endpoint:         cfg.DynamoDB.Endpoint,
		AccessKeyID:      cfg.DynamoDB.AccessKeyID,
		SecretAccessKey:  cfg.DynamoDB.SecretAccessKey,
		SessionToken:     cfg.DynamoDB.SessionToken,
		OperationTimeout: cfg.OperationTimeout,
	}, log)
}
