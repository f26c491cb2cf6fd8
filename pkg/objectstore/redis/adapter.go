package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/objectbank/pkg/objectstore"
	"github.com/nimburion/objectbank/pkg/observability/logger"
	"github.com/nimburion/objectbank/pkg/version"
)

const (
	defaultPrefix   = "objectbank"
	defaultScanSize = 500
)

// Config holds Redis connection configuration
type Config struct {
	URL              string
	Prefix           string
	MaxConns         int
	OperationTimeout time.Duration
}

// Adapter stores each container as a Redis hash (<prefix>:<container>:objects)
// next to a marker key (<prefix>:<container>) that records the container exists.
type Adapter struct {
	client *redis.Client
	logger logger.Logger
	config Config
}

// NewAdapter creates a new Redis adapter with connection pooling
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		opts.PoolSize = cfg.MaxConns
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = cfg.OperationTimeout
	opts.WriteTimeout = cfg.OperationTimeout
	if opts.ClientName == "" {
		opts.ClientName = version.AppID()
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info("Redis object store connected",
		"prefix", cfg.Prefix,
		"max_conns", cfg.MaxConns,
		"operation_timeout", cfg.OperationTimeout,
	)
	return newAdapter(client, cfg, log), nil
}

func newAdapter(client *redis.Client, cfg Config, log logger.Logger) *Adapter {
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = defaultPrefix
	}
	return &Adapter{client: client, logger: log, config: cfg}
}

// Client returns the underlying *redis.Client for direct access when needed
func (a *Adapter) Client() *redis.Client {
	return a.client
}

func (a *Adapter) Put(ctx context.Context, container, key string, value []byte) error {
	key, err := objectstore.ValidateKey(key)
	if err != nil {
		return err
	}
	if err := a.client.HSet(ctx, a.objectsKey(container), key, value).Err(); err != nil {
		return fmt.Errorf("failed to put object %q: %w", key, err)
	}
	return nil
}

func (a *Adapter) Get(ctx context.Context, container, key string) ([]byte, error) {
	key, err := objectstore.ValidateKey(key)
	if err != nil {
		return nil, err
	}
	val, err := a.client.HGet(ctx, a.objectsKey(container), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("key %q: %w", key, objectstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object %q: %w", key, err)
	}
	return val, nil
}

// Delete removes key from the container hash; HDEL on an absent field is a no-op.
func (a *Adapter) Delete(ctx context.Context, container, key string) error {
	key, err := objectstore.ValidateKey(key)
	if err != nil {
		return err
	}
	if err := a.client.HDel(ctx, a.objectsKey(container), key).Err(); err != nil {
		return fmt.Errorf("failed to delete object %q: %w", key, err)
	}
	return nil
}

// List walks the container hash with HSCAN. HSCAN may return a field more than once,
// so the result is de-duplicated.
func (a *Adapter) List(ctx context.Context, container, prefix string) ([]string, error) {
	match := escapeGlob(prefix) + "*"
	var keys []string
	iter := a.client.HScan(ctx, a.objectsKey(container), 0, match, defaultScanSize).Iterator()
	field := true
	for iter.Next(ctx) {
		// HSCAN yields field, value, field, value...
		if field {
			keys = append(keys, iter.Val())
		}
		field = !field
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list objects with prefix %q: %w", prefix, err)
	}
	return objectstore.UniqueKeys(keys), nil
}

func (a *Adapter) HeadContainer(ctx context.Context, container string) (bool, error) {
	n, err := a.client.Exists(ctx, a.containerKey(container)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check container %q: %w", container, err)
	}
	return n > 0, nil
}

// CreateContainer writes the container marker if it is not there yet.
func (a *Adapter) CreateContainer(ctx context.Context, container string) error {
	container, err := objectstore.ValidateContainer(container)
	if err != nil {
		return err
	}
	created, err := a.client.SetNX(ctx, a.containerKey(container), time.Now().UTC().Format(time.RFC3339), 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create container %q: %w", container, err)
	}
	if created {
		a.logger.Info("Redis container created", "container", container)
	}
	return nil
}

// HealthCheck verifies the Redis connection is healthy with a timeout
func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := a.client.Ping(ctx).Err(); err != nil {
		a.logger.Error("Redis health check failed", "error", err)
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close gracefully closes the Redis connection
func (a *Adapter) Close() error {
	if err := a.client.Close(); err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return nil
		}
		a.logger.Error("failed to close Redis connection", "error", err)
		return fmt.Errorf("failed to close redis connection: %w", err)
	}
	a.logger.Info("Redis connection closed")
	return nil
}

func (a *Adapter) containerKey(container string) string {
	return strings.TrimRight(a.config.Prefix, ":") + ":" + container
}

func (a *Adapter) objectsKey(container string) string {
	return a.containerKey(container) + ":objects"
}

// escapeGlob quotes the characters Redis MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^', '-':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
