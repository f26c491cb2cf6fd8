package mongodb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nimburion/objectbank/pkg/objectstore"
	"github.com/nimburion/objectbank/pkg/observability/logger"
	"github.com/nimburion/objectbank/pkg/version"
)

// namespaceExistsCode is returned by createCollection when the collection is already there.
const namespaceExistsCode = 48

// Config holds MongoDB adapter configuration.
type Config struct {
	URL              string
	Database         string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

// Adapter maps containers to collections of {_id: key, value: binary} documents.
type Adapter struct {
	client   *mongo.Client
	database string
	logger   logger.Logger
	timeout  time.Duration
	mu       sync.RWMutex
	closed   bool
}

type objectDocument struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewAdapter connects to MongoDB and verifies connectivity via ping.
// Collections are not created here; the bank provisions its container through CreateContainer.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mongodb URL is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("mongodb database is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.URL)
	if clientOptions.AppName == nil {
		clientOptions.SetAppName(version.AppID())
	}
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	log.Info("MongoDB object store connected", "database", cfg.Database)
	return &Adapter{
		client:   client,
		database: cfg.Database,
		logger:   log,
		timeout:  cfg.OperationTimeout,
	}, nil
}

func (a *Adapter) collection(container string) *mongo.Collection {
	return a.client.Database(a.database).Collection(container)
}

func (a *Adapter) Put(ctx context.Context, container, key string, value []byte) error {
	if err := a.ensureOpen(); err != nil {
		return err
	}
	key, err := objectstore.ValidateKey(key)
	if err != nil {
		return err
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	if value == nil {
		value = []byte{}
	}
	doc := objectDocument{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	_, err = a.collection(container).ReplaceOne(opCtx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to put object %q: %w", key, err)
	}
	return nil
}

func (a *Adapter) Get(ctx context.Context, container, key string) ([]byte, error) {
	if err := a.ensureOpen(); err != nil {
		return nil, err
	}
	key, err := objectstore.ValidateKey(key)
	if err != nil {
		return nil, err
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	var doc objectDocument
	err = a.collection(container).FindOne(opCtx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("key %q: %w", key, objectstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object %q: %w", key, err)
	}
	return doc.Value, nil
}

// Delete removes the document; DeleteOne with no match is not an error.
func (a *Adapter) Delete(ctx context.Context, container, key string) error {
	if err := a.ensureOpen(); err != nil {
		return err
	}
	key, err := objectstore.ValidateKey(key)
	if err != nil {
		return err
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	if _, err := a.collection(container).DeleteOne(opCtx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("failed to delete object %q: %w", key, err)
	}
	return nil
}

func (a *Adapter) List(ctx context.Context, container, prefix string) ([]string, error) {
	if err := a.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	cursor, err := a.collection(container).Find(opCtx, prefixFilter(prefix), options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list objects with prefix %q: %w", prefix, err)
	}
	defer cursor.Close(opCtx)

	var keys []string
	for cursor.Next(opCtx) {
		var doc struct {
			Key string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode object key: %w", err)
		}
		keys = append(keys, doc.Key)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate objects with prefix %q: %w", prefix, err)
	}
	return objectstore.UniqueKeys(keys), nil
}

func (a *Adapter) HeadContainer(ctx context.Context, container string) (bool, error) {
	if err := a.ensureOpen(); err != nil {
		return false, err
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	names, err := a.client.Database(a.database).ListCollectionNames(opCtx, bson.M{"name": container})
	if err != nil {
		return false, fmt.Errorf("failed to check container %q: %w", container, err)
	}
	return len(names) > 0, nil
}

func (a *Adapter) CreateContainer(ctx context.Context, container string) error {
	if err := a.ensureOpen(); err != nil {
		return err
	}
	container, err := objectstore.ValidateContainer(container)
	if err != nil {
		return err
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	err = a.client.Database(a.database).CreateCollection(opCtx, container)
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == namespaceExistsCode {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create collection %q: %w", container, err)
	}
	a.logger.Info("MongoDB collection created", "collection", container)
	return nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.ensureOpen(); err != nil {
		return err
	}
	return a.client.Ping(ctx, readpref.Primary())
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.Ping(hcCtx); err != nil {
		a.logger.Error("MongoDB health check failed", "error", err)
		return fmt.Errorf("mongodb health check failed: %w", err)
	}
	return nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to close mongodb connection: %w", err)
	}
	return nil
}

func (a *Adapter) ensureOpen() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return objectstore.ErrClosed
	}
	return nil
}

func (a *Adapter) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

func prefixFilter(prefix string) bson.M {
	if prefix == "" {
		return bson.M{}
	}
	return bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
}
