package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nimburion/objectbank/pkg/objectstore"
	"github.com/nimburion/objectbank/pkg/observability/logger"
	"github.com/nimburion/objectbank/pkg/version"
)

const (
	keyAttribute   = "object_key"
	valueAttribute = "payload"
)

type dynamoAPI interface {
	ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Adapter stores bank objects in DynamoDB. Each container is a table keyed by object_key.
type Adapter struct {
	client  dynamoAPI
	logger  logger.Logger
	timeout time.Duration
	mu      sync.RWMutex
	closed  bool
}

// Config holds DynamoDB adapter configuration.
type Config struct {
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	OperationTimeout time.Duration
}

// Cosa fa: costruisce client DynamoDB (AWS SDK v2) con supporto endpoint custom.
// Cosa NON fa: non crea tabelle; quello avviene tramite CreateContainer.
// Esempio minimo: adapter, err := dynamodb.NewAdapter(cfg, log)
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws region is required")
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = 5 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithAppID(version.AppID()),
	}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	var opts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	adapter := newAdapter(dynamodb.NewFromConfig(awsCfg, opts...), cfg.OperationTimeout, log)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := adapter.Ping(ctx); err != nil {
		return nil, err
	}

	log.Info("DynamoDB object store initialized", "region", cfg.Region, "endpoint", cfg.Endpoint)
	return adapter, nil
}

func newAdapter(client dynamoAPI, timeout time.Duration, log logger.Logger) *Adapter {
	return &Adapter{client: client, logger: log, timeout: timeout}
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
	_, err = a.client.PutItem(opCtx, &dynamodb.PutItemInput{
		TableName: aws.String(container),
		Item: map[string]types.AttributeValue{
			keyAttribute:   &types.AttributeValueMemberS{Value: key},
			valueAttribute: &types.AttributeValueMemberB{Value: value},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to put object %q: %w", key, translate(err))
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

	out, err := a.client.GetItem(opCtx, &dynamodb.GetItemInput{
		TableName:      aws.String(container),
		Key:            itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %q: %w", key, translate(err))
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("key %q: %w", key, objectstore.ErrNotFound)
	}
	payload, ok := out.Item[valueAttribute].(*types.AttributeValueMemberB)
	if !ok {
		return []byte{}, nil
	}
	return payload.Value, nil
}

// Delete removes the item; DeleteItem on a missing key already succeeds.
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

	_, err = a.client.DeleteItem(opCtx, &dynamodb.DeleteItemInput{
		TableName: aws.String(container),
		Key:       itemKey(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %q: %w", key, translate(err))
	}
	return nil
}

// List scans the table, filtering on begins_with(object_key, prefix).
func (a *Adapter) List(ctx context.Context, container, prefix string) ([]string, error) {
	if err := a.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	input := &dynamodb.ScanInput{
		TableName:            aws.String(container),
		ProjectionExpression: aws.String(keyAttribute),
		ConsistentRead:       aws.Bool(true),
	}
	if prefix != "" {
		input.FilterExpression = aws.String("begins_with(" + keyAttribute + ", :prefix)")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		}
	}

	var keys []string
	paginator := dynamodb.NewScanPaginator(a.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(opCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %q: %w", prefix, translate(err))
		}
		for _, item := range page.Items {
			if k, ok := item[keyAttribute].(*types.AttributeValueMemberS); ok {
				keys = append(keys, k.Value)
			}
		}
	}
	return objectstore.UniqueKeys(keys), nil
}

func (a *Adapter) HeadContainer(ctx context.Context, container string) (bool, error) {
	if err := a.ensureOpen(); err != nil {
		return false, err
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	_, err := a.client.DescribeTable(opCtx, &dynamodb.DescribeTableInput{TableName: aws.String(container)})
	if err != nil {
		var missing *types.ResourceNotFoundException
		if errors.As(err, &missing) {
			return false, nil
		}
		return false, fmt.Errorf("failed to describe table %q: %w", container, err)
	}
	return true, nil
}

// CreateContainer creates an on-demand table and waits until it is active.
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

	_, err = a.client.CreateTable(opCtx, &dynamodb.CreateTableInput{
		TableName: aws.String(container),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(keyAttribute), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(keyAttribute), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			return nil
		}
		return fmt.Errorf("failed to create table %q: %w", container, err)
	}

	maxWait := a.timeout
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	waiter := dynamodb.NewTableExistsWaiter(a.client)
	if err := waiter.Wait(opCtx, &dynamodb.DescribeTableInput{TableName: aws.String(container)}, maxWait); err != nil {
		return fmt.Errorf("table %q did not become active: %w", container, err)
	}
	a.logger.Info("DynamoDB table created", "table", container)
	return nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.ensureOpen(); err != nil {
		return err
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	_, err := a.client.ListTables(opCtx, &dynamodb.ListTablesInput{Limit: aws.Int32(1)})
	if err != nil {
		return fmt.Errorf("dynamodb ping failed: %w", err)
	}
	return nil
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.Ping(hcCtx); err != nil {
		a.logger.Error("DynamoDB health check failed", "error", err)
		return fmt.Errorf("dynamodb health check failed: %w", err)
	}
	return nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
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

func itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		keyAttribute: &types.AttributeValueMemberS{Value: key},
	}
}

// IsThrottlingError reports whether err is a provisioned throughput rejection.
func IsThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	var pte *types.ProvisionedThroughputExceededException
	return errors.As(err, &pte)
}

func translate(err error) error {
	var missing *types.ResourceNotFoundException
	if errors.As(err, &missing) {
		return errors.Join(objectstore.ErrContainerNotFound, err)
	}
	return err
}
