package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awss3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/nimburion/objectbank/pkg/objectstore"
	"github.com/nimburion/objectbank/pkg/observability/logger"
	"github.com/nimburion/objectbank/pkg/version"
)

const defaultListPageSize int32 = 1000

// Config defines S3 adapter configuration. Containers map to buckets.
type Config struct {
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	UsePathStyle     bool
	OperationTimeout time.Duration
	// HealthBucket is probed by HealthCheck; when empty a one-item ListBuckets call is used instead.
	HealthBucket string
}

type s3API interface {
	HeadBucket(ctx context.Context, params *awss3.HeadBucketInput, optFns ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *awss3.CreateBucketInput, optFns ...func(*awss3.Options)) (*awss3.CreateBucketOutput, error)
	ListBuckets(ctx context.Context, params *awss3.ListBucketsInput, optFns ...func(*awss3.Options)) (*awss3.ListBucketsOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
}

// Adapter stores bank objects in S3 (or any S3-compatible endpoint).
type Adapter struct {
	client s3API
	logger logger.Logger
	config Config

	mu     sync.RWMutex
	closed bool
}

// NewAdapter creates a new S3 adapter and verifies the endpoint is reachable.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, errors.New("aws region is required")
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 10 * time.Second
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

	clientOptions := make([]func(*awss3.Options), 0, 2)
	if cfg.Endpoint != "" {
		clientOptions = append(clientOptions, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		clientOptions = append(clientOptions, func(o *awss3.Options) {
			o.UsePathStyle = true
		})
	}

	adapter := newAdapter(awss3.NewFromConfig(awsCfg, clientOptions...), cfg, log)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := adapter.ping(ctx); err != nil {
		return nil, err
	}

	log.Info("S3 object store initialized", "region", cfg.Region, "endpoint", cfg.Endpoint)
	return adapter, nil
}

func newAdapter(client s3API, cfg Config, log logger.Logger) *Adapter {
	return &Adapter{client: client, logger: log, config: cfg}
}

// Put uploads value under key in the container bucket.
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

	_, err = a.client.PutObject(opCtx, &awss3.PutObjectInput{
		Bucket:        aws.String(container),
		Key:           aws.String(key),
		Body:          bytes.NewReader(value),
		ContentLength: aws.Int64(int64(len(value))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %q: %w", key, translate(err))
	}
	return nil
}

// Get downloads the payload stored under key.
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

	resp, err := a.client.GetObject(opCtx, &awss3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download object %q: %w", key, translate(err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %q: %w", key, err)
	}
	return payload, nil
}

// Delete removes key. S3 already treats deleting an absent key as success.
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

	_, err = a.client.DeleteObject(opCtx, &awss3.DeleteObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		translated := translate(err)
		if errors.Is(translated, objectstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete object %q: %w", key, translated)
	}
	return nil
}

// List pages through ListObjectsV2 and returns every key under prefix.
func (a *Adapter) List(ctx context.Context, container, prefix string) ([]string, error) {
	if err := a.ensureOpen(); err != nil {
		return nil, err
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	input := &awss3.ListObjectsV2Input{
		Bucket:  aws.String(container),
		MaxKeys: aws.Int32(defaultListPageSize),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var keys []string
	for {
		resp, err := a.client.ListObjectsV2(opCtx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %q: %w", prefix, translate(err))
		}
		for _, item := range resp.Contents {
			keys = append(keys, aws.ToString(item.Key))
		}
		if !aws.ToBool(resp.IsTruncated) || aws.ToString(resp.NextContinuationToken) == "" {
			break
		}
		input.ContinuationToken = resp.NextContinuationToken
	}
	return objectstore.UniqueKeys(keys), nil
}

// HeadContainer reports whether the bucket exists and is accessible.
func (a *Adapter) HeadContainer(ctx context.Context, container string) (bool, error) {
	if err := a.ensureOpen(); err != nil {
		return false, err
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	_, err := a.client.HeadBucket(opCtx, &awss3.HeadBucketInput{Bucket: aws.String(container)})
	if err != nil {
		translated := translate(err)
		if errors.Is(translated, objectstore.ErrNotFound) || errors.Is(translated, objectstore.ErrContainerNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head bucket %q: %w", container, translated)
	}
	return true, nil
}

// CreateContainer creates the bucket; an already owned bucket is not an error.
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

	input := &awss3.CreateBucketInput{Bucket: aws.String(container)}
	if a.config.Region != "" && a.config.Region != "us-east-1" {
		input.CreateBucketConfiguration = &awss3types.CreateBucketConfiguration{
			LocationConstraint: awss3types.BucketLocationConstraint(a.config.Region),
		}
	}
	_, err = a.client.CreateBucket(opCtx, input)
	if err != nil {
		var owned *awss3types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %q: %w", container, err)
	}
	a.logger.Info("S3 bucket created", "bucket", container)
	return nil
}

// HealthCheck verifies the adapter can reach S3 within a short timeout.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.ping(hcCtx); err != nil {
		a.logger.Error("S3 health check failed", "error", err)
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

// Close marks the adapter as closed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *Adapter) ping(ctx context.Context) error {
	if err := a.ensureOpen(); err != nil {
		return err
	}
	var err error
	if bucket := strings.TrimSpace(a.config.HealthBucket); bucket != "" {
		_, err = a.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(bucket)})
	} else {
		_, err = a.client.ListBuckets(ctx, &awss3.ListBucketsInput{MaxBuckets: aws.Int32(1)})
	}
	if err != nil {
		return fmt.Errorf("s3 ping failed: %w", err)
	}
	return nil
}

func (a *Adapter) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.config.OperationTimeout)
}

func (a *Adapter) ensureOpen() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return objectstore.ErrClosed
	}
	return nil
}

// translate maps S3 missing-key and missing-bucket errors onto objectstore sentinels,
// keeping the SDK error reachable through errors.As.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var noSuchKey *awss3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return errors.Join(objectstore.ErrNotFound, err)
	}
	var noSuchBucket *awss3types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return errors.Join(objectstore.ErrContainerNotFound, err)
	}
	var notFound *awss3types.NotFound
	if errors.As(err, &notFound) {
		return errors.Join(objectstore.ErrNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return errors.Join(objectstore.ErrNotFound, err)
		case "NoSuchBucket":
			return errors.Join(objectstore.ErrContainerNotFound, err)
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return errors.Join(objectstore.ErrNotFound, err)
	}
	return err
}
