package adapter

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStorage defines the object storage operations the batch reader needs.
// Keys are returned in the listing order of the backing store; S3 guarantees
// UTF-8 binary order, which the checkpoint logic relies on.
type ObjectStorage interface {
	// ListKeys returns all keys under prefix strictly after startAfter
	ListKeys(ctx context.Context, prefix string, startAfter string) ([]string, error)
	// GetObject reads a whole object into memory
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// S3Config holds configuration for the S3-backed object storage client
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (for MinIO, LocalStack, etc.)
}

// s3Storage implements ObjectStorage using AWS S3
type s3Storage struct {
	client *s3.Client
	bucket string
}

// NewS3Storage creates a new S3-backed object storage client
func NewS3Storage(ctx context.Context, cfg S3Config) (ObjectStorage, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	}

	return &s3Storage{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
	}, nil
}

// ListKeys lists all keys under prefix strictly after startAfter, following
// pagination until exhaustion. Listing exhaustion is not an error.
func (s *s3Storage) ListKeys(ctx context.Context, prefix string, startAfter string) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	if startAfter != "" {
		input.StartAfter = aws.String(startAfter)
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list failed: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	return keys, nil
}

// GetObject downloads a whole object
func (s *s3Storage) GetObject(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get failed for %s: %w", key, err)
	}
	defer func() { _ = result.Body.Close() }()

	return io.ReadAll(result.Body)
}
