package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Compile-time checks that S3Store implements the store interfaces.
var (
	_ PersistentStore = (*S3Store)(nil)
	_ Lister          = (*S3Store)(nil)
)

// S3Store keeps L3 entries as objects in an S3 bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Option configures an S3Store.
type S3Option func(*S3Store) error

// NewS3Store creates a store for an existing bucket.
func NewS3Store(ctx context.Context, bucket string, opts ...S3Option) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	s := &S3Store{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// WithS3Prefix sets a key prefix for all objects.
func WithS3Prefix(prefix string) S3Option {
	return func(s *S3Store) error {
		s.prefix = objectPrefix(prefix)
		return nil
	}
}

// WithS3Region sets the AWS region.
func WithS3Region(region string) S3Option {
	return func(s *S3Store) error {
		cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
		if err != nil {
			return fmt.Errorf("loading AWS config with region: %w", err)
		}
		s.client = s3.NewFromConfig(cfg)
		return nil
	}
}

// WithS3Endpoint points the client at an S3-compatible service such as MinIO.
func WithS3Endpoint(endpoint string) S3Option {
	return func(s *S3Store) error {
		cfg, err := config.LoadDefaultConfig(context.Background())
		if err != nil {
			return fmt.Errorf("loading AWS config for endpoint: %w", err)
		}
		s.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
		return nil
	}
}

// Store uploads data as one object.
func (s *S3Store) Store(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("%w: writing object: %v", ErrPersistentStore, err)
	}
	return nil
}

// Retrieve downloads the object for key.
func (s *S3Store) Retrieve(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: reading object: %v", ErrPersistentStore, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading object body: %v", ErrPersistentStore, err)
	}
	return data, nil
}

// Remove deletes the object for key.
func (s *S3Store) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("%w: deleting object: %v", ErrPersistentStore, err)
	}
	return nil
}

// Clear deletes every object under the prefix.
func (s *S3Store) Clear(ctx context.Context) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Keys lists the keys stored under the prefix.
func (s *S3Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: listing objects: %v", ErrPersistentStore, err)
		}
		for _, obj := range page.Contents {
			if key, ok := decodeObjectName(s.prefix, aws.ToString(obj.Key)); ok {
				keys = append(keys, key)
			}
		}
	}
	return keys, nil
}

// Close releases resources. The S3 client needs no explicit closing.
func (s *S3Store) Close() error {
	return nil
}

func (s *S3Store) objectKey(key string) string {
	return s.prefix + encodeObjectName(key)
}

func objectPrefix(prefix string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return prefix
}

// encodeObjectName makes cache keys safe as object names.
func encodeObjectName(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeObjectName(prefix, name string) (string, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(name, prefix))
	if err != nil {
		return "", false
	}
	return string(raw), true
}
