package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// Compile-time checks that GCSStore implements the store interfaces.
var (
	_ PersistentStore = (*GCSStore)(nil)
	_ Lister          = (*GCSStore)(nil)
)

// GCSStore keeps L3 entries as objects in a Google Cloud Storage bucket.
type GCSStore struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	prefix string
}

// GCSOption configures a GCSStore.
type GCSOption func(*GCSStore)

// WithGCSPrefix sets a key prefix for all objects.
func WithGCSPrefix(prefix string) GCSOption {
	return func(s *GCSStore) {
		s.prefix = objectPrefix(prefix)
	}
}

// NewGCSStore creates a store for an existing bucket.
func NewGCSStore(ctx context.Context, bucket string, opts ...GCSOption) (*GCSStore, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	s := &GCSStore{
		client: client,
		bucket: client.Bucket(bucket),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Store writes data as one object.
func (s *GCSStore) Store(ctx context.Context, key string, data []byte) error {
	w := s.bucket.Object(s.objectKey(key)).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("%w: writing object: %v", ErrPersistentStore, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: closing object writer: %v", ErrPersistentStore, err)
	}
	return nil
}

// Retrieve reads the object for key.
func (s *GCSStore) Retrieve(ctx context.Context, key string) ([]byte, error) {
	r, err := s.bucket.Object(s.objectKey(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: creating reader: %v", ErrPersistentStore, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading object: %v", ErrPersistentStore, err)
	}
	return data, nil
}

// Remove deletes the object for key.
func (s *GCSStore) Remove(ctx context.Context, key string) error {
	err := s.bucket.Object(s.objectKey(key)).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("%w: deleting object: %v", ErrPersistentStore, err)
	}
	return nil
}

// Clear deletes every object under the prefix.
func (s *GCSStore) Clear(ctx context.Context) error {
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
func (s *GCSStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	it := s.bucket.Objects(ctx, &gcs.Query{Prefix: s.prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: listing objects: %v", ErrPersistentStore, err)
		}
		if key, ok := decodeObjectName(s.prefix, attrs.Name); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Close closes the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) objectKey(key string) string {
	return s.prefix + encodeObjectName(key)
}
