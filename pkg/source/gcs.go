package source

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSSource reads snapshots from a Google Cloud Storage bucket.
type GCSSource struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSource connects to bucket. With an empty credentialsFile the
// application default credentials are used.
func NewGCSSource(ctx context.Context, bucket, prefix, credentialsFile string, opts ...option.ClientOption) (*GCSSource, error) {
	if bucket == "" {
		return nil, fmt.Errorf("source: gcs source needs a bucket")
	}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSSource{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSSource) Name() string { return "gcs:" + s.bucket }

// Get opens the object prefix/key.
func (s *GCSSource) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	name := objectKey(s.prefix, k)
	r, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("gs://%s/%s: %w", s.bucket, name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", s.bucket, name, err)
	}
	return r, nil
}

// Close releases the storage client.
func (s *GCSSource) Close() error {
	return s.client.Close()
}
