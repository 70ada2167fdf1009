package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when the requested object does not exist on the
// snapshot host.
var ErrNotFound = errors.New("source: object not found")

// Source is a read-only snapshot host. Keys are slash separated and relative
// to the host root, e.g. "index.json" or "incidents/inc-0001.json".
type Source interface {
	// Get opens the object stored under key. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Name identifies the source in logs and metrics.
	Name() string
}

// StatusError reports a non-success status from a remote host.
type StatusError struct {
	Key        string
	StatusCode int
	// RetryAfter is the wait the host asked for, zero when it gave none.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("source: %s: unexpected status %d", e.Key, e.StatusCode)
}

// Is lets a 404 match ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Config selects and configures a snapshot source.
type Config struct {
	Kind string `validate:"oneof=http fs gcs s3 drive"`

	// http
	BaseURL string
	Timeout time.Duration
	Retries int

	// fs
	Dir string

	// gcs and s3
	Bucket string
	Prefix string

	// gcs and drive
	CredentialsFile string

	// s3
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string

	// drive
	FolderID string
	APIKey   string

	// RateLimit caps remote requests per second. Zero disables limiting.
	RateLimit float64
}

// Open builds the source described by cfg.
func Open(ctx context.Context, cfg Config) (Source, error) {
	switch cfg.Kind {
	case "http", "":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("source: http source needs a base url")
		}
		opts := []HTTPOption{WithRetries(cfg.Retries)}
		if cfg.Timeout > 0 {
			opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
		}
		if cfg.RateLimit > 0 {
			opts = append(opts, WithRateLimit(cfg.RateLimit))
		}
		return NewHTTPSource(cfg.BaseURL, opts...), nil
	case "fs":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("source: fs source needs a directory")
		}
		return NewLocalSource(cfg.Dir), nil
	case "gcs":
		return NewGCSSource(ctx, cfg.Bucket, cfg.Prefix, cfg.CredentialsFile)
	case "s3":
		return NewS3Source(ctx, S3Config{
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		})
	case "drive":
		return NewDriveSource(ctx, DriveConfig{
			FolderID:        cfg.FolderID,
			APIKey:          cfg.APIKey,
			CredentialsFile: cfg.CredentialsFile,
			RateLimit:       cfg.RateLimit,
		})
	default:
		return nil, fmt.Errorf("source: unknown kind %q", cfg.Kind)
	}
}

// objectKey joins prefix and key into a bucket object name.
func objectKey(prefix, key string) string {
	key = strings.TrimPrefix(key, "/")
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

// cleanKey rejects keys that would escape the source root.
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + key)
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." {
		return "", fmt.Errorf("source: empty key")
	}
	return k, nil
}
