package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const driveFolderMime = "application/vnd.google-apps.folder"

// DriveConfig configures a DriveSource. Either APIKey (public folders) or
// CredentialsFile is normally set; extra client options are appended last.
type DriveConfig struct {
	FolderID        string
	APIKey          string
	CredentialsFile string
	RateLimit       float64
	ClientOptions   []option.ClientOption
}

// DriveSource reads snapshots from a shared Google Drive folder. A key such
// as "incidents/inc-1.json" walks the "incidents" sub-folder and then looks
// up the file by name.
type DriveSource struct {
	svc      *drive.Service
	folderID string
	limiter  *rate.Limiter

	mu  sync.Mutex
	ids map[string]string // key or folder path -> file id
}

// NewDriveSource creates the Drive client.
func NewDriveSource(ctx context.Context, cfg DriveConfig) (*DriveSource, error) {
	if cfg.FolderID == "" {
		return nil, fmt.Errorf("source: drive source needs a folder id")
	}

	var opts []option.ClientOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, cfg.ClientOptions...)

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive client: %w", err)
	}

	s := &DriveSource{
		svc:      svc,
		folderID: cfg.FolderID,
		ids:      make(map[string]string),
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return s, nil
}

func (s *DriveSource) Name() string { return "drive:" + s.folderID }

// Get resolves key to a file id and downloads its content.
func (s *DriveSource) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	id, err := s.resolve(ctx, k)
	if err != nil {
		return nil, err
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := s.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		if isDriveNotFound(err) {
			s.forget(k)
			return nil, fmt.Errorf("drive %s: %w", k, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to download %s: %w", k, err)
	}
	return resp.Body, nil
}

func (s *DriveSource) resolve(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	id, ok := s.ids[key]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	parent := s.folderID
	segments := strings.Split(key, "/")
	for i, name := range segments {
		p := strings.Join(segments[:i+1], "/")

		s.mu.Lock()
		cached, ok := s.ids[p]
		s.mu.Unlock()
		if ok {
			parent = cached
			continue
		}

		folder := i < len(segments)-1
		found, err := s.lookup(ctx, parent, name, folder)
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		s.ids[p] = found
		s.mu.Unlock()
		parent = found
	}
	return parent, nil
}

func (s *DriveSource) lookup(ctx context.Context, parent, name string, folder bool) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}

	q := fmt.Sprintf("'%s' in parents and name = '%s' and trashed = false", parent, escapeDriveQuery(name))
	if folder {
		q += fmt.Sprintf(" and mimeType = '%s'", driveFolderMime)
	}
	list, err := s.svc.Files.List().
		Q(q).
		Fields("files(id, name, mimeType)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		if isDriveNotFound(err) {
			return "", fmt.Errorf("drive %s: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("failed to list drive folder %s: %w", parent, err)
	}
	if len(list.Files) == 0 {
		return "", fmt.Errorf("drive %s: %w", name, ErrNotFound)
	}
	return list.Files[0].Id, nil
}

func (s *DriveSource) forget(key string) {
	s.mu.Lock()
	delete(s.ids, key)
	s.mu.Unlock()
}

func (s *DriveSource) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

func escapeDriveQuery(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}

func isDriveNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
