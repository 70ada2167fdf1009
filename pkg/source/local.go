package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

const tempPrefix = ".tmp-"

// LocalSource serves snapshots from a directory. It is also the publish
// target for generated snapshots, so it supports atomic writes.
type LocalSource struct {
	rootPath string
}

// NewLocalSource creates a LocalSource rooted at rootPath.
func NewLocalSource(rootPath string) *LocalSource {
	return &LocalSource{rootPath: rootPath}
}

func (s *LocalSource) Name() string { return "fs:" + s.rootPath }

// Root returns the directory the source reads from.
func (s *LocalSource) Root() string { return s.rootPath }

func (s *LocalSource) path(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.rootPath, filepath.FromSlash(k)), nil
}

// Put writes content under key. It creates the directory structure and
// writes through a temp file + rename so readers never see a partial file.
func (s *LocalSource) Put(ctx context.Context, key string, reader io.Reader) error {
	fullPath, err := s.path(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer tempFile.Close()

	if _, err := io.Copy(tempFile, reader); err != nil {
		os.Remove(tempFile.Name())
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		os.Remove(tempFile.Name())
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempFile.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempFile.Name(), fullPath); err != nil {
		os.Remove(tempFile.Name())
		return fmt.Errorf("failed to rename temp file to %s: %w", fullPath, err)
	}
	return nil
}

// Get opens the file stored under key.
func (s *LocalSource) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return file, nil
}

// List returns the keys under prefix, slash separated. A missing prefix
// directory yields an empty list.
func (s *LocalSource) List(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	root := filepath.Join(s.rootPath, filepath.FromSlash(prefix))

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.rootPath, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	return keys, nil
}

// Watch calls fn with the key of every file written, renamed or removed under
// the root (one level of type directories included) until ctx is done.
// Temp files from Put are ignored.
func (s *LocalSource) Watch(ctx context.Context, logger *log.Logger, fn func(key string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(s.rootPath); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.rootPath, err)
	}
	entries, err := os.ReadDir(s.rootPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.rootPath, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.Add(filepath.Join(s.rootPath, e.Name())); err != nil && logger != nil {
				logger.Warn("watch subdirectory failed", "dir", e.Name(), "err", err)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(ev.Name), tempPrefix) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			rel, err := filepath.Rel(s.rootPath, ev.Name)
			if err != nil {
				continue
			}
			fn(filepath.ToSlash(rel))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if logger != nil {
				logger.Warn("snapshot watcher error", "err", err)
			}
		}
	}
}
