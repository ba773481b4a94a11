package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/thiagokokada/bundle-blame/internal/stats"
)

// FileStore keeps one JSON document per revision at <dir>/<identity>.json.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (f *FileStore) Dir() string { return f.dir }

func (f *FileStore) path(identity string) string {
	return filepath.Join(f.dir, identity+".json")
}

func (f *FileStore) Read(identity string) (stats.Stats, bool, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, false, err
	}
	path := f.path(identity)
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cache entry %s: %w", identity, err)
	}
	s, err := decode(identity, path, b)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Write publishes the entry atomically: the payload goes to a temporary file
// in the same directory, is synced, and is then renamed over the final name.
func (f *FileStore) Write(identity string, s stats.Stats) error {
	if err := validateIdentity(identity); err != nil {
		return err
	}
	payload, err := encode(s)
	if err != nil {
		return fmt.Errorf("encode stats for %s: %w", identity, err)
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(f.dir, ".tmp-"+identity+"-")
	if err != nil {
		return fmt.Errorf("create temp cache entry: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write cache entry %s: %w", identity, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync cache entry %s: %w", identity, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close cache entry %s: %w", identity, err)
	}
	path := f.path(identity)
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("publish cache entry %s: %w", identity, err)
	}
	slog.Debug("cache entry written", slog.String("identity", identity), slog.String("path", path))
	return nil
}

func (f *FileStore) Close() error { return nil }
