package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrCacheBusy is returned when another process owns the cache file.
var ErrCacheBusy = errors.New("scene cache is in use by another process")

// FileCache persists a ClientSceneCache on disk. Holding the file lock makes
// the caller the cache's single owner.
type FileCache struct {
	path string
	lock *flock.Flock
}

// OpenFileCache takes the exclusive lock of the cache file at path.
func OpenFileCache(path string) (*FileCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire cache lock: %w", err)
	}
	if !ok {
		return nil, ErrCacheBusy
	}
	return &FileCache{path: path, lock: lock}, nil
}

// Load returns the stored cache of a project, or an empty one.
func (f *FileCache) Load(projectID string) (*ClientSceneCache, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewClientSceneCache(projectID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	var state CacheState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode cache: %w", err)
	}
	if state.ProjectID != projectID {
		return NewClientSceneCache(projectID), nil
	}
	return CacheFromState(state), nil
}

// Save writes the cache atomically.
func (f *FileCache) Save(cache *ClientSceneCache) error {
	data, err := json.MarshalIndent(cache.State(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// Close releases the file lock.
func (f *FileCache) Close() error {
	return f.lock.Unlock()
}
