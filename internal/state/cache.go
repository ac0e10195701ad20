// internal/state/cache.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// cacheWrapper is the on-disk format for cache entries.
// Each entry is stored as {"meta": ..., "data": ...}.
type cacheWrapper struct {
	Meta cacheMeta       `json:"meta"`
	Data json.RawMessage `json:"data"`
}

type cacheMeta struct {
	Key       string     `json:"key"`
	StoredAt  time.Time  `json:"stored_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CacheStore stores one JSON file per key under cache/<key>.json, where the
// slash-separated key maps onto nested directories.
type CacheStore struct {
	root string
	mu   sync.RWMutex
	now  func() time.Time
}

// NewCacheStore creates a new file-backed CacheStore rooted at the given directory.
func NewCacheStore(root string) *CacheStore {
	return &CacheStore{root: root, now: time.Now}
}

func (c *CacheStore) entryPath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty cache key")
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `\:`) {
			return "", fmt.Errorf("invalid cache key: %q", key)
		}
	}
	return filepath.Join(c.root, "cache", filepath.FromSlash(key)+".json"), nil
}

// Get returns the raw value for key. Missing and expired entries report false.
func (c *CacheStore) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	path, err := c.entryPath(key)
	if err != nil {
		return nil, false, err
	}

	c.mu.RLock()
	data, err := os.ReadFile(path)
	c.mu.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}

	var wrapper cacheWrapper
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, false, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	if wrapper.Meta.ExpiresAt != nil && !c.now().Before(*wrapper.Meta.ExpiresAt) {
		return nil, false, nil
	}
	return wrapper.Data, true, nil
}

// Set stores value under key. A zero expires keeps the entry forever.
func (c *CacheStore) Set(_ context.Context, key string, value any, expires time.Time) error {
	path, err := c.entryPath(key)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	wrapper := &cacheWrapper{
		Meta: cacheMeta{Key: key, StoredAt: c.now()},
		Data: raw,
	}
	if !expires.IsZero() {
		wrapper.Meta.ExpiresAt = &expires
	}

	content, err := json.MarshalIndent(wrapper, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	return writeAtomic(path, content)
}

// Delete removes key. Deleting a missing key is not an error.
func (c *CacheStore) Delete(_ context.Context, key string) error {
	path, err := c.entryPath(key)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cache entry: %w", err)
	}
	return nil
}

// writeAtomic writes to a temp file and renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
