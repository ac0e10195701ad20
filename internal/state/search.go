// internal/state/search.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/feedlane/internal/types"
)

// Search is a saved query run through the synchronizer on a schedule,
// e.g. "@alice" to follow a target account or a keyword.
type Search struct {
	Name     string `json:"name"`
	Query    string `json:"query"`
	Schedule string `json:"schedule,omitempty"`
	Count    int    `json:"count"`
	Enabled  bool   `json:"enabled"`
}

// SearchStore is a JSON-file-backed store for saved searches.
type SearchStore struct {
	path string
	mu   sync.RWMutex
}

// NewSearchStore creates a new file-backed SearchStore at the given file path.
func NewSearchStore(path string) *SearchStore {
	return &SearchStore{path: path}
}

// Path returns the file path used by this store.
func (s *SearchStore) Path() string {
	return s.path
}

// List returns all searches. Returns an empty slice if the file doesn't exist.
func (s *SearchStore) List() ([]*Search, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	searches, err := s.load()
	if err != nil {
		return nil, err
	}
	if searches == nil {
		return []*Search{}, nil
	}
	return searches, nil
}

// Get finds a search by name.
func (s *SearchStore) Get(name string) (*Search, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	searches, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, search := range searches {
		if search.Name == name {
			return search, nil
		}
	}
	return nil, fmt.Errorf("search %s: %w", name, types.ErrNotFound)
}

// Add appends a search. Returns an error if the name is taken.
func (s *SearchStore) Add(search *Search) error {
	if search.Name == "" || search.Query == "" {
		return fmt.Errorf("search name and query are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	searches, err := s.load()
	if err != nil {
		return err
	}
	for _, existing := range searches {
		if existing.Name == search.Name {
			return fmt.Errorf("search already exists: %s", search.Name)
		}
	}
	return s.save(append(searches, search))
}

// Remove deletes a search by name.
func (s *SearchStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	searches, err := s.load()
	if err != nil {
		return err
	}
	for i, search := range searches {
		if search.Name == name {
			searches = append(searches[:i], searches[i+1:]...)
			return s.save(searches)
		}
	}
	return fmt.Errorf("search %s: %w", name, types.ErrNotFound)
}

// SetEnabled toggles the enabled flag for a search.
func (s *SearchStore) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	searches, err := s.load()
	if err != nil {
		return err
	}
	for _, search := range searches {
		if search.Name == name {
			search.Enabled = enabled
			return s.save(searches)
		}
	}
	return fmt.Errorf("search %s: %w", name, types.ErrNotFound)
}

func (s *SearchStore) load() ([]*Search, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read searches file: %w", err)
	}

	var searches []*Search
	if err := json.Unmarshal(data, &searches); err != nil {
		return nil, fmt.Errorf("unmarshal searches: %w", err)
	}
	return searches, nil
}

func (s *SearchStore) save(searches []*Search) error {
	data, err := json.MarshalIndent(searches, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal searches: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create searches dir: %w", err)
	}
	return writeAtomic(s.path, data)
}
