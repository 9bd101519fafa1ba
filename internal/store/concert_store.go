package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/frontrow/suitesync/internal/model"
)

// ConcertStore persists the device-local concert list as a JSON snapshot.
// Local writes are synchronous and never wait on the network.
type ConcertStore struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewConcertStore creates a concert snapshot store at the given file path.
func NewConcertStore(path string, logger *zap.Logger) (*ConcertStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &ConcertStore{path: path, logger: logger}, nil
}

// Load reads the persisted concert list. A missing file is an empty list.
func (s *ConcertStore) Load() ([]*model.Concert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read concert snapshot: %w", err)
	}

	var concerts []*model.Concert
	if err := json.Unmarshal(data, &concerts); err != nil {
		return nil, fmt.Errorf("failed to parse concert snapshot: %w", err)
	}

	s.logger.Debug("Concert snapshot loaded",
		zap.String("path", s.path),
		zap.Int("concerts", len(concerts)))
	return concerts, nil
}

// Persist writes the full concert list atomically.
func (s *ConcertStore) Persist(concerts []*model.Concert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(concerts)
	if err != nil {
		return fmt.Errorf("failed to marshal concert snapshot: %w", err)
	}
	return atomicWrite(s.path, data)
}
