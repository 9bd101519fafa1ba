// Package store holds the device-local durable state: the offline
// operation journal and the concert snapshot. The local copy is always
// authoritative for the current device; the remote store is reconciled
// asynchronously.
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

// QueueJournal persists the offline operation queue so queued mutations
// survive a process restart. Writes go to a temp file and rename into
// place so a crash mid-write never corrupts the journal.
type QueueJournal struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewQueueJournal creates a journal backed by the given file path.
func NewQueueJournal(path string, logger *zap.Logger) (*QueueJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	return &QueueJournal{path: path, logger: logger}, nil
}

// Load reads the journaled operations. A missing file is an empty queue.
func (j *QueueJournal) Load() ([]*model.OfflineOperation, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue journal: %w", err)
	}

	var ops []*model.OfflineOperation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("failed to parse queue journal: %w", err)
	}

	j.logger.Debug("Queue journal loaded",
		zap.String("path", j.path),
		zap.Int("operations", len(ops)))
	return ops, nil
}

// Persist writes the full queue state atomically.
func (j *QueueJournal) Persist(ops []*model.OfflineOperation) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("failed to marshal queue journal: %w", err)
	}
	return atomicWrite(j.path, data)
}

// atomicWrite writes data to a temp file in the target directory and
// renames it into place.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace journal: %w", err)
	}
	return nil
}
