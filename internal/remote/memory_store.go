package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/frontrow/suitesync/internal/errors"
)

// MemoryStore is an in-memory Store used by tests and local development.
// Records are cloned on the way in and out so no caller ever shares memory
// with the store, matching the isolation a real remote backend provides.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[RecordType]map[string]*Record
	faults  map[string]error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[RecordType]map[string]*Record),
		faults:  make(map[string]error),
	}
}

// SetFailure makes every call of the named op ("fetch", "save", "delete",
// "query") return err until cleared with a nil err. Test hook for
// simulating outages.
func (m *MemoryStore) SetFailure(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

func (m *MemoryStore) fault(op string) error {
	return m.faults[op]
}

// Fetch returns a copy of the record, or RecordNotFound.
func (m *MemoryStore) Fetch(ctx context.Context, typ RecordType, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fault("fetch"); err != nil {
		return nil, err
	}
	rec, ok := m.records[typ][id]
	if !ok {
		return nil, errors.RecordNotFound(string(typ), id)
	}
	return cloneRecord(rec), nil
}

// Save stores a copy of the record (upsert).
func (m *MemoryStore) Save(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("save"); err != nil {
		return err
	}
	if rec.ID == "" {
		return errors.ServerError("record id is empty", nil)
	}
	if m.records[rec.Type] == nil {
		m.records[rec.Type] = make(map[string]*Record)
	}
	m.records[rec.Type][rec.ID] = cloneRecord(rec)
	return nil
}

// Delete removes the record, or returns RecordNotFound.
func (m *MemoryStore) Delete(ctx context.Context, typ RecordType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("delete"); err != nil {
		return err
	}
	if _, ok := m.records[typ][id]; !ok {
		return errors.RecordNotFound(string(typ), id)
	}
	delete(m.records[typ], id)
	return nil
}

// Query returns copies of all records of the type whose field equals value.
func (m *MemoryStore) Query(ctx context.Context, typ RecordType, field string, value interface{}) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fault("query"); err != nil {
		return nil, err
	}
	var out []*Record
	for _, rec := range m.records[typ] {
		if fieldEquals(rec.Fields[field], value) {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

// Len returns the number of records of a type. Test helper.
func (m *MemoryStore) Len(typ RecordType) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[typ])
}

// fieldEquals compares field values loosely: numeric kinds round-trip
// through JSON in real backends, so 3 and float64(3) must match.
func fieldEquals(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == b
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func cloneRecord(rec *Record) *Record {
	cp := NewRecord(rec.Type, rec.ID)
	for k, v := range rec.Fields {
		if s, ok := v.([]string); ok {
			cp.Fields[k] = append([]string(nil), s...)
			continue
		}
		cp.Fields[k] = v
	}
	return cp
}
