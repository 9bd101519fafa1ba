// Package remote abstracts the passive cloud record store the sync engine
// replicates through. The store holds opaque records and runs no business
// logic: all consistency, conflict resolution, and authorization live in
// the client.
package remote

import "context"

// RecordType distinguishes the record kinds the engine persists
type RecordType string

const (
	TypeSuite      RecordType = "suite"
	TypeConcert    RecordType = "concert"
	TypeToken      RecordType = "invitationToken"
	TypeUsedTokens RecordType = "usedTokens"
)

// Record is a single remote record: an id plus a flat field map. Field
// values are limited to strings, numbers, bools, and string slices so every
// backend can round-trip them through JSON.
type Record struct {
	ID     string
	Type   RecordType
	Fields map[string]interface{}
}

// NewRecord creates an empty record of the given type.
func NewRecord(typ RecordType, id string) *Record {
	return &Record{ID: id, Type: typ, Fields: make(map[string]interface{})}
}

// Store is the passive record store interface. Implementations provide no
// transactions and no server-side logic; Save is a whole-record overwrite.
type Store interface {
	// Fetch returns the record, or a RecordNotFound error if absent.
	Fetch(ctx context.Context, typ RecordType, id string) (*Record, error)

	// Save overwrites the record (upsert).
	Save(ctx context.Context, rec *Record) error

	// Delete removes the record. Deleting an absent record returns a
	// RecordNotFound error.
	Delete(ctx context.Context, typ RecordType, id string) error

	// Query returns all records of the type whose field equals value.
	Query(ctx context.Context, typ RecordType, field string, value interface{}) ([]*Record, error)
}
