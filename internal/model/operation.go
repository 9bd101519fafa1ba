package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OperationType identifies the remote mutation an offline operation replays
type OperationType string

const (
	OpCreateSuite     OperationType = "createSuite"
	OpUpdateConcert   OperationType = "updateConcert"
	OpUpdateSuiteInfo OperationType = "updateSuiteInfo"
	OpUpdateSeat      OperationType = "updateSeat"
	OpDeleteConcert   OperationType = "deleteConcert"
)

// OfflineOperation is a remote mutation that failed for a transient reason
// and is queued for later retry.
type OfflineOperation struct {
	ID         string          `json:"id"`
	Type       OperationType   `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	RetryCount int             `json:"retryCount"`
}

// NewOfflineOperation builds an operation with a fresh id and the payload
// serialized to JSON.
func NewOfflineOperation(opType OperationType, payload interface{}, now time.Time) (*OfflineOperation, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &OfflineOperation{
		ID:         uuid.New().String(),
		Type:       opType,
		Payload:    data,
		EnqueuedAt: now,
	}, nil
}
