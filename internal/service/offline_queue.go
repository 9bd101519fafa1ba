package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/frontrow/suitesync/internal/errors"
	"github.com/frontrow/suitesync/internal/metrics"
	"github.com/frontrow/suitesync/internal/model"
	"github.com/frontrow/suitesync/internal/store"
)

// OperationExecutor replays a queued operation against the remote store.
// The push paths of the sync engine and the concert repository implement
// this; the queue itself knows nothing about operation semantics.
type OperationExecutor interface {
	ExecuteOperation(ctx context.Context, op *model.OfflineOperation) error
}

// OfflineQueue is a durable queue of remote mutations that failed for
// transient reasons. A recurring timer drains it independently of user
// actions, so queued work completes even if the user never touches the
// app again. Operations past the retry ceiling are dropped: bounded
// effort, the sets are small and sync state stays user-visible.
type OfflineQueue struct {
	journal       *store.QueueJournal
	executor      OperationExecutor
	maxRetries    int
	drainInterval time.Duration
	logger        *zap.Logger
	metrics       *metrics.Metrics

	mu  sync.Mutex
	ops []*model.OfflineOperation

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewOfflineQueue creates an offline queue backed by the given journal.
// The executor is attached later with SetExecutor to avoid a construction
// cycle with the components whose pushes it replays.
func NewOfflineQueue(journal *store.QueueJournal, maxRetries int, drainInterval time.Duration, logger *zap.Logger, m *metrics.Metrics) *OfflineQueue {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if drainInterval <= 0 {
		drainInterval = 30 * time.Second
	}
	return &OfflineQueue{
		journal:       journal,
		maxRetries:    maxRetries,
		drainInterval: drainInterval,
		logger:        logger,
		metrics:       m,
		stopCh:        make(chan struct{}),
	}
}

// SetExecutor attaches the operation executor (called after construction
// to avoid a circular dependency).
func (q *OfflineQueue) SetExecutor(exec OperationExecutor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.executor = exec
}

// Load restores journaled operations from a previous run.
func (q *OfflineQueue) Load() error {
	ops, err := q.journal.Load()
	if err != nil {
		return err
	}

	q.mu.Lock()
	q.ops = ops
	q.mu.Unlock()

	q.metrics.QueueDepth.Set(float64(len(ops)))
	if len(ops) > 0 {
		q.logger.Info("Offline queue restored", zap.Int("operations", len(ops)))
	}
	return nil
}

// Enqueue appends and persists an operation. Enqueue never silently drops.
func (q *OfflineQueue) Enqueue(op *model.OfflineOperation) error {
	q.mu.Lock()
	q.ops = append(q.ops, op)
	snapshot := append([]*model.OfflineOperation(nil), q.ops...)
	q.mu.Unlock()

	q.metrics.QueueEnqueuedTotal.Inc()
	q.metrics.QueueDepth.Set(float64(len(snapshot)))
	q.logger.Info("Operation queued for retry",
		zap.String("operation_id", op.ID),
		zap.String("type", string(op.Type)))

	return q.journal.Persist(snapshot)
}

// Classify reports whether an error is transient and should be queued.
// Permission, quota, and not-found failures are surfaced immediately and
// never queued. An exhausted fast-retry budget is queueable when the
// underlying failure was transient.
func (q *OfflineQueue) Classify(err error) bool {
	if errors.GetCode(err) == errors.ErrCodeRetryLimit {
		return errors.IsRecoverable(errors.Cause(err))
	}
	return errors.IsRecoverable(err)
}

// Depth returns the number of queued operations.
func (q *OfflineQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// DrainOnce executes every queued operation below the retry ceiling.
// Success removes the operation; failure increments its retry count and
// leaves it queued. Operations that hit the ceiling are dropped.
func (q *OfflineQueue) DrainOnce(ctx context.Context) {
	q.mu.Lock()
	executor := q.executor
	pending := append([]*model.OfflineOperation(nil), q.ops...)
	q.mu.Unlock()

	if executor == nil || len(pending) == 0 {
		return
	}

	q.metrics.QueueDrainsTotal.Inc()

	var kept []*model.OfflineOperation
	for _, op := range pending {
		if op.RetryCount >= q.maxRetries {
			q.dropOperation(op)
			continue
		}

		q.metrics.QueueRetriesTotal.Inc()
		if err := executor.ExecuteOperation(ctx, op); err != nil {
			op.RetryCount++
			if op.RetryCount >= q.maxRetries {
				q.dropOperation(op)
				continue
			}
			q.logger.Debug("Queued operation failed, will retry",
				zap.String("operation_id", op.ID),
				zap.String("type", string(op.Type)),
				zap.Int("retry_count", op.RetryCount),
				zap.Error(err))
			kept = append(kept, op)
			continue
		}

		q.logger.Info("Queued operation replayed",
			zap.String("operation_id", op.ID),
			zap.String("type", string(op.Type)),
			zap.Int("attempts", op.RetryCount+1))
	}

	// Preserve operations enqueued while the drain was running.
	processed := make(map[string]struct{}, len(pending))
	for _, op := range pending {
		processed[op.ID] = struct{}{}
	}

	q.mu.Lock()
	for _, op := range q.ops {
		if _, ok := processed[op.ID]; !ok {
			kept = append(kept, op)
		}
	}
	q.ops = kept
	q.mu.Unlock()

	q.metrics.QueueDepth.Set(float64(len(kept)))
	if err := q.journal.Persist(kept); err != nil {
		q.logger.Error("Failed to persist queue journal after drain", zap.Error(err))
	}
}

func (q *OfflineQueue) dropOperation(op *model.OfflineOperation) {
	q.metrics.QueueDroppedTotal.Inc()
	q.logger.Warn("Operation dropped after retry ceiling",
		zap.String("operation_id", op.ID),
		zap.String("type", string(op.Type)),
		zap.Int("retry_count", op.RetryCount))
}

// Start begins the recurring drain timer.
func (q *OfflineQueue) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(q.drainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.DrainOnce(ctx)
			case <-q.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	q.logger.Info("Offline queue drain timer started",
		zap.Duration("interval", q.drainInterval),
		zap.Int("retry_ceiling", q.maxRetries))
}

// Stop halts the drain timer.
func (q *OfflineQueue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
}
