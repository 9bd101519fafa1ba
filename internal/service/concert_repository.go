package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/frontrow/suitesync/internal/errors"
	"github.com/frontrow/suitesync/internal/metrics"
	"github.com/frontrow/suitesync/internal/model"
	"github.com/frontrow/suitesync/internal/remote"
	"github.com/frontrow/suitesync/internal/store"
	"github.com/frontrow/suitesync/internal/util/workerpool"
)

// ConcertRepository owns the device-local concert list. The local copy is
// authoritative for the UI: every edit lands locally and synchronously
// first, then propagates to the remote store asynchronously. Reconciliation
// against remote snapshots applies an owner-biased count policy and
// per-seat merging through the conflict service.
type ConcertRepository struct {
	snapshot  *store.ConcertStore
	store     remote.Store
	conflicts *ConflictService
	pool      *workerpool.WorkerPool
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	concerts map[int]*model.Concert
	nextID   int
	engine   *SyncService

	now func() time.Time
}

// NewConcertRepository creates the repository. The engine is attached
// afterwards with SetEngine.
func NewConcertRepository(
	snapshot *store.ConcertStore,
	remoteStore remote.Store,
	conflicts *ConflictService,
	pool *workerpool.WorkerPool,
	logger *zap.Logger,
	m *metrics.Metrics,
) *ConcertRepository {
	return &ConcertRepository{
		snapshot:  snapshot,
		store:     remoteStore,
		conflicts: conflicts,
		pool:      pool,
		logger:    logger,
		metrics:   m,
		concerts:  make(map[int]*model.Concert),
		nextID:    1,
		now:       time.Now,
	}
}

// SetEngine attaches the sync engine (called after construction to avoid a
// circular dependency).
func (r *ConcertRepository) SetEngine(engine *SyncService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engine = engine
}

// Load restores the concert list from the local snapshot.
func (r *ConcertRepository) Load() error {
	concerts, err := r.snapshot.Load()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.concerts = make(map[int]*model.Concert, len(concerts))
	for _, c := range concerts {
		r.concerts[c.ID] = c
		if c.ID >= r.nextID {
			r.nextID = c.ID + 1
		}
	}
	return nil
}

// Concerts returns a copy of the local concert list.
func (r *ConcertRepository) Concerts() []*model.Concert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Concert returns a copy of one concert, or a not-found error.
func (r *ConcertRepository) Concert(id int) (*model.Concert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.concerts[id]
	if !ok {
		return nil, errors.RecordNotFound("concert", fmt.Sprintf("%d", id))
	}
	return c.Clone(), nil
}

// AddConcert creates a new concert. In a shared suite it is stamped with
// the suite id and pushed remotely; otherwise it stays personal.
func (r *ConcertRepository) AddConcert(ctx context.Context, artist string, date time.Time) (*model.Concert, error) {
	engine := r.getEngine()
	if engine != nil && !engine.CanModifySeatsNow() {
		return nil, errors.PermissionDenied("viewers cannot add concerts")
	}

	userID := ""
	suiteID := ""
	if engine != nil {
		userID = engine.UserID()
		if suite := engine.CurrentSuite(); suite != nil {
			suiteID = suite.SuiteID
		}
	}

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	concert := model.NewConcert(id, artist, date, userID)
	concert.SuiteID = suiteID
	concert.MarkModified(userID, r.now())
	r.concerts[id] = concert
	err := r.persistLocked()
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if suiteID != "" {
		r.pushAsync(concert.Clone())
		if err := engine.AddSuiteConcert(ctx, suiteID, id); err != nil {
			r.logger.Warn("Failed to register concert on the suite record",
				zap.String("suite_id", suiteID),
				zap.Int("concert_id", id),
				zap.Error(err))
		}
	}
	return concert.Clone(), nil
}

// UpdateSeat applies a seat edit. The write lands locally first; the
// remote push happens asynchronously, falling back to the offline queue on
// transient failure. Denied roles get an explicit error, never a silent
// no-op.
func (r *ConcertRepository) UpdateSeat(ctx context.Context, concertID, seatIndex int, update model.SeatUpdate) (*model.Concert, error) {
	if seatIndex < 0 || seatIndex >= model.SeatCount {
		return nil, errors.ServerError(fmt.Sprintf("seat index %d out of range", seatIndex), nil)
	}

	engine := r.getEngine()
	if engine != nil && !engine.CanModifySeatsNow() {
		return nil, errors.PermissionDenied("current role cannot modify seats")
	}
	userID := ""
	if engine != nil {
		userID = engine.UserID()
	}

	r.mu.Lock()
	concert, ok := r.concerts[concertID]
	if !ok {
		r.mu.Unlock()
		return nil, errors.RecordNotFound("concert", fmt.Sprintf("%d", concertID))
	}
	now := r.now()
	concert.Seats[seatIndex].Apply(update, userID, now)
	concert.MarkModified(userID, now)
	snapshot := concert.Clone()
	err := r.persistLocked()
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if snapshot.IsShared() {
		r.pushAsync(snapshot)
	}
	return snapshot, nil
}

// UpdateParkingTicket applies an edit to the optional parking ticket slot.
func (r *ConcertRepository) UpdateParkingTicket(ctx context.Context, concertID int, update model.SeatUpdate) (*model.Concert, error) {
	engine := r.getEngine()
	if engine != nil && !engine.CanModifySeatsNow() {
		return nil, errors.PermissionDenied("current role cannot modify seats")
	}
	userID := ""
	if engine != nil {
		userID = engine.UserID()
	}

	r.mu.Lock()
	concert, ok := r.concerts[concertID]
	if !ok {
		r.mu.Unlock()
		return nil, errors.RecordNotFound("concert", fmt.Sprintf("%d", concertID))
	}
	now := r.now()
	if concert.ParkingTicket == nil {
		concert.ParkingTicket = &model.Seat{Status: model.SeatAvailable}
	}
	concert.ParkingTicket.Apply(update, userID, now)
	concert.MarkModified(userID, now)
	snapshot := concert.Clone()
	err := r.persistLocked()
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if snapshot.IsShared() {
		r.pushAsync(snapshot)
	}
	return snapshot, nil
}

// DeleteConcert removes a concert locally and, when shared, remotely.
func (r *ConcertRepository) DeleteConcert(ctx context.Context, concertID int) error {
	engine := r.getEngine()
	if engine != nil && !engine.CanDeleteConcertsNow() {
		return errors.PermissionDenied("current role cannot delete concerts")
	}

	r.mu.Lock()
	concert, ok := r.concerts[concertID]
	if !ok {
		r.mu.Unlock()
		return errors.RecordNotFound("concert", fmt.Sprintf("%d", concertID))
	}
	suiteID := concert.SuiteID
	delete(r.concerts, concertID)
	err := r.persistLocked()
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if suiteID == "" || engine == nil {
		return nil
	}

	submitted := r.pool.TrySubmit(workerpool.Task{
		ID:      fmt.Sprintf("delete-concert-%d", concertID),
		Context: context.Background(),
		Fn: func(taskCtx context.Context) error {
			err := engine.deleteRecord(taskCtx, remote.TypeConcert, remote.ConcertRecordID(concertID))
			if err != nil && !errors.IsNotFound(err) {
				if engine.queue.Classify(err) {
					return engine.EnqueueConcertDelete(concertID, suiteID)
				}
				return err
			}
			engine.PublishChange(taskCtx, suiteID)
			return nil
		},
	})
	if !submitted {
		if qErr := engine.EnqueueConcertDelete(concertID, suiteID); qErr != nil {
			return qErr
		}
	}
	if err := engine.RemoveSuiteConcert(ctx, suiteID, concertID); err != nil {
		r.logger.Warn("Failed to drop concert from the suite record",
			zap.String("suite_id", suiteID),
			zap.Int("concert_id", concertID),
			zap.Error(err))
	}
	return nil
}

// Reconcile merges a remote concert snapshot into the local list.
//
// Policy, in order:
//   - empty local list adopts the remote set wholesale
//   - the owner keeps its local concerts, merges the overlap per seat,
//     adopts remote concerts it has never seen, and pushes everything
//     belonging to the suite back up (owner is source of truth)
//   - everyone else mirrors remote unmodified: shared concerts absent
//     from the snapshot are dropped and the rest are replaced, so local
//     edits never outlive a pull (a pending push replays them later)
func (r *ConcertRepository) Reconcile(ctx context.Context, remoteConcerts []*model.Concert) error {
	engine := r.getEngine()
	isOwner := engine != nil && engine.Role() == model.RoleOwner
	userID := ""
	if engine != nil {
		userID = engine.UserID()
	}

	r.mu.Lock()
	local := r.localSharedLocked()

	switch {
	case len(local) == 0:
		for _, rc := range remoteConcerts {
			r.adoptLocked(rc)
		}

	case isOwner:
		// Merge the overlap, keep local-only concerts, adopt remote-only
		// ones, then push back up after releasing the lock.
		remoteByID := indexByID(remoteConcerts)
		for _, lc := range r.concerts {
			if rc, ok := remoteByID[lc.ID]; ok {
				r.mergeLocked(userID, lc, rc)
			}
		}
		for _, rc := range remoteConcerts {
			if _, ok := r.concerts[rc.ID]; !ok {
				r.adoptLocked(rc)
			}
		}
		err := r.persistLocked()
		r.mu.Unlock()
		if err != nil {
			return err
		}
		return r.PushAll(ctx)

	default:
		// Non-owners mirror, not originate: the remote set replaces the
		// local shared set wholesale.
		remoteByID := indexByID(remoteConcerts)
		for id, lc := range r.concerts {
			if !lc.IsShared() {
				continue
			}
			if _, ok := remoteByID[lc.ID]; !ok {
				delete(r.concerts, id)
			}
		}
		for _, rc := range remoteConcerts {
			r.adoptLocked(rc)
		}
	}

	err := r.persistLocked()
	r.mu.Unlock()
	return err
}

// MigrateUnshared stamps every personal concert with the suite id and
// returns the migrated ids.
func (r *ConcertRepository) MigrateUnshared(ctx context.Context, suiteID string) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int
	for _, c := range r.concerts {
		if c.SuiteID == "" {
			c.SuiteID = suiteID
			ids = append(ids, c.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := r.persistLocked(); err != nil {
		return nil, err
	}
	r.logger.Info("Personal concerts migrated into suite",
		zap.String("suite_id", suiteID),
		zap.Int("count", len(ids)))
	return ids, nil
}

// UnshareAll strips the suite association from every concert but keeps the
// local copies. Used when the owner deletes the suite.
func (r *ConcertRepository) UnshareAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.concerts {
		c.SuiteID = ""
	}
	return r.persistLocked()
}

// ClearShared drops every shared concert from the local list. Personal
// concerts are untouched.
func (r *ConcertRepository) ClearShared(ctx context.Context, reason string) error {
	r.mu.Lock()
	removed := 0
	for id, c := range r.concerts {
		if c.IsShared() {
			delete(r.concerts, id)
			removed++
		}
	}
	err := r.persistLocked()
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.logger.Info("Shared concerts cleared",
		zap.String("reason", reason),
		zap.Int("removed", removed))
	return nil
}

// PushAll writes every shared local concert to the remote store
// synchronously. Transient failures go to the offline queue.
func (r *ConcertRepository) PushAll(ctx context.Context) error {
	engine := r.getEngine()

	r.mu.Lock()
	shared := r.localSharedLocked()
	r.mu.Unlock()

	var lastErr error
	for _, c := range shared {
		if err := r.pushOne(ctx, c); err != nil {
			if engine != nil && engine.queue.Classify(err) {
				if qErr := engine.EnqueueConcertPush(c); qErr != nil {
					lastErr = qErr
				}
				continue
			}
			lastErr = err
		}
	}
	if lastErr == nil && engine != nil && len(shared) > 0 {
		engine.PublishChange(ctx, shared[0].SuiteID)
	}
	return lastErr
}

// Internal helpers. All *Locked functions require r.mu held.

func (r *ConcertRepository) getEngine() *SyncService {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine
}

func (r *ConcertRepository) snapshotLocked() []*model.Concert {
	out := make([]*model.Concert, 0, len(r.concerts))
	for _, c := range r.concerts {
		out = append(out, c.Clone())
	}
	return out
}

func (r *ConcertRepository) localSharedLocked() []*model.Concert {
	var out []*model.Concert
	for _, c := range r.concerts {
		if c.IsShared() {
			out = append(out, c.Clone())
		}
	}
	return out
}

func (r *ConcertRepository) adoptLocked(rc *model.Concert) {
	r.concerts[rc.ID] = rc.Clone()
	if rc.ID >= r.nextID {
		r.nextID = rc.ID + 1
	}
}

func (r *ConcertRepository) mergeLocked(userID string, local, rc *model.Concert) {
	// DetectConflict logs and counts the concurrent edit; the merge
	// resolves it either way.
	r.conflicts.DetectConflict(local, rc)
	merged := r.conflicts.MergeConcert(userID, local, rc, r.now())
	r.concerts[merged.ID] = merged
}

func (r *ConcertRepository) persistLocked() error {
	out := make([]*model.Concert, 0, len(r.concerts))
	for _, c := range r.concerts {
		out = append(out, c)
	}
	return r.snapshot.Persist(out)
}

func (r *ConcertRepository) pushAsync(concert *model.Concert) {
	engine := r.getEngine()

	submitted := r.pool.TrySubmit(workerpool.Task{
		ID:      fmt.Sprintf("push-concert-%d", concert.ID),
		Context: context.Background(),
		Fn: func(taskCtx context.Context) error {
			err := r.pushOne(taskCtx, concert)
			if err != nil {
				if engine != nil && engine.queue.Classify(err) {
					return engine.EnqueueConcertPush(concert)
				}
				return err
			}
			if engine != nil {
				engine.PublishChange(taskCtx, concert.SuiteID)
			}
			return nil
		},
	})
	if !submitted {
		if engine != nil {
			if err := engine.EnqueueConcertPush(concert); err != nil {
				r.logger.Error("Failed to queue concert push after pool rejection",
					zap.Int("concert_id", concert.ID),
					zap.Error(err))
			}
		}
	}
}

func (r *ConcertRepository) pushOne(ctx context.Context, concert *model.Concert) error {
	rec, err := remote.EncodeConcert(concert)
	if err != nil {
		return err
	}
	if engine := r.getEngine(); engine != nil {
		// The engine's save path carries the retry, timeout, and metrics
		// instrumentation.
		return engine.saveRecord(ctx, rec)
	}
	start := r.now()
	err = r.store.Save(ctx, rec)
	r.metrics.RemoteOpsTotal.WithLabelValues("save").Inc()
	r.metrics.RemoteOpDuration.Observe(r.now().Sub(start).Seconds())
	if err != nil {
		r.metrics.RemoteOpFailures.WithLabelValues("save").Inc()
		return err
	}
	return nil
}

func indexByID(concerts []*model.Concert) map[int]*model.Concert {
	m := make(map[int]*model.Concert, len(concerts))
	for _, c := range concerts {
		m[c.ID] = c
	}
	return m
}
