package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/frontrow/suitesync/internal/errors"
	"github.com/frontrow/suitesync/internal/model"
	"github.com/frontrow/suitesync/internal/notify"
	"github.com/frontrow/suitesync/internal/remote"
	"github.com/frontrow/suitesync/internal/store"
	"github.com/frontrow/suitesync/internal/util/workerpool"
)

// newTestRig wires a full device: engine, repository, queue, and token
// service, all against the shared record store.
func newTestRig(t *testing.T, recordStore remote.Store, userID, displayName string) (*SyncService, *ConcertRepository) {
	t.Helper()
	logger := zap.NewNop()
	m := newTestMetrics()
	dir := t.TempDir()

	journal, err := store.NewQueueJournal(filepath.Join(dir, "queue.json"), logger)
	require.NoError(t, err)
	queue := NewOfflineQueue(journal, 5, 30*time.Second, logger, m)
	tokens := NewTokenService(recordStore, DefaultTokenPolicy, logger, m)
	conflicts := NewConflictService(logger, m)

	snapshot, err := store.NewConcertStore(filepath.Join(dir, "concerts.json"), logger)
	require.NoError(t, err)
	pool := workerpool.NewWorkerPool(&workerpool.Config{Name: "test-push", Logger: logger})
	t.Cleanup(func() { pool.Stop(time.Second) })

	engine := NewSyncService(recordStore, tokens, queue, notify.NewLoopback(), userID, displayName, logger, m)
	engine.SetRemoteRetry(RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}, 0)
	repo := NewConcertRepository(snapshot, recordStore, conflicts, pool, logger, m)
	repo.SetEngine(engine)
	engine.SetConcertSyncer(repo)
	queue.SetExecutor(engine)
	return engine, repo
}

func waitForRemoteConcerts(t *testing.T, recordStore *remote.MemoryStore, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return recordStore.Len(remote.TypeConcert) == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAddConcert_PersonalStaysLocal(t *testing.T) {
	recordStore := remote.NewMemoryStore()
	_, repo := newTestRig(t, recordStore, "alice", "Alice")
	ctx := context.Background()

	concert, err := repo.AddConcert(ctx, "Wilco", time.Now())
	require.NoError(t, err)

	assert.Empty(t, concert.SuiteID)
	assert.Len(t, repo.Concerts(), 1)
	assert.Equal(t, 0, recordStore.Len(remote.TypeConcert))
}

func TestAddConcert_SharedConcertIsPushed(t *testing.T) {
	recordStore := remote.NewMemoryStore()
	engine, repo := newTestRig(t, recordStore, "alice", "Alice")
	ctx := context.Background()

	suite, err := engine.CreateSuite(ctx, "Box 12", "Red Rocks")
	require.NoError(t, err)

	concert, err := repo.AddConcert(ctx, "The National", time.Now())
	require.NoError(t, err)
	assert.Equal(t, suite.SuiteID, concert.SuiteID)

	waitForRemoteConcerts(t, recordStore, 1)
}

func TestMigrateUnshared_OnSuiteCreation(t *testing.T) {
	recordStore := remote.NewMemoryStore()
	engine, repo := newTestRig(t, recordStore, "alice", "Alice")
	ctx := context.Background()

	_, err := repo.AddConcert(ctx, "Wilco", time.Now())
	require.NoError(t, err)
	_, err = repo.AddConcert(ctx, "Beck", time.Now())
	require.NoError(t, err)

	suite, err := engine.CreateSuite(ctx, "Box 12", "Red Rocks")
	require.NoError(t, err)

	assert.Len(t, suite.ConcertIDs, 2)
	for _, c := range repo.Concerts() {
		assert.Equal(t, suite.SuiteID, c.SuiteID)
	}
	// CreateSuite pushes migrated concerts synchronously.
	assert.Equal(t, 2, recordStore.Len(remote.TypeConcert))
}

func TestUpdateSeat_AppendsHistoryAndPushes(t *testing.T) {
	recordStore := remote.NewMemoryStore()
	engine, repo := newTestRig(t, recordStore, "alice", "Alice")
	ctx := context.Background()

	_, err := engine.CreateSuite(ctx, "Box 12", "Red Rocks")
	require.NoError(t, err)
	concert, err := repo.AddConcert(ctx, "The National", time.Now())
	require.NoError(t, err)
	waitForRemoteConcerts(t, recordStore, 1)

	updated, err := repo.UpdateSeat(ctx, concert.ID, 3, model.SeatUpdate{
		Status: model.SeatSold, Price: 120, SoldTo: "dan",
	})
	require.NoError(t, err)

	seat := updated.Seats[3]
	assert.Equal(t, model.SeatSold, seat.Status)
	assert.Equal(t, "alice", seat.LastModifiedBy)
	assert.Equal(t, int64(1), seat.ConflictResolutionVersion)
	require.Len(t, seat.ModificationHistory, 1)
	assert.Greater(t, updated.SharedVersion, concert.SharedVersion)

	require.Eventually(t, func() bool {
		rec, err := recordStore.Fetch(ctx, remote.TypeConcert, remote.ConcertRecordID(concert.ID))
		if err != nil {
			return false
		}
		persisted, err := remote.DecodeConcert(rec)
		return err == nil && persisted.Seats[3].Status == model.SeatSold
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUpdateSeat_ViewerGetsExplicitDenial(t *testing.T) {
	recordStore := remote.NewMemoryStore()
	owner, ownerRepo := newTestRig(t, recordStore, "alice", "Alice")
	member, memberRepo := newTestRig(t, recordStore, "bob", "Bob")
	ctx := context.Background()

	suite, err := owner.CreateSuite(ctx, "Box 12", "Red Rocks")
	require.NoError(t, err)
	concert, err := ownerRepo.AddConcert(ctx, "The National", time.Now())
	require.NoError(t, err)
	waitForRemoteConcerts(t, recordStore, 1)

	require.NoError(t, member.JoinSuite(ctx, suite.SuiteID, model.RoleViewer))
	require.Len(t, memberRepo.Concerts(), 1)

	_, err = memberRepo.UpdateSeat(ctx, concert.ID, 0, model.SeatUpdate{Status: model.SeatSold})
	assert.Equal(t, errors.ErrCodePermissionDenied, errors.GetCode(err))

	got, err := memberRepo.Concert(concert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SeatAvailable, got.Seats[0].Status)
}

func TestUpdateSeat_QueuedWhenRemoteDown(t *testing.T) {
	recordStore := remote.NewMemoryStore()
	engine, repo := newTestRig(t, recordStore, "alice", "Alice")
	ctx := context.Background()

	_, err := engine.CreateSuite(ctx, "Box 12", "Red Rocks")
	require.NoError(t, err)
	concert, err := repo.AddConcert(ctx, "Beck", time.Now())
	require.NoError(t, err)
	waitForRemoteConcerts(t, recordStore, 1)

	recordStore.SetFailure("save", errors.NetworkUnavailable("link down", nil))
	_, err = repo.UpdateSeat(ctx, concert.ID, 0, model.SeatUpdate{Status: model.SeatReserved})
	require.NoError(t, err, "local write must succeed while offline")

	require.Eventually(t, func() bool {
		return engine.queue.Depth() == 1
	}, 2*time.Second, 10*time.Millisecond)

	recordStore.SetFailure("save", nil)
	engine.queue.DrainOnce(ctx)

	rec, err := recordStore.Fetch(ctx, remote.TypeConcert, remote.ConcertRecordID(concert.ID))
	require.NoError(t, err)
	persisted, err := remote.DecodeConcert(rec)
	require.NoError(t, err)
	assert.Equal(t, model.SeatReserved, persisted.Seats[0].Status)
}

func TestDeleteConcert_RemovesLocalAndRemote(t *testing.T) {
	recordStore := remote.NewMemoryStore()
	engine, repo := newTestRig(t, recordStore, "alice", "Alice")
	ctx := context.Background()

	_, err := engine.CreateSuite(ctx, "Box 12", "Red Rocks")
	require.NoError(t, err)
	concert, err := repo.AddConcert(ctx, "Beck", time.Now())
	require.NoError(t, err)
	waitForRemoteConcerts(t, recordStore, 1)

	require.NoError(t, repo.DeleteConcert(ctx, concert.ID))
	assert.Empty(t, repo.Concerts())
	waitForRemoteConcerts(t, recordStore, 0)
}

func TestReconcile_MemberAdoptsRemoteSet(t *testing.T) {
	recordStore := remote.NewMemoryStore()
	owner, ownerRepo := newTestRig(t, recordStore, "alice", "Alice")
	member, memberRepo := newTestRig(t, recordStore, "bob", "Bob")
	ctx := context.Background()

	suite, err := owner.CreateSuite(ctx, "Box 12", "Red Rocks")
	require.NoError(t, err)
	_, err = ownerRepo.AddConcert(ctx, "Wilco", time.Now())
	require.NoError(t, err)
	_, err = ownerRepo.AddConcert(ctx, "Beck", time.Now())
	require.NoError(t, err)
	waitForRemoteConcerts(t, recordStore, 2)

	require.NoError(t, member.JoinSuite(ctx, suite.SuiteID, model.RoleViewer))
	assert.Len(t, memberRepo.Concerts(), 2)
}

// Deletions propagate to members: fewer concerts remotely means the remote
// set wins for a non-owner.
func TestReconcile_NonOwnerAdoptsDeletions(t *testing.T) {
	recordStore := remote.NewMemoryStore()
	owner, ownerRepo := newTestRig(t, recordStore, "alice", "Alice")
	member, memberRepo := newTestRig(t, recordStore, "bob", "Bob")
	ctx := context.Background()

	suite, err := owner.CreateSuite(ctx, "Box 12", "Red Rocks")
	require.NoError(t, err)
	first, err := ownerRepo.AddConcert(ctx, "Wilco", time.Now())
	require.NoError(t, err)
	_, err = ownerRepo.AddConcert(ctx, "Beck", time.Now())
	require.NoError(t, err)
	waitForRemoteConcerts(t, recordStore, 2)

	require.NoError(t, member.JoinSuite(ctx, suite.SuiteID, model.RoleViewer))
	require.Len(t, memberRepo.Concerts(), 2)

	require.NoError(t, recordStore.Delete(ctx, remote.TypeConcert, remote.ConcertRecordID(first.ID)))

	require.NoError(t, member.SyncSuiteInfo(ctx))
	assert.Len(t, memberRepo.Concerts(), 1)
}

// The owner treats missing remote concerts as a remote gap, not as a
// deletion: its local list wins and is pushed back up.
func TestReconcile_OwnerKeepsLocalAndPushesBack(t *testing.T) {
	recordStore := remote.NewMemoryStore()
	owner, ownerRepo := newTestRig(t, recordStore, "alice", "Alice")
	ctx := context.Background()

	_, err := owner.CreateSuite(ctx, "Box 12", "Red Rocks")
	require.NoError(t, err)
	first, err := ownerRepo.AddConcert(ctx, "Wilco", time.Now())
	require.NoError(t, err)
	_, err = ownerRepo.AddConcert(ctx, "Beck", time.Now())
	require.NoError(t, err)
	waitForRemoteConcerts(t, recordStore, 2)

	require.NoError(t, recordStore.Delete(ctx, remote.TypeConcert, remote.ConcertRecordID(first.ID)))

	require.NoError(t, owner.SyncSuiteInfo(ctx))

	assert.Len(t, ownerRepo.Concerts(), 2)
	waitForRemoteConcerts(t, recordStore, 2)
}

// Two devices edit different seats of the same concert; after both sync,
// both edits survive.
func TestReconcile_ConcurrentSeatEditsMerge(t *testing.T) {
	recordStore := remote.NewMemoryStore()
	owner, ownerRepo := newTestRig(t, recordStore, "alice", "Alice")
	member, memberRepo := newTestRig(t, recordStore, "bob", "Bob")
	ctx := context.Background()

	suite, err := owner.CreateSuite(ctx, "Box 12", "Red Rocks")
	require.NoError(t, err)
	concert, err := ownerRepo.AddConcert(ctx, "The National", time.Now())
	require.NoError(t, err)
	waitForRemoteConcerts(t, recordStore, 1)

	require.NoError(t, member.JoinSuite(ctx, suite.SuiteID, model.RoleEditor))

	// Member sells seat 5 and its push lands first.
	_, err = memberRepo.UpdateSeat(ctx, concert.ID, 5, model.SeatUpdate{Status: model.SeatSold, Price: 95, SoldTo: "ed"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		rec, err := recordStore.Fetch(ctx, remote.TypeConcert, remote.ConcertRecordID(concert.ID))
		if err != nil {
			return false
		}
		persisted, err := remote.DecodeConcert(rec)
		return err == nil && persisted.Seats[5].Status == model.SeatSold
	}, 2*time.Second, 10*time.Millisecond)

	// Owner edits seat 2 while its own push cannot land, so the merge
	// happens against the member's copy during the next sync.
	recordStore.SetFailure("save", errors.NetworkUnavailable("link down", nil))
	_, err = ownerRepo.UpdateSeat(ctx, concert.ID, 2, model.SeatUpdate{Status: model.SeatReserved, Price: 110})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return owner.queue.Depth() == 1
	}, 2*time.Second, 10*time.Millisecond)
	recordStore.SetFailure("save", nil)

	require.NoError(t, owner.SyncSuiteInfo(ctx))

	merged, err := ownerRepo.Concert(concert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SeatReserved, merged.Seats[2].Status)
	assert.Equal(t, model.SeatSold, merged.Seats[5].Status)
	assert.Equal(t, "ed", merged.Seats[5].SoldTo)
}

func TestClearSharedAndUnshareAll(t *testing.T) {
	recordStore := remote.NewMemoryStore()
	engine, repo := newTestRig(t, recordStore, "alice", "Alice")
	ctx := context.Background()

	_, err := engine.CreateSuite(ctx, "Box 12", "Red Rocks")
	require.NoError(t, err)
	_, err = repo.AddConcert(ctx, "Wilco", time.Now())
	require.NoError(t, err)

	require.NoError(t, repo.UnshareAll(ctx))
	concerts := repo.Concerts()
	require.Len(t, concerts, 1)
	assert.Empty(t, concerts[0].SuiteID)

	// Personal concerts survive a shared-cache clear.
	require.NoError(t, repo.ClearShared(ctx, "left suite"))
	assert.Len(t, repo.Concerts(), 1)
}

// A non-owner's reconcile mirrors remote unmodified: a local edit whose
// push has not landed does not survive the pull. The queued push replays
// it later.
func TestReconcile_NonOwnerMirrorsRemoteOverLocalEdits(t *testing.T) {
	recordStore := remote.NewMemoryStore()
	owner, ownerRepo := newTestRig(t, recordStore, "alice", "Alice")
	member, memberRepo := newTestRig(t, recordStore, "bob", "Bob")
	ctx := context.Background()

	suite, err := owner.CreateSuite(ctx, "Box 12", "Red Rocks")
	require.NoError(t, err)
	concert, err := ownerRepo.AddConcert(ctx, "Wilco", time.Now())
	require.NoError(t, err)
	waitForRemoteConcerts(t, recordStore, 1)

	require.NoError(t, member.JoinSuite(ctx, suite.SuiteID, model.RoleEditor))
	require.Len(t, memberRepo.Concerts(), 1)

	// The member sells a seat while its push cannot land.
	recordStore.SetFailure("save", errors.NetworkUnavailable("link down", nil))
	_, err = memberRepo.UpdateSeat(ctx, concert.ID, 0, model.SeatUpdate{Status: model.SeatSold, Price: 80, SoldTo: "pat"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return member.queue.Depth() == 1
	}, 2*time.Second, 10*time.Millisecond)
	recordStore.SetFailure("save", nil)

	require.NoError(t, member.SyncSuiteInfo(ctx))

	pulled, err := memberRepo.Concert(concert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SeatAvailable, pulled.Seats[0].Status)
}

// An owner device that discovers the suite was deleted elsewhere clears
// its shared state without pushing anything back up.
func TestSyncSuiteInfo_DeletedSuiteIsNotResurrected(t *testing.T) {
	recordStore := remote.NewMemoryStore()
	owner, ownerRepo := newTestRig(t, recordStore, "alice", "Alice")
	ctx := context.Background()

	suite, err := owner.CreateSuite(ctx, "Box 12", "Red Rocks")
	require.NoError(t, err)
	concert, err := ownerRepo.AddConcert(ctx, "Wilco", time.Now())
	require.NoError(t, err)
	waitForRemoteConcerts(t, recordStore, 1)

	// Another device deletes the suite and its concert records.
	require.NoError(t, recordStore.Delete(ctx, remote.TypeConcert, remote.ConcertRecordID(concert.ID)))
	require.NoError(t, recordStore.Delete(ctx, remote.TypeSuite, suite.SuiteID))

	require.NoError(t, owner.SyncSuiteInfo(ctx))

	assert.Nil(t, owner.CurrentSuite())
	assert.Empty(t, ownerRepo.Concerts())
	assert.Equal(t, 0, recordStore.Len(remote.TypeConcert))
}

// The suite record's concert index follows adds and deletes, not just
// creation-time migration.
func TestConcertIndex_FollowsAddAndDelete(t *testing.T) {
	recordStore := remote.NewMemoryStore()
	engine, repo := newTestRig(t, recordStore, "alice", "Alice")
	ctx := context.Background()

	suite, err := engine.CreateSuite(ctx, "Box 12", "Red Rocks")
	require.NoError(t, err)
	concert, err := repo.AddConcert(ctx, "Wilco", time.Now())
	require.NoError(t, err)

	rec, err := recordStore.Fetch(ctx, remote.TypeSuite, suite.SuiteID)
	require.NoError(t, err)
	persisted, err := remote.DecodeSuite(rec)
	require.NoError(t, err)
	assert.True(t, persisted.HasConcert(concert.ID))

	require.NoError(t, repo.DeleteConcert(ctx, concert.ID))

	rec, err = recordStore.Fetch(ctx, remote.TypeSuite, suite.SuiteID)
	require.NoError(t, err)
	persisted, err = remote.DecodeSuite(rec)
	require.NoError(t, err)
	assert.False(t, persisted.HasConcert(concert.ID))
}
