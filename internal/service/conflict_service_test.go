package service

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/frontrow/suitesync/internal/metrics"
	"github.com/frontrow/suitesync/internal/model"
)

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
}

func newConflictService() *ConflictService {
	return NewConflictService(zap.NewNop(), newTestMetrics())
}

func TestMergeSeat_LaterModificationWins(t *testing.T) {
	svc := newConflictService()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var local, remote model.Seat
	local.Apply(model.SeatUpdate{Status: model.SeatSold, Price: 120}, "alice", base)
	remote.Apply(model.SeatUpdate{Status: model.SeatReserved, Price: 90}, "bob", base.Add(time.Minute))

	merged := svc.MergeSeat(local, remote)
	assert.Equal(t, model.SeatReserved, merged.Status)
	assert.Equal(t, "bob", merged.LastModifiedBy)

	// Symmetric: swap sides, same winner.
	merged = svc.MergeSeat(remote, local)
	assert.Equal(t, model.SeatReserved, merged.Status)
}

func TestMergeSeat_ModifiedBeatsUntouched(t *testing.T) {
	svc := newConflictService()

	var local, remote model.Seat
	remote.Status = model.SeatAvailable
	local.Apply(model.SeatUpdate{Status: model.SeatSold, Price: 150}, "alice", time.Now())

	merged := svc.MergeSeat(local, remote)
	assert.Equal(t, model.SeatSold, merged.Status)
	assert.Equal(t, float64(150), merged.Price)
}

func TestMergeSeat_TimestampTieHigherVersionWins(t *testing.T) {
	svc := newConflictService()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var local, remote model.Seat
	local.Apply(model.SeatUpdate{Status: model.SeatReserved}, "alice", at)
	remote.Apply(model.SeatUpdate{Status: model.SeatSold}, "bob", at)
	remote.Apply(model.SeatUpdate{Status: model.SeatSold, Price: 99}, "bob", at)

	merged := svc.MergeSeat(local, remote)
	assert.Equal(t, model.SeatSold, merged.Status)
	assert.Equal(t, int64(2), merged.ConflictResolutionVersion)
}

func TestMergeSeat_WithItselfIsUnchanged(t *testing.T) {
	svc := newConflictService()

	var seat model.Seat
	seat.Apply(model.SeatUpdate{Status: model.SeatSold, Price: 75, SoldTo: "carol"}, "alice", time.Now())

	merged := svc.MergeSeat(seat, seat)
	assert.Equal(t, seat.Status, merged.Status)
	assert.Equal(t, seat.Price, merged.Price)
	assert.Equal(t, seat.SoldTo, merged.SoldTo)
	assert.Equal(t, seat.ConflictResolutionVersion, merged.ConflictResolutionVersion)
}

func TestMergeConcert_DisjointSeatEditsBothSurvive(t *testing.T) {
	svc := newConflictService()
	base := time.Date(2026, 4, 10, 20, 0, 0, 0, time.UTC)

	shared := model.NewConcert(1, "The National", base, "alice")
	shared.SuiteID = "suite-1"
	shared.MarkModified("alice", base)

	local := shared.Clone()
	remote := shared.Clone()

	local.Seats[2].Apply(model.SeatUpdate{Status: model.SeatSold, Price: 110, SoldTo: "dan"}, "alice", base.Add(time.Second))
	local.MarkModified("alice", base.Add(time.Second))

	remote.Seats[5].Apply(model.SeatUpdate{Status: model.SeatReserved, Price: 100}, "bob", base.Add(2*time.Second))
	remote.MarkModified("bob", base.Add(2*time.Second))

	merged := svc.MergeConcert("alice", local, remote, base.Add(3*time.Second))

	assert.Equal(t, model.SeatSold, merged.Seats[2].Status)
	assert.Equal(t, "dan", merged.Seats[2].SoldTo)
	assert.Equal(t, model.SeatReserved, merged.Seats[5].Status)
	assert.Equal(t, model.SeatAvailable, merged.Seats[0].Status)
	assert.Greater(t, merged.SharedVersion, local.SharedVersion)
	assert.Greater(t, merged.SharedVersion, remote.SharedVersion)
}

func TestMergeConcert_ParkingTicketMerges(t *testing.T) {
	svc := newConflictService()
	base := time.Now()

	local := model.NewConcert(2, "Wilco", base, "alice")
	remote := local.Clone()

	local.ParkingTicket = &model.Seat{}
	local.ParkingTicket.Apply(model.SeatUpdate{Status: model.SeatSold, Price: 40}, "alice", base)

	merged := svc.MergeConcert("alice", local, remote, base)
	if assert.NotNil(t, merged.ParkingTicket) {
		assert.Equal(t, model.SeatSold, merged.ParkingTicket.Status)
	}
}

func TestDetectConflict(t *testing.T) {
	svc := newConflictService()
	at := time.Date(2026, 4, 10, 20, 0, 0, 0, time.UTC)

	local := model.NewConcert(3, "Beck", at, "alice")
	remote := local.Clone()

	// Neither side touched: no conflict.
	assert.False(t, svc.DetectConflict(local, remote))

	local.Seats[0].Apply(model.SeatUpdate{Status: model.SeatSold, Price: 80}, "alice", at)
	local.MarkModified("alice", at)
	remote.Seats[0].Apply(model.SeatUpdate{Status: model.SeatReserved, Price: 80}, "bob", at.Add(2*time.Second))
	remote.MarkModified("bob", at.Add(2*time.Second))

	// Concurrent edits within the window, seats differ: conflict.
	assert.True(t, svc.DetectConflict(local, remote))

	// Same edits far apart in time: last-writer-wins, not a conflict.
	remote.MarkModified("bob", at.Add(time.Hour))
	assert.False(t, svc.DetectConflict(local, remote))

	// Close in time but identical seat state: not a conflict.
	remote2 := local.Clone()
	remote2.MarkModified("bob", at.Add(time.Second))
	assert.False(t, svc.DetectConflict(local, remote2))
}

func TestDetectConflict_CountsOncePerConflict(t *testing.T) {
	m := newTestMetrics()
	svc := NewConflictService(zap.NewNop(), m)
	at := time.Date(2026, 4, 10, 20, 0, 0, 0, time.UTC)

	local := model.NewConcert(3, "Beck", at, "alice")
	rc := local.Clone()
	local.Seats[0].Apply(model.SeatUpdate{Status: model.SeatSold, Price: 80}, "alice", at)
	local.MarkModified("alice", at)
	rc.Seats[0].Apply(model.SeatUpdate{Status: model.SeatReserved, Price: 80}, "bob", at.Add(time.Second))
	rc.MarkModified("bob", at.Add(time.Second))

	// One detect-then-merge pass, as the repository runs it, counts the
	// conflict exactly once.
	require.True(t, svc.DetectConflict(local, rc))
	svc.MergeConcert("alice", local, rc, at.Add(2*time.Second))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConflictsDetectedTotal))
}
