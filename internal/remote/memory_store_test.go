package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontrow/suitesync/internal/errors"
)

func TestMemoryStore_SaveFetchDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := NewRecord(TypeSuite, "suite-1")
	rec.Fields["suiteName"] = "Box 12"
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Fetch(ctx, TypeSuite, "suite-1")
	require.NoError(t, err)
	assert.Equal(t, "Box 12", got.Fields["suiteName"])

	require.NoError(t, s.Delete(ctx, TypeSuite, "suite-1"))
	_, err = s.Fetch(ctx, TypeSuite, "suite-1")
	assert.True(t, errors.IsNotFound(err))

	err = s.Delete(ctx, TypeSuite, "suite-1")
	assert.True(t, errors.IsNotFound(err))
}

func TestMemoryStore_FetchReturnsIsolatedCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := NewRecord(TypeSuite, "suite-1")
	rec.Fields["suiteName"] = "Box 12"
	require.NoError(t, s.Save(ctx, rec))

	// Mutating a fetched record must not leak into the store.
	got, err := s.Fetch(ctx, TypeSuite, "suite-1")
	require.NoError(t, err)
	got.Fields["suiteName"] = "tampered"

	again, err := s.Fetch(ctx, TypeSuite, "suite-1")
	require.NoError(t, err)
	assert.Equal(t, "Box 12", again.Fields["suiteName"])

	// Same for the caller's copy after Save.
	rec.Fields["suiteName"] = "tampered too"
	final, err := s.Fetch(ctx, TypeSuite, "suite-1")
	require.NoError(t, err)
	assert.Equal(t, "Box 12", final.Fields["suiteName"])
}

func TestMemoryStore_QueryByField(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"tok-1", "tok-2"} {
		rec := NewRecord(TypeToken, id)
		rec.Fields["suiteId"] = "suite-1"
		require.NoError(t, s.Save(ctx, rec))
	}
	other := NewRecord(TypeToken, "tok-3")
	other.Fields["suiteId"] = "suite-2"
	require.NoError(t, s.Save(ctx, other))

	recs, err := s.Query(ctx, TypeToken, "suiteId", "suite-1")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = s.Query(ctx, TypeToken, "suiteId", "suite-404")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestMemoryStore_InjectedFaults(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := NewRecord(TypeSuite, "suite-1")
	require.NoError(t, s.Save(ctx, rec))

	netErr := errors.NetworkUnavailable("link down", nil)
	s.SetFailure("fetch", netErr)
	_, err := s.Fetch(ctx, TypeSuite, "suite-1")
	assert.Equal(t, errors.ErrCodeNetworkUnavailable, errors.GetCode(err))

	s.SetFailure("fetch", nil)
	_, err = s.Fetch(ctx, TypeSuite, "suite-1")
	assert.NoError(t, err)

	s.SetFailure("save", netErr)
	assert.Error(t, s.Save(ctx, rec))

	s.SetFailure("query", netErr)
	_, err = s.Query(ctx, TypeSuite, "ownerId", "alice")
	assert.Error(t, err)
}

func TestMemoryStore_LenPerType(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, NewRecord(TypeSuite, "suite-1")))
	require.NoError(t, s.Save(ctx, NewRecord(TypeConcert, "concert_1")))
	require.NoError(t, s.Save(ctx, NewRecord(TypeConcert, "concert_2")))

	assert.Equal(t, 1, s.Len(TypeSuite))
	assert.Equal(t, 2, s.Len(TypeConcert))
	assert.Equal(t, 0, s.Len(TypeToken))
}
