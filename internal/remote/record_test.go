package remote

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontrow/suitesync/internal/model"
)

func TestSuiteCodec_RoundTrip(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	price := 450.0
	suite := &model.SuiteInfo{
		SuiteID:      "suite-1",
		Name:         "Box 12",
		Venue:        "Red Rocks",
		OwnerID:      "alice",
		CreatedDate:  now,
		LastModified: now.Add(time.Hour),
		Members: []model.SuiteMember{
			{UserID: "alice", DisplayName: "Alice", Role: model.RoleOwner, JoinedDate: now},
			{UserID: "bob", DisplayName: "Bob", Role: model.RoleEditor, JoinedDate: now.Add(time.Minute)},
		},
		ConcertIDs:        []int{3, 7},
		FamilyTicketPrice: &price,
	}

	rec, err := EncodeSuite(suite)
	require.NoError(t, err)
	assert.Equal(t, TypeSuite, rec.Type)
	assert.Equal(t, 2, rec.Fields["memberCount"])

	decoded, err := DecodeSuite(rec)
	require.NoError(t, err)
	assert.Equal(t, suite.Name, decoded.Name)
	assert.Equal(t, suite.Venue, decoded.Venue)
	assert.Equal(t, suite.OwnerID, decoded.OwnerID)
	assert.Equal(t, suite.ConcertIDs, decoded.ConcertIDs)
	require.Len(t, decoded.Members, 2)
	assert.Equal(t, model.RoleEditor, decoded.Members[1].Role)
	require.NotNil(t, decoded.FamilyTicketPrice)
	assert.Equal(t, price, *decoded.FamilyTicketPrice)
	assert.True(t, decoded.LastModified.Equal(suite.LastModified))
}

// Some backends round-trip record fields through JSON, turning ints into
// float64 and string slices into []interface{}. Decoding must tolerate it.
func TestSuiteCodec_ToleratesJSONRoundTrip(t *testing.T) {
	suite := &model.SuiteInfo{
		SuiteID:      "suite-1",
		Name:         "Box 12",
		OwnerID:      "alice",
		CreatedDate:  time.Now().UTC(),
		LastModified: time.Now().UTC(),
		ConcertIDs:   []int{5},
	}
	rec, err := EncodeSuite(suite)
	require.NoError(t, err)

	data, err := json.Marshal(rec.Fields)
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	rec.Fields = fields

	decoded, err := DecodeSuite(rec)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, decoded.ConcertIDs)
	assert.Equal(t, "Box 12", decoded.Name)
}

func TestConcertCodec_RoundTrip(t *testing.T) {
	at := time.Date(2026, 6, 20, 20, 30, 0, 0, time.UTC)
	concert := model.NewConcert(7, "The National", at, "alice")
	concert.SuiteID = "suite-1"
	concert.Seats[4].Apply(model.SeatUpdate{Status: model.SeatSold, Price: 120, SoldTo: "dan"}, "alice", at)
	concert.ParkingTicket = &model.Seat{}
	concert.ParkingTicket.Apply(model.SeatUpdate{Status: model.SeatReserved, Price: 40}, "alice", at)
	concert.MarkModified("alice", at)

	rec, err := EncodeConcert(concert)
	require.NoError(t, err)
	assert.Equal(t, "concert_7", rec.ID)
	assert.Equal(t, "suite-1", rec.Fields["suiteId"])
	assert.Equal(t, rec.Fields["suiteId"], rec.Fields["suiteRef"])

	decoded, err := DecodeConcert(rec)
	require.NoError(t, err)
	assert.Equal(t, 7, decoded.ID)
	assert.Equal(t, "The National", decoded.Artist)
	assert.Equal(t, concert.SharedVersion, decoded.SharedVersion)
	assert.Equal(t, model.SeatSold, decoded.Seats[4].Status)
	assert.Equal(t, "dan", decoded.Seats[4].SoldTo)
	require.Len(t, decoded.Seats[4].ModificationHistory, 1)
	require.NotNil(t, decoded.ParkingTicket)
	assert.Equal(t, model.SeatReserved, decoded.ParkingTicket.Status)
}

func TestConcertCodec_MissingIDIsAnError(t *testing.T) {
	rec := NewRecord(TypeConcert, "concert_9")
	rec.Fields["artist"] = "Beck"

	_, err := DecodeConcert(rec)
	assert.Error(t, err)
}

func TestTokenCodec_RoundTrip(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	token := &model.InvitationToken{
		ID:             "tok-1",
		SuiteID:        "suite-1",
		InvitedBy:      "alice",
		Role:           model.RoleEditor,
		CreatedDate:    now,
		ExpirationDate: now.AddDate(0, 0, 7),
	}
	token.MarkUsed("bob", now.Add(time.Hour))

	decoded, err := DecodeToken(EncodeToken(token))
	require.NoError(t, err)
	assert.Equal(t, token.SuiteID, decoded.SuiteID)
	assert.Equal(t, model.RoleEditor, decoded.Role)
	assert.True(t, decoded.Used)
	assert.Equal(t, "bob", decoded.UsedBy)
	assert.True(t, decoded.UsedDate.Equal(token.UsedDate))
}

func TestUsedTokensCodec_RoundTrip(t *testing.T) {
	ledger := &UsedTokenLedger{
		SuiteID:      "suite-1",
		TokenIDs:     []string{"tok-1", "tok-2"},
		LastModified: time.Now().UTC(),
	}

	rec := EncodeUsedTokens(ledger)
	assert.Equal(t, "usedTokens_suite-1", rec.ID)

	decoded, err := DecodeUsedTokens(rec)
	require.NoError(t, err)
	assert.Equal(t, ledger.TokenIDs, decoded.TokenIDs)
}

func TestFieldTime_ZeroAndCorrupt(t *testing.T) {
	rec := NewRecord(TypeSuite, "s")

	got, err := fieldTime(rec, "missing")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	rec.Fields["bad"] = "not-a-timestamp"
	_, err = fieldTime(rec, "bad")
	assert.Error(t, err)
}
