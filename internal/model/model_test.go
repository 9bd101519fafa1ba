package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleOf(t *testing.T) {
	suite := &SuiteInfo{
		OwnerID: "alice",
		Members: []SuiteMember{
			{UserID: "bob", Role: RoleEditor},
		},
	}

	assert.Equal(t, RoleOwner, suite.RoleOf("alice"))
	assert.Equal(t, RoleEditor, suite.RoleOf("bob"))
	assert.Equal(t, RoleViewer, suite.RoleOf("stranger"))
}

func TestAddMember_ReplacesByUserID(t *testing.T) {
	suite := &SuiteInfo{}
	suite.AddMember(SuiteMember{UserID: "bob", Role: RoleViewer})
	suite.AddMember(SuiteMember{UserID: "bob", Role: RoleEditor})

	require.Len(t, suite.Members, 1)
	assert.Equal(t, RoleEditor, suite.Members[0].Role)
}

func TestTouch_NeverMovesBackwards(t *testing.T) {
	suite := &SuiteInfo{}
	later := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	suite.Touch(later)
	assert.Equal(t, later, suite.LastModified)

	// A skewed clock still advances the stamp.
	suite.Touch(earlier)
	assert.True(t, suite.LastModified.After(later))
}

func TestSuiteClone_IsDeep(t *testing.T) {
	price := 450.0
	suite := &SuiteInfo{
		Members:           []SuiteMember{{UserID: "alice", Role: RoleOwner}},
		ConcertIDs:        []int{1},
		FamilyTicketPrice: &price,
	}

	cp := suite.Clone()
	cp.Members[0].Role = RoleViewer
	cp.ConcertIDs[0] = 99
	*cp.FamilyTicketPrice = 1

	assert.Equal(t, RoleOwner, suite.Members[0].Role)
	assert.Equal(t, 1, suite.ConcertIDs[0])
	assert.Equal(t, 450.0, *suite.FamilyTicketPrice)
}

func TestSeatApply_BumpsVersionAndHistory(t *testing.T) {
	var seat Seat
	assert.False(t, seat.Modified())

	at := time.Now()
	seat.Apply(SeatUpdate{Status: SeatReserved, Price: 90}, "alice", at)
	seat.Apply(SeatUpdate{Status: SeatSold, Price: 90, SoldTo: "dan", SaleNote: "cash"}, "alice", at.Add(time.Minute))

	assert.True(t, seat.Modified())
	assert.Equal(t, int64(2), seat.ConflictResolutionVersion)
	require.Len(t, seat.ModificationHistory, 2)
	assert.Equal(t, SeatReserved, seat.ModificationHistory[0].Status)
	assert.Equal(t, SeatSold, seat.ModificationHistory[1].Status)
	assert.Equal(t, "cash", seat.ModificationHistory[1].Note)
}

func TestConcertMarkModified(t *testing.T) {
	c := NewConcert(1, "Beck", time.Now(), "alice")
	assert.Equal(t, int64(0), c.SharedVersion)
	assert.False(t, c.IsShared())

	at := time.Now()
	c.MarkModified("bob", at)
	assert.Equal(t, int64(1), c.SharedVersion)
	assert.Equal(t, "bob", c.LastModifiedBy)

	c.SuiteID = "suite-1"
	assert.True(t, c.IsShared())
}

func TestSeatsDiffer_IgnoresBookkeeping(t *testing.T) {
	at := time.Now()
	a := NewConcert(1, "Beck", at, "alice")
	b := a.Clone()

	assert.False(t, SeatsDiffer(a, b))

	// History and modifier stamps alone do not count as a difference.
	b.Seats[0].LastModifiedBy = "bob"
	b.Seats[0].LastModifiedDate = at
	assert.False(t, SeatsDiffer(a, b))

	b.Seats[0].Status = SeatSold
	assert.True(t, SeatsDiffer(a, b))
}

func TestConcertClone_IsDeep(t *testing.T) {
	c := NewConcert(1, "Beck", time.Now(), "alice")
	c.Seats[0].Apply(SeatUpdate{Status: SeatSold}, "alice", time.Now())
	c.ParkingTicket = &Seat{Status: SeatAvailable}

	cp := c.Clone()
	cp.Seats[0].ModificationHistory[0].Note = "tampered"
	cp.ParkingTicket.Status = SeatSold

	assert.Empty(t, c.Seats[0].ModificationHistory[0].Note)
	assert.Equal(t, SeatAvailable, c.ParkingTicket.Status)
}

func TestInvitationToken_Lifecycle(t *testing.T) {
	now := time.Now()
	token := &InvitationToken{
		ID:             "tok-1",
		ExpirationDate: now.Add(time.Hour),
	}

	assert.True(t, token.IsValid(now))
	assert.False(t, token.IsValid(now.Add(2*time.Hour)))

	token.MarkUsed("bob", now)
	assert.False(t, token.IsValid(now))

	// The flip is one-way: a second consumer never overwrites the first.
	token.MarkUsed("carol", now.Add(time.Minute))
	assert.Equal(t, "bob", token.UsedBy)
}
