package model

import "time"

// InvitationToken is a single-use, time-limited credential granting suite
// membership at a specified role. Tokens are never deleted once used; the
// record is kept for audit and anti-replay.
type InvitationToken struct {
	ID             string    `json:"id"`
	SuiteID        string    `json:"suiteId"`
	InvitedBy      string    `json:"invitedBy"`
	Role           Role      `json:"role"`
	CreatedDate    time.Time `json:"createdDate"`
	ExpirationDate time.Time `json:"expirationDate"`

	// Used never reverts to false once set.
	Used     bool      `json:"used"`
	UsedBy   string    `json:"usedBy,omitempty"`
	UsedDate time.Time `json:"usedDate,omitzero"`
}

// IsValid reports whether the token can still be consumed at the given time.
func (t *InvitationToken) IsValid(now time.Time) bool {
	return !t.Used && !now.After(t.ExpirationDate)
}

// MarkUsed flips the token to used. The flip is one-way: calling MarkUsed
// on an already-used token keeps the original consumer.
func (t *InvitationToken) MarkUsed(userID string, now time.Time) {
	if t.Used {
		return
	}
	t.Used = true
	t.UsedBy = userID
	t.UsedDate = now
}
