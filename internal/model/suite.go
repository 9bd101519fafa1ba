package model

import "time"

// Role governs what a suite member is allowed to mutate
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// CanModifySeats reports whether this role may edit seats and concerts.
func (r Role) CanModifySeats() bool {
	return r == RoleOwner || r == RoleEditor
}

// CanManageMembers reports whether this role may invite and remove members.
func (r Role) CanManageMembers() bool {
	return r == RoleOwner
}

// CanDeleteConcerts reports whether this role may delete concerts.
func (r Role) CanDeleteConcerts() bool {
	return r == RoleOwner || r == RoleEditor
}

// SuiteMember is a single entry in a suite's member list, unique by UserID
type SuiteMember struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	JoinedDate  time.Time `json:"joinedDate"`
	LastActive  time.Time `json:"lastActive"`
}

// SuiteInfo is the shared collaborative workspace record.
// Invariant: exactly one member holds the owner role and OwnerID matches
// that member's UserID; the owner may be implicit (not listed in Members).
type SuiteInfo struct {
	SuiteID      string        `json:"suiteId"`
	Name         string        `json:"name"`
	Venue        string        `json:"venue"`
	OwnerID      string        `json:"ownerId"`
	CreatedDate  time.Time     `json:"createdDate"`
	LastModified time.Time     `json:"lastModified"`
	Members      []SuiteMember `json:"members"`
	ConcertIDs   []int         `json:"concertIds"`

	// Optional pricing overrides shared across the suite
	FamilyTicketPrice *float64 `json:"familyTicketPrice,omitempty"`
	DefaultSeatCost   *float64 `json:"defaultSeatCost,omitempty"`
}

// MemberByID returns the member entry for userID, or nil if not listed.
func (s *SuiteInfo) MemberByID(userID string) *SuiteMember {
	for i := range s.Members {
		if s.Members[i].UserID == userID {
			return &s.Members[i]
		}
	}
	return nil
}

// IsMember reports whether userID is the owner or a listed member.
func (s *SuiteInfo) IsMember(userID string) bool {
	if s.OwnerID == userID {
		return true
	}
	return s.MemberByID(userID) != nil
}

// RoleOf derives the role of userID for this suite. The owner always wins,
// then the member list, then viewer for a suite fetched before membership
// is visible.
func (s *SuiteInfo) RoleOf(userID string) Role {
	if s.OwnerID == userID {
		return RoleOwner
	}
	if m := s.MemberByID(userID); m != nil {
		return m.Role
	}
	return RoleViewer
}

// AddMember appends a member, replacing any existing entry with the same
// UserID so the uniqueness invariant holds.
func (s *SuiteInfo) AddMember(m SuiteMember) {
	for i := range s.Members {
		if s.Members[i].UserID == m.UserID {
			s.Members[i] = m
			return
		}
	}
	s.Members = append(s.Members, m)
}

// RemoveMember removes the entry for userID. Returns true if it was present.
func (s *SuiteInfo) RemoveMember(userID string) bool {
	for i := range s.Members {
		if s.Members[i].UserID == userID {
			s.Members = append(s.Members[:i], s.Members[i+1:]...)
			return true
		}
	}
	return false
}

// HasConcert reports whether concertID is owned by the suite.
func (s *SuiteInfo) HasConcert(concertID int) bool {
	for _, id := range s.ConcertIDs {
		if id == concertID {
			return true
		}
	}
	return false
}

// AddConcertID records a concert as owned by the suite (set semantics).
func (s *SuiteInfo) AddConcertID(concertID int) {
	if !s.HasConcert(concertID) {
		s.ConcertIDs = append(s.ConcertIDs, concertID)
	}
}

// RemoveConcertID removes a concert from the suite's owned set.
func (s *SuiteInfo) RemoveConcertID(concertID int) {
	for i, id := range s.ConcertIDs {
		if id == concertID {
			s.ConcertIDs = append(s.ConcertIDs[:i], s.ConcertIDs[i+1:]...)
			return
		}
	}
}

// Touch stamps the suite as modified now. All suite mutations go through
// this single function so LastModified stays monotonic per write.
func (s *SuiteInfo) Touch(now time.Time) {
	if now.After(s.LastModified) {
		s.LastModified = now
	} else {
		// Clock skew or same-instant writes: still advance
		s.LastModified = s.LastModified.Add(time.Millisecond)
	}
}

// Clone returns a deep copy so callers never share member or concert slices.
func (s *SuiteInfo) Clone() *SuiteInfo {
	cp := *s
	cp.Members = append([]SuiteMember(nil), s.Members...)
	cp.ConcertIDs = append([]int(nil), s.ConcertIDs...)
	if s.FamilyTicketPrice != nil {
		v := *s.FamilyTicketPrice
		cp.FamilyTicketPrice = &v
	}
	if s.DefaultSeatCost != nil {
		v := *s.DefaultSeatCost
		cp.DefaultSeatCost = &v
	}
	return &cp
}
