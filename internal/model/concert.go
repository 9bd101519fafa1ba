package model

import "time"

// SeatCount is the fixed number of seats in every suite concert.
const SeatCount = 8

// SeatStatus is the sale state of a single seat
type SeatStatus string

const (
	SeatAvailable SeatStatus = "available"
	SeatReserved  SeatStatus = "reserved"
	SeatSold      SeatStatus = "sold"
)

// SeatChange is one entry in a seat's append-only modification history
type SeatChange struct {
	Status     SeatStatus `json:"status"`
	Price      float64    `json:"price"`
	ModifiedBy string     `json:"modifiedBy"`
	ModifiedAt time.Time  `json:"modifiedAt"`
	Note       string     `json:"note,omitempty"`
}

// SeatUpdate carries the caller-editable fields of a seat mutation
type SeatUpdate struct {
	Status   SeatStatus
	Price    float64
	Cost     float64
	Source   string
	SoldTo   string
	SaleNote string
}

// Seat is a single seat in a concert. A zero LastModifiedDate means the
// seat was never touched on this side, which matters to the merge rules.
type Seat struct {
	Status   SeatStatus `json:"status"`
	Price    float64    `json:"price"`
	Cost     float64    `json:"cost"`
	Source   string     `json:"source,omitempty"`
	SoldTo   string     `json:"soldTo,omitempty"`
	SaleNote string     `json:"saleNote,omitempty"`

	LastModifiedBy   string    `json:"lastModifiedBy,omitempty"`
	LastModifiedDate time.Time `json:"lastModifiedDate,omitzero"`

	// ConflictResolutionVersion increments on every mutation, independent
	// of the parent concert's version. Used as a merge tiebreaker when
	// two sides carry the same modification timestamp.
	ConflictResolutionVersion int64 `json:"conflictResolutionVersion"`

	ModificationHistory []SeatChange `json:"modificationHistory,omitempty"`
}

// Apply is the single authoritative seat mutation: it copies the update
// fields, appends to the history, bumps the conflict version, and stamps
// the modifier. Every local edit and every merge-side stamp goes through
// here so version and timestamp never drift apart.
func (s *Seat) Apply(u SeatUpdate, userID string, now time.Time) {
	s.Status = u.Status
	s.Price = u.Price
	s.Cost = u.Cost
	s.Source = u.Source
	s.SoldTo = u.SoldTo
	s.SaleNote = u.SaleNote
	s.LastModifiedBy = userID
	s.LastModifiedDate = now
	s.ConflictResolutionVersion++
	s.ModificationHistory = append(s.ModificationHistory, SeatChange{
		Status:     u.Status,
		Price:      u.Price,
		ModifiedBy: userID,
		ModifiedAt: now,
		Note:       u.SaleNote,
	})
}

// Modified reports whether the seat has ever been touched.
func (s *Seat) Modified() bool {
	return !s.LastModifiedDate.IsZero()
}

// Clone returns a deep copy of the seat.
func (s *Seat) Clone() Seat {
	cp := *s
	cp.ModificationHistory = append([]SeatChange(nil), s.ModificationHistory...)
	return cp
}

// Concert is a single show with a fixed-width block of 8 seats.
// SuiteID is empty for personal, unshared concerts.
type Concert struct {
	ID     int             `json:"id"`
	Artist string          `json:"artist"`
	Date   time.Time       `json:"date"`
	Seats  [SeatCount]Seat `json:"seats"`

	ParkingTicket *Seat `json:"parkingTicket,omitempty"`

	SuiteID          string    `json:"suiteId,omitempty"`
	CreatedBy        string    `json:"createdBy"`
	LastModifiedBy   string    `json:"lastModifiedBy,omitempty"`
	LastModifiedDate time.Time `json:"lastModifiedDate,omitzero"`

	// SharedVersion increments on every mutation of the concert aggregate.
	SharedVersion int64 `json:"sharedVersion"`
}

// NewConcert creates a concert with all seats available.
func NewConcert(id int, artist string, date time.Time, createdBy string) *Concert {
	c := &Concert{
		ID:        id,
		Artist:    artist,
		Date:      date,
		CreatedBy: createdBy,
	}
	for i := range c.Seats {
		c.Seats[i].Status = SeatAvailable
	}
	return c
}

// MarkModified is the single authoritative concert mutation stamp: it
// bumps SharedVersion and records the acting user and time. Seat-level
// edits call Seat.Apply first, then this.
func (c *Concert) MarkModified(userID string, now time.Time) {
	c.SharedVersion++
	c.LastModifiedBy = userID
	c.LastModifiedDate = now
}

// IsShared reports whether the concert belongs to a suite.
func (c *Concert) IsShared() bool {
	return c.SuiteID != ""
}

// Clone returns a deep copy of the concert.
func (c *Concert) Clone() *Concert {
	cp := *c
	for i := range c.Seats {
		cp.Seats[i] = c.Seats[i].Clone()
	}
	if c.ParkingTicket != nil {
		pt := c.ParkingTicket.Clone()
		cp.ParkingTicket = &pt
	}
	return &cp
}

// SeatsDiffer reports whether any seat differs between two concerts in
// status, price, or source. Used by conflict detection; history and
// bookkeeping fields are deliberately ignored.
func SeatsDiffer(a, b *Concert) bool {
	for i := 0; i < SeatCount; i++ {
		if a.Seats[i].Status != b.Seats[i].Status ||
			a.Seats[i].Price != b.Seats[i].Price ||
			a.Seats[i].Source != b.Seats[i].Source {
			return true
		}
	}
	return false
}
