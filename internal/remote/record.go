package remote

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/frontrow/suitesync/internal/errors"
	"github.com/frontrow/suitesync/internal/model"
)

// Codec functions translating between model types and remote records.
// The field names form the wire schema shared by every device, so they
// must not change without a migration.

// ConcertRecordID builds the remote record id for a concert.
func ConcertRecordID(concertID int) string {
	return fmt.Sprintf("concert_%d", concertID)
}

// UsedTokensRecordID builds the remote record id for a suite's used-token
// ledger, the fallback anti-replay record.
func UsedTokensRecordID(suiteID string) string {
	return fmt.Sprintf("usedTokens_%s", suiteID)
}

// EncodeSuite converts a SuiteInfo into its remote record form.
func EncodeSuite(s *model.SuiteInfo) (*Record, error) {
	membersBlob, err := json.Marshal(s.Members)
	if err != nil {
		return nil, fmt.Errorf("encode members: %w", err)
	}
	concertIDs := make([]string, len(s.ConcertIDs))
	for i, id := range s.ConcertIDs {
		concertIDs[i] = strconv.Itoa(id)
	}

	rec := NewRecord(TypeSuite, s.SuiteID)
	rec.Fields["suiteName"] = s.Name
	rec.Fields["venueLocation"] = s.Venue
	rec.Fields["ownerId"] = s.OwnerID
	rec.Fields["createdDate"] = encodeTime(s.CreatedDate)
	rec.Fields["lastModified"] = encodeTime(s.LastModified)
	rec.Fields["memberCount"] = len(s.Members)
	rec.Fields["membersBlob"] = string(membersBlob)
	rec.Fields["concertIds"] = concertIDs
	if s.FamilyTicketPrice != nil {
		rec.Fields["familyTicketPrice"] = *s.FamilyTicketPrice
	}
	if s.DefaultSeatCost != nil {
		rec.Fields["defaultSeatCost"] = *s.DefaultSeatCost
	}
	return rec, nil
}

// DecodeSuite converts a remote suite record back into a SuiteInfo.
func DecodeSuite(rec *Record) (*model.SuiteInfo, error) {
	s := &model.SuiteInfo{
		SuiteID: rec.ID,
		Name:    fieldString(rec, "suiteName"),
		Venue:   fieldString(rec, "venueLocation"),
		OwnerID: fieldString(rec, "ownerId"),
	}
	var err error
	if s.CreatedDate, err = fieldTime(rec, "createdDate"); err != nil {
		return nil, err
	}
	if s.LastModified, err = fieldTime(rec, "lastModified"); err != nil {
		return nil, err
	}
	if blob := fieldString(rec, "membersBlob"); blob != "" {
		if err := json.Unmarshal([]byte(blob), &s.Members); err != nil {
			return nil, errors.ServerError("corrupt members blob in suite record", err).
				WithDetail("suite_id", rec.ID)
		}
	}
	for _, raw := range fieldStringSlice(rec, "concertIds") {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.ServerError("corrupt concert id in suite record", err).
				WithDetail("suite_id", rec.ID)
		}
		s.ConcertIDs = append(s.ConcertIDs, id)
	}
	if v, ok := fieldFloat(rec, "familyTicketPrice"); ok {
		s.FamilyTicketPrice = &v
	}
	if v, ok := fieldFloat(rec, "defaultSeatCost"); ok {
		s.DefaultSeatCost = &v
	}
	return s, nil
}

// EncodeConcert converts a Concert into its remote record form.
func EncodeConcert(c *model.Concert) (*Record, error) {
	seatsBlob, err := json.Marshal(c.Seats)
	if err != nil {
		return nil, fmt.Errorf("encode seats: %w", err)
	}

	rec := NewRecord(TypeConcert, ConcertRecordID(c.ID))
	rec.Fields["concertId"] = c.ID
	rec.Fields["artist"] = c.Artist
	rec.Fields["date"] = encodeTime(c.Date)
	rec.Fields["createdBy"] = c.CreatedBy
	rec.Fields["lastModifiedBy"] = c.LastModifiedBy
	rec.Fields["lastModifiedDate"] = encodeTime(c.LastModifiedDate)
	rec.Fields["sharedVersion"] = c.SharedVersion
	rec.Fields["seatsBlob"] = string(seatsBlob)
	rec.Fields["suiteId"] = c.SuiteID
	rec.Fields["suiteRef"] = c.SuiteID
	if c.ParkingTicket != nil {
		parkingBlob, err := json.Marshal(c.ParkingTicket)
		if err != nil {
			return nil, fmt.Errorf("encode parking ticket: %w", err)
		}
		rec.Fields["parkingBlob"] = string(parkingBlob)
	}
	return rec, nil
}

// DecodeConcert converts a remote concert record back into a Concert.
func DecodeConcert(rec *Record) (*model.Concert, error) {
	c := &model.Concert{
		Artist:         fieldString(rec, "artist"),
		CreatedBy:      fieldString(rec, "createdBy"),
		LastModifiedBy: fieldString(rec, "lastModifiedBy"),
		SuiteID:        fieldString(rec, "suiteId"),
	}
	id, ok := fieldInt(rec, "concertId")
	if !ok {
		return nil, errors.ServerError("concert record missing concertId", nil).
			WithDetail("record_id", rec.ID)
	}
	c.ID = id
	var err error
	if c.Date, err = fieldTime(rec, "date"); err != nil {
		return nil, err
	}
	if c.LastModifiedDate, err = fieldTime(rec, "lastModifiedDate"); err != nil {
		return nil, err
	}
	if v, ok := fieldInt64(rec, "sharedVersion"); ok {
		c.SharedVersion = v
	}
	if blob := fieldString(rec, "seatsBlob"); blob != "" {
		if err := json.Unmarshal([]byte(blob), &c.Seats); err != nil {
			return nil, errors.ServerError("corrupt seats blob in concert record", err).
				WithDetail("record_id", rec.ID)
		}
	}
	if blob := fieldString(rec, "parkingBlob"); blob != "" {
		var pt model.Seat
		if err := json.Unmarshal([]byte(blob), &pt); err != nil {
			return nil, errors.ServerError("corrupt parking blob in concert record", err).
				WithDetail("record_id", rec.ID)
		}
		c.ParkingTicket = &pt
	}
	return c, nil
}

// EncodeToken converts an InvitationToken into its remote record form.
func EncodeToken(t *model.InvitationToken) *Record {
	rec := NewRecord(TypeToken, t.ID)
	rec.Fields["suiteId"] = t.SuiteID
	rec.Fields["invitedBy"] = t.InvitedBy
	rec.Fields["role"] = string(t.Role)
	rec.Fields["createdDate"] = encodeTime(t.CreatedDate)
	rec.Fields["expirationDate"] = encodeTime(t.ExpirationDate)
	rec.Fields["used"] = t.Used
	rec.Fields["usedBy"] = t.UsedBy
	rec.Fields["usedDate"] = encodeTime(t.UsedDate)
	return rec
}

// DecodeToken converts a remote token record back into an InvitationToken.
func DecodeToken(rec *Record) (*model.InvitationToken, error) {
	t := &model.InvitationToken{
		ID:        rec.ID,
		SuiteID:   fieldString(rec, "suiteId"),
		InvitedBy: fieldString(rec, "invitedBy"),
		Role:      model.Role(fieldString(rec, "role")),
		Used:      fieldBool(rec, "used"),
		UsedBy:    fieldString(rec, "usedBy"),
	}
	var err error
	if t.CreatedDate, err = fieldTime(rec, "createdDate"); err != nil {
		return nil, err
	}
	if t.ExpirationDate, err = fieldTime(rec, "expirationDate"); err != nil {
		return nil, err
	}
	if t.UsedDate, err = fieldTime(rec, "usedDate"); err != nil {
		return nil, err
	}
	return t, nil
}

// UsedTokenLedger is the decoded form of the usedTokens aggregate record,
// the fallback anti-replay ledger when per-token writes are unavailable.
type UsedTokenLedger struct {
	SuiteID      string
	TokenIDs     []string
	LastModified time.Time
}

// EncodeUsedTokens converts a ledger into its remote record form.
func EncodeUsedTokens(l *UsedTokenLedger) *Record {
	rec := NewRecord(TypeUsedTokens, UsedTokensRecordID(l.SuiteID))
	rec.Fields["suiteId"] = l.SuiteID
	rec.Fields["tokenIds"] = append([]string(nil), l.TokenIDs...)
	rec.Fields["lastModified"] = encodeTime(l.LastModified)
	return rec
}

// DecodeUsedTokens converts a remote ledger record back into its model form.
func DecodeUsedTokens(rec *Record) (*UsedTokenLedger, error) {
	l := &UsedTokenLedger{
		SuiteID:  fieldString(rec, "suiteId"),
		TokenIDs: fieldStringSlice(rec, "tokenIds"),
	}
	var err error
	if l.LastModified, err = fieldTime(rec, "lastModified"); err != nil {
		return nil, err
	}
	return l, nil
}

// Field accessors. Records round-trip through JSON in some backends, so
// numeric fields may surface as float64 and slices as []interface{}.

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func fieldString(rec *Record, key string) string {
	if v, ok := rec.Fields[key].(string); ok {
		return v
	}
	return ""
}

func fieldBool(rec *Record, key string) bool {
	if v, ok := rec.Fields[key].(bool); ok {
		return v
	}
	return false
}

func fieldTime(rec *Record, key string) (time.Time, error) {
	raw := fieldString(rec, key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, errors.ServerError(
			fmt.Sprintf("corrupt timestamp field %q", key), err).
			WithDetail("record_id", rec.ID)
	}
	return t, nil
}

func fieldInt(rec *Record, key string) (int, bool) {
	v, ok := fieldInt64(rec, key)
	return int(v), ok
}

func fieldInt64(rec *Record, key string) (int64, bool) {
	switch v := rec.Fields[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

func fieldFloat(rec *Record, key string) (float64, bool) {
	switch v := rec.Fields[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func fieldStringSlice(rec *Record, key string) []string {
	switch v := rec.Fields[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
