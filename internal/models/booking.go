package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCancelled:
		return true
	}
	return false
}

// SyncState is the reconciliation lifecycle of a booking. It is independent
// of BookingStatus: a confirmed booking may still have a failed sync.
type SyncState string

const (
	SyncSynced  SyncState = "synced"
	SyncPending SyncState = "pending"
	SyncFailed  SyncState = "failed"
)

func (s SyncState) Valid() bool {
	switch s {
	case SyncSynced, SyncPending, SyncFailed:
		return true
	}
	return false
}

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

type Passenger struct {
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender Gender `json:"gender"`
	Seat   string `json:"seat,omitempty"`
}

// Passengers is stored as a JSON column.
type Passengers []Passenger

func (p Passengers) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]Passenger(p))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *Passengers) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = Passengers{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("passengers: unsupported column type %T", src)
	}
	var out []Passenger
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("passengers: %w", err)
	}
	*p = out
	return nil
}

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID          int64         `bun:"id,pk,autoincrement" json:"id,omitempty"`
	TicketID    string        `bun:"ticket_id,notnull" json:"ticketId"`
	Passengers  Passengers    `bun:"passengers,notnull" json:"passengers"`
	TotalAmount float64       `bun:"total_amount,notnull" json:"totalAmount"`
	Status      BookingStatus `bun:"status,notnull" json:"status"`
	CreatedAt   time.Time     `bun:"created_at,notnull" json:"createdAt"`
	SyncStatus  SyncState     `bun:"sync_status,notnull" json:"syncStatus"`
}

// BookingPatch names the fields to overwrite on an existing booking. Nil
// fields are left untouched. CreatedAt and TotalAmount are never patched.
type BookingPatch struct {
	TicketID   *string        `json:"ticketId,omitempty"`
	Passengers *Passengers    `json:"passengers,omitempty"`
	Status     *BookingStatus `json:"status,omitempty"`
	SyncStatus *SyncState     `json:"syncStatus,omitempty"`
}

func (p BookingPatch) Empty() bool {
	return p.TicketID == nil && p.Passengers == nil && p.Status == nil && p.SyncStatus == nil
}

// BookingUpdate is one entry of a batch update.
type BookingUpdate struct {
	ID    int64        `json:"id"`
	Patch BookingPatch `json:"changes"`
}

func StatusPtr(s BookingStatus) *BookingStatus { return &s }

func SyncStatePtr(s SyncState) *SyncState { return &s }
