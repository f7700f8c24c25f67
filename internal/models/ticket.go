package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketType string

const (
	TicketTypeBus    TicketType = "bus"
	TicketTypeTrain  TicketType = "train"
	TicketTypeFlight TicketType = "flight"
)

func (t TicketType) Valid() bool {
	switch t {
	case TicketTypeBus, TicketTypeTrain, TicketTypeFlight:
		return true
	}
	return false
}

// Ticket is cached travel-offer reference data. Once cached it is only ever
// replaced as a whole (upsert by ID).
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID             string     `bun:"id,pk" json:"id"`
	From           string     `bun:"from_city,notnull" json:"from"`
	To             string     `bun:"to_city,notnull" json:"to"`
	Date           time.Time  `bun:"date,notnull" json:"date"`
	Price          float64    `bun:"price,notnull" json:"price"`
	Type           TicketType `bun:"type,notnull" json:"type"`
	AvailableSeats int        `bun:"available_seats,notnull" json:"availableSeats"`
}

// Route returns the "from → to" label used by analytics.
func (t Ticket) Route() string {
	return t.From + " → " + t.To
}
