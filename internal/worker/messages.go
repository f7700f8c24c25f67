package worker

import (
	"encoding/json"
	"time"

	"travel-booking/internal/models"
)

type Operation string

const (
	OpInitDB        Operation = "init-db"
	OpSaveBooking   Operation = "save-booking"
	OpGetBooking    Operation = "get-booking"
	OpListBookings  Operation = "list-bookings"
	OpUpdateBooking Operation = "update-booking"
	OpDeleteBooking Operation = "delete-booking"
	OpSearchTickets Operation = "search-tickets"
	OpCacheTickets  Operation = "cache-tickets"
	OpGetTicket     Operation = "get-ticket"
	OpSyncBookings  Operation = "sync-bookings"
	OpGetStats      Operation = "get-stats"
	OpBatchUpdate   Operation = "batch-update"
	OpAnalyzeData   Operation = "analyze-data"
)

type EventType string

const (
	EventBookingSaved   EventType = "booking-saved"
	EventBookingUpdated EventType = "booking-updated"
	EventBookingDeleted EventType = "booking-deleted"
	EventStatsChanged   EventType = "stats-changed"
	EventSyncProgress   EventType = "sync-progress"
	EventSyncCompleted  EventType = "sync-completed"
)

// Request is what the bridge posts to the worker.
type Request struct {
	ID        string          `json:"id"`
	Operation Operation       `json:"operation"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type Response struct {
	ID        string          `json:"id"`
	Operation Operation       `json:"operation"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Event is an unsolicited broadcast. Timestamp is unix milliseconds.
type Event struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

type MessageKind string

const (
	KindResponse MessageKind = "response"
	KindEvent    MessageKind = "event"
)

// Message is everything the worker sends back. Exactly one of Response and
// Event is set, as named by Kind.
type Message struct {
	Kind     MessageKind `json:"kind"`
	Response *Response   `json:"response,omitempty"`
	Event    *Event      `json:"event,omitempty"`
}

// Payloads

type InitDBPayload struct {
	Path string `json:"path,omitempty"`
}

type IDPayload struct {
	ID int64 `json:"id"`
}

type ListBookingsPayload struct {
	Field string `json:"field,omitempty"`
	Value string `json:"value,omitempty"`
}

type UpdateBookingPayload struct {
	ID      int64               `json:"id"`
	Changes models.BookingPatch `json:"changes"`
}

type SearchTicketsPayload struct {
	From string     `json:"from"`
	To   string     `json:"to"`
	Date *time.Time `json:"date,omitempty"`
}

type CacheTicketsPayload struct {
	Tickets []models.Ticket `json:"tickets"`
}

type GetTicketPayload struct {
	ID string `json:"id"`
}

// SyncBookingsPayload optionally restricts a pass to the given booking ids.
type SyncBookingsPayload struct {
	IDs []int64 `json:"ids,omitempty"`
}

type BatchUpdatePayload struct {
	Updates []models.BookingUpdate `json:"updates"`
}

// Results

type SaveBookingResult struct {
	ID int64 `json:"id"`
}

type AffectedResult struct {
	Affected int64 `json:"affected"`
}

type CacheTicketsResult struct {
	Cached int `json:"cached"`
}

type InitDBResult struct {
	Ready bool `json:"ready"`
}

// StatsEvent is the payload of every booking change broadcast and of
// stats-changed.
type StatsEvent struct {
	BookingID int64        `json:"bookingId,omitempty"`
	Stats     models.Stats `json:"stats"`
}
