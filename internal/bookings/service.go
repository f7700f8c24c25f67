package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"travel-booking/internal/boardingpass"
	"travel-booking/internal/bridge"
	"travel-booking/internal/logger"
	"travel-booking/internal/models"
	"travel-booking/internal/worker"
)

const (
	MaxPassengers = 5
	MinAge        = 1
	MaxAge        = 120
)

var (
	ErrInvalidBooking = errors.New("invalid booking")
	ErrNotFound       = errors.New("booking not found")
	ErrTicketNotFound = errors.New("ticket not found")
)

// Syncer is the part of the orchestrator the service triggers after a
// booking is stored.
type Syncer interface {
	SyncNow(ctx context.Context) bool
}

type BookingRequest struct {
	TicketID   string             `json:"ticketId"`
	Passengers []models.Passenger `json:"passengers"`
}

type Options struct {
	Syncer Syncer
	// Online reports current connectivity. Nil means always offline, so no
	// sync is triggered on create.
	Online          func() bool
	ConfirmOnCreate bool
	BoardingPass    *boardingpass.Generator
	Logger          *logger.Logger
}

// Service is the UI-facing booking API. All persistence goes through the
// worker bridge.
type Service struct {
	client bridge.Sender
	opts   Options
	logger *logger.Logger

	triggers sync.WaitGroup
}

func NewService(client bridge.Sender, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{client: client, opts: opts, logger: log}
}

// Validate checks the passenger list. It does not look at the ticket.
func Validate(req BookingRequest) error {
	if strings.TrimSpace(req.TicketID) == "" {
		return fmt.Errorf("%w: ticket id is required", ErrInvalidBooking)
	}
	if n := len(req.Passengers); n < 1 || n > MaxPassengers {
		return fmt.Errorf("%w: between 1 and %d passengers required, got %d", ErrInvalidBooking, MaxPassengers, n)
	}
	for i, p := range req.Passengers {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: passenger %d: name is required", ErrInvalidBooking, i+1)
		}
		if p.Age < MinAge || p.Age > MaxAge {
			return fmt.Errorf("%w: passenger %d: age must be between %d and %d", ErrInvalidBooking, i+1, MinAge, MaxAge)
		}
		if !p.Gender.Valid() {
			return fmt.Errorf("%w: passenger %d: unknown gender %q", ErrInvalidBooking, i+1, p.Gender)
		}
	}
	return nil
}

// CreateBooking stores a pending booking priced from the cached ticket. When
// online, a sync pass is started in the background.
func (s *Service) CreateBooking(ctx context.Context, req BookingRequest) (*models.Booking, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	ticket, err := s.GetTicket(ctx, req.TicketID)
	if err != nil {
		return nil, err
	}
	if ticket.AvailableSeats > 0 && len(req.Passengers) > ticket.AvailableSeats {
		return nil, fmt.Errorf("%w: only %d seats left on %s", ErrInvalidBooking, ticket.AvailableSeats, ticket.ID)
	}

	booking := models.Booking{
		TicketID:    ticket.ID,
		Passengers:  models.Passengers(req.Passengers),
		TotalAmount: ticket.Price * float64(len(req.Passengers)),
		Status:      models.BookingPending,
		SyncStatus:  models.SyncPending,
	}
	res, err := bridge.Call[worker.SaveBookingResult](ctx, s.client, worker.OpSaveBooking, booking)
	if err != nil {
		return nil, fmt.Errorf("save booking: %w", err)
	}
	booking.ID = res.ID
	s.logger.Info("BOOKING", fmt.Sprintf("Booking %d stored for ticket %s (%d passengers, %.2f)", res.ID, ticket.ID, len(req.Passengers), booking.TotalAmount))

	if stored, err := s.GetBooking(ctx, res.ID); err == nil {
		booking = *stored
	}

	s.triggerSync(ctx)
	return &booking, nil
}

func (s *Service) triggerSync(ctx context.Context) {
	if !s.opts.ConfirmOnCreate || s.opts.Syncer == nil || s.opts.Online == nil || !s.opts.Online() {
		return
	}
	// The pass outlives the request that created the booking.
	syncCtx := context.WithoutCancel(ctx)
	s.triggers.Add(1)
	go func() {
		defer s.triggers.Done()
		s.opts.Syncer.SyncNow(syncCtx)
	}()
}

// Wait blocks until every sync started by CreateBooking has returned.
func (s *Service) Wait() {
	s.triggers.Wait()
}

func (s *Service) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	booking, err := bridge.Call[*models.Booking](ctx, s.client, worker.OpGetBooking, worker.IDPayload{ID: id})
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, fmt.Errorf("booking %d: %w", id, ErrNotFound)
	}
	return booking, nil
}

// ListBookings returns every booking newest first, or those whose field
// equals value when field is set.
func (s *Service) ListBookings(ctx context.Context, field, value string) ([]models.Booking, error) {
	bookings, err := bridge.Call[[]models.Booking](ctx, s.client, worker.OpListBookings, worker.ListBookingsPayload{Field: field, Value: value})
	if err != nil {
		return nil, err
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}
	return bookings, nil
}

// CancelBooking marks the booking cancelled and queues it for sync so the
// cancellation reaches the remote side.
func (s *Service) CancelBooking(ctx context.Context, id int64) error {
	res, err := bridge.Call[worker.AffectedResult](ctx, s.client, worker.OpUpdateBooking, worker.UpdateBookingPayload{
		ID: id,
		Changes: models.BookingPatch{
			Status:     models.StatusPtr(models.BookingCancelled),
			SyncStatus: models.SyncStatePtr(models.SyncPending),
		},
	})
	if err != nil {
		return err
	}
	if res.Affected == 0 {
		return fmt.Errorf("booking %d: %w", id, ErrNotFound)
	}
	s.logger.Info("BOOKING", fmt.Sprintf("Booking %d cancelled", id))
	return nil
}

func (s *Service) DeleteBooking(ctx context.Context, id int64) error {
	if _, err := s.client.Send(ctx, worker.OpDeleteBooking, worker.IDPayload{ID: id}, 0); err != nil {
		return err
	}
	s.logger.Info("BOOKING", fmt.Sprintf("Booking %d deleted", id))
	return nil
}

func (s *Service) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	ticket, err := bridge.Call[*models.Ticket](ctx, s.client, worker.OpGetTicket, worker.GetTicketPayload{ID: id})
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, fmt.Errorf("ticket %s: %w", id, ErrTicketNotFound)
	}
	return ticket, nil
}

func (s *Service) SearchTickets(ctx context.Context, from, to string, date *time.Time) ([]models.Ticket, error) {
	tickets, err := bridge.Call[[]models.Ticket](ctx, s.client, worker.OpSearchTickets, worker.SearchTicketsPayload{From: from, To: to, Date: date})
	if err != nil {
		return nil, err
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	return tickets, nil
}

// CacheTickets upserts tickets into the local cache, skipping entries with
// no id or an unknown type.
func (s *Service) CacheTickets(ctx context.Context, tickets []models.Ticket) (int, error) {
	valid := make([]models.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if t.ID == "" || !t.Type.Valid() {
			s.logger.Warn("BOOKING", fmt.Sprintf("skipping ticket %q with type %q", t.ID, t.Type))
			continue
		}
		valid = append(valid, t)
	}
	if len(valid) == 0 {
		return 0, nil
	}
	res, err := bridge.Call[worker.CacheTicketsResult](ctx, s.client, worker.OpCacheTickets, worker.CacheTicketsPayload{Tickets: valid})
	if err != nil {
		return 0, err
	}
	return res.Cached, nil
}

func (s *Service) Stats(ctx context.Context) (models.Stats, error) {
	return bridge.Call[models.Stats](ctx, s.client, worker.OpGetStats, nil)
}

func (s *Service) Analytics(ctx context.Context) (models.Analytics, error) {
	return bridge.Call[models.Analytics](ctx, s.client, worker.OpAnalyzeData, nil)
}

// BoardingPass renders the QR boarding pass of a confirmed booking.
func (s *Service) BoardingPass(ctx context.Context, id int64) ([]byte, error) {
	if s.opts.BoardingPass == nil {
		return nil, errors.New("boarding passes are not configured")
	}
	booking, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	ticket, err := s.GetTicket(ctx, booking.TicketID)
	if err != nil && !errors.Is(err, ErrTicketNotFound) {
		return nil, err
	}
	return s.opts.BoardingPass.PNG(*booking, ticket)
}
