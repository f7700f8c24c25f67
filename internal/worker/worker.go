package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"travel-booking/internal/bookings/db"
	"travel-booking/internal/logger"
	"travel-booking/internal/models"
)

var (
	ErrClosed           = errors.New("worker closed")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrBadPayload       = errors.New("malformed payload")
)

const DefaultBatchSize = 5

type Options struct {
	DBPath      string
	BusyTimeout time.Duration
	BatchSize   int
	Confirmer   Confirmer
	Logger      *logger.Logger
	Now         func() time.Time
}

// Worker owns its own local store handle and executes requests posted by the
// bridge. It talks to the outside only through Request and Message values
// whose payloads are serialised JSON.
type Worker struct {
	opts   Options
	logger *logger.Logger

	inbox chan Request
	out   chan Message
	done  chan struct{}

	mu    sync.Mutex
	store *db.DB

	handlers sync.WaitGroup
}

func New(opts Options) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Confirmer == nil {
		opts.Confirmer = NewSimulatedConfirmer(0.95, 500*time.Millisecond, time.Now().UnixNano())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Worker{
		opts:   opts,
		logger: log,
		inbox:  make(chan Request),
		out:    make(chan Message, 64),
		done:   make(chan struct{}),
	}
}

// Post hands a request to the worker. It fails with ErrClosed once Run has
// returned.
func (w *Worker) Post(ctx context.Context, req Request) error {
	select {
	case w.inbox <- req:
		return nil
	case <-w.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages streams responses and events. It is closed after Run returns.
func (w *Worker) Messages() <-chan Message {
	return w.out
}

// Run serves requests until ctx is cancelled. Every request is handled on its
// own goroutine so a long reconciliation pass does not hold up reads.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("WORKER", "sync worker started")
	defer func() {
		close(w.done)
		w.handlers.Wait()
		w.closeStore()
		close(w.out)
		w.logger.Info("WORKER", "sync worker stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-w.inbox:
			w.handlers.Add(1)
			go func() {
				defer w.handlers.Done()
				w.handle(ctx, req)
			}()
		}
	}
}

func (w *Worker) handle(ctx context.Context, req Request) {
	start := time.Now()
	data, err := w.dispatch(ctx, req)

	resp := Response{ID: req.ID, Operation: req.Operation, Success: err == nil}
	if err == nil && data != nil {
		raw, mErr := json.Marshal(data)
		if mErr != nil {
			err = fmt.Errorf("encode %s result: %w", req.Operation, mErr)
		} else {
			resp.Data = raw
		}
	}
	if err != nil {
		resp.Success = false
		resp.Error = err.Error()
		w.logger.Warn("WORKER", fmt.Sprintf("[%s] %s failed: %v", req.Operation, req.ID, err))
	}

	w.logger.LogWorker(string(req.Operation), req.ID, fmt.Sprintf("done in %s", time.Since(start).Round(time.Millisecond)))
	w.send(ctx, Message{Kind: KindResponse, Response: &resp})
}

func (w *Worker) dispatch(ctx context.Context, req Request) (any, error) {
	if req.Operation == OpInitDB {
		p, err := decode[InitDBPayload](req.Payload)
		if err != nil {
			return nil, err
		}
		if err := w.initStore(ctx, p.Path); err != nil {
			return nil, err
		}
		return InitDBResult{Ready: true}, nil
	}

	store, err := w.storeHandle()
	if err != nil {
		return nil, err
	}

	switch req.Operation {
	case OpSaveBooking:
		booking, err := decode[models.Booking](req.Payload)
		if err != nil {
			return nil, err
		}
		id, err := store.CreateBooking(ctx, &booking)
		if err != nil {
			return nil, err
		}
		w.broadcastStats(ctx, store, EventBookingSaved, id)
		return SaveBookingResult{ID: id}, nil

	case OpGetBooking:
		p, err := decode[IDPayload](req.Payload)
		if err != nil {
			return nil, err
		}
		booking, err := store.GetBooking(ctx, p.ID)
		if err != nil {
			if !errors.Is(err, db.ErrNotFound) {
				w.logger.Error("WORKER", fmt.Sprintf("get booking %d: %v", p.ID, err))
			}
			return (*models.Booking)(nil), nil
		}
		return booking, nil

	case OpListBookings:
		p, err := decode[ListBookingsPayload](req.Payload)
		if err != nil {
			return nil, err
		}
		var bookings []models.Booking
		if p.Field == "" {
			bookings, err = store.ListBookings(ctx)
		} else {
			bookings, err = store.ListBookingsByField(ctx, p.Field, p.Value)
		}
		if errors.Is(err, db.ErrUnknownField) {
			return nil, err
		}
		if err != nil {
			w.logger.Error("WORKER", fmt.Sprintf("list bookings: %v", err))
			return []models.Booking{}, nil
		}
		return bookings, nil

	case OpUpdateBooking:
		p, err := decode[UpdateBookingPayload](req.Payload)
		if err != nil {
			return nil, err
		}
		affected, err := store.UpdateBooking(ctx, p.ID, p.Changes)
		if err != nil {
			return nil, err
		}
		if affected > 0 {
			w.broadcastStats(ctx, store, EventBookingUpdated, p.ID)
		}
		return AffectedResult{Affected: affected}, nil

	case OpDeleteBooking:
		p, err := decode[IDPayload](req.Payload)
		if err != nil {
			return nil, err
		}
		if err := store.DeleteBooking(ctx, p.ID); err != nil {
			return nil, err
		}
		w.broadcastStats(ctx, store, EventBookingDeleted, p.ID)
		return nil, nil

	case OpSearchTickets:
		p, err := decode[SearchTicketsPayload](req.Payload)
		if err != nil {
			return nil, err
		}
		tickets, err := store.SearchTickets(ctx, p.From, p.To, p.Date)
		if err != nil {
			w.logger.Error("WORKER", fmt.Sprintf("search tickets %s→%s: %v", p.From, p.To, err))
			return []models.Ticket{}, nil
		}
		return tickets, nil

	case OpCacheTickets:
		p, err := decode[CacheTicketsPayload](req.Payload)
		if err != nil {
			return nil, err
		}
		n, err := store.CacheTickets(ctx, p.Tickets)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			w.broadcastStats(ctx, store, EventStatsChanged, 0)
		}
		return CacheTicketsResult{Cached: n}, nil

	case OpGetTicket:
		p, err := decode[GetTicketPayload](req.Payload)
		if err != nil {
			return nil, err
		}
		ticket, err := store.GetTicket(ctx, p.ID)
		if err != nil {
			if !errors.Is(err, db.ErrNotFound) {
				w.logger.Error("WORKER", fmt.Sprintf("get ticket %s: %v", p.ID, err))
			}
			return (*models.Ticket)(nil), nil
		}
		return ticket, nil

	case OpSyncBookings:
		p, err := decode[SyncBookingsPayload](req.Payload)
		if err != nil {
			return nil, err
		}
		return w.reconcile(ctx, store, p.IDs)

	case OpGetStats:
		return store.Stats(ctx)

	case OpBatchUpdate:
		p, err := decode[BatchUpdatePayload](req.Payload)
		if err != nil {
			return nil, err
		}
		affected, err := store.BatchUpdate(ctx, p.Updates)
		if err != nil {
			return nil, err
		}
		w.broadcastStats(ctx, store, EventStatsChanged, 0)
		return AffectedResult{Affected: affected}, nil

	case OpAnalyzeData:
		return w.analyze(ctx, store)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, req.Operation)
}

// Reconcile runs one pass directly, outside of the request loop. The store
// must have been initialised first.
func (w *Worker) Reconcile(ctx context.Context, ids []int64) (models.SyncResult, error) {
	store, err := w.storeHandle()
	if err != nil {
		return models.SyncResult{}, err
	}
	return w.reconcile(ctx, store, ids)
}

func (w *Worker) initStore(ctx context.Context, path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.store != nil {
		return nil
	}
	if path == "" {
		path = w.opts.DBPath
	}
	store, err := db.Open(ctx, db.Options{Path: path, BusyTimeout: w.opts.BusyTimeout, Logger: w.logger})
	if err != nil {
		w.logger.Error("WORKER", fmt.Sprintf("failed to open local store: %v", err))
		return err
	}
	w.store = store
	return nil
}

func (w *Worker) storeHandle() (*db.DB, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.store == nil {
		return nil, db.ErrStoreUnavailable
	}
	return w.store, nil
}

func (w *Worker) closeStore() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.store != nil {
		w.store.Close()
		w.store = nil
	}
}

func (w *Worker) broadcastStats(ctx context.Context, store *db.DB, typ EventType, bookingID int64) {
	stats, err := store.Stats(ctx)
	if err != nil {
		w.logger.Error("WORKER", fmt.Sprintf("recompute stats after %s: %v", typ, err))
		return
	}
	w.emit(ctx, typ, StatsEvent{BookingID: bookingID, Stats: stats})
}

func (w *Worker) emit(ctx context.Context, typ EventType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		w.logger.Error("WORKER", fmt.Sprintf("encode %s event: %v", typ, err))
		return
	}
	w.send(ctx, Message{
		Kind:  KindEvent,
		Event: &Event{Type: typ, Data: raw, Timestamp: w.opts.Now().UnixMilli()},
	})
}

func (w *Worker) send(ctx context.Context, msg Message) {
	select {
	case w.out <- msg:
	case <-ctx.Done():
	}
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return v, nil
}
