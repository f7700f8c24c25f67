package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"travel-booking/internal/logger"
	"travel-booking/internal/models"
	"travel-booking/internal/sse"
	"travel-booking/internal/worker"
)

// BookingCountersPatch overwrites the non-nil counters.
type BookingCountersPatch struct {
	Total     *int
	Pending   *int
	Confirmed *int
	Cancelled *int
	NeedsSync *int
}

// SyncPatch overwrites the non-nil sync fields. The pending count is not
// part of it: it always mirrors BookingCounters.NeedsSync.
type SyncPatch struct {
	IsSyncing    *bool
	LastSyncTime *time.Time
	FailedCount  *int
	SyncErrors   []string
}

type Options struct {
	Online bool
	Now    func() time.Time
	Logger *logger.Logger
}

// Store is the single owner of the application state. Each slice is an
// Observable of its own; the combined state is republished after every
// write so that it never disagrees with the slices.
type Store struct {
	mu sync.Mutex

	state      *Observable[models.AppState]
	bookings   *Observable[models.BookingCounters]
	syncStatus *Observable[models.SyncStatus]
	network    *Observable[bool]
	events     *sse.Emitter[worker.Event]

	now    func() time.Time
	logger *logger.Logger
}

func NewStore(opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	initial := models.SyncStatus{SyncErrors: []string{}}
	return &Store{
		state:      NewObservable(models.AppState{Sync: initial, Online: opts.Online}, nil).withClone(cloneState),
		bookings:   NewObservable(models.BookingCounters{}, countersEqual),
		syncStatus: NewObservable(initial, nil).withClone(cloneSync),
		network:    NewObservable(opts.Online, func(a, b bool) bool { return a == b }),
		events:     sse.NewEmitter[worker.Event](32),
		now:        opts.Now,
		logger:     log,
	}
}

func countersEqual(a, b models.BookingCounters) bool { return a == b }

func (s *Store) State() *Observable[models.AppState]           { return s.state }
func (s *Store) Bookings() *Observable[models.BookingCounters] { return s.bookings }
func (s *Store) Sync() *Observable[models.SyncStatus]          { return s.syncStatus }
func (s *Store) Network() *Observable[bool]                    { return s.network }

// Events streams every worker broadcast the store has handled.
func (s *Store) Events(ctx context.Context) <-chan worker.Event {
	return s.events.Subscribe(ctx)
}

func (s *Store) UpdateBookings(p BookingCountersPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateBookings(p)
	s.publish()
}

func (s *Store) UpdateSync(p SyncPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateSync(p)
	s.publish()
}

func (s *Store) SetNetwork(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.network.Set(online)
	s.publish()
}

// MergeStats copies authoritative store counts into the booking counters.
func (s *Store) MergeStats(stats models.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeStats(stats)
	s.publish()
}

// HandleEvent applies a worker broadcast and forwards it to Events
// subscribers.
func (s *Store) HandleEvent(ev worker.Event) {
	s.mu.Lock()
	switch ev.Type {
	case worker.EventBookingSaved, worker.EventBookingUpdated, worker.EventBookingDeleted, worker.EventStatsChanged:
		var data worker.StatsEvent
		if s.decode(ev, &data) {
			s.mergeStats(data.Stats)
		}

	case worker.EventSyncProgress:
		s.updateSync(SyncPatch{IsSyncing: BoolPtr(true)})

	case worker.EventSyncCompleted:
		var data models.SyncCompleted
		if s.decode(ev, &data) {
			now := s.now()
			s.updateSync(SyncPatch{
				IsSyncing:    BoolPtr(false),
				LastSyncTime: &now,
				FailedCount:  &data.Results.Failed,
				SyncErrors:   data.Results.Errors,
			})
			s.mergeStats(data.Stats)
		}

	default:
		s.logger.Warn("STATE", fmt.Sprintf("unhandled event type %q", ev.Type))
	}
	s.publish()
	s.mu.Unlock()

	s.events.Emit(ev)
}

func (s *Store) decode(ev worker.Event, v any) bool {
	if err := json.Unmarshal(ev.Data, v); err != nil {
		s.logger.Error("STATE", fmt.Sprintf("bad %s payload: %v", ev.Type, err))
		return false
	}
	return true
}

func (s *Store) mergeStats(stats models.Stats) {
	s.updateBookings(BookingCountersPatch{
		Total:     &stats.TotalBookings,
		Pending:   &stats.PendingBookings,
		Confirmed: &stats.ConfirmedBookings,
		Cancelled: &stats.CancelledBookings,
		NeedsSync: &stats.PendingSync,
	})
}

func (s *Store) updateBookings(p BookingCountersPatch) {
	next := s.bookings.Get()
	setInt(&next.Total, p.Total)
	setInt(&next.Pending, p.Pending)
	setInt(&next.Confirmed, p.Confirmed)
	setInt(&next.Cancelled, p.Cancelled)
	setInt(&next.NeedsSync, p.NeedsSync)
	s.bookings.Set(next)

	if p.NeedsSync != nil {
		status := s.syncStatus.Get()
		status.PendingCount = *p.NeedsSync
		s.syncStatus.Set(status)
	}
}

func (s *Store) updateSync(p SyncPatch) {
	next := s.syncStatus.Get()
	if p.IsSyncing != nil {
		next.IsSyncing = *p.IsSyncing
	}
	if p.LastSyncTime != nil {
		t := *p.LastSyncTime
		next.LastSyncTime = &t
	}
	setInt(&next.FailedCount, p.FailedCount)
	if p.SyncErrors != nil {
		next.SyncErrors = append([]string{}, p.SyncErrors...)
	}
	s.syncStatus.Set(next)
}

func (s *Store) publish() {
	s.state.Set(models.AppState{
		Bookings: s.bookings.Get(),
		Sync:     s.syncStatus.Get(),
		Online:   s.network.Get(),
	})
}

// cloneSync copies the reference fields of st.
func cloneSync(st models.SyncStatus) models.SyncStatus {
	if st.LastSyncTime != nil {
		t := *st.LastSyncTime
		st.LastSyncTime = &t
	}
	st.SyncErrors = append([]string{}, st.SyncErrors...)
	return st
}

func cloneState(st models.AppState) models.AppState {
	st.Sync = cloneSync(st.Sync)
	return st
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func IntPtr(i int) *int { return &i }

func BoolPtr(b bool) *bool { return &b }
