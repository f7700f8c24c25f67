package syncer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"travel-booking/internal/bridge"
	"travel-booking/internal/logger"
	"travel-booking/internal/models"
	"travel-booking/internal/state"
	"travel-booking/internal/worker"
)

const DefaultInterval = 5 * time.Minute

// Lease guards a pass across processes. Optional.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type Options struct {
	Interval time.Duration
	Lease    Lease
	Logger   *logger.Logger
	Now      func() time.Time
}

// Orchestrator decides when a reconciliation pass runs. It is idle or
// syncing; a trigger that arrives while syncing, offline or with nothing
// pending is dropped rather than queued.
type Orchestrator struct {
	client bridge.Sender
	state  *state.Store
	opts   Options
	logger *logger.Logger

	syncing atomic.Bool

	bgMu     sync.Mutex
	bgCancel context.CancelFunc
	bgDone   chan struct{}
}

func New(client bridge.Sender, st *state.Store, opts Options) *Orchestrator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Orchestrator{client: client, state: st, opts: opts, logger: log}
}

// Syncing reports whether a pass is in flight.
func (o *Orchestrator) Syncing() bool {
	return o.syncing.Load()
}

// SyncNow runs a pass over every pending booking. It returns true only if
// the pass ran (or had nothing to do) and no booking failed.
func (o *Orchestrator) SyncNow(ctx context.Context) bool {
	return o.attempt(ctx, "manual", nil)
}

// ForceSyncOne syncs a single booking, putting it back to pending first if
// its last attempt failed.
func (o *Orchestrator) ForceSyncOne(ctx context.Context, id int64) bool {
	booking, err := bridge.Call[*models.Booking](ctx, o.client, worker.OpGetBooking, worker.IDPayload{ID: id})
	if err != nil {
		o.logger.Warn("SYNC", fmt.Sprintf("force sync %d: %v", id, err))
		return false
	}
	if booking == nil {
		o.logger.Warn("SYNC", fmt.Sprintf("force sync %d: no such booking", id))
		return false
	}

	if booking.SyncStatus == models.SyncFailed {
		_, err := bridge.Call[worker.AffectedResult](ctx, o.client, worker.OpUpdateBooking, worker.UpdateBookingPayload{
			ID:      id,
			Changes: models.BookingPatch{SyncStatus: models.SyncStatePtr(models.SyncPending)},
		})
		if err != nil {
			o.logger.Warn("SYNC", fmt.Sprintf("force sync %d: reset to pending: %v", id, err))
			return false
		}
	}
	return o.attempt(ctx, "force", []int64{id})
}

// RetryFailed puts every failed booking back to pending and runs a pass.
// Failed bookings are never retried on their own.
func (o *Orchestrator) RetryFailed(ctx context.Context) bool {
	failed, err := bridge.Call[[]models.Booking](ctx, o.client, worker.OpListBookings, worker.ListBookingsPayload{
		Field: "syncStatus",
		Value: string(models.SyncFailed),
	})
	if err != nil {
		o.logger.Warn("SYNC", fmt.Sprintf("retry failed: list: %v", err))
		return false
	}

	if len(failed) > 0 {
		updates := make([]models.BookingUpdate, 0, len(failed))
		for _, b := range failed {
			updates = append(updates, models.BookingUpdate{
				ID:    b.ID,
				Patch: models.BookingPatch{SyncStatus: models.SyncStatePtr(models.SyncPending)},
			})
		}
		if _, err := bridge.Call[worker.AffectedResult](ctx, o.client, worker.OpBatchUpdate, worker.BatchUpdatePayload{Updates: updates}); err != nil {
			o.logger.Warn("SYNC", fmt.Sprintf("retry failed: reset: %v", err))
			return false
		}
		o.logger.Info("SYNC", fmt.Sprintf("%d failed bookings queued for retry", len(failed)))
	}
	return o.attempt(ctx, "retry", nil)
}

func (o *Orchestrator) attempt(ctx context.Context, trigger string, ids []int64) bool {
	if !o.syncing.CompareAndSwap(false, true) {
		o.logger.Debug("SYNC", fmt.Sprintf("%s trigger ignored, already syncing", trigger))
		return false
	}
	defer o.syncing.Store(false)

	if !o.state.Network().Get() {
		o.logger.Debug("SYNC", fmt.Sprintf("%s trigger ignored, offline", trigger))
		return false
	}

	// The cached counters may be stale; ask the store.
	stats, err := bridge.Call[models.Stats](ctx, o.client, worker.OpGetStats, nil)
	if err != nil {
		o.logger.Warn("SYNC", fmt.Sprintf("%s trigger: sync unavailable: %v", trigger, err))
		return false
	}
	o.state.MergeStats(stats)
	if stats.PendingSync == 0 {
		return true
	}

	if o.opts.Lease != nil {
		ok, err := o.opts.Lease.Acquire(ctx)
		if err != nil {
			o.logger.Warn("SYNC", fmt.Sprintf("%s trigger: %v", trigger, err))
			return false
		}
		if !ok {
			return false
		}
		defer func() {
			if err := o.opts.Lease.Release(context.Background()); err != nil {
				o.logger.Warn("SYNC", err.Error())
			}
		}()
	}

	runID := uuid.NewString()
	o.logger.LogSync(trigger, runID, fmt.Sprintf("%d bookings pending", stats.PendingSync))
	o.state.UpdateSync(state.SyncPatch{IsSyncing: state.BoolPtr(true)})

	var payload any
	if len(ids) > 0 {
		payload = worker.SyncBookingsPayload{IDs: ids}
	}
	result, err := bridge.Call[models.SyncResult](ctx, o.client, worker.OpSyncBookings, payload)
	if err != nil {
		o.logger.Error("SYNC", fmt.Sprintf("[%s] %s - pass failed: %v", trigger, runID, err))
		o.state.UpdateSync(state.SyncPatch{IsSyncing: state.BoolPtr(false)})
		return false
	}

	// The sync-completed broadcast carries the same data; applying it here
	// as well keeps the state right when that event is missed.
	now := o.opts.Now()
	errs := result.Errors
	if errs == nil {
		errs = []string{}
	}
	o.state.UpdateSync(state.SyncPatch{
		IsSyncing:    state.BoolPtr(false),
		LastSyncTime: &now,
		FailedCount:  &result.Failed,
		SyncErrors:   errs,
	})

	o.logger.LogSync("finished", runID, fmt.Sprintf("%d synced, %d failed", result.Successful, result.Failed))
	return result.Failed == 0
}

// Watch subscribes to connectivity before it returns and hands back the loop
// that runs a pass on every offline to online transition until ctx is done.
// A flip that lands between Watch and the loop starting is not lost.
func (o *Orchestrator) Watch(ctx context.Context) func() {
	online := o.state.Network().Get()
	updates := o.state.Network().Subscribe(ctx)

	return func() {
		for next := range updates {
			if next && !online {
				o.attempt(ctx, "reconnect", nil)
			}
			online = next
		}
	}
}

// Run reacts to connectivity coming back until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	o.Watch(ctx)()
}

// StartBackgroundSync runs a pass every intervalMinutes while online,
// replacing any previous schedule. A non-positive interval uses the default.
func (o *Orchestrator) StartBackgroundSync(intervalMinutes int) {
	interval := o.opts.Interval
	if intervalMinutes > 0 {
		interval = time.Duration(intervalMinutes) * time.Minute
	}
	o.startBackground(interval)
}

func (o *Orchestrator) startBackground(interval time.Duration) {
	o.StopBackgroundSync()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	o.bgMu.Lock()
	o.bgCancel = cancel
	o.bgDone = done
	o.bgMu.Unlock()

	o.logger.Info("SYNC", fmt.Sprintf("background sync every %s", interval))
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if o.state.Network().Get() {
					o.attempt(ctx, "periodic", nil)
				}
			}
		}
	}()
}

// StopBackgroundSync cancels the schedule and waits for it to exit. A pass
// in flight is abandoned by the caller side only; the worker finishes it.
func (o *Orchestrator) StopBackgroundSync() {
	o.bgMu.Lock()
	cancel, done := o.bgCancel, o.bgDone
	o.bgCancel, o.bgDone = nil, nil
	o.bgMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	o.logger.Info("SYNC", "background sync stopped")
}

// BackgroundRunning reports whether a schedule is active.
func (o *Orchestrator) BackgroundRunning() bool {
	o.bgMu.Lock()
	defer o.bgMu.Unlock()
	return o.bgCancel != nil
}
