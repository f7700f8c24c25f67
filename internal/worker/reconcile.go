package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"travel-booking/internal/bookings/db"
	"travel-booking/internal/models"
)

// reconcile confirms every pending booking (or the pending subset of ids)
// against the remote side. Batches run one after another; the bookings
// inside a batch are confirmed concurrently and a failure never stops its
// siblings.
func (w *Worker) reconcile(ctx context.Context, store *db.DB, ids []int64) (models.SyncResult, error) {
	runID := uuid.NewString()
	result := models.SyncResult{Errors: []string{}}

	pending, err := store.ListBookingsByField(ctx, "syncStatus", string(models.SyncPending))
	if err != nil {
		return result, fmt.Errorf("load pending bookings: %w", err)
	}
	if len(ids) > 0 {
		pending = onlyIDs(pending, ids)
	}

	total := len(pending)
	w.logger.LogSync("START", runID, fmt.Sprintf("%d pending bookings", total))

	for start := 0; start < total; start += w.opts.BatchSize {
		end := min(start+w.opts.BatchSize, total)
		batch := pending[start:end]

		w.emit(ctx, EventSyncProgress, models.SyncProgress{
			Current:    start,
			Total:      total,
			Percentage: start * 100 / total,
		})

		outcomes := w.confirmBatch(ctx, batch)

		writes := make([]db.SyncOutcome, 0, len(batch))
		for i, booking := range batch {
			write := db.SyncOutcome{ID: booking.ID, ReadStatus: booking.Status}
			switch {
			case outcomes[i] != nil:
				write.Patch = models.BookingPatch{SyncStatus: models.SyncStatePtr(models.SyncFailed)}
			case booking.Status == models.BookingCancelled:
				write.Patch = models.BookingPatch{SyncStatus: models.SyncStatePtr(models.SyncSynced)}
			default:
				write.Patch = models.BookingPatch{
					Status:     models.StatusPtr(models.BookingConfirmed),
					SyncStatus: models.SyncStatePtr(models.SyncSynced),
				}
			}
			writes = append(writes, write)
		}

		applied, err := store.ApplySyncOutcomes(ctx, writes)
		if err != nil {
			// Nothing of this batch was recorded; the bookings stay pending
			// and are picked up by the next pass.
			w.logger.Error("SYNC", fmt.Sprintf("[WRITE] %s - batch at %d: %v", runID, start, err))
			for _, booking := range batch {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("Booking %d: %v", booking.ID, err))
			}
			continue
		}

		for i, booking := range batch {
			switch {
			case !applied[i]:
				// Deleted or edited while its confirmation was in flight.
				// An edited booking is still pending and goes out next pass.
				w.logger.Info("SYNC", fmt.Sprintf("[SKIP] %s - booking %d changed during the pass", runID, booking.ID))
			case outcomes[i] != nil:
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("Booking %d: %v", booking.ID, outcomes[i]))
			default:
				result.Successful++
			}
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		w.logger.Error("SYNC", fmt.Sprintf("[STATS] %s - %v", runID, err))
	}
	w.emit(ctx, EventSyncCompleted, models.SyncCompleted{Results: result, Stats: stats})

	w.logger.LogSync("DONE", runID, fmt.Sprintf("%d synced, %d failed", result.Successful, result.Failed))
	return result, nil
}

func (w *Worker) confirmBatch(ctx context.Context, batch []models.Booking) []error {
	outcomes := make([]error, len(batch))
	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = w.opts.Confirmer.Confirm(ctx, batch[i])
		}(i)
	}
	wg.Wait()
	return outcomes
}

func onlyIDs(bookings []models.Booking, ids []int64) []models.Booking {
	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	out := bookings[:0:0]
	for _, b := range bookings {
		if _, ok := wanted[b.ID]; ok {
			out = append(out, b)
		}
	}
	return out
}
