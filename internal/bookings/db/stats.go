package db

import (
	"context"

	"travel-booking/internal/models"
)

const statsQuery = `
	SELECT
		COUNT(*) AS total_bookings,
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending_bookings,
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS confirmed_bookings,
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS cancelled_bookings,
		COALESCE(SUM(CASE WHEN sync_status = ? THEN 1 ELSE 0 END), 0) AS pending_sync,
		COALESCE(SUM(CASE WHEN sync_status = ? THEN 1 ELSE 0 END), 0) AS failed_sync
	FROM bookings
`

// Stats recomputes every counter from the tables. Nothing is cached, so the
// result never drifts from the rows.
func (d *DB) Stats(ctx context.Context) (models.Stats, error) {
	var stats models.Stats
	err := d.Bun.NewRaw(statsQuery,
		models.BookingPending,
		models.BookingConfirmed,
		models.BookingCancelled,
		models.SyncPending,
		models.SyncFailed,
	).Scan(ctx, &stats)
	if err != nil {
		return models.Stats{}, err
	}

	tickets, err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Count(ctx)
	if err != nil {
		return models.Stats{}, err
	}
	stats.TotalTickets = tickets
	return stats, nil
}
