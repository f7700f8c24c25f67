package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"travel-booking/internal/models"
)

// bookingColumns maps the public field names accepted by
// ListBookingsByField to indexed columns.
var bookingColumns = map[string]string{
	"ticketId":   "ticket_id",
	"status":     "status",
	"syncStatus": "sync_status",
}

// CreateBooking inserts b and returns the id assigned by SQLite. Missing
// status fields default to pending, a zero CreatedAt to now.
func (d *DB) CreateBooking(ctx context.Context, b *models.Booking) (int64, error) {
	b.ID = 0
	if b.Status == "" {
		b.Status = models.BookingPending
	}
	if b.SyncStatus == "" {
		b.SyncStatus = models.SyncPending
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if b.Passengers == nil {
		b.Passengers = models.Passengers{}
	}

	res, err := d.Bun.NewInsert().Model(b).Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("insert booking: %w", err)
	}
	if b.ID == 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("insert booking: %w", err)
		}
		b.ID = id
	}
	return b.ID, nil
}

func (d *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	var booking models.Booking
	err := d.Bun.NewSelect().
		Model(&booking).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// ListBookings returns every booking, newest first.
func (d *DB) ListBookings(ctx context.Context) ([]models.Booking, error) {
	bookings := []models.Booking{}
	err := d.Bun.NewSelect().
		Model(&bookings).
		OrderExpr("created_at DESC, id DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return bookings, nil
}

// ListBookingsByField returns bookings whose field equals value in id order.
func (d *DB) ListBookingsByField(ctx context.Context, field, value string) ([]models.Booking, error) {
	column, ok := bookingColumns[field]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	bookings := []models.Booking{}
	err := d.Bun.NewSelect().
		Model(&bookings).
		Where("? = ?", bun.Ident(column), value).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return bookings, nil
}

// UpdateBooking overwrites the patched fields and reports how many rows
// changed. An unknown id is not an error: it affects 0 rows.
func (d *DB) UpdateBooking(ctx context.Context, id int64, patch models.BookingPatch) (int64, error) {
	return updateBooking(ctx, d.Bun, id, patch)
}

func (d *DB) DeleteBooking(ctx context.Context, id int64) error {
	_, err := d.Bun.NewDelete().
		Model((*models.Booking)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// BatchUpdate applies all updates inside one transaction. Updates targeting
// missing ids are skipped and simply not counted.
func (d *DB) BatchUpdate(ctx context.Context, updates []models.BookingUpdate) (int64, error) {
	var affected int64
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, u := range updates {
			n, err := updateBooking(ctx, tx, u.ID, u.Patch)
			if err != nil {
				return fmt.Errorf("booking %d: %w", u.ID, err)
			}
			affected += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// SyncOutcome is the write a sync pass wants to record for one booking. It
// only lands while the row is still pending with the status the pass read.
type SyncOutcome struct {
	ID         int64
	ReadStatus models.BookingStatus
	Patch      models.BookingPatch
}

// ApplySyncOutcomes records the outcomes inside one transaction and reports,
// per outcome, whether it landed. A booking deleted or changed by someone
// else since the pass read it is left alone.
func (d *DB) ApplySyncOutcomes(ctx context.Context, outcomes []SyncOutcome) ([]bool, error) {
	applied := make([]bool, len(outcomes))
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for i, o := range outcomes {
			q, err := bookingUpdate(tx, o.ID, o.Patch)
			if err != nil {
				return fmt.Errorf("booking %d: %w", o.ID, err)
			}
			if q == nil {
				continue
			}
			res, err := q.
				Where("status = ?", o.ReadStatus).
				Where("sync_status = ?", models.SyncPending).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("booking %d: %w", o.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			applied[i] = n > 0
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

func updateBooking(ctx context.Context, idb bun.IDB, id int64, patch models.BookingPatch) (int64, error) {
	q, err := bookingUpdate(idb, id, patch)
	if err != nil || q == nil {
		return 0, err
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// bookingUpdate builds the UPDATE for a patch. An empty patch yields nil.
func bookingUpdate(idb bun.IDB, id int64, patch models.BookingPatch) (*bun.UpdateQuery, error) {
	if patch.Empty() {
		return nil, nil
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidValue, *patch.Status)
	}
	if patch.SyncStatus != nil && !patch.SyncStatus.Valid() {
		return nil, fmt.Errorf("%w: syncStatus %q", ErrInvalidValue, *patch.SyncStatus)
	}

	q := idb.NewUpdate().
		Model((*models.Booking)(nil)).
		Where("id = ?", id)
	if patch.TicketID != nil {
		q = q.Set("ticket_id = ?", *patch.TicketID)
	}
	if patch.Passengers != nil {
		q = q.Set("passengers = ?", *patch.Passengers)
	}
	if patch.Status != nil {
		q = q.Set("status = ?", *patch.Status)
	}
	if patch.SyncStatus != nil {
		q = q.Set("sync_status = ?", *patch.SyncStatus)
	}
	return q, nil
}
