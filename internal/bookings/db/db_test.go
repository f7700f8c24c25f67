package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travel-booking/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(context.Background(), Options{Path: filepath.Join(t.TempDir(), "bookings.db")})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func newBooking(ticketID string, passengers int) *models.Booking {
	ps := make(models.Passengers, 0, passengers)
	for i := 0; i < passengers; i++ {
		ps = append(ps, models.Passenger{Name: "Passenger", Age: 30, Gender: models.GenderOther})
	}
	return &models.Booking{
		TicketID:    ticketID,
		Passengers:  ps,
		TotalAmount: 100 * float64(passengers),
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestOpenIsIdempotentOnExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookings.db")
	first, err := Open(context.Background(), Options{Path: path})
	require.NoError(t, err)
	_, err = first.CreateBooking(context.Background(), newBooking("t1", 1))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(context.Background(), Options{Path: path})
	require.NoError(t, err)
	defer second.Close()

	bookings, err := second.ListBookings(context.Background())
	require.NoError(t, err)
	assert.Len(t, bookings, 1)
}

func TestCreateAndGetBooking(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	b := newBooking("ticket-1", 2)
	b.Passengers[0].Seat = "12A"
	id, err := d.CreateBooking(ctx, b)
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Equal(t, id, b.ID)

	got, err := d.GetBooking(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ticket-1", got.TicketID)
	assert.Equal(t, models.BookingPending, got.Status)
	assert.Equal(t, models.SyncPending, got.SyncStatus)
	assert.Equal(t, 200.0, got.TotalAmount)
	require.Len(t, got.Passengers, 2)
	assert.Equal(t, "12A", got.Passengers[0].Seat)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetBookingNotFound(t *testing.T) {
	d := setupTestDB(t)

	_, err := d.GetBooking(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListBookingsNewestFirst(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		b := newBooking("ticket", 1)
		b.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		_, err := d.CreateBooking(ctx, b)
		require.NoError(t, err)
	}

	bookings, err := d.ListBookings(ctx)
	require.NoError(t, err)
	require.Len(t, bookings, 3)
	assert.True(t, bookings[0].CreatedAt.After(bookings[1].CreatedAt))
	assert.True(t, bookings[1].CreatedAt.After(bookings[2].CreatedAt))
}

func TestListBookingsByField(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	for _, ticket := range []string{"a", "b", "a"} {
		_, err := d.CreateBooking(ctx, newBooking(ticket, 1))
		require.NoError(t, err)
	}

	byTicket, err := d.ListBookingsByField(ctx, "ticketId", "a")
	require.NoError(t, err)
	require.Len(t, byTicket, 2)
	assert.Less(t, byTicket[0].ID, byTicket[1].ID)

	pending, err := d.ListBookingsByField(ctx, "syncStatus", string(models.SyncPending))
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	_, err = d.ListBookingsByField(ctx, "passengers", "x")
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestUpdateBooking(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	id, err := d.CreateBooking(ctx, newBooking("ticket", 1))
	require.NoError(t, err)

	n, err := d.UpdateBooking(ctx, id, models.BookingPatch{
		Status:     models.StatusPtr(models.BookingConfirmed),
		SyncStatus: models.SyncStatePtr(models.SyncSynced),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := d.GetBooking(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, got.Status)
	assert.Equal(t, models.SyncSynced, got.SyncStatus)
	assert.Equal(t, "ticket", got.TicketID, "unpatched fields stay")

	n, err = d.UpdateBooking(ctx, 999, models.BookingPatch{Status: models.StatusPtr(models.BookingCancelled)})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = d.UpdateBooking(ctx, id, models.BookingPatch{})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = d.UpdateBooking(ctx, id, models.BookingPatch{Status: models.StatusPtr("lost")})
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestDeleteBooking(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	id, err := d.CreateBooking(ctx, newBooking("ticket", 1))
	require.NoError(t, err)
	require.NoError(t, d.DeleteBooking(ctx, id))

	_, err = d.GetBooking(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, d.DeleteBooking(ctx, id), "deleting twice is harmless")
}

func TestBatchUpdateSkipsMissingIDs(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	first, err := d.CreateBooking(ctx, newBooking("ticket", 1))
	require.NoError(t, err)
	second, err := d.CreateBooking(ctx, newBooking("ticket", 1))
	require.NoError(t, err)

	synced := models.BookingPatch{SyncStatus: models.SyncStatePtr(models.SyncSynced)}
	affected, err := d.BatchUpdate(ctx, []models.BookingUpdate{
		{ID: first, Patch: synced},
		{ID: 12345, Patch: synced},
		{ID: second, Patch: synced},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, affected)

	pending, err := d.ListBookingsByField(ctx, "syncStatus", string(models.SyncPending))
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestBatchUpdateRollsBackOnInvalidValue(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	id, err := d.CreateBooking(ctx, newBooking("ticket", 1))
	require.NoError(t, err)

	_, err = d.BatchUpdate(ctx, []models.BookingUpdate{
		{ID: id, Patch: models.BookingPatch{SyncStatus: models.SyncStatePtr(models.SyncSynced)}},
		{ID: id, Patch: models.BookingPatch{SyncStatus: models.SyncStatePtr("bogus")}},
	})
	require.ErrorIs(t, err, ErrInvalidValue)

	got, err := d.GetBooking(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.SyncPending, got.SyncStatus)
}

func TestStatsMatchRows(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	stats, err := d.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{}, stats)

	ids := make([]int64, 0, 5)
	for i := 0; i < 5; i++ {
		id, err := d.CreateBooking(ctx, newBooking("ticket", 1))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err = d.UpdateBooking(ctx, ids[0], models.BookingPatch{
		Status:     models.StatusPtr(models.BookingConfirmed),
		SyncStatus: models.SyncStatePtr(models.SyncSynced),
	})
	require.NoError(t, err)
	_, err = d.UpdateBooking(ctx, ids[1], models.BookingPatch{SyncStatus: models.SyncStatePtr(models.SyncFailed)})
	require.NoError(t, err)
	_, err = d.UpdateBooking(ctx, ids[2], models.BookingPatch{Status: models.StatusPtr(models.BookingCancelled)})
	require.NoError(t, err)
	require.NoError(t, d.DeleteBooking(ctx, ids[4]))
	require.NoError(t, d.CacheTicket(ctx, models.Ticket{ID: "t1", From: "A", To: "B", Date: time.Now(), Price: 10, Type: models.TicketTypeBus}))

	stats, err = d.Stats(ctx)
	require.NoError(t, err)

	bookings, err := d.ListBookings(ctx)
	require.NoError(t, err)
	counted := models.Stats{TotalBookings: len(bookings), TotalTickets: 1}
	for _, b := range bookings {
		switch b.Status {
		case models.BookingPending:
			counted.PendingBookings++
		case models.BookingConfirmed:
			counted.ConfirmedBookings++
		case models.BookingCancelled:
			counted.CancelledBookings++
		}
		switch b.SyncStatus {
		case models.SyncPending:
			counted.PendingSync++
		case models.SyncFailed:
			counted.FailedSync++
		}
	}

	assert.Equal(t, counted, stats)
	assert.Equal(t, 4, stats.TotalBookings)
	assert.Equal(t, 2, stats.PendingBookings)
	assert.Equal(t, 1, stats.FailedSync)
	assert.Equal(t, 2, stats.PendingSync)
}

func TestSearchTicketsByCalendarDay(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	departure := time.Date(2026, 7, 14, 15, 0, 0, 0, time.UTC)
	tickets := []models.Ticket{
		{ID: "x1", From: "Lisbon", To: "Porto", Date: departure, Price: 25, Type: models.TicketTypeTrain, AvailableSeats: 40},
		{ID: "x2", From: "Lisbon", To: "Porto", Date: departure.Add(24 * time.Hour), Price: 20, Type: models.TicketTypeBus, AvailableSeats: 10},
		{ID: "x3", From: "Porto", To: "Lisbon", Date: departure, Price: 30, Type: models.TicketTypeFlight, AvailableSeats: 5},
	}
	n, err := d.CacheTickets(ctx, tickets)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	sameDayMorning := time.Date(2026, 7, 14, 8, 30, 0, 0, time.UTC)
	found, err := d.SearchTickets(ctx, "Lisbon", "Porto", &sameDayMorning)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "x1", found[0].ID)

	all, err := d.SearchTickets(ctx, "Lisbon", "Porto", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := d.SearchTickets(ctx, "Lisbon", "Faro", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCacheTicketsUpserts(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	ticket := models.Ticket{ID: "t1", From: "A", To: "B", Date: time.Now().UTC(), Price: 10, Type: models.TicketTypeBus, AvailableSeats: 3}
	require.NoError(t, d.CacheTicket(ctx, ticket))

	ticket.Price = 12.5
	ticket.AvailableSeats = 1
	require.NoError(t, d.CacheTicket(ctx, ticket))

	got, err := d.GetTicket(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 12.5, got.Price)
	assert.Equal(t, 1, got.AvailableSeats)

	all, err := d.ListTickets(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	n, err := d.CacheTickets(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, d.DeleteTicket(ctx, "t1"))
	_, err = d.GetTicket(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMigrationsDownAndUp(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bookings.db")

	fresh, err := Open(ctx, Options{Path: path, SkipMigrations: true})
	require.NoError(t, err)
	version, err := fresh.Migrations().Version()
	require.NoError(t, err)
	assert.Zero(t, version)
	require.NoError(t, fresh.Close())

	d, err := Open(ctx, Options{Path: path})
	require.NoError(t, err)
	defer d.Close()
	_, err = d.CreateBooking(ctx, newBooking("t1", 1))
	require.NoError(t, err)

	runner := d.Migrations()
	version, err = runner.Version()
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)

	require.NoError(t, runner.MigrateDown())
	version, err = runner.Version()
	require.NoError(t, err)
	assert.Zero(t, version)
	_, err = d.ListBookings(ctx)
	assert.Error(t, err, "bookings table dropped")

	require.NoError(t, runner.MigrateUp())
	bookings, err := d.ListBookings(ctx)
	require.NoError(t, err)
	assert.Empty(t, bookings)
}

func TestApplySyncOutcomesSkipsChangedRows(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 4; i++ {
		id, err := d.CreateBooking(ctx, newBooking("ticket", 1))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := d.UpdateBooking(ctx, ids[1], models.BookingPatch{Status: models.StatusPtr(models.BookingCancelled)})
	require.NoError(t, err)
	require.NoError(t, d.DeleteBooking(ctx, ids[2]))
	_, err = d.UpdateBooking(ctx, ids[3], models.BookingPatch{SyncStatus: models.SyncStatePtr(models.SyncSynced)})
	require.NoError(t, err)

	confirm := models.BookingPatch{
		Status:     models.StatusPtr(models.BookingConfirmed),
		SyncStatus: models.SyncStatePtr(models.SyncSynced),
	}
	applied, err := d.ApplySyncOutcomes(ctx, []SyncOutcome{
		{ID: ids[0], ReadStatus: models.BookingPending, Patch: confirm},
		{ID: ids[1], ReadStatus: models.BookingPending, Patch: confirm},
		{ID: ids[2], ReadStatus: models.BookingPending, Patch: confirm},
		{ID: ids[3], ReadStatus: models.BookingPending, Patch: confirm},
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false, false}, applied)

	cancelled, err := d.GetBooking(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, cancelled.Status)
	assert.Equal(t, models.SyncPending, cancelled.SyncStatus)

	synced, err := d.GetBooking(ctx, ids[3])
	require.NoError(t, err)
	assert.Equal(t, models.BookingPending, synced.Status)
}
