package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"travel-booking/internal/models"
)

func (d *DB) CacheTicket(ctx context.Context, ticket models.Ticket) error {
	_, err := d.CacheTickets(ctx, []models.Ticket{ticket})
	return err
}

// CacheTickets upserts tickets by id and returns how many were written.
func (d *DB) CacheTickets(ctx context.Context, tickets []models.Ticket) (int, error) {
	if len(tickets) == 0 {
		return 0, nil
	}
	_, err := d.Bun.NewInsert().
		Model(&tickets).
		On("CONFLICT (id) DO UPDATE").
		Set("from_city = EXCLUDED.from_city").
		Set("to_city = EXCLUDED.to_city").
		Set("date = EXCLUDED.date").
		Set("price = EXCLUDED.price").
		Set("type = EXCLUDED.type").
		Set("available_seats = EXCLUDED.available_seats").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return len(tickets), nil
}

func (d *DB) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) ListTickets(ctx context.Context) ([]models.Ticket, error) {
	tickets := []models.Ticket{}
	err := d.Bun.NewSelect().
		Model(&tickets).
		Order("date ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func (d *DB) DeleteTicket(ctx context.Context, id string) error {
	_, err := d.Bun.NewDelete().
		Model((*models.Ticket)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// SearchTickets returns the cached tickets for a route. With a date only
// tickets departing on the same calendar day (in date's location) are kept;
// the time of day is ignored.
func (d *DB) SearchTickets(ctx context.Context, from, to string, date *time.Time) ([]models.Ticket, error) {
	var found []models.Ticket
	err := d.Bun.NewSelect().
		Model(&found).
		Where("from_city = ?", from).
		Where("to_city = ?", to).
		Order("date ASC", "price ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	tickets := []models.Ticket{}
	for _, t := range found {
		if date == nil || sameDay(t.Date, *date) {
			tickets = append(tickets, t)
		}
	}
	return tickets, nil
}

func sameDay(a, b time.Time) bool {
	y1, m1, d1 := a.In(b.Location()).Date()
	y2, m2, d2 := b.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
