package worker

import (
	"context"
	"fmt"
	"sort"

	"travel-booking/internal/bookings/db"
	"travel-booking/internal/models"
)

const topRoutes = 5

func (w *Worker) analyze(ctx context.Context, store *db.DB) (models.Analytics, error) {
	bookings, err := store.ListBookings(ctx)
	if err != nil {
		return models.Analytics{}, fmt.Errorf("load bookings: %w", err)
	}
	tickets, err := store.ListTickets(ctx)
	if err != nil {
		return models.Analytics{}, fmt.Errorf("load tickets: %w", err)
	}
	// Ties in the route ranking go to the route booked first.
	sort.Slice(bookings, func(i, j int) bool { return bookings[i].ID < bookings[j].ID })
	return Analyze(bookings, tickets), nil
}

// Analyze aggregates the booking history. Cancelled bookings count towards
// the status breakdown but not towards revenue. Bookings whose ticket is no
// longer cached are typed "unknown" and left out of the route ranking.
// Routes with equal counts keep the order in which they were first seen.
func Analyze(bookings []models.Booking, tickets []models.Ticket) models.Analytics {
	byID := make(map[string]models.Ticket, len(tickets))
	for _, t := range tickets {
		byID[t.ID] = t
	}

	a := models.Analytics{
		TotalBookings: len(bookings),
		ByType:        map[string]int{},
		ByStatus:      map[string]int{},
		TopRoutes:     []models.RouteCount{},
	}

	var billable int
	routeIndex := map[string]int{}
	var routes []models.RouteCount

	for _, b := range bookings {
		a.ByStatus[string(b.Status)]++
		if b.Status != models.BookingCancelled {
			a.TotalRevenue += b.TotalAmount
			billable++
		}

		ticket, ok := byID[b.TicketID]
		if !ok {
			a.ByType["unknown"]++
			continue
		}
		a.ByType[string(ticket.Type)]++

		route := ticket.Route()
		if i, seen := routeIndex[route]; seen {
			routes[i].Count++
			continue
		}
		routeIndex[route] = len(routes)
		routes = append(routes, models.RouteCount{Route: route, Count: 1})
	}

	if billable > 0 {
		a.AverageBookingValue = a.TotalRevenue / float64(billable)
	}

	sort.SliceStable(routes, func(i, j int) bool { return routes[i].Count > routes[j].Count })
	if len(routes) > topRoutes {
		routes = routes[:topRoutes]
	}
	a.TopRoutes = append(a.TopRoutes, routes...)
	return a
}
