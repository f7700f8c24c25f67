package models

import "time"

// Stats are the authoritative counts recomputed from the local store.
type Stats struct {
	TotalBookings     int `bun:"total_bookings" json:"totalBookings"`
	PendingBookings   int `bun:"pending_bookings" json:"pendingBookings"`
	ConfirmedBookings int `bun:"confirmed_bookings" json:"confirmedBookings"`
	CancelledBookings int `bun:"cancelled_bookings" json:"cancelledBookings"`
	PendingSync       int `bun:"pending_sync" json:"pendingSync"`
	FailedSync        int `bun:"failed_sync" json:"failedSync"`
	TotalTickets      int `bun:"-" json:"totalTickets"`
}

// SyncResult is the outcome of one reconciliation pass.
type SyncResult struct {
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors"`
}

type SyncProgress struct {
	Current    int `json:"current"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

type SyncCompleted struct {
	Results SyncResult `json:"results"`
	Stats   Stats      `json:"stats"`
}

// BookingCounters is the booking slice of the application state.
type BookingCounters struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Confirmed int `json:"confirmed"`
	Cancelled int `json:"cancelled"`
	NeedsSync int `json:"needsSync"`
}

// SyncStatus is observed state only; it is never persisted.
type SyncStatus struct {
	IsSyncing    bool       `json:"isSyncing"`
	LastSyncTime *time.Time `json:"lastSyncTime"`
	PendingCount int        `json:"pendingCount"`
	FailedCount  int        `json:"failedCount"`
	SyncErrors   []string   `json:"syncErrors"`
}

type AppState struct {
	Bookings BookingCounters `json:"bookings"`
	Sync     SyncStatus      `json:"sync"`
	Online   bool            `json:"online"`
}

type RouteCount struct {
	Route string `json:"route"`
	Count int    `json:"count"`
}

// Analytics aggregates the booking history for the dashboard.
type Analytics struct {
	TotalRevenue        float64        `json:"totalRevenue"`
	AverageBookingValue float64        `json:"averageBookingValue"`
	TotalBookings       int            `json:"totalBookings"`
	ByType              map[string]int `json:"byType"`
	ByStatus            map[string]int `json:"byStatus"`
	TopRoutes           []RouteCount   `json:"topRoutes"`
}
