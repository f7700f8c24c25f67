package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"travel-booking/internal/boardingpass"
	"travel-booking/internal/bookings"
	"travel-booking/internal/bridge"
	"travel-booking/internal/logger"
	"travel-booking/internal/models"
	"travel-booking/internal/sse"
	"travel-booking/internal/state"
	"travel-booking/internal/utils"
	"travel-booking/internal/worker"
)

// BookingService is what the handlers need from bookings.Service.
type BookingService interface {
	CreateBooking(ctx context.Context, req bookings.BookingRequest) (*models.Booking, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListBookings(ctx context.Context, field, value string) ([]models.Booking, error)
	CancelBooking(ctx context.Context, id int64) error
	DeleteBooking(ctx context.Context, id int64) error
	SearchTickets(ctx context.Context, from, to string, date *time.Time) ([]models.Ticket, error)
	CacheTickets(ctx context.Context, tickets []models.Ticket) (int, error)
	Stats(ctx context.Context) (models.Stats, error)
	Analytics(ctx context.Context) (models.Analytics, error)
	BoardingPass(ctx context.Context, id int64) ([]byte, error)
}

// SyncController is what the handlers need from the orchestrator.
type SyncController interface {
	SyncNow(ctx context.Context) bool
	RetryFailed(ctx context.Context) bool
	ForceSyncOne(ctx context.Context, id int64) bool
	StartBackgroundSync(intervalMinutes int)
	StopBackgroundSync()
	BackgroundRunning() bool
}

// NetworkSetter accepts connectivity changes reported by the UI shell.
type NetworkSetter interface {
	Set(online bool)
}

type Handler struct {
	Bookings BookingService
	Sync     SyncController
	Network  NetworkSetter
	State    *state.Store
	Logger   *logger.Logger
}

// Router builds the local HTTP surface.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Route("/api", func(r chi.Router) {
		h.RegisterRoutes(r)
	})
	return r
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/state", func(r chi.Router) {
		r.Get("/", h.GetState)
		r.Get("/bookings", h.GetBookingCounters)
		r.Get("/sync", h.GetSyncStatus)
		r.Get("/network", h.GetNetwork)
	})
	r.Get("/events", h.StreamEvents)

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", h.CreateBooking)
		r.Get("/", h.ListBookings)
		r.Get("/{bookingId}", h.GetBooking)
		r.Delete("/{bookingId}", h.DeleteBooking)
		r.Post("/{bookingId}/cancel", h.CancelBooking)
		r.Get("/{bookingId}/boarding-pass", h.GetBoardingPass)
	})

	r.Route("/tickets", func(r chi.Router) {
		r.Get("/search", h.SearchTickets)
		r.Post("/cache", h.CacheTickets)
	})

	r.Route("/sync", func(r chi.Router) {
		r.Post("/", h.SyncNow)
		r.Post("/retry", h.RetryFailed)
		r.Post("/background", h.StartBackgroundSync)
		r.Delete("/background", h.StopBackgroundSync)
		r.Post("/{bookingId}", h.ForceSyncOne)
	})

	r.Put("/network", h.SetNetwork)
	r.Get("/stats", h.GetStats)
	r.Get("/analytics", h.GetAnalytics)
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.Logger.LogAPI(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), time.Since(start).String())
	})
}

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccess(w, http.StatusOK, "state", h.State.State().Get())
}

func (h *Handler) GetBookingCounters(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccess(w, http.StatusOK, "bookings", h.State.Bookings().Get())
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccess(w, http.StatusOK, "sync", h.State.Sync().Get())
}

func (h *Handler) GetNetwork(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccess(w, http.StatusOK, "network", map[string]bool{"online": h.State.Network().Get()})
}

// StreamEvents relays every worker broadcast as a server-sent event named
// after its type.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	events := h.State.Events(r.Context())
	sse.Stream(w, r, events, func(ev worker.Event) string { return string(ev.Type) }, h.Logger)
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req bookings.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	booking, err := h.Bookings.CreateBooking(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "create booking", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "booking stored", booking)
}

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	var field, value string
	for _, name := range []string{"status", "syncStatus", "ticketId"} {
		if v := r.URL.Query().Get(name); v != "" {
			field, value = name, v
			break
		}
	}

	list, err := h.Bookings.ListBookings(r.Context(), field, value)
	if err != nil {
		h.writeServiceError(w, "list bookings", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "bookings", list)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	booking, err := h.Bookings.GetBooking(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "get booking", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "booking", booking)
}

func (h *Handler) DeleteBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	if err := h.Bookings.DeleteBooking(r.Context(), id); err != nil {
		h.writeServiceError(w, "delete booking", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "booking deleted", nil)
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	if err := h.Bookings.CancelBooking(r.Context(), id); err != nil {
		h.writeServiceError(w, "cancel booking", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "booking cancelled", nil)
}

func (h *Handler) GetBoardingPass(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	img, err := h.Bookings.BoardingPass(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "boarding pass", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=boarding-pass-%d.png", id))
	w.WriteHeader(http.StatusOK)
	w.Write(img)
}

func (h *Handler) SearchTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		utils.WriteError(w, http.StatusBadRequest, "from and to are required", nil)
		return
	}

	var date *time.Time
	if raw := q.Get("date"); raw != "" {
		d, err := parseDate(raw)
		if err != nil {
			utils.WriteError(w, http.StatusBadRequest, "invalid date", err)
			return
		}
		date = &d
	}

	tickets, err := h.Bookings.SearchTickets(r.Context(), from, to, date)
	if err != nil {
		h.writeServiceError(w, "search tickets", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "tickets", tickets)
}

func (h *Handler) CacheTickets(w http.ResponseWriter, r *http.Request) {
	var tickets []models.Ticket
	if err := json.NewDecoder(r.Body).Decode(&tickets); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	n, err := h.Bookings.CacheTickets(r.Context(), tickets)
	if err != nil {
		h.writeServiceError(w, "cache tickets", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "tickets cached", map[string]int{"cached": n})
}

func (h *Handler) SyncNow(w http.ResponseWriter, r *http.Request) {
	h.writeSyncResult(w, h.Sync.SyncNow(r.Context()))
}

func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	h.writeSyncResult(w, h.Sync.RetryFailed(r.Context()))
}

func (h *Handler) ForceSyncOne(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	h.writeSyncResult(w, h.Sync.ForceSyncOne(r.Context(), id))
}

func (h *Handler) writeSyncResult(w http.ResponseWriter, ok bool) {
	utils.WriteSuccess(w, http.StatusOK, "sync finished", map[string]any{
		"ok":   ok,
		"sync": h.State.Sync().Get(),
	})
}

func (h *Handler) StartBackgroundSync(w http.ResponseWriter, r *http.Request) {
	minutes := 0
	if raw := r.URL.Query().Get("intervalMinutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			utils.WriteError(w, http.StatusBadRequest, "intervalMinutes must be a positive integer", err)
			return
		}
		minutes = n
	}
	h.Sync.StartBackgroundSync(minutes)
	utils.WriteSuccess(w, http.StatusOK, "background sync started", map[string]bool{"running": h.Sync.BackgroundRunning()})
}

func (h *Handler) StopBackgroundSync(w http.ResponseWriter, r *http.Request) {
	h.Sync.StopBackgroundSync()
	utils.WriteSuccess(w, http.StatusOK, "background sync stopped", map[string]bool{"running": h.Sync.BackgroundRunning()})
}

func (h *Handler) SetNetwork(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Online == nil {
		utils.WriteError(w, http.StatusBadRequest, `body must be {"online": true|false}`, err)
		return
	}
	h.Network.Set(*body.Online)
	utils.WriteSuccess(w, http.StatusOK, "network updated", map[string]bool{"online": *body.Online})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Bookings.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, "stats", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "stats", stats)
}

func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.Bookings.Analytics(r.Context())
	if err != nil {
		h.writeServiceError(w, "analytics", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "analytics", analytics)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, action string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, bookings.ErrInvalidBooking):
		status = http.StatusBadRequest
	case errors.Is(err, bookings.ErrNotFound), errors.Is(err, bookings.ErrTicketNotFound):
		status = http.StatusNotFound
	case errors.Is(err, boardingpass.ErrNotConfirmed):
		status = http.StatusConflict
	case errors.Is(err, bridge.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, bridge.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, bridge.ErrOperationFailed) && strings.Contains(err.Error(), "unknown booking field"):
		status = http.StatusBadRequest
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", action, err))
	}
	utils.WriteError(w, status, action+" failed", err)
}

func bookingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "bookingId"), 10, 64)
	if err != nil || id <= 0 {
		utils.WriteError(w, http.StatusBadRequest, "invalid booking id", err)
		return 0, false
	}
	return id, true
}

// parseDate accepts a calendar day or a full RFC 3339 timestamp.
func parseDate(raw string) (time.Time, error) {
	if d, err := time.Parse("2006-01-02", raw); err == nil {
		return d, nil
	}
	return time.Parse(time.RFC3339, raw)
}
