package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travel-booking/internal/boardingpass"
	"travel-booking/internal/bookings"
	"travel-booking/internal/bridge"
	"travel-booking/internal/logger"
	"travel-booking/internal/models"
	"travel-booking/internal/state"
	"travel-booking/internal/worker"
)

// MockBookingService keeps bookings in memory for handler tests
type MockBookingService struct {
	mu         sync.Mutex
	bookings   map[int64]*models.Booking
	nextID     int64
	lastSearch *time.Time
	failWith   error
}

func NewMockBookingService() *MockBookingService {
	return &MockBookingService{bookings: map[int64]*models.Booking{}, nextID: 1}
}

func (m *MockBookingService) CreateBooking(_ context.Context, req bookings.BookingRequest) (*models.Booking, error) {
	if err := bookings.Validate(req); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &models.Booking{ID: m.nextID, TicketID: req.TicketID, Passengers: req.Passengers, TotalAmount: 10 * float64(len(req.Passengers)),
		Status: models.BookingPending, SyncStatus: models.SyncPending}
	m.bookings[b.ID] = b
	m.nextID++
	return b, nil
}

func (m *MockBookingService) GetBooking(_ context.Context, id int64) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	b, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %d: %w", id, bookings.ErrNotFound)
	}
	return b, nil
}

func (m *MockBookingService) ListBookings(_ context.Context, field, value string) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Booking{}
	for _, b := range m.bookings {
		if field == "status" && string(b.Status) != value {
			continue
		}
		out = append(out, *b)
	}
	return out, nil
}

func (m *MockBookingService) CancelBooking(ctx context.Context, id int64) error {
	b, err := m.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b.Status, b.SyncStatus = models.BookingCancelled, models.SyncPending
	return nil
}

func (m *MockBookingService) DeleteBooking(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bookings, id)
	return nil
}

func (m *MockBookingService) SearchTickets(_ context.Context, from, to string, date *time.Time) ([]models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSearch = date
	return []models.Ticket{{ID: "T1", From: from, To: to, Type: models.TicketTypeBus}}, nil
}

func (m *MockBookingService) CacheTickets(_ context.Context, tickets []models.Ticket) (int, error) {
	return len(tickets), nil
}

func (m *MockBookingService) Stats(context.Context) (models.Stats, error) {
	return models.Stats{TotalBookings: len(m.bookings)}, nil
}

func (m *MockBookingService) Analytics(context.Context) (models.Analytics, error) {
	return models.Analytics{TotalBookings: len(m.bookings), TopRoutes: []models.RouteCount{}}, nil
}

func (m *MockBookingService) BoardingPass(ctx context.Context, id int64) ([]byte, error) {
	b, err := m.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingConfirmed {
		return nil, boardingpass.ErrNotConfirmed
	}
	return []byte("\x89PNG"), nil
}

type fakeSync struct {
	mu         sync.Mutex
	calls      []string
	background bool
	minutes    int
}

func (f *fakeSync) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeSync) SyncNow(context.Context) bool     { f.record("sync"); return true }
func (f *fakeSync) RetryFailed(context.Context) bool { f.record("retry"); return false }
func (f *fakeSync) ForceSyncOne(_ context.Context, id int64) bool {
	f.record(fmt.Sprintf("force:%d", id))
	return true
}
func (f *fakeSync) StartBackgroundSync(minutes int) { f.background, f.minutes = true, minutes }
func (f *fakeSync) StopBackgroundSync()             { f.background = false }
func (f *fakeSync) BackgroundRunning() bool         { return f.background }

type testEnv struct {
	handler  *Handler
	router   http.Handler
	bookings *MockBookingService
	sync     *fakeSync
	state    *state.Store
}

func newTestEnv() *testEnv {
	st := state.NewStore(state.Options{Online: false})
	env := &testEnv{bookings: NewMockBookingService(), sync: &fakeSync{}, state: st}
	env.handler = &Handler{
		Bookings: env.bookings,
		Sync:     env.sync,
		Network:  networkFunc(st.SetNetwork),
		State:    st,
		Logger:   logger.NewNop(),
	}
	env.router = env.handler.Router()
	return env
}

type networkFunc func(bool)

func (f networkFunc) Set(online bool) { f(online) }

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if s, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(s))
	} else if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

var validBody = map[string]any{
	"ticketId":   "T1",
	"passengers": []map[string]any{{"name": "Ada", "age": 36, "gender": "female"}},
}

func TestCreateAndGetBooking(t *testing.T) {
	env := newTestEnv()

	rec, body := env.do(t, http.MethodPost, "/api/bookings", validBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, body["success"])

	rec, body = env.do(t, http.MethodGet, "/api/bookings/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, "pending", data["syncStatus"])
}

func TestCreateBookingValidation(t *testing.T) {
	env := newTestEnv()

	rec, _ := env.do(t, http.MethodPost, "/api/bookings", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := env.do(t, http.MethodPost, "/api/bookings", map[string]any{
		"ticketId":   "T1",
		"passengers": []map[string]any{{"name": "Old", "age": 121, "gender": "male"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "age")
}

func TestBookingErrorsMapToStatus(t *testing.T) {
	env := newTestEnv()

	rec, _ := env.do(t, http.MethodGet, "/api/bookings/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/bookings/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.bookings.failWith = fmt.Errorf("get-booking: %w", bridge.ErrTimeout)
	rec, _ = env.do(t, http.MethodGet, "/api/bookings/1", nil)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	env.bookings.failWith = bridge.ErrUnavailable
	rec, _ = env.do(t, http.MethodGet, "/api/bookings/1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCancelListDelete(t *testing.T) {
	env := newTestEnv()
	env.do(t, http.MethodPost, "/api/bookings", validBody)
	env.do(t, http.MethodPost, "/api/bookings", validBody)

	rec, _ := env.do(t, http.MethodPost, "/api/bookings/2/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, body := env.do(t, http.MethodGet, "/api/bookings?status=cancelled", nil)
	list := body["data"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, float64(2), list[0].(map[string]any)["id"])

	rec, _ = env.do(t, http.MethodDelete, "/api/bookings/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, body = env.do(t, http.MethodGet, "/api/bookings", nil)
	assert.Len(t, body["data"].([]any), 1)
}

func TestBoardingPass(t *testing.T) {
	env := newTestEnv()
	env.do(t, http.MethodPost, "/api/bookings", validBody)

	rec, _ := env.do(t, http.MethodGet, "/api/bookings/1/boarding-pass", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	env.bookings.bookings[1].Status = models.BookingConfirmed
	rec, _ = env.do(t, http.MethodGet, "/api/bookings/1/boarding-pass", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
}

func TestSearchTickets(t *testing.T) {
	env := newTestEnv()

	rec, _ := env.do(t, http.MethodGet, "/api/tickets/search?from=Lisbon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/tickets/search?from=Lisbon&to=Porto&date=June", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := env.do(t, http.MethodGet, "/api/tickets/search?from=Lisbon&to=Porto&date=2026-06-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"].([]any), 1)
	require.NotNil(t, env.bookings.lastSearch)
	assert.Equal(t, 1, env.bookings.lastSearch.Day())

	rec, body = env.do(t, http.MethodPost, "/api/tickets/cache", []models.Ticket{{ID: "T1", Type: models.TicketTypeBus}, {ID: "T2", Type: models.TicketTypeTrain}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["data"].(map[string]any)["cached"])
}

func TestSyncTriggers(t *testing.T) {
	env := newTestEnv()

	rec, body := env.do(t, http.MethodPost, "/api/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["data"].(map[string]any)["ok"])

	_, body = env.do(t, http.MethodPost, "/api/sync/retry", nil)
	assert.Equal(t, false, body["data"].(map[string]any)["ok"])

	rec, _ = env.do(t, http.MethodPost, "/api/sync/7", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"sync", "retry", "force:7"}, env.sync.calls)
}

func TestBackgroundSchedule(t *testing.T) {
	env := newTestEnv()

	rec, _ := env.do(t, http.MethodPost, "/api/sync/background?intervalMinutes=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := env.do(t, http.MethodPost, "/api/sync/background?intervalMinutes=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["data"].(map[string]any)["running"])
	assert.Equal(t, 2, env.sync.minutes)

	_, body = env.do(t, http.MethodDelete, "/api/sync/background", nil)
	assert.Equal(t, false, body["data"].(map[string]any)["running"])
}

func TestNetworkAndStateSlices(t *testing.T) {
	env := newTestEnv()

	rec, _ := env.do(t, http.MethodPut, "/api/network", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPut, "/api/network", map[string]bool{"online": true})
	require.Equal(t, http.StatusOK, rec.Code)

	_, body := env.do(t, http.MethodGet, "/api/state/network", nil)
	assert.Equal(t, true, body["data"].(map[string]any)["online"])

	env.state.UpdateBookings(state.BookingCountersPatch{Total: state.IntPtr(4), NeedsSync: state.IntPtr(2)})

	_, body = env.do(t, http.MethodGet, "/api/state/bookings", nil)
	assert.Equal(t, float64(2), body["data"].(map[string]any)["needsSync"])

	_, body = env.do(t, http.MethodGet, "/api/state/sync", nil)
	assert.Equal(t, float64(2), body["data"].(map[string]any)["pendingCount"])

	_, body = env.do(t, http.MethodGet, "/api/state", nil)
	assert.Equal(t, true, body["data"].(map[string]any)["online"])
}

func TestStatsAndAnalytics(t *testing.T) {
	env := newTestEnv()
	env.do(t, http.MethodPost, "/api/bookings", validBody)

	_, body := env.do(t, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, float64(1), body["data"].(map[string]any)["totalBookings"])

	_, body = env.do(t, http.MethodGet, "/api/analytics", nil)
	assert.Equal(t, float64(1), body["data"].(map[string]any)["totalBookings"])
}

func TestEventStream(t *testing.T) {
	env := newTestEnv()
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream;charset=UTF-8", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)

	stats, _ := json.Marshal(worker.StatsEvent{BookingID: 3, Stats: models.Stats{TotalBookings: 3, PendingSync: 1}})
	env.state.HandleEvent(worker.Event{Type: worker.EventBookingSaved, Data: stats, Timestamp: time.Now().UnixMilli()})

	var eventLine string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: booking-saved") {
			eventLine = line
			break
		}
	}
	assert.Equal(t, "event: booking-saved\n", eventLine)

	data, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, data, `"type":"booking-saved"`)
}
