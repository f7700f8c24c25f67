package bridge

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"travel-booking/internal/models"
	"travel-booking/internal/worker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type replyFunc func(req worker.Request) (resp *worker.Response, delay time.Duration)

type fakeTransport struct {
	out   chan worker.Message
	reply replyFunc

	mu       sync.Mutex
	requests []worker.Request
	inflight sync.WaitGroup
}

func newFakeTransport(reply replyFunc) *fakeTransport {
	return &fakeTransport{out: make(chan worker.Message, 16), reply: reply}
}

func (f *fakeTransport) Post(_ context.Context, req worker.Request) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	f.inflight.Add(1)
	go func() {
		defer f.inflight.Done()
		resp, delay := f.reply(req)
		if resp == nil {
			return
		}
		time.Sleep(delay)
		f.out <- worker.Message{Kind: worker.KindResponse, Response: resp}
	}()
	return nil
}

func (f *fakeTransport) Messages() <-chan worker.Message { return f.out }

func (f *fakeTransport) emit(ev worker.Event) {
	f.out <- worker.Message{Kind: worker.KindEvent, Event: &ev}
}

func (f *fakeTransport) close() {
	f.inflight.Wait()
	close(f.out)
}

func echo(req worker.Request) (*worker.Response, time.Duration) {
	return &worker.Response{ID: req.ID, Operation: req.Operation, Success: true, Data: req.Payload}, 0
}

func startBridge(t *testing.T, reply replyFunc, opts Options) (*Bridge, *fakeTransport) {
	t.Helper()
	f := newFakeTransport(reply)
	b := New(f, opts)
	t.Cleanup(func() {
		f.close()
		<-b.Done()
	})
	return b, f
}

func TestSendRoundTrip(t *testing.T) {
	b, _ := startBridge(t, echo, Options{})

	got, err := Call[worker.IDPayload](context.Background(), b, worker.OpGetBooking, worker.IDPayload{ID: 7})
	require.NoError(t, err)
	assert.EqualValues(t, 7, got.ID)
	assert.Zero(t, b.PendingRequests())
}

func TestRequestIDsAreUnique(t *testing.T) {
	b, f := startBridge(t, echo, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Send(context.Background(), worker.OpGetStats, nil, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	for _, r := range f.requests {
		assert.False(t, seen[r.ID], "duplicate id %s", r.ID)
		seen[r.ID] = true
		assert.Regexp(t, `^req_\d+_\d+$`, r.ID)
	}
	assert.Len(t, seen, 50)
}

func TestTimeoutCleansUpAndDropsLateResponse(t *testing.T) {
	late := 100 * time.Millisecond
	b, _ := startBridge(t, func(req worker.Request) (*worker.Response, time.Duration) {
		return &worker.Response{ID: req.ID, Operation: req.Operation, Success: true}, late
	}, Options{Timeout: 20 * time.Millisecond})

	_, err := b.Send(context.Background(), worker.OpGetStats, nil, 0)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Zero(t, b.PendingRequests())

	time.Sleep(2 * late)
	assert.Zero(t, b.PendingRequests())
}

func TestSyncUsesLongerBudget(t *testing.T) {
	b, _ := startBridge(t, func(req worker.Request) (*worker.Response, time.Duration) {
		return &worker.Response{ID: req.ID, Operation: req.Operation, Success: true, Data: json.RawMessage(`{"successful":1,"failed":0,"errors":[]}`)}, 60 * time.Millisecond
	}, Options{Timeout: 20 * time.Millisecond, SyncTimeout: time.Second})

	result, err := Call[models.SyncResult](context.Background(), b, worker.OpSyncBookings, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Successful)

	_, err = b.Send(context.Background(), worker.OpGetStats, nil, 0)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestFailedOperationIsRejected(t *testing.T) {
	b, _ := startBridge(t, func(req worker.Request) (*worker.Response, time.Duration) {
		return &worker.Response{ID: req.ID, Operation: req.Operation, Success: false, Error: "local store unavailable"}, 0
	}, Options{})

	_, err := b.Send(context.Background(), worker.OpGetStats, nil, 0)
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.Contains(t, err.Error(), "local store unavailable")
}

func TestCallerCancellation(t *testing.T) {
	b, _ := startBridge(t, func(worker.Request) (*worker.Response, time.Duration) { return nil, 0 }, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Send(ctx, worker.OpGetStats, nil, time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Zero(t, b.PendingRequests())
}

func TestNilTransportIsUnavailable(t *testing.T) {
	b := New(nil, Options{})

	assert.False(t, b.Available())
	_, err := b.Send(context.Background(), worker.OpGetStats, nil, 0)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClosedStreamRejectsPendingCalls(t *testing.T) {
	f := newFakeTransport(func(worker.Request) (*worker.Response, time.Duration) { return nil, 0 })
	b := New(f, Options{})

	errs := make(chan error, 1)
	go func() {
		_, err := b.Send(context.Background(), worker.OpGetStats, nil, time.Minute)
		errs <- err
	}()
	require.Eventually(t, func() bool { return b.PendingRequests() == 1 }, time.Second, 5*time.Millisecond)

	f.close()
	<-b.Done()

	assert.ErrorIs(t, <-errs, ErrUnavailable)
	assert.False(t, b.Available())
	_, err := b.Send(context.Background(), worker.OpGetStats, nil, 0)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEventsGoToHandlersNotCallers(t *testing.T) {
	b, f := startBridge(t, echo, Options{})

	received := make(chan worker.Event, 2)
	unsubscribe := b.OnEvent(func(ev worker.Event) { received <- ev })

	f.emit(worker.Event{Type: worker.EventStatsChanged, Data: json.RawMessage(`{"stats":{}}`), Timestamp: 1})
	select {
	case ev := <-received:
		assert.Equal(t, worker.EventStatsChanged, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	unsubscribe()
	f.emit(worker.Event{Type: worker.EventStatsChanged, Timestamp: 2})
	_, err := b.Send(context.Background(), worker.OpGetStats, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, received)
}

func TestBridgeWithRealWorker(t *testing.T) {
	w := worker.New(worker.Options{
		DBPath:    filepath.Join(t.TempDir(), "bridge.db"),
		Confirmer: worker.ConfirmFunc(func(context.Context, models.Booking) error { return nil }),
	})
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	b := New(w, Options{})
	defer func() {
		cancel()
		<-b.Done()
	}()

	completed := make(chan worker.Event, 1)
	b.OnEvent(func(ev worker.Event) {
		if ev.Type == worker.EventSyncCompleted {
			completed <- ev
		}
	})

	_, err := Call[worker.InitDBResult](ctx, b, worker.OpInitDB, nil)
	require.NoError(t, err)

	saved, err := Call[worker.SaveBookingResult](ctx, b, worker.OpSaveBooking, models.Booking{
		TicketID:   "t-1",
		Passengers: models.Passengers{{Name: "Rui", Age: 40, Gender: models.GenderMale}},
	})
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)

	result, err := Call[models.SyncResult](ctx, b, worker.OpSyncBookings, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Successful)

	select {
	case ev := <-completed:
		var data models.SyncCompleted
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		assert.Zero(t, data.Stats.PendingSync)
	case <-time.After(time.Second):
		t.Fatal("no sync-completed event")
	}
}
