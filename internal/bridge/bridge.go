package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"travel-booking/internal/logger"
	"travel-booking/internal/worker"
)

var (
	ErrTimeout         = errors.New("worker request timed out")
	ErrUnavailable     = errors.New("sync worker unavailable")
	ErrOperationFailed = errors.New("worker operation failed")
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultSyncTimeout = 60 * time.Second
)

// Transport is the worker side of the channel.
type Transport interface {
	Post(ctx context.Context, req worker.Request) error
	Messages() <-chan worker.Message
}

type Options struct {
	Timeout     time.Duration
	SyncTimeout time.Duration
	Logger      *logger.Logger
}

// Bridge correlates requests with the worker's responses by id and fans
// broadcast events out to the registered handlers.
type Bridge struct {
	transport Transport
	opts      Options
	logger    *logger.Logger
	seq       atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan worker.Response
	closed  bool

	handlersMu sync.RWMutex
	handlers   map[int]func(worker.Event)
	nextHandle int

	done chan struct{}
}

// New starts reading from transport. A nil transport yields a bridge that
// rejects every call with ErrUnavailable.
func New(transport Transport, opts Options) *Bridge {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = DefaultSyncTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	b := &Bridge{
		transport: transport,
		opts:      opts,
		logger:    log,
		pending:   map[string]chan worker.Response{},
		handlers:  map[int]func(worker.Event){},
		done:      make(chan struct{}),
	}

	if transport == nil {
		b.closed = true
		close(b.done)
		log.Error("BRIDGE", "no sync worker, every request will be rejected")
		return b
	}
	go b.readLoop()
	return b
}

// Available reports whether the worker is still reachable.
func (b *Bridge) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

// Done is closed once the worker's message stream has ended.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Send posts op to the worker and waits for the matching response. A zero
// timeout selects the default for op.
func (b *Bridge) Send(ctx context.Context, op worker.Operation, payload any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = b.timeoutFor(op)
	}

	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", op, err)
		}
		raw = encoded
	}

	id := b.nextID()
	ch := make(chan worker.Response, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrUnavailable
	}
	b.pending[id] = ch
	b.mu.Unlock()
	defer b.forget(id)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := b.transport.Post(waitCtx, worker.Request{ID: id, Operation: op, Payload: raw}); err != nil {
		if errors.Is(err, worker.ErrClosed) {
			return nil, ErrUnavailable
		}
		return nil, b.waitError(ctx, waitCtx, op, id, timeout)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrUnavailable
		}
		if !resp.Success {
			return nil, fmt.Errorf("%w: %s: %s", ErrOperationFailed, op, resp.Error)
		}
		return resp.Data, nil
	case <-waitCtx.Done():
		return nil, b.waitError(ctx, waitCtx, op, id, timeout)
	}
}

// Sender is the request side of a Bridge.
type Sender interface {
	Send(ctx context.Context, op worker.Operation, payload any, timeout time.Duration) (json.RawMessage, error)
}

// Call is Send with the default timeout and the result decoded into T.
func Call[T any](ctx context.Context, s Sender, op worker.Operation, payload any) (T, error) {
	var out T
	raw, err := s.Send(ctx, op, payload, 0)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s result: %w", op, err)
	}
	return out, nil
}

// OnEvent registers fn for every broadcast event. Handlers run on the read
// loop and must not block. The returned func removes the handler.
func (b *Bridge) OnEvent(fn func(worker.Event)) func() {
	b.handlersMu.Lock()
	handle := b.nextHandle
	b.nextHandle++
	b.handlers[handle] = fn
	b.handlersMu.Unlock()

	return func() {
		b.handlersMu.Lock()
		delete(b.handlers, handle)
		b.handlersMu.Unlock()
	}
}

// PendingRequests is the size of the correlation table.
func (b *Bridge) PendingRequests() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Bridge) readLoop() {
	defer close(b.done)

	for msg := range b.transport.Messages() {
		switch {
		case msg.Kind == worker.KindResponse && msg.Response != nil:
			b.resolve(*msg.Response)
		case msg.Kind == worker.KindEvent && msg.Event != nil:
			b.broadcast(*msg.Event)
		default:
			b.logger.Warn("BRIDGE", fmt.Sprintf("dropping malformed message of kind %q", msg.Kind))
		}
	}

	b.mu.Lock()
	b.closed = true
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
	b.mu.Unlock()
	b.logger.Warn("BRIDGE", "worker message stream closed")
}

func (b *Bridge) resolve(resp worker.Response) {
	b.mu.Lock()
	ch, ok := b.pending[resp.ID]
	if ok {
		delete(b.pending, resp.ID)
	}
	b.mu.Unlock()

	if !ok {
		b.logger.Debug("BRIDGE", fmt.Sprintf("late response %s (%s) dropped", resp.ID, resp.Operation))
		return
	}
	ch <- resp
}

func (b *Bridge) broadcast(ev worker.Event) {
	b.handlersMu.RLock()
	handlers := make([]func(worker.Event), 0, len(b.handlers))
	for _, fn := range b.handlers {
		handlers = append(handlers, fn)
	}
	b.handlersMu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

func (b *Bridge) waitError(parent, wait context.Context, op worker.Operation, id string, timeout time.Duration) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(wait.Err(), context.DeadlineExceeded) {
		b.logger.Warn("BRIDGE", fmt.Sprintf("%s %s timed out after %s", op, id, timeout))
		return fmt.Errorf("%w: %s after %s", ErrTimeout, op, timeout)
	}
	return wait.Err()
}

func (b *Bridge) timeoutFor(op worker.Operation) time.Duration {
	if op == worker.OpSyncBookings {
		return b.opts.SyncTimeout
	}
	return b.opts.Timeout
}

// nextID combines a per-bridge counter with the wall clock.
func (b *Bridge) nextID() string {
	return fmt.Sprintf("req_%d_%d", b.seq.Add(1), time.Now().UnixMilli())
}
