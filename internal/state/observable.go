package state

import (
	"context"
	"reflect"
	"sync"
)

// Observable holds one value and notifies subscribers when it changes.
// Setting a value equal to the current one is a no-op.
type Observable[T any] struct {
	mu      sync.RWMutex
	value   T
	equal   func(a, b T) bool
	clone   func(T) T
	clients []chan T
}

func NewObservable[T any](initial T, equal func(a, b T) bool) *Observable[T] {
	if equal == nil {
		equal = func(a, b T) bool { return reflect.DeepEqual(a, b) }
	}
	return &Observable[T]{value: initial, equal: equal}
}

// withClone makes every value handed out a copy made by fn.
func (o *Observable[T]) withClone(fn func(T) T) *Observable[T] {
	o.clone = fn
	return o
}

func (o *Observable[T]) Get() T {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.out(o.value)
}

func (o *Observable[T]) out(v T) T {
	if o.clone == nil {
		return v
	}
	return o.clone(v)
}

// Subscribe delivers the current value immediately and then every change.
// A subscriber that falls behind only sees the latest value. The channel is
// closed once ctx is done.
func (o *Observable[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	o.mu.Lock()
	ch <- o.out(o.value)
	o.clients = append(o.clients, ch)
	o.mu.Unlock()

	go func() {
		<-ctx.Done()
		o.remove(ch)
	}()
	return ch
}

// Set stores v and reports whether it differed from the previous value.
func (o *Observable[T]) Set(v T) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.equal(o.value, v) {
		return false
	}
	o.value = v
	for _, ch := range o.clients {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- o.out(v):
		default:
		}
	}
	return true
}

func (o *Observable[T]) remove(ch chan T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, c := range o.clients {
		if c == ch {
			o.clients = append(o.clients[:i], o.clients[i+1:]...)
			close(ch)
			return
		}
	}
}

func (o *Observable[T]) SubscriberCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.clients)
}
