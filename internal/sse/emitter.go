package sse

import (
	"context"
	"sync"
)

// Emitter fans values out to any number of subscribers. A slow subscriber
// misses values instead of holding up the publisher.
type Emitter[T any] struct {
	mu      sync.RWMutex
	clients []chan T
	buffer  int
}

// NewEmitter creates an emitter whose subscriber channels hold buffer values.
func NewEmitter[T any](buffer int) *Emitter[T] {
	if buffer <= 0 {
		buffer = 10
	}
	return &Emitter[T]{buffer: buffer}
}

// Subscribe adds a client. The channel is closed when ctx is done.
func (e *Emitter[T]) Subscribe(ctx context.Context) <-chan T {
	clientChan := make(chan T, e.buffer)

	e.mu.Lock()
	e.clients = append(e.clients, clientChan)
	e.mu.Unlock()

	// Remove client when context is done
	go func() {
		<-ctx.Done()
		e.remove(clientChan)
	}()

	return clientChan
}

// Emit broadcasts v to all subscribed clients
func (e *Emitter[T]) Emit(v T) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, clientChan := range e.clients {
		// Non-blocking send to avoid slowing down emitter if client is slow
		select {
		case clientChan <- v:
		default:
		}
	}
}

func (e *Emitter[T]) remove(clientChan chan T) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, ch := range e.clients {
		if ch == clientChan {
			e.clients = append(e.clients[:i], e.clients[i+1:]...)
			close(clientChan)
			break
		}
	}
}

// ClientCount returns the number of clients currently subscribed
func (e *Emitter[T]) ClientCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients)
}
