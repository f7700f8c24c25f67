package network

import (
	"context"
	"net"
	"sync"
	"time"

	"travel-booking/internal/logger"
)

// Probe reports whether the remote side looks reachable right now.
type Probe interface {
	Reachable(ctx context.Context) bool
}

// StaticProbe always answers with its own value.
type StaticProbe bool

func (p StaticProbe) Reachable(context.Context) bool { return bool(p) }

// DialProbe treats a successful TCP dial to Addr as being online.
type DialProbe struct {
	Addr    string
	Timeout time.Duration
}

func (p DialProbe) Reachable(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Monitor tracks connectivity. The initial value comes from a probe, after
// that it only changes when the platform reports an event through Set.
type Monitor struct {
	mu      sync.RWMutex
	online  bool
	clients []chan bool
	logger  *logger.Logger
}

func NewMonitor(ctx context.Context, probe Probe, log *logger.Logger) *Monitor {
	online := false
	if probe != nil {
		online = probe.Reachable(ctx)
	}
	return &Monitor{online: online, logger: log}
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Set records a connectivity event. Subscribers are only notified when the
// value actually flips.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	for _, ch := range m.clients {
		// Drop a stale value so the subscriber always sees the latest state.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- online:
		default:
		}
	}
	m.mu.Unlock()

	m.logger.LogNetwork(online)
}

// Subscribe returns a channel of transitions. It is closed once ctx is done.
func (m *Monitor) Subscribe(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)

	m.mu.Lock()
	m.clients = append(m.clients, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.remove(ch)
	}()
	return ch
}

func (m *Monitor) remove(ch chan bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.clients {
		if c == ch {
			m.clients = append(m.clients[:i], m.clients[i+1:]...)
			close(ch)
			break
		}
	}
}

func (m *Monitor) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}
