package worker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"travel-booking/internal/models"
)

var ErrRemoteRejected = errors.New("remote confirmation failed")

// Confirmer confirms one booking against the remote system of record.
type Confirmer interface {
	Confirm(ctx context.Context, booking models.Booking) error
}

type ConfirmFunc func(ctx context.Context, booking models.Booking) error

func (f ConfirmFunc) Confirm(ctx context.Context, booking models.Booking) error {
	return f(ctx, booking)
}

// SimulatedConfirmer stands in for the remote API: every call takes Latency
// and succeeds with probability SuccessRate.
type SimulatedConfirmer struct {
	SuccessRate float64
	Latency     time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulatedConfirmer(successRate float64, latency time.Duration, seed int64) *SimulatedConfirmer {
	return &SimulatedConfirmer{
		SuccessRate: successRate,
		Latency:     latency,
		rnd:         rand.New(rand.NewSource(seed)),
	}
}

func (s *SimulatedConfirmer) Confirm(ctx context.Context, _ models.Booking) error {
	if s.Latency > 0 {
		timer := time.NewTimer(s.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	if s.rnd == nil {
		s.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	roll := s.rnd.Float64()
	s.mu.Unlock()

	if roll < s.SuccessRate {
		return nil
	}
	return ErrRemoteRejected
}
