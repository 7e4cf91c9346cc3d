// Package limiter bounds the number of simultaneous network operations
// across a whole scan.
package limiter

import (
	"context"
	"sync/atomic"

	"bytemomo/sonar/internal/sonarerr"

	"golang.org/x/sync/semaphore"
)

// Limiter is a counting semaphore shared by every prober and fingerprinter
// of a run. It is the only shared mutable state of the pipeline.
type Limiter struct {
	sem      *semaphore.Weighted
	size     int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

// New returns a Limiter admitting at most n concurrent holders.
func New(n int) (*Limiter, error) {
	if n < 1 {
		return nil, sonarerr.Config("limiter.New", "concurrency must be at least 1", nil)
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), size: int64(n)}, nil
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	cur := l.inFlight.Add(1)
	for {
		p := l.peak.Load()
		if cur <= p || l.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	return nil
}

// Release returns a slot obtained by Acquire.
func (l *Limiter) Release() {
	l.inFlight.Add(-1)
	l.sem.Release(1)
}

// Do runs fn while holding one slot. The slot is released on every exit
// path, including a panic in fn.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

// Size is the configured ceiling.
func (l *Limiter) Size() int { return int(l.size) }

// InFlight is the number of slots currently held.
func (l *Limiter) InFlight() int { return int(l.inFlight.Load()) }

// Peak is the highest InFlight value observed so far.
func (l *Limiter) Peak() int { return int(l.peak.Load()) }
