// Package dosgate provides in-flight tracking for graceful drains.
package dosgate

import (
	"context"
	"sync"
	"sync/atomic"
)

// InFlight gates shutdown on outstanding exchanges.
type InFlight struct {
	active  atomic.Int64
	closing atomic.Bool
	once    sync.Once
	drained chan struct{}
}

// NewInFlight constructs a new InFlight tracker.
func NewInFlight() *InFlight {
	return &InFlight{drained: make(chan struct{})}
}

// Begin registers a new exchange. It reports false once draining started.
func (f *InFlight) Begin() bool {
	if f == nil {
		return false
	}
	if f.closing.Load() {
		return false
	}
	f.active.Add(1)
	if f.closing.Load() {
		f.End()
		return false
	}
	return true
}

// End marks an exchange as complete.
func (f *InFlight) End() {
	if f == nil {
		return
	}
	if f.active.Add(-1) == 0 && f.closing.Load() {
		f.once.Do(func() { close(f.drained) })
	}
}

// Close prevents new exchanges.
func (f *InFlight) Close() {
	if f == nil {
		return
	}
	if !f.closing.CompareAndSwap(false, true) {
		return
	}
	if f.active.Load() == 0 {
		f.once.Do(func() { close(f.drained) })
	}
}

// Wait blocks until drained or the context is done.
func (f *InFlight) Wait(ctx context.Context) error {
	if f == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
