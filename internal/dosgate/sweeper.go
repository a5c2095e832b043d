// Package dosgate provides idle tracker eviction.
package dosgate

import (
	"sync"
	"time"
)

// Sweeper evicts idle trackers from the table. It keeps a single pending
// wake-up armed for the earliest registered deadline and goes dormant when
// nothing is registered.
type Sweeper struct {
	table  *TrackerTable
	clock  Clock
	sched  Scheduler
	logger Logger

	mu       sync.Mutex
	deadline int64
	cancel   CancelFunc
	closed   bool
}

// NewSweeper constructs a sweeper over the table.
func NewSweeper(table *TrackerTable, clock Clock, sched Scheduler, logger Logger) *Sweeper {
	if clock == nil {
		clock = NewSystemClock()
	}
	if sched == nil {
		sched = TimerScheduler{}
	}
	if logger == nil {
		logger = NopLogger{}
	}
	return &Sweeper{table: table, clock: clock, sched: sched, logger: logger}
}

// Register folds a tracker deadline into the pending wake-up, re-arming
// earlier when needed.
func (s *Sweeper) Register(deadline int64) {
	if s == nil || deadline <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.deadline != 0 && s.deadline <= deadline {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.deadline = deadline
	delay := time.Duration(deadline - s.clock.Nanos())
	if delay < 0 {
		delay = 0
	}
	s.cancel = s.sched.Schedule(delay, s.sweep)
}

// sweep removes trackers that are both due and idle, re-arms trackers that
// are due but still live, and schedules the next wake-up for the earliest
// remaining deadline.
func (s *Sweeper) sweep() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.deadline = 0
	s.cancel = nil
	s.mu.Unlock()

	now := s.clock.Nanos()
	var next int64
	removed := 0
	s.table.Range(func(t *Tracker) bool {
		expireAt := t.ExpireNanos()
		if expireAt <= now {
			if t.IsIdle(now) {
				if s.table.Remove(t) {
					removed++
				}
				return true
			}
			expireAt = now + int64(trackerExpiry)
			t.Rearm(expireAt)
		}
		if next == 0 || expireAt < next {
			next = expireAt
		}
		return true
	})

	if removed > 0 {
		s.logger.Debug("evicted idle trackers", map[string]any{"count": removed, "remaining": s.table.Len()})
	}
	if next != 0 {
		s.Register(next)
	}
}

// Close cancels any pending wake-up. An in-flight sweep may finish but
// will not re-arm.
func (s *Sweeper) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.deadline = 0
	s.mu.Unlock()
}
