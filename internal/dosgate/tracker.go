// Package dosgate provides per-identity trackers.
package dosgate

import (
	"sync"
	"time"
)

// trackerExpiry is how long a tracker outlives its most recent sample
// before the sweeper may evict it.
const trackerExpiry = 2 * time.Second

// Tracker pairs an identity with its rate control and expiry deadline.
type Tracker struct {
	mu       sync.Mutex
	id       string
	rc       RateControl
	expireAt int64
}

// NewTracker constructs a tracker for an identity observed at now.
func NewTracker(id string, rc RateControl, now int64) *Tracker {
	return &Tracker{
		id:       id,
		rc:       rc,
		expireAt: now + int64(trackerExpiry),
	}
}

// ID returns the tracked identity.
func (t *Tracker) ID() string {
	if t == nil {
		return ""
	}
	return t.id
}

// IsRateExceeded consults the rate control under the tracker lock. Sampled
// observations push the expiry deadline out and re-register the tracker
// with the sweeper; pure tests leave the deadline alone.
func (t *Tracker) IsRateExceeded(now int64, addSample bool, sweeper *Sweeper) bool {
	if t == nil || t.rc == nil {
		return false
	}
	t.mu.Lock()
	if addSample {
		deadline := now + int64(trackerExpiry)
		if deadline > t.expireAt {
			t.expireAt = deadline
		}
	}
	exceeded := t.rc.IsRateExceeded(now, addSample)
	expireAt := t.expireAt
	t.mu.Unlock()

	// The sweeper is re-armed outside the tracker lock; its own lock must
	// never nest inside a tracker's.
	if addSample && sweeper != nil {
		sweeper.Register(expireAt)
	}
	return exceeded
}

// IsIdle reports whether the rate control has decayed to idle.
func (t *Tracker) IsIdle(now int64) bool {
	if t == nil || t.rc == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rc.IsIdle(now)
}

// ExpireNanos returns the current expiry deadline.
func (t *Tracker) ExpireNanos() int64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expireAt
}

// Rearm pushes the expiry deadline forward. Earlier deadlines are ignored
// so skewed observers cannot pull a deadline backwards.
func (t *Tracker) Rearm(deadline int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	if deadline > t.expireAt {
		t.expireAt = deadline
	}
	t.mu.Unlock()
}

// CurrentRate reports the smoothed rate when the control exposes one.
func (t *Tracker) CurrentRate() float64 {
	if t == nil || t.rc == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if reporter, ok := t.rc.(rateReporter); ok {
		return reporter.CurrentRate()
	}
	return 0
}
