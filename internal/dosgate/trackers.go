// Package dosgate provides the concurrent tracker table.
package dosgate

import (
	"sync"
	"sync/atomic"
)

const defaultMaxTrackers = 10000

// TrackerTable maps identities to trackers with a soft size cap.
type TrackerTable struct {
	trackers    sync.Map
	size        atomic.Int64
	maxTrackers int
}

// NewTrackerTable constructs a table. Non-positive caps select the default.
func NewTrackerTable(maxTrackers int) *TrackerTable {
	if maxTrackers <= 0 {
		maxTrackers = defaultMaxTrackers
	}
	return &TrackerTable{maxTrackers: maxTrackers}
}

// Full reports whether the table has reached its cap. The count is
// approximate; concurrent inserters may briefly push the table past the
// cap by at most their own number.
func (tt *TrackerTable) Full() bool {
	if tt == nil {
		return true
	}
	return tt.size.Load() >= int64(tt.maxTrackers)
}

// GetOrCreate returns the tracker for an identity, creating it atomically.
// Exactly one created tracker wins per absent key; losers observe the
// winner.
func (tt *TrackerTable) GetOrCreate(id string, create func(id string) *Tracker) *Tracker {
	if tt == nil || create == nil {
		return nil
	}
	if existing, ok := tt.trackers.Load(id); ok {
		return existing.(*Tracker)
	}
	tracker := create(id)
	if tracker == nil {
		return nil
	}
	actual, loaded := tt.trackers.LoadOrStore(id, tracker)
	if !loaded {
		tt.size.Add(1)
	}
	return actual.(*Tracker)
}

// Get returns the tracker for an identity when present.
func (tt *TrackerTable) Get(id string) (*Tracker, bool) {
	if tt == nil {
		return nil, false
	}
	existing, ok := tt.trackers.Load(id)
	if !ok {
		return nil, false
	}
	return existing.(*Tracker), true
}

// Range iterates trackers weakly consistently. Trackers inserted during
// the iteration may be skipped.
func (tt *TrackerTable) Range(fn func(t *Tracker) bool) {
	if tt == nil || fn == nil {
		return
	}
	tt.trackers.Range(func(_, value any) bool {
		return fn(value.(*Tracker))
	})
}

// Remove deletes a tracker when it is still the mapped value for its
// identity. It reports whether anything was removed.
func (tt *TrackerTable) Remove(t *Tracker) bool {
	if tt == nil || t == nil {
		return false
	}
	if tt.trackers.CompareAndDelete(t.id, t) {
		tt.size.Add(-1)
		return true
	}
	return false
}

// Len returns the approximate tracker count.
func (tt *TrackerTable) Len() int {
	if tt == nil {
		return 0
	}
	return int(tt.size.Load())
}

// Clear removes every tracker.
func (tt *TrackerTable) Clear() {
	if tt == nil {
		return
	}
	tt.trackers.Range(func(key, value any) bool {
		if tt.trackers.CompareAndDelete(key, value) {
			tt.size.Add(-1)
		}
		return true
	})
}
