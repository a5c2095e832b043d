package dosgate

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func newStubTracker(id string) *Tracker {
	return NewTracker(id, &stubRateControl{}, 0)
}

func TestTrackerTable_GetOrCreateSingleWinner(t *testing.T) {
	t.Parallel()

	table := NewTrackerTable(0)
	var created atomic.Int64
	var wg sync.WaitGroup
	results := make([]*Tracker, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = table.GetOrCreate("client", func(id string) *Tracker {
				created.Add(1)
				return newStubTracker(id)
			})
		}(i)
	}
	wg.Wait()

	if table.Len() != 1 {
		t.Fatalf("unexpected table size: %d", table.Len())
	}
	winner := results[0]
	for i, got := range results {
		if got != winner {
			t.Fatalf("goroutine %d observed a different tracker", i)
		}
	}
	if created.Load() < 1 {
		t.Fatalf("factory never invoked")
	}
}

func TestTrackerTable_FullAtCap(t *testing.T) {
	t.Parallel()

	table := NewTrackerTable(3)
	for _, id := range []string{"a", "b", "c"} {
		if table.Full() {
			t.Fatalf("table full before cap at %q", id)
		}
		table.GetOrCreate(id, newStubTracker)
	}
	if !table.Full() {
		t.Fatalf("table not full at cap")
	}
	if table.Len() != 3 {
		t.Fatalf("unexpected size: %d", table.Len())
	}
}

func TestTrackerTable_SoftBoundUnderConcurrentInserts(t *testing.T) {
	t.Parallel()

	const workers = 8
	table := NewTrackerTable(100)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ; i++ {
				if table.Full() {
					return
				}
				table.GetOrCreate(fmt.Sprintf("client-%d-%d", w, i), newStubTracker)
			}
		}(w)
	}
	wg.Wait()

	if size := table.Len(); size < 100 || size > 100+workers {
		t.Fatalf("size %d outside the soft bound", size)
	}
}

func TestTrackerTable_RemoveOnlyCurrentValue(t *testing.T) {
	t.Parallel()

	table := NewTrackerTable(0)
	tracker := table.GetOrCreate("client", newStubTracker)
	if !table.Remove(tracker) {
		t.Fatalf("expected removal to succeed")
	}
	if table.Len() != 0 {
		t.Fatalf("unexpected size after removal: %d", table.Len())
	}
	if table.Remove(tracker) {
		t.Fatalf("stale removal succeeded")
	}

	replacement := table.GetOrCreate("client", newStubTracker)
	if replacement == tracker {
		t.Fatalf("expected a fresh tracker after removal")
	}
	// The stale tracker must not remove its replacement.
	if table.Remove(tracker) {
		t.Fatalf("stale tracker removed the replacement")
	}
	if _, ok := table.Get("client"); !ok {
		t.Fatalf("replacement missing")
	}
}

func TestTrackerTable_Clear(t *testing.T) {
	t.Parallel()

	table := NewTrackerTable(0)
	for _, id := range []string{"a", "b", "c"} {
		table.GetOrCreate(id, newStubTracker)
	}
	table.Clear()
	if table.Len() != 0 {
		t.Fatalf("unexpected size after clear: %d", table.Len())
	}
	if _, ok := table.Get("a"); ok {
		t.Fatalf("tracker survived clear")
	}
}
