package dosgate

import (
	"testing"
	"time"
)

func TestSweeper_EvictsIdleTrackerAfterExpiry(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	sched := newManualScheduler(clock)
	table := NewTrackerTable(0)
	sweeper := NewSweeper(table, clock, sched, nil)
	factory := newTestFactory(t, 100*time.Millisecond, 0.2, 10, clock)

	tracker := table.GetOrCreate("client", func(id string) *Tracker {
		return NewTracker(id, factory.NewRateControl(), clock.Nanos())
	})
	tracker.IsRateExceeded(clock.Nanos(), true, sweeper)

	// At the first deadline the idle probe still flushes a non-zero rate
	// out of the window, so the tracker is re-armed rather than evicted.
	clock.Advance(trackerExpiry)
	if ran := sched.RunDue(); ran != 1 {
		t.Fatalf("expected one sweep, ran %d", ran)
	}
	if table.Len() != 1 {
		t.Fatalf("tracker evicted before its average decayed")
	}

	// By the second deadline the average has decayed to idle.
	clock.Advance(trackerExpiry)
	if ran := sched.RunDue(); ran != 1 {
		t.Fatalf("expected one sweep, ran %d", ran)
	}
	if table.Len() != 0 {
		t.Fatalf("idle tracker survived the sweep")
	}
	if pending := sched.Pending(); len(pending) != 0 {
		t.Fatalf("sweeper did not go dormant: %v", pending)
	}
}

func TestSweeper_RearmsDueButLiveTracker(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	sched := newManualScheduler(clock)
	table := NewTrackerTable(0)
	sweeper := NewSweeper(table, clock, sched, nil)

	table.GetOrCreate("client", func(id string) *Tracker {
		return NewTracker(id, &stubRateControl{idle: false}, clock.Nanos())
	})
	sweeper.Register(int64(trackerExpiry))

	clock.Advance(trackerExpiry)
	if ran := sched.RunDue(); ran != 1 {
		t.Fatalf("expected one sweep, ran %d", ran)
	}
	if table.Len() != 1 {
		t.Fatalf("live tracker was evicted")
	}
	tracker, _ := table.Get("client")
	if got := tracker.ExpireNanos(); got != int64(2*trackerExpiry) {
		t.Fatalf("live tracker not re-armed: %d", got)
	}
	pending := sched.Pending()
	if len(pending) != 1 || pending[0] != int64(2*trackerExpiry) {
		t.Fatalf("sweep not re-scheduled: %v", pending)
	}
}

func TestSweeper_RegisterKeepsEarliestDeadline(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	sched := newManualScheduler(clock)
	table := NewTrackerTable(0)
	sweeper := NewSweeper(table, clock, sched, nil)

	sweeper.Register(int64(5 * time.Second))
	sweeper.Register(int64(3 * time.Second))
	sweeper.Register(int64(4 * time.Second))

	pending := sched.Pending()
	if len(pending) != 1 || pending[0] != int64(3*time.Second) {
		t.Fatalf("unexpected pending sweeps: %v", pending)
	}
}

func TestSweeper_SweepSkipsFreshTrackers(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	sched := newManualScheduler(clock)
	table := NewTrackerTable(0)
	sweeper := NewSweeper(table, clock, sched, nil)

	old := table.GetOrCreate("old", func(id string) *Tracker {
		return NewTracker(id, &stubRateControl{idle: true}, clock.Nanos())
	})
	old.IsRateExceeded(clock.Nanos(), true, sweeper)

	clock.Advance(3 * time.Second)
	fresh := table.GetOrCreate("fresh", func(id string) *Tracker {
		return NewTracker(id, &stubRateControl{}, clock.Nanos())
	})
	fresh.IsRateExceeded(clock.Nanos(), true, sweeper)

	sched.RunDue()
	if _, ok := table.Get("old"); ok {
		t.Fatalf("idle tracker survived")
	}
	if _, ok := table.Get("fresh"); !ok {
		t.Fatalf("fresh tracker was evicted")
	}
	// The next sweep is armed for the fresh tracker's deadline.
	pending := sched.Pending()
	if len(pending) != 1 || pending[0] != clock.Nanos()+int64(trackerExpiry) {
		t.Fatalf("unexpected pending sweeps: %v", pending)
	}
}

func TestSweeper_CloseCancelsPendingSweep(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	sched := newManualScheduler(clock)
	table := NewTrackerTable(0)
	sweeper := NewSweeper(table, clock, sched, nil)

	sweeper.Register(int64(time.Second))
	sweeper.Close()
	if pending := sched.Pending(); len(pending) != 0 {
		t.Fatalf("pending sweep survived close: %v", pending)
	}

	// A closed sweeper never re-arms.
	sweeper.Register(int64(2 * time.Second))
	if pending := sched.Pending(); len(pending) != 0 {
		t.Fatalf("closed sweeper armed a sweep: %v", pending)
	}
}
