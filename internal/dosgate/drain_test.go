package dosgate

import (
	"context"
	"testing"
	"time"
)

func TestInFlight_Drains(t *testing.T) {
	t.Parallel()

	tracker := NewInFlight()
	if !tracker.Begin() {
		t.Fatalf("expected begin to succeed")
	}
	if !tracker.Begin() {
		t.Fatalf("expected begin to succeed")
	}
	tracker.End()
	tracker.End()
	tracker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tracker.Wait(ctx); err != nil {
		t.Fatalf("expected drain to succeed: %v", err)
	}
}

func TestInFlight_ClosePreventsBegin(t *testing.T) {
	t.Parallel()

	tracker := NewInFlight()
	tracker.Close()
	if tracker.Begin() {
		t.Fatalf("expected begin to fail")
	}
}

func TestInFlight_WaitTimesOutWhileBusy(t *testing.T) {
	t.Parallel()

	tracker := NewInFlight()
	if !tracker.Begin() {
		t.Fatalf("expected begin to succeed")
	}
	tracker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := tracker.Wait(ctx); err == nil {
		t.Fatalf("expected wait to time out")
	}

	tracker.End()
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if err := tracker.Wait(ctx2); err != nil {
		t.Fatalf("expected drain to succeed: %v", err)
	}
}
