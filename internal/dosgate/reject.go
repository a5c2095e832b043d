// Package dosgate provides rejection handlers.
package dosgate

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// StatusEnhanceYourCalm is the default rejection status.
const StatusEnhanceYourCalm = 420

const (
	defaultRejectDelay   = time.Second
	defaultMaxDelayQueue = 1000
)

// Rejecter terminates exchanges the gate refuses to forward.
type Rejecter interface {
	// Reject produces (now or later) the rejection response for the
	// exchange and reports whether the exchange was taken over.
	Reject(ex *Exchange) bool

	// Close releases queued exchanges and stops any pending work.
	Close()
}

// ImmediateReject responds with the rejection status at once.
type ImmediateReject struct {
	status int
}

// NewImmediateReject constructs an immediate rejecter.
func NewImmediateReject(status int) *ImmediateReject {
	if status <= 0 {
		status = StatusEnhanceYourCalm
	}
	return &ImmediateReject{status: status}
}

// Reject writes the rejection response and completes the exchange.
func (h *ImmediateReject) Reject(ex *Exchange) bool {
	if h == nil || ex == nil {
		return false
	}
	writeRejection(ex, h.status)
	return true
}

// Close is a no-op; the immediate form holds no state.
func (h *ImmediateReject) Close() {}

// DelayedReject holds rejected exchanges before responding, to slow
// abusive callers and soften retry stampedes. Exchanges flush between
// delay and delay+delay/2 after enqueue; under saturation the head of the
// queue is dropped and flushed immediately.
type DelayedReject struct {
	status   int
	delay    time.Duration
	maxQueue int
	clock    Clock
	sched    Scheduler
	metrics  Metrics

	mu     sync.Mutex
	queue  *list.List
	armed  bool
	cancel CancelFunc
	closed bool
}

type delayedExchange struct {
	ex         *Exchange
	enqueuedAt int64
}

// NewDelayedReject constructs a delayed rejecter.
func NewDelayedReject(status int, delay time.Duration, maxQueue int, clock Clock, sched Scheduler, metrics Metrics) *DelayedReject {
	if status <= 0 {
		status = StatusEnhanceYourCalm
	}
	if delay <= 0 {
		delay = defaultRejectDelay
	}
	if maxQueue <= 0 {
		maxQueue = defaultMaxDelayQueue
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	if sched == nil {
		sched = TimerScheduler{}
	}
	return &DelayedReject{
		status:   status,
		delay:    delay,
		maxQueue: maxQueue,
		clock:    clock,
		sched:    sched,
		metrics:  metrics,
		queue:    list.New(),
	}
}

// Reject enqueues the exchange for a deferred rejection response.
func (h *DelayedReject) Reject(ex *Exchange) bool {
	if h == nil || ex == nil {
		return false
	}
	now := h.clock.Nanos()

	var dropped []*Exchange
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		writeRejection(ex, h.status)
		return true
	}
	for h.queue.Len() >= h.maxQueue {
		head := h.queue.Remove(h.queue.Front()).(delayedExchange)
		dropped = append(dropped, head.ex)
	}
	if !h.armed {
		h.cancel = h.sched.Schedule(h.delay/2, h.onTick)
		h.armed = true
	}
	h.queue.PushBack(delayedExchange{ex: ex, enqueuedAt: now})
	depth := h.queue.Len()
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetDelayQueueDepth(depth)
	}
	// Responses are written after the queue lock is released so a slow or
	// failing write can never stall enqueues.
	for _, d := range dropped {
		writeRejection(d, h.status)
	}
	return true
}

// onTick flushes every exchange that has waited at least the full delay,
// then re-arms while the queue is non-empty.
func (h *DelayedReject) onTick() {
	var flush []*Exchange
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.armed = false
	h.cancel = nil
	threshold := h.clock.Nanos() - int64(h.delay)
	for e := h.queue.Front(); e != nil; {
		next := e.Next()
		entry := e.Value.(delayedExchange)
		if entry.enqueuedAt <= threshold {
			h.queue.Remove(e)
			flush = append(flush, entry.ex)
		}
		e = next
	}
	if h.queue.Len() > 0 {
		h.cancel = h.sched.Schedule(h.delay/2, h.onTick)
		h.armed = true
	}
	depth := h.queue.Len()
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetDelayQueueDepth(depth)
	}
	for _, ex := range flush {
		writeRejection(ex, h.status)
	}
}

// Close cancels the tick and flushes every queued exchange immediately.
func (h *DelayedReject) Close() {
	if h == nil {
		return
	}
	var flush []*Exchange
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.armed = false
	for e := h.queue.Front(); e != nil; e = e.Next() {
		flush = append(flush, e.Value.(delayedExchange).ex)
	}
	h.queue.Init()
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetDelayQueueDepth(0)
	}
	for _, ex := range flush {
		writeRejection(ex, h.status)
	}
}

// writeRejection writes an empty-bodied rejection response and completes
// the exchange. A panicking writer (for example a client that went away)
// surfaces through the completion without stopping the caller's walk.
func writeRejection(ex *Exchange, status int) {
	if ex == nil {
		return
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("rejection write failed: %v", r)
			}
		}()
		if ex.Response != nil {
			ex.Response.WriteHeader(status)
		}
		return nil
	}()
	ex.Complete(err)
}
