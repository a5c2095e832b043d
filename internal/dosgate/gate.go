// Package dosgate provides the request gate.
package dosgate

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// NextHandler forwards an exchange down the handler chain. It reports
// whether a response has been or will be produced.
type NextHandler func(ex *Exchange) bool

// ForwardToHTTP adapts an http.Handler into a gate next handler. The
// exchange completes when the handler returns.
func ForwardToHTTP(next http.Handler) NextHandler {
	return func(ex *Exchange) bool {
		if ex == nil {
			return false
		}
		if next == nil {
			ex.Complete(nil)
			return false
		}
		defer ex.Complete(nil)
		next.ServeHTTP(ex.Response, ex.Request)
		return true
	}
}

// Gate applies per-identity rate limits in front of a handler chain.
type Gate struct {
	identity  IdentityFunc
	factory   RateControlFactory
	table     *TrackerTable
	sweeper   *Sweeper
	reject    Rejecter
	next      NextHandler
	clock     Clock
	metrics   Metrics
	stats     StatsStore
	logger    Logger
	idType    string
	rejectLog *rate.Sometimes
	closed    atomic.Bool
}

// NewGate constructs a gate over the given collaborators.
func NewGate(identity IdentityFunc, factory RateControlFactory, table *TrackerTable, sweeper *Sweeper, reject Rejecter, next NextHandler, clock Clock, metrics Metrics, stats StatsStore, logger Logger) *Gate {
	if identity == nil {
		identity = RemoteAddressID
	}
	if table == nil {
		table = NewTrackerTable(0)
	}
	if reject == nil {
		reject = NewImmediateReject(0)
	}
	if next == nil {
		next = ForwardToHTTP(nil)
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	if logger == nil {
		logger = NopLogger{}
	}
	return &Gate{
		identity: identity,
		factory:  factory,
		table:    table,
		sweeper:  sweeper,
		reject:   reject,
		next:     next,
		clock:    clock,
		metrics:  metrics,
		stats:    stats,
		logger:   logger,
		// Rejections are normal traffic; keep their debug logging from
		// dominating the log stream under attack.
		rejectLog: &rate.Sometimes{First: 5, Interval: time.Second},
	}
}

// SetIDType records the configured identity policy name for metric labels.
func (g *Gate) SetIDType(idType string) {
	if g == nil {
		return
	}
	g.idType = idType
}

// Handle gates one exchange. It reports whether a response has been or
// will be produced.
func (g *Gate) Handle(ex *Exchange) bool {
	if g == nil || ex == nil {
		return false
	}
	if g.closed.Load() {
		return g.rejectExchange(ex, "", RejectReasonShed)
	}
	start := time.Now()
	defer func() {
		if g.metrics != nil {
			g.metrics.ObserveGateLatency(time.Since(start))
		}
	}()

	if g.table.Full() {
		return g.rejectExchange(ex, "", RejectReasonOverflow)
	}

	id, ok := g.identity(ex)
	if !ok {
		return g.rejectExchange(ex, "", RejectReasonNoID)
	}

	tracker := g.table.GetOrCreate(id, g.newTracker)
	if g.metrics != nil {
		g.metrics.SetTrackerCount(g.table.Len())
	}
	if tracker == nil {
		return g.rejectExchange(ex, id, RejectReasonShed)
	}

	if !tracker.IsRateExceeded(ex.BeginNanos, true, g.sweeper) {
		if g.metrics != nil {
			g.metrics.IncAdmitted(g.idType)
		}
		g.recordStats(ex, id, true)
		return g.next(ex)
	}
	return g.rejectExchange(ex, id, RejectReasonRate)
}

// ServeHTTP gates the request and blocks until its exchange completes, so
// a delayed rejection holds the client connection open.
func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ex := NewExchange(w, r, g.clock.Nanos())
	if !g.Handle(ex) {
		if !ex.Completed() {
			w.WriteHeader(http.StatusInternalServerError)
			ex.Complete(ErrClosed)
		}
	}
	if err := ex.Wait(); err != nil && g.logger != nil {
		g.logger.Error("exchange failed", map[string]any{"error": err.Error(), "path": r.URL.Path})
	}
}

// Close stops the gate: pending sweeps are cancelled, queued rejections
// are flushed, and every tracker is released. Later exchanges are shed
// with an immediate rejection.
func (g *Gate) Close() {
	if g == nil || !g.closed.CompareAndSwap(false, true) {
		return
	}
	if g.sweeper != nil {
		g.sweeper.Close()
	}
	g.reject.Close()
	g.table.Clear()
	if g.metrics != nil {
		g.metrics.SetTrackerCount(0)
	}
}

// Table exposes the tracker table for the admin surface.
func (g *Gate) Table() *TrackerTable {
	if g == nil {
		return nil
	}
	return g.table
}

func (g *Gate) newTracker(id string) *Tracker {
	if g.factory == nil {
		return nil
	}
	return NewTracker(id, g.factory.NewRateControl(), g.clock.Nanos())
}

func (g *Gate) rejectExchange(ex *Exchange, id string, reason string) bool {
	if g.metrics != nil {
		g.metrics.IncRejected(reason, g.idType)
	}
	if reason != RejectReasonNoID {
		g.recordStats(ex, id, false)
	}
	if g.logger != nil {
		g.rejectLog.Do(func() {
			g.logger.Debug("request rejected", map[string]any{"reason": reason, "id": id})
		})
	}
	return g.reject.Reject(ex)
}

func (g *Gate) recordStats(ex *Exchange, id string, allowed bool) {
	if g.stats == nil {
		return
	}
	ctx := context.Background()
	if ex != nil && ex.Request != nil {
		ctx = ex.Request.Context()
	}
	_ = g.stats.Record(ctx, StatsEvent{ID: id, Allowed: allowed, At: time.Now()})
}
