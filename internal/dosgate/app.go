// Package dosgate wires application dependencies.
package dosgate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// Application holds core components for the service.
type Application struct {
	Config    *Config
	Gate      *Gate
	Table     *TrackerTable
	Sweeper   *Sweeper
	Rejecter  Rejecter
	Factory   *EMAFactory
	Transport *HTTPTransport

	logger   Logger
	metrics  Metrics
	stats    StatsStore
	inflight *InFlight
	redis    *redis.Client
	ready    atomic.Bool
	wg       sync.WaitGroup
}

// NewApplication validates configuration and wires the service.
func NewApplication(cfg *Config) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		zl, err := NewZapLogger(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		logger = zl
	}
	clock := cfg.Clock
	if clock == nil {
		clock = NewSystemClock()
	}
	sched := cfg.Scheduler
	if sched == nil {
		sched = TimerScheduler{}
	}

	var prom *PromMetrics
	var memMetrics *InMemoryMetrics
	metrics := cfg.Metrics
	if metrics == nil {
		if cfg.EnableProm {
			prom = NewPromMetrics()
			metrics = prom
		} else {
			memMetrics = NewInMemoryMetrics()
			metrics = memMetrics
		}
	}

	var redisClient *redis.Client
	var memStats *MemoryStats
	stats := cfg.Stats
	if stats == nil {
		if cfg.RedisAddr != "" {
			redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			stats = NewRedisStats(redisClient, WithStatsPrefix(cfg.StatsPrefix))
		} else {
			memStats = NewMemoryStats(0)
			stats = memStats
		}
	}

	factory, err := NewEMAFactory(cfg.SamplePeriod, cfg.Alpha, cfg.MaxRequestsPerSecond, clock)
	if err != nil {
		return nil, err
	}
	identity, err := IdentityByType(cfg.IDType)
	if err != nil {
		return nil, err
	}

	table := NewTrackerTable(cfg.MaxTrackers)
	sweeper := NewSweeper(table, clock, sched, logger)

	var rejecter Rejecter
	if cfg.RejectMode == RejectModeImmediate {
		rejecter = NewImmediateReject(cfg.RejectStatus)
	} else {
		rejecter = NewDelayedReject(cfg.RejectStatus, cfg.Delay, cfg.MaxDelayQueue, clock, sched, metrics)
	}

	upstream, err := upstreamHandler(cfg.UpstreamURL)
	if err != nil {
		return nil, err
	}

	gate := NewGate(identity, factory, table, sweeper, rejecter, ForwardToHTTP(upstream), clock, metrics, stats, logger)
	gate.SetIDType(cfg.IDType)

	app := &Application{
		Config:   cfg,
		Gate:     gate,
		Table:    table,
		Sweeper:  sweeper,
		Rejecter: rejecter,
		Factory:  factory,
		logger:   logger,
		metrics:  metrics,
		stats:    stats,
		inflight: NewInFlight(),
		redis:    redisClient,
	}
	app.Transport = NewHTTPTransport(cfg.HTTPListenAddr, gate, app.Ready, app.inflight, HTTPTransportDeps{
		Prom:         prom,
		Memory:       memMetrics,
		Stats:        memStats,
		Table:        table,
		Config:       cfg,
		Logger:       logger,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	})
	return app, nil
}

// Ready reports whether the application accepts traffic.
func (a *Application) Ready() bool {
	if a == nil {
		return false
	}
	return a.ready.Load()
}

// Start binds the transport and begins serving.
func (a *Application) Start(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.Transport.Listen(); err != nil {
		return err
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.Transport.Serve(); err != nil {
			a.logger.Error("http transport stopped", map[string]any{"error": err.Error()})
		}
	}()
	a.ready.Store(true)
	a.logger.Info("dosgate started", map[string]any{
		"addr":    a.Transport.Addr(),
		"id_type": a.Config.IDType,
		"max_rps": a.Config.MaxRequestsPerSecond,
	})
	return nil
}

// Shutdown drains in-flight exchanges and releases every tracker.
func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	a.ready.Store(false)
	a.inflight.Close()

	// Closing the gate flushes the delay queue, which unblocks handlers
	// still holding delayed rejections, so the drain below can finish.
	a.Gate.Close()

	drainErr := a.inflight.Wait(ctx)
	shutdownErr := a.Transport.Shutdown(ctx)
	a.wg.Wait()

	if a.redis != nil {
		_ = a.redis.Close()
	}
	if z, ok := a.logger.(*ZapLogger); ok {
		z.Sync()
	}
	if drainErr != nil {
		return drainErr
	}
	return shutdownErr
}

// upstreamHandler proxies to the configured upstream, or serves the
// built-in demo handler when none is configured.
func upstreamHandler(upstreamURL string) (http.Handler, error) {
	if upstreamURL == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "path": r.URL.Path})
		}), nil
	}
	parsed, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("upstream url must be absolute")
	}
	return httputil.NewSingleHostReverseProxy(parsed), nil
}
