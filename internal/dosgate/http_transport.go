// Package dosgate provides the HTTP transport.
package dosgate

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPTransport serves the gated application and the operations surface.
type HTTPTransport struct {
	addr     string
	gate     *Gate
	ready    func() bool
	inflight *InFlight
	deps     HTTPTransportDeps

	mu  sync.Mutex
	srv *http.Server
	lis net.Listener
	mux http.Handler
}

// HTTPTransportDeps carries optional transport collaborators.
type HTTPTransportDeps struct {
	Prom         *PromMetrics
	Memory       *InMemoryMetrics
	Stats        *MemoryStats
	Table        *TrackerTable
	Config       *Config
	Logger       Logger
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewHTTPTransport constructs a transport bound to an address.
func NewHTTPTransport(addr string, gate *Gate, ready func() bool, inflight *InFlight, deps HTTPTransportDeps) *HTTPTransport {
	if addr == "" {
		addr = ":8080"
	}
	if ready == nil {
		ready = func() bool { return false }
	}
	if deps.Logger == nil {
		deps.Logger = NopLogger{}
	}
	return &HTTPTransport{addr: addr, gate: gate, ready: ready, inflight: inflight, deps: deps}
}

// Listen binds the transport's listener so bind failures surface before
// serving starts.
func (t *HTTPTransport) Listen() error {
	if t == nil {
		return errors.New("http transport is nil")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lis != nil {
		return nil
	}
	listener, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}
	t.lis = listener
	return nil
}

// Addr returns the bound listen address.
func (t *HTTPTransport) Addr() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lis != nil {
		return t.lis.Addr().String()
	}
	return t.addr
}

// Serve begins serving HTTP requests. It blocks until shutdown.
func (t *HTTPTransport) Serve() error {
	if t == nil {
		return errors.New("http transport is nil")
	}
	if err := t.Listen(); err != nil {
		return err
	}
	handler, err := t.handler()
	if err != nil {
		return err
	}
	t.mu.Lock()
	if t.srv == nil {
		t.srv = &http.Server{
			Addr:         t.addr,
			Handler:      handler,
			ReadTimeout:  t.deps.ReadTimeout,
			WriteTimeout: t.deps.WriteTimeout,
			IdleTimeout:  t.deps.IdleTimeout,
			ConnContext: func(ctx context.Context, _ net.Conn) context.Context {
				return WithConnectionID(ctx)
			},
		}
	}
	srv := t.srv
	listener := t.lis
	t.mu.Unlock()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server.
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	if t == nil {
		return errors.New("http transport is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.mu.Lock()
	srv := t.srv
	t.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (t *HTTPTransport) Handler() (http.Handler, error) {
	return t.handler()
}

func (t *HTTPTransport) handler() (http.Handler, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mux != nil {
		return t.mux, nil
	}
	if t.gate == nil {
		return nil, errors.New("gate must be set before starting")
	}
	mux := http.NewServeMux()
	t.registerRoutes(mux)
	t.mux = mux
	return mux, nil
}

// gated wraps the gate with in-flight tracking so shutdown can drain.
func (t *HTTPTransport) gated() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t.inflight != nil {
			if !t.inflight.Begin() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			defer t.inflight.End()
		}
		t.gate.ServeHTTP(w, r)
	})
}

// metricsHandler serves Prometheus when enabled, else the JSON snapshot.
func (t *HTTPTransport) metricsHandler() http.Handler {
	if t.deps.Prom != nil {
		return promhttp.HandlerFor(t.deps.Prom.Registry(), promhttp.HandlerOpts{})
	}
	return http.HandlerFunc(t.handleMetricsSnapshot)
}
