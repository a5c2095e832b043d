// Package dosgate models in-flight request exchanges.
package dosgate

import (
	"context"
	"net/http"
	"net/netip"
	"sync"

	"github.com/google/uuid"
)

// Exchange carries one request/response pair through the gate until a
// completion is signalled. BeginNanos is the monotonic instant the request
// was read off the wire; rate decisions use it rather than handler run
// time.
type Exchange struct {
	Request    *http.Request
	Response   http.ResponseWriter
	BeginNanos int64

	once sync.Once
	done chan struct{}
	err  error
}

// NewExchange wraps an in-flight request with its begin-time nanoseconds.
func NewExchange(w http.ResponseWriter, r *http.Request, beginNanos int64) *Exchange {
	return &Exchange{
		Request:    r,
		Response:   w,
		BeginNanos: beginNanos,
		done:       make(chan struct{}),
	}
}

// Complete resolves the exchange with the outcome of its response write.
// Later completions are ignored.
func (ex *Exchange) Complete(err error) {
	if ex == nil {
		return
	}
	ex.once.Do(func() {
		ex.err = err
		close(ex.done)
	})
}

// Completed reports whether the exchange has already resolved.
func (ex *Exchange) Completed() bool {
	if ex == nil {
		return false
	}
	select {
	case <-ex.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the exchange completes and returns its outcome.
func (ex *Exchange) Wait() error {
	if ex == nil {
		return nil
	}
	<-ex.done
	return ex.err
}

// RemoteAddrPort parses the request's remote socket address.
func (ex *Exchange) RemoteAddrPort() (netip.AddrPort, bool) {
	if ex == nil || ex.Request == nil {
		return netip.AddrPort{}, false
	}
	addr, err := netip.ParseAddrPort(ex.Request.RemoteAddr)
	if err != nil {
		return netip.AddrPort{}, false
	}
	return addr, true
}

// ConnectionID returns the server-assigned connection identifier, or the
// empty string when the server does not attach one.
func (ex *Exchange) ConnectionID() string {
	if ex == nil || ex.Request == nil {
		return ""
	}
	id, _ := ex.Request.Context().Value(connIDKey{}).(string)
	return id
}

type connIDKey struct{}

// WithConnectionID attaches a fresh connection identifier to a context.
// Install it as the server's ConnContext so every connection carries one.
func WithConnectionID(ctx context.Context) context.Context {
	return context.WithValue(ctx, connIDKey{}, uuid.NewString())
}
