// Package dosgate provides HTTP handlers for the operations surface.
package dosgate

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"
)

const defaultTrackerSnapshotLimit = 100

type httpErrorResponse struct {
	Error string `json:"error"`
}

func (t *HTTPTransport) registerRoutes(mux *http.ServeMux) {
	mux.Handle("/", t.gated())
	mux.HandleFunc("/healthz", t.handleHealth)
	mux.HandleFunc("/readyz", t.handleReady)
	mux.Handle("/metrics", t.metricsHandler())
	mux.HandleFunc("/v1/admin/trackers", t.handleTrackers)
	mux.HandleFunc("/v1/admin/stats", t.handleStats)
	mux.HandleFunc("/v1/admin/config", t.handleConfig)
}

func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (t *HTTPTransport) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !t.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (t *HTTPTransport) handleMetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.deps.Memory == nil {
		writeJSON(w, http.StatusNotFound, httpErrorResponse{Error: "metrics are not collected"})
		return
	}
	writeJSON(w, http.StatusOK, t.deps.Memory.Snapshot())
}

type trackerRow struct {
	ID            string  `json:"id"`
	RatePerSecond float64 `json:"rate_per_second"`
	ExpiresInMs   int64   `json:"expires_in_ms"`
}

type trackersResponse struct {
	Count    int          `json:"count"`
	Trackers []trackerRow `json:"trackers"`
}

func (t *HTTPTransport) handleTrackers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	table := t.deps.Table
	if table == nil {
		writeJSON(w, http.StatusNotFound, httpErrorResponse{Error: "tracker table is not exposed"})
		return
	}
	limit := defaultTrackerSnapshotLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, httpErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	now := int64(0)
	if t.gate != nil && t.gate.clock != nil {
		now = t.gate.clock.Nanos()
	}
	rows := make([]trackerRow, 0, table.Len())
	table.Range(func(tracker *Tracker) bool {
		expiresIn := time.Duration(tracker.ExpireNanos() - now)
		rows = append(rows, trackerRow{
			ID:            tracker.ID(),
			RatePerSecond: tracker.CurrentRate(),
			ExpiresInMs:   expiresIn.Milliseconds(),
		})
		return true
	})
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].RatePerSecond != rows[j].RatePerSecond {
			return rows[i].RatePerSecond > rows[j].RatePerSecond
		}
		return rows[i].ID < rows[j].ID
	})
	count := len(rows)
	if len(rows) > limit {
		rows = rows[:limit]
	}
	writeJSON(w, http.StatusOK, trackersResponse{Count: count, Trackers: rows})
}

func (t *HTTPTransport) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.deps.Stats == nil {
		writeJSON(w, http.StatusNotFound, httpErrorResponse{Error: "stats snapshot is not available for this sink"})
		return
	}
	limit := defaultTrackerSnapshotLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, httpErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, t.deps.Stats.Snapshot(limit))
}

func (t *HTTPTransport) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.deps.Config == nil {
		writeJSON(w, http.StatusNotFound, httpErrorResponse{Error: "config is not exposed"})
		return
	}
	writeJSON(w, http.StatusOK, newConfigSnapshot(t.deps.Config))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
