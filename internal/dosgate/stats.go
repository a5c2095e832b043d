// Package dosgate provides per-identity decision statistics sinks.
package dosgate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatsEvent records one gate decision.
type StatsEvent struct {
	ID      string
	Allowed bool
	At      time.Time
}

// StatsStore sinks per-identity decision statistics. Recording is advisory;
// gate decisions never read it back.
type StatsStore interface {
	Record(ctx context.Context, event StatsEvent) error
}

// IdentityStats summarizes decisions for one identity.
type IdentityStats struct {
	ID       string `json:"id"`
	Allowed  int64  `json:"allowed"`
	Rejected int64  `json:"rejected"`
}

const defaultMaxStatsEntries = 1024

// MemoryStats keeps bounded in-process decision counters.
type MemoryStats struct {
	mu         sync.Mutex
	entries    map[string]*IdentityStats
	maxEntries int
	dropped    int64
}

// NewMemoryStats constructs an in-memory stats store. Non-positive bounds
// select the default.
func NewMemoryStats(maxEntries int) *MemoryStats {
	if maxEntries <= 0 {
		maxEntries = defaultMaxStatsEntries
	}
	return &MemoryStats{
		entries:    make(map[string]*IdentityStats),
		maxEntries: maxEntries,
	}
}

// Record counts the decision for its identity. Events for identities past
// the entry bound are counted only in the drop total.
func (s *MemoryStats) Record(_ context.Context, event StatsEvent) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[event.ID]
	if !ok {
		if len(s.entries) >= s.maxEntries {
			s.dropped++
			return nil
		}
		entry = &IdentityStats{ID: event.ID}
		s.entries[event.ID] = entry
	}
	if event.Allowed {
		entry.Allowed++
	} else {
		entry.Rejected++
	}
	return nil
}

// Snapshot returns up to limit identities ordered by rejections, then
// total traffic.
func (s *MemoryStats) Snapshot(limit int) []IdentityStats {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	out := make([]IdentityStats, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, *entry)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Rejected != out[j].Rejected {
			return out[i].Rejected > out[j].Rejected
		}
		ti := out[i].Allowed + out[i].Rejected
		tj := out[j].Allowed + out[j].Rejected
		if ti != tj {
			return ti > tj
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RedisStats records decision counters in Redis: cumulative totals per
// outcome plus per-identity minute buckets with a TTL.
type RedisStats struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	bucket string
}

// RedisStatsOption customizes a RedisStats store.
type RedisStatsOption func(*RedisStats)

// WithStatsPrefix overrides the key prefix.
func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStats) { s.prefix = strings.Trim(prefix, ":") }
}

// WithStatsTTL overrides the per-bucket TTL. Totals never expire.
func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStats) { s.ttl = d }
}

// WithStatsBucket selects the time bucket granularity: "minute" or "none".
func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStats) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

// NewRedisStats constructs a Redis-backed stats store.
func NewRedisStats(rdb *redis.Client, opts ...RedisStatsOption) *RedisStats {
	s := &RedisStats{
		rdb:    rdb,
		prefix: "dosgate:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record increments the outcome counters for the event.
func (s *RedisStats) Record(ctx context.Context, event StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	outcome := "rejected"
	if event.Allowed {
		outcome = "allowed"
	}
	pipe := s.rdb.Pipeline()
	pipe.Incr(ctx, s.prefix+":total:"+outcome)
	if s.bucket == "minute" {
		key := fmt.Sprintf("%s:m:%s:%s:%s", s.prefix, event.At.UTC().Format("200601021504"), outcome, event.ID)
		pipe.Incr(ctx, key)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}
