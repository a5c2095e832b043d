// Package dosgate provides CLI helpers.
package dosgate

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"time"
)

// PrintConfig writes the resolved config to the writer as JSON.
func PrintConfig(w io.Writer, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if w == nil {
		return errors.New("writer is required")
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(newConfigSnapshot(cfg))
}

type durationMillis time.Duration

// MarshalJSON renders the duration as integer milliseconds.
func (d durationMillis) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(time.Duration(d).Milliseconds(), 10)), nil
}

type configSnapshot struct {
	IDType               string
	MaxRequestsPerSecond int
	MaxTrackers          int
	SamplePeriod         durationMillis
	Alpha                float64
	RejectMode           string
	Delay                durationMillis
	MaxDelayQueue        int
	RejectStatus         int
	HTTPListenAddr       string
	UpstreamURL          string
	HTTPReadTimeout      durationMillis
	HTTPWriteTimeout     durationMillis
	HTTPIdleTimeout      durationMillis
	DrainTimeout         durationMillis
	LogLevel             string
	EnableProm           bool
	RedisAddr            string
	StatsPrefix          string
}

func newConfigSnapshot(cfg *Config) configSnapshot {
	snapshot := configSnapshot{}
	if cfg == nil {
		return snapshot
	}
	snapshot.IDType = cfg.IDType
	snapshot.MaxRequestsPerSecond = cfg.MaxRequestsPerSecond
	snapshot.MaxTrackers = cfg.MaxTrackers
	snapshot.SamplePeriod = durationMillis(cfg.SamplePeriod)
	snapshot.Alpha = cfg.Alpha
	snapshot.RejectMode = cfg.RejectMode
	snapshot.Delay = durationMillis(cfg.Delay)
	snapshot.MaxDelayQueue = cfg.MaxDelayQueue
	snapshot.RejectStatus = cfg.RejectStatus
	snapshot.HTTPListenAddr = cfg.HTTPListenAddr
	snapshot.UpstreamURL = cfg.UpstreamURL
	snapshot.HTTPReadTimeout = durationMillis(cfg.HTTPReadTimeout)
	snapshot.HTTPWriteTimeout = durationMillis(cfg.HTTPWriteTimeout)
	snapshot.HTTPIdleTimeout = durationMillis(cfg.HTTPIdleTimeout)
	snapshot.DrainTimeout = durationMillis(cfg.DrainTimeout)
	snapshot.LogLevel = cfg.LogLevel
	snapshot.EnableProm = cfg.EnableProm
	snapshot.RedisAddr = cfg.RedisAddr
	snapshot.StatsPrefix = cfg.StatsPrefix
	return snapshot
}
