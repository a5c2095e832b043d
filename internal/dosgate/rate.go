// Package dosgate provides per-identity rate estimation.
package dosgate

import (
	"fmt"
	"time"
)

const (
	defaultSamplePeriod = 100 * time.Millisecond
	defaultAlpha        = 0.2
	defaultMaxRPS       = 100

	// idleRateThreshold is the smoothed rate below which a control is
	// considered idle and its tracker eligible for eviction.
	idleRateThreshold = 1e-4
)

// RateControl tracks and limits the request rate for one identity.
type RateControl interface {
	// IsRateExceeded adds a sample at now when addSample is true and
	// reports whether the estimated rate exceeds the configured maximum.
	IsRateExceeded(now int64, addSample bool) bool

	// IsIdle reports whether the estimated rate has decayed to idle.
	IsIdle(now int64) bool
}

// RateControlFactory produces fresh RateControl instances.
type RateControlFactory interface {
	NewRateControl() RateControl
}

// rateReporter is implemented by controls that expose their current rate.
type rateReporter interface {
	CurrentRate() float64
}

// EMAFactory builds exponential moving average rate controls with shared
// parameters.
type EMAFactory struct {
	samplePeriod int64
	alpha        float64
	maxRPS       int
	clock        Clock
}

// NewEMAFactory validates parameters and constructs a factory.
// Zero or negative samplePeriod and alpha select the defaults.
func NewEMAFactory(samplePeriod time.Duration, alpha float64, maxRPS int, clock Clock) (*EMAFactory, error) {
	if samplePeriod <= 0 {
		samplePeriod = defaultSamplePeriod
	}
	if alpha <= 0 {
		alpha = defaultAlpha
	}
	if maxRPS == 0 {
		maxRPS = defaultMaxRPS
	}
	if samplePeriod > time.Second {
		return nil, fmt.Errorf("%w: sample period %v exceeds one second", ErrInvalidConfig, samplePeriod)
	}
	if alpha > 1.0 {
		return nil, fmt.Errorf("%w: alpha %v exceeds 1.0", ErrInvalidConfig, alpha)
	}
	if maxRPS < 0 {
		return nil, fmt.Errorf("%w: max requests per second must be positive", ErrInvalidConfig)
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	return &EMAFactory{
		samplePeriod: int64(samplePeriod),
		alpha:        alpha,
		maxRPS:       maxRPS,
		clock:        clock,
	}, nil
}

// NewRateControl returns a zeroed control anchored at the current instant.
func (f *EMAFactory) NewRateControl() RateControl {
	return &emaRateControl{
		samplePeriod: f.samplePeriod,
		alpha:        f.alpha,
		maxRPS:       f.maxRPS,
		sampleStart:  f.clock.Nanos(),
	}
}

// MaxRPS returns the configured request rate ceiling.
func (f *EMAFactory) MaxRPS() int {
	if f == nil {
		return 0
	}
	return f.maxRPS
}

// emaRateControl estimates requests per second with an exponential moving
// average over sampled windows. Callers serialize access; the tracker's
// mutex guards every method.
type emaRateControl struct {
	samplePeriod int64
	alpha        float64
	maxRPS       int

	ema         float64
	sampleCount int
	sampleStart int64
}

// IsRateExceeded counts a sample when requested and reports whether the
// smoothed rate is above the maximum.
func (rc *emaRateControl) IsRateExceeded(now int64, addSample bool) bool {
	if addSample {
		rc.sampleCount++
	}

	elapsed := now - rc.sampleStart
	if elapsed < 0 {
		// Samples can arrive slightly out of monotonic order across
		// worker threads; never let the window anchor move backwards.
		elapsed = 0
	}

	// The average updates on a pure test, when the sample count bursts past
	// the per-second maximum, or when the sample period has elapsed.
	if !addSample || rc.sampleCount > rc.maxRPS || elapsed > rc.samplePeriod {
		count := float64(rc.sampleCount)
		if elapsed > 0 {
			currentRate := count * float64(time.Second) / float64(elapsed)
			// Scale alpha by how much time this window actually covers, so
			// short bursts are not under-weighted and long quiet stretches
			// are not over-weighted.
			adjustedAlpha := rc.alpha * float64(elapsed) / float64(rc.samplePeriod)
			if adjustedAlpha > 1.0 {
				adjustedAlpha = 1.0
			}
			rc.ema = adjustedAlpha*currentRate + (1.0-adjustedAlpha)*rc.ema
		} else {
			// Zero elapsed time: treat the count as one period's worth.
			guessedRate := count * float64(time.Second) / float64(rc.samplePeriod)
			rc.ema = rc.alpha*guessedRate + (1.0-rc.alpha)*rc.ema
		}
		if now > rc.sampleStart {
			rc.sampleStart = now
		}
		rc.sampleCount = 0
	}

	return rc.ema > float64(rc.maxRPS)
}

// IsIdle reports whether the rate is not exceeded and the average has
// decayed to effectively zero.
func (rc *emaRateControl) IsIdle(now int64) bool {
	return !rc.IsRateExceeded(now, false) && rc.ema <= idleRateThreshold
}

// CurrentRate reports the smoothed requests per second.
func (rc *emaRateControl) CurrentRate() float64 {
	return rc.ema
}
