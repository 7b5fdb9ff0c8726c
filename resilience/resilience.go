// Package resilience decides, for a cache entry whose loader just failed,
// how long to keep serving the previous value (suppression) and when to
// retry the load. It is a direct generalization of cache2k-addon's
// UniversalResiliencePolicy: exponential backoff with multiplicative
// jitter, derived from a small set of knobs that default sensibly off the
// cache's expire-after-write setting.
package resilience

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Unset marks a Config duration as "not configured", distinct from the
// valid zero value (which means "disabled"/"immediate"). It mirrors
// cache2k's UNSET_LONG sentinel.
const Unset time.Duration = -1

// Eternal marks a duration as unbounded (cache2k's ETERNAL_DURATION /
// Long.MAX_VALUE).
const Eternal time.Duration = math.MaxInt64

const retryPercentOfResilienceDuration = 10

// Config mirrors the five resilience knobs from the loading core's
// configuration surface.
type Config struct {
	RetryInterval      time.Duration
	MaxRetryInterval   time.Duration
	ResilienceDuration time.Duration
	Multiplier         float64
	Randomization      float64
	SuppressExceptions bool
}

// DefaultConfig returns a Config with every duration Unset and the
// default multiplier/randomization, suppression enabled — the starting
// point for Resolve.
func DefaultConfig() Config {
	return Config{
		RetryInterval:      Unset,
		MaxRetryInterval:   Unset,
		ResilienceDuration: Unset,
		Multiplier:         1.5,
		Randomization:      0.5,
		SuppressExceptions: true,
	}
}

// Resolve derives unset knobs the way UniversalResiliencePolicy's
// constructor does:
//   - ResilienceDuration, if unset, defaults to expireAfterWrite (0 if the
//     entry never expires).
//   - MaxRetryInterval, if unset, defaults to ResilienceDuration.
//   - RetryInterval, if unset, defaults to 10% of ResilienceDuration,
//     capped at MaxRetryInterval.
//   - If RetryInterval ends up larger than MaxRetryInterval, MaxRetryInterval
//     is raised to match.
//   - If SuppressExceptions is false, ResilienceDuration is forced to 0:
//     failures are observed immediately, never suppressed.
func (c Config) Resolve(expireAfterWrite time.Duration, eternal bool) Config {
	d, m, r := c.ResilienceDuration, c.MaxRetryInterval, c.RetryInterval

	if d == Unset {
		if eternal {
			d = 0
		} else {
			d = expireAfterWrite
		}
	} else if m == Unset {
		m = d
	}

	if m == Unset && r == Unset {
		m = d
	}

	if r == Unset {
		r = d * time.Duration(retryPercentOfResilienceDuration) / 100
		if m != Unset && r > m {
			r = m
		}
		if r < 0 {
			r = 0
		}
	}

	if m == Unset {
		m = d
	}
	if r > m {
		m = r
	}

	if !c.SuppressExceptions {
		d = 0
	}

	mult := c.Multiplier
	if mult == 0 {
		mult = 1.5
	}
	rnd := c.Randomization

	return Config{
		RetryInterval:      r,
		MaxRetryInterval:   m,
		ResilienceDuration: d,
		Multiplier:         mult,
		Randomization:      rnd,
		SuppressExceptions: c.SuppressExceptions,
	}
}

// Policy decides suppression and retry instants for a failed load.
// retryCount is the number of consecutive failures observed for the key so
// far (0 for the first failure), and firstFailureAt is the time of the
// first failure in the current run of consecutive failures.
type Policy interface {
	// SuppressUntil returns the instant until which the previous value may
	// still be served despite this failure, or the zero time if the
	// failure must be observed immediately (no suppression).
	SuppressUntil(loadTime, firstFailureAt time.Time, retryCount int) time.Time
	// RetryAfter returns the instant at which a retry load is permitted,
	// or the zero time if retries should happen immediately.
	RetryAfter(loadTime time.Time, retryCount int) time.Time
}

// sharedRandom is the process-wide RNG the formula's jitter term draws
// from. A single shared source avoids a per-entry allocation for what is
// already a rare, failure-only code path.
var (
	sharedRandomMu sync.Mutex
	sharedRandom   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func sharedFloat64() float64 {
	sharedRandomMu.Lock()
	defer sharedRandomMu.Unlock()
	return sharedRandom.Float64()
}

// Universal is the default Policy: exponential backoff with multiplicative
// jitter, exactly UniversalResiliencePolicy's formula.
type Universal struct {
	cfg Config
}

// NewUniversal resolves cfg against expireAfterWrite/eternal and returns a
// ready-to-use Policy. When the resolved config has suppression disabled,
// it returns Disabled instead of a Universal that would just compute zero
// delays on every call.
func NewUniversal(cfg Config, expireAfterWrite time.Duration, eternal bool) Policy {
	resolved := cfg.Resolve(expireAfterWrite, eternal)
	if !resolved.SuppressExceptions {
		return Disabled{}
	}
	return &Universal{cfg: resolved}
}

// Config returns the resolved configuration backing this policy.
func (p *Universal) Config() Config { return p.cfg }

// SuppressUntil implements Policy.
func (p *Universal) SuppressUntil(loadTime, firstFailureAt time.Time, retryCount int) time.Time {
	d := p.cfg.ResilienceDuration
	if d == 0 {
		return time.Time{}
	}
	delta := p.retryDelta(retryCount)
	suppressUntil := loadTime.Add(delta)
	if d == Eternal {
		return suppressUntil
	}
	maxSuppressUntil := firstFailureAt.Add(d)
	if suppressUntil.After(maxSuppressUntil) {
		return maxSuppressUntil
	}
	return suppressUntil
}

// RetryAfter implements Policy.
func (p *Universal) RetryAfter(loadTime time.Time, retryCount int) time.Time {
	if p.cfg.RetryInterval == 0 {
		return time.Time{}
	}
	return loadTime.Add(p.retryDelta(retryCount))
}

// retryDelta computes Δ = min(M, R * multiplier^retryCount * (1 + randomization*U[0,1))).
func (p *Universal) retryDelta(retryCount int) time.Duration {
	base := float64(p.cfg.RetryInterval) * math.Pow(p.cfg.Multiplier, float64(retryCount))
	jittered := base + sharedFloat64()*p.cfg.Randomization*base
	delta := time.Duration(jittered)
	if p.cfg.MaxRetryInterval != Eternal && delta > p.cfg.MaxRetryInterval {
		delta = p.cfg.MaxRetryInterval
	}
	if delta < 0 {
		delta = 0
	}
	return delta
}

// Disabled is a Policy that never suppresses and always permits an
// immediate retry, for SuppressExceptions=false configurations.
type Disabled struct{}

// SuppressUntil implements Policy.
func (Disabled) SuppressUntil(time.Time, time.Time, int) time.Time { return time.Time{} }

// RetryAfter implements Policy.
func (Disabled) RetryAfter(time.Time, int) time.Time { return time.Time{} }
