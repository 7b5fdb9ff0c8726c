package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfig_Resolve_DefaultsFromExpireAfterWrite(t *testing.T) {
	cfg := DefaultConfig().Resolve(10*time.Second, false)

	require.Equal(t, 10*time.Second, cfg.ResilienceDuration)
	wantRetry := 10 * time.Second * 10 / 100
	require.Equal(t, wantRetry, cfg.RetryInterval)
	require.GreaterOrEqual(t, cfg.MaxRetryInterval, cfg.RetryInterval)
}

func TestConfig_Resolve_EternalMeansNoSuppressionDuration(t *testing.T) {
	cfg := DefaultConfig().Resolve(0, true)
	require.Zero(t, cfg.ResilienceDuration)
}

func TestConfig_Resolve_SuppressDisabledForcesZeroDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SuppressExceptions = false
	resolved := cfg.Resolve(10*time.Second, false)
	require.Zero(t, resolved.ResilienceDuration)
}

func TestUniversal_NeverSuppressesWhenDurationZero(t *testing.T) {
	cfg := Config{
		RetryInterval:      time.Second,
		MaxRetryInterval:   10 * time.Second,
		ResilienceDuration: 0,
		Multiplier:         1.5,
		Randomization:      0.5,
		SuppressExceptions: true,
	}
	p := NewUniversal(cfg, 0, false)
	now := time.Now()
	require.True(t, p.SuppressUntil(now, now, 0).IsZero())
}

func TestUniversal_SuppressUntilBoundedByResilienceDuration(t *testing.T) {
	cfg := Config{
		RetryInterval:      time.Hour,
		MaxRetryInterval:   time.Hour,
		ResilienceDuration: time.Second,
		Multiplier:         1.5,
		Randomization:      0,
		SuppressExceptions: true,
	}
	p := NewUniversal(cfg, 0, false)
	t0 := time.Now()

	su := p.SuppressUntil(t0, t0, 0)
	want := t0.Add(time.Second)
	require.False(t, su.After(want.Add(time.Millisecond)),
		"SuppressUntil must not exceed firstFailureAt+ResilienceDuration, got %v want<=%v", su, want)
}

func TestUniversal_RetryDeltaGrowsWithRetryCount(t *testing.T) {
	cfg := Config{
		RetryInterval:      time.Second,
		MaxRetryInterval:   time.Hour,
		ResilienceDuration: time.Hour,
		Multiplier:         2,
		Randomization:      0,
		SuppressExceptions: true,
	}
	p := NewUniversal(cfg, 0, false)
	t0 := time.Now()

	r0 := p.RetryAfter(t0, 0).Sub(t0)
	r1 := p.RetryAfter(t0, 1).Sub(t0)
	r2 := p.RetryAfter(t0, 2).Sub(t0)

	require.True(t, r0 < r1 && r1 < r2, "retry delta must grow with retryCount, got %v, %v, %v", r0, r1, r2)
	require.LessOrEqual(t, r2, cfg.MaxRetryInterval)
}

func TestUniversal_RetryAfterZeroMeansImmediate(t *testing.T) {
	cfg := Config{RetryInterval: 0, MaxRetryInterval: 0, ResilienceDuration: 0, Multiplier: 1.5, Randomization: 0.5, SuppressExceptions: true}
	p := NewUniversal(cfg, 0, false)
	require.True(t, p.RetryAfter(time.Now(), 0).IsZero())
}

func TestDisabled_NeverSuppressesAlwaysImmediateRetry(t *testing.T) {
	var d Disabled
	now := time.Now()
	require.True(t, d.SuppressUntil(now, now, 3).IsZero())
	require.True(t, d.RetryAfter(now, 3).IsZero())
}

func TestNewUniversal_SuppressDisabledReturnsDisabledPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SuppressExceptions = false
	p := NewUniversal(cfg, time.Minute, false)
	_, ok := p.(Disabled)
	require.True(t, ok, "NewUniversal must return Disabled once suppression is off, got %T", p)
}
