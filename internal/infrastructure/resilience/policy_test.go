package resilience

import (
	"testing"
	"time"
)

func TestNormalizeFillsZeroFieldsFromDefaults(t *testing.T) {
	got := Config{}.normalize()
	def := DefaultConfig()

	if got.Retry != def.Retry {
		t.Fatalf("Retry = %+v, want defaults %+v", got.Retry, def.Retry)
	}
	if got.Breaker.MinRequests != def.Breaker.MinRequests ||
		got.Breaker.FailureRatio != def.Breaker.FailureRatio ||
		got.Breaker.OpenTimeout != def.Breaker.OpenTimeout ||
		got.Breaker.HalfOpenMaxCalls != def.Breaker.HalfOpenMaxCalls {
		t.Fatalf("Breaker = %+v, want defaults %+v", got.Breaker, def.Breaker)
	}
	if got.Breaker.Enabled {
		t.Fatal("normalize must not enable the breaker on its own")
	}
}

func TestNormalizeKeepsMaxBackoffAboveInitial(t *testing.T) {
	cfg := Config{Retry: RetryPolicy{
		MaxAttempts:    2,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Millisecond,
		Multiplier:     2,
	}}.normalize()

	if cfg.Retry.MaxBackoff != time.Second {
		t.Fatalf("MaxBackoff = %v, want raised to InitialBackoff %v", cfg.Retry.MaxBackoff, time.Second)
	}
}

func TestNextBackoffIsCapped(t *testing.T) {
	policy := RetryPolicy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, Multiplier: 2}

	backoff := policy.InitialBackoff
	if backoff = policy.nextBackoff(backoff); backoff != 200*time.Millisecond {
		t.Fatalf("second backoff = %v, want 200ms", backoff)
	}
	if backoff = policy.nextBackoff(backoff); backoff != 300*time.Millisecond {
		t.Fatalf("third backoff = %v, want cap 300ms", backoff)
	}
}
