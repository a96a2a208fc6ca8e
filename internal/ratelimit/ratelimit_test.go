package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testLimiter(t *testing.T) (*Limiter, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return New(store, zerolog.Nop()), store
}

func ipCheck(max int) Check {
	return Check{Dimension: "ip", Value: "203.0.113.4", Rule: Rule{Window: time.Minute, Max: max}}
}

func phoneCheck(phone string, max int) Check {
	return Check{Dimension: "phone", Value: phone, Rule: Rule{Window: time.Minute, Max: max}}
}

func TestAllowUpToCeiling(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := l.Allow(ctx, "otp-send", ipCheck(5))
		require.True(t, d.Allowed, "request %d should be allowed", i+1)
	}

	d := l.Allow(ctx, "otp-send", ipCheck(5))
	require.False(t, d.Allowed)
	require.Equal(t, "ip", d.FailedDimension)
	require.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestWindowExpiryReallows(t *testing.T) {
	l, store := testLimiter(t)
	ctx := context.Background()

	base := time.Now()
	store.now = func() time.Time { return base }

	require.True(t, l.Allow(ctx, "otp-send", ipCheck(1)).Allowed)
	require.False(t, l.Allow(ctx, "otp-send", ipCheck(1)).Allowed)

	store.now = func() time.Time { return base.Add(61 * time.Second) }
	require.True(t, l.Allow(ctx, "otp-send", ipCheck(1)).Allowed)
}

func TestRejectedRequestDoesNotCountAgainstPassingDimension(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()

	// Exhaust the phone budget while the IP budget stays wide open.
	for i := 0; i < 2; i++ {
		d := l.Allow(ctx, "otp-send", ipCheck(20), phoneCheck("+27821234567", 2))
		require.True(t, d.Allowed)
	}
	d := l.Allow(ctx, "otp-send", ipCheck(20), phoneCheck("+27821234567", 2))
	require.False(t, d.Allowed)
	require.Equal(t, "phone", d.FailedDimension)

	// The rejected request must not have burned IP budget: with a ceiling of
	// 3 only the two accepted requests count, so one more is still allowed.
	d = l.Allow(ctx, "otp-send", ipCheck(3), phoneCheck("+27829999999", 2))
	require.True(t, d.Allowed)
}

func TestDifferentPhonesSameIP(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()

	// 10 sends for phone A hit its ceiling; phone B from the same IP still
	// fits inside the per-IP budget of 20.
	for i := 0; i < 10; i++ {
		require.True(t, l.Allow(ctx, "otp-send", ipCheck(20), phoneCheck("+27821111111", 10)).Allowed)
	}
	d := l.Allow(ctx, "otp-send", ipCheck(20), phoneCheck("+27821111111", 10))
	require.False(t, d.Allowed)
	require.Equal(t, "phone", d.FailedDimension)

	for i := 0; i < 8; i++ {
		require.True(t, l.Allow(ctx, "otp-send", ipCheck(20), phoneCheck("+27822222222", 10)).Allowed)
	}
}

func TestIndependentLimiters(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "otp-send", ipCheck(1)).Allowed)
	require.False(t, l.Allow(ctx, "otp-send", ipCheck(1)).Allowed)

	// Same IP under a different limiter name keeps its own budget.
	require.True(t, l.Allow(ctx, "otp-verify", ipCheck(1)).Allowed)
}

type failingStore struct{}

func (failingStore) Allow(context.Context, []WindowKey) (int, time.Duration, error) {
	return 0, 0, errors.New("store down")
}

func TestStoreFailureFailsOpen(t *testing.T) {
	l := New(failingStore{}, zerolog.Nop())
	d := l.Allow(context.Background(), "otp-send", ipCheck(1))
	require.True(t, d.Allowed)
}

func TestNoChecksAllows(t *testing.T) {
	l, _ := testLimiter(t)
	require.True(t, l.Allow(context.Background(), "otp-send").Allowed)
}
