// Package ratelimit bounds request volume per identity dimension (IP, phone,
// OTP session) using fixed counting windows held in a shared store, so
// budgets stay correct across concurrent service instances.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Rule configures one dimension's budget: at most Max accepted requests per
// Window.
type Rule struct {
	Window time.Duration
	Max    int
}

// Check is one dimension evaluated for a request.
type Check struct {
	Dimension string
	Value     string
	Rule      Rule
}

// Decision is the outcome of evaluating all dimensions for a request. When
// rejected, FailedDimension names the dimension at its ceiling and RetryAfter
// holds the remaining window time for it.
type Decision struct {
	Allowed         bool
	FailedDimension string
	RetryAfter      time.Duration
}

// WindowKey is a store-level counting key with its ceiling and window.
type WindowKey struct {
	Key    string
	Max    int
	Window time.Duration
}

// Store holds the shared window counters. Allow must be all-or-nothing:
// either every key is below its ceiling and all are incremented, or none is
// mutated. It returns the index of the first failing key, or -1 when the
// request is accepted.
type Store interface {
	Allow(ctx context.Context, keys []WindowKey) (failed int, retryAfter time.Duration, err error)
}

// Limiter evaluates named limiters across multiple identity dimensions.
type Limiter struct {
	store  Store
	logger zerolog.Logger
}

func New(store Store, logger zerolog.Logger) *Limiter {
	return &Limiter{store: store, logger: logger}
}

// Key builds the store key for one (limiter, dimension, value) triple.
func Key(name, dimension, value string) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s", name, dimension, value)
}

// Allow accepts the request only if every dimension is below its ceiling.
// A rejected request does not increment any counter. Store failures allow
// the request through with a warning; limiting degrades, auth does not.
func (l *Limiter) Allow(ctx context.Context, name string, checks ...Check) Decision {
	if len(checks) == 0 {
		return Decision{Allowed: true}
	}
	keys := make([]WindowKey, 0, len(checks))
	for _, c := range checks {
		keys = append(keys, WindowKey{
			Key:    Key(name, c.Dimension, c.Value),
			Max:    c.Rule.Max,
			Window: c.Rule.Window,
		})
	}
	failed, retryAfter, err := l.store.Allow(ctx, keys)
	if err != nil {
		l.logger.Warn().Err(err).Str("limiter", name).Msg("rate limit store unavailable, allowing request")
		return Decision{Allowed: true}
	}
	if failed < 0 {
		return Decision{Allowed: true}
	}
	return Decision{
		Allowed:         false,
		FailedDimension: checks[failed].Dimension,
		RetryAfter:      retryAfter,
	}
}
