// Package retry runs fallible operations under a bounded exponential backoff
// policy. Every network-facing component of drivevault (token exchange,
// listing, downloads, archive writes) goes through the same Policy so that
// attempt budgets and sleep schedules are uniform across the engine.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/juju/clock"
	jujuretry "github.com/juju/retry"
)

// Defaults used when a Policy field is left at its zero value.
const (
	DefaultAttempts = 3
	DefaultDelay    = 1 * time.Second
	DefaultFactor   = 2.0
	DefaultMaxDelay = 60 * time.Second
)

// Hinter is implemented by errors that carry a server-provided minimum wait
// (e.g. a Retry-After header on a throttled response).
type Hinter interface {
	RetryAfter() time.Duration
}

// Policy describes how many times an operation is attempted and how long to
// sleep between attempts. The sleep before attempt n+1 is
// Delay * Factor^(n-1), capped at MaxDelay.
type Policy struct {
	Attempts int
	Delay    time.Duration
	Factor   float64
	MaxDelay time.Duration

	// Clock drives the sleeps. Tests substitute a recording clock.
	Clock  clock.Clock
	Logger *slog.Logger
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		Attempts: DefaultAttempts,
		Delay:    DefaultDelay,
		Factor:   DefaultFactor,
		MaxDelay: DefaultMaxDelay,
		Clock:    clock.WallClock,
	}
}

// Backoff returns the sleep that precedes attempt+1, for attempt >= 1.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()

	d := float64(p.Delay) * math.Pow(p.Factor, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}

	return time.Duration(d)
}

// Do calls fn until it succeeds or the attempt budget is exhausted. Errors
// matching one of fatal (errors.Is) propagate after a single invocation.
// On exhaustion the last error from fn is returned unchanged.
func (p Policy) Do(ctx context.Context, name string, fn func() error, fatal ...error) error {
	return p.DoFunc(ctx, name, fn, func(err error) bool {
		for _, f := range fatal {
			if errors.Is(err, f) {
				return true
			}
		}

		return false
	})
}

// DoFunc is Do with an arbitrary predicate deciding which errors must not be
// retried.
func (p Policy) DoFunc(ctx context.Context, name string, fn func() error, isFatal func(error) bool) error {
	p = p.withDefaults()

	var (
		lastErr  error
		fatalErr error
		floor    time.Duration
	)

	err := jujuretry.Call(jujuretry.CallArgs{
		Func: func() error {
			lastErr = fn()
			return lastErr
		},
		IsFatalError: func(err error) bool {
			if ctx.Err() != nil || (isFatal != nil && isFatal(err)) {
				fatalErr = err
				return true
			}

			return false
		},
		NotifyFunc: func(err error, attempt int) {
			floor = 0

			var h Hinter
			if errors.As(err, &h) {
				floor = h.RetryAfter()
			}

			p.Logger.Debug("attempt failed",
				slog.String("op", name),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", p.Attempts),
				slog.String("error", err.Error()),
			)
		},
		Attempts: p.Attempts,
		Delay:    p.Delay,
		MaxDelay: p.MaxDelay,
		BackoffFunc: func(_ time.Duration, attempt int) time.Duration {
			d := p.Backoff(attempt)
			if floor > d {
				d = floor
			}

			return d
		},
		Clock: p.Clock,
		Stop:  ctx.Done(),
	})
	if err == nil {
		return nil
	}

	if fatalErr != nil {
		return fatalErr
	}

	if ctx.Err() != nil {
		return fmt.Errorf("retry: %s canceled: %w", name, errors.Join(ctx.Err(), lastErr))
	}

	p.Logger.Debug("too many attempts, giving up",
		slog.String("op", name),
		slog.Int("attempts", p.Attempts),
	)

	return lastErr
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}

	if p.Delay <= 0 {
		p.Delay = DefaultDelay
	}

	if p.Factor < 1 {
		p.Factor = DefaultFactor
	}

	if p.Clock == nil {
		p.Clock = clock.WallClock
	}

	if p.Logger == nil {
		p.Logger = slog.Default()
	}

	return p
}
