// Package retry wraps provider calls in the exponential-backoff policy
// shared by every network operation in the client core, token refresh
// included.
package retry

import (
	"context"
	"time"

	"crewdesk.app/internal/apperr"
	"crewdesk.app/internal/obs"
)

const (
	defaultMaxRetries = 3
	defaultDelay      = 1000 * time.Millisecond
	defaultMultiplier = 1.5
)

// Options configures one resilient call. The zero value selects the
// defaults (3 retries, 1s initial delay, 1.5x multiplier, DefaultShouldRetry).
type Options struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64

	// ShouldRetry decides whether the classified failure on the given
	// attempt (1-based) warrants another try.
	ShouldRetry func(rec *apperr.Record, attempt int) bool

	// OnRetry observes an upcoming retry. It must not alter control flow.
	OnRetry func(rec *apperr.Record, attempt int, delay time.Duration)

	// Sleep replaces the backoff wait, letting tests run without timers.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.InitialDelay == 0 {
		o.InitialDelay = defaultDelay
	}
	if o.Multiplier == 0 {
		o.Multiplier = defaultMultiplier
	}
	if o.ShouldRetry == nil {
		o.ShouldRetry = DefaultShouldRetry
	}
	if o.Sleep == nil {
		o.Sleep = sleep
	}
	return o
}

// DefaultShouldRetry retries connectivity loss, timeouts, provider
// overload and 5xx responses. Auth and validation failures never retry.
func DefaultShouldRetry(rec *apperr.Record, _ int) bool {
	return rec.Retryable()
}

// Do runs op under the retry policy. The operation name labels metrics and
// log lines; it must not contain identifiers or credentials. On exhausted
// attempts the original failure is returned, classified.
func Do[T any](ctx context.Context, name string, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	opts = opts.withDefaults()

	var zero T
	delay := opts.InitialDelay
	for attempt := 1; ; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		rec := apperr.Classify(err)
		if attempt > opts.MaxRetries || !opts.ShouldRetry(rec, attempt) {
			return zero, rec
		}
		obs.CountRetryAttempt(name)
		obs.LogOp(map[string]any{
			"ts":      time.Now().UTC().Format(time.RFC3339Nano),
			"level":   "warn",
			"msg":     "retrying operation",
			"op":      name,
			"attempt": attempt,
			"code":    string(rec.Code),
			"delay":   delay.String(),
		})
		if opts.OnRetry != nil {
			opts.OnRetry(rec, attempt, delay)
		}
		if err := opts.Sleep(ctx, delay); err != nil {
			return zero, apperr.Classify(err)
		}
		delay = time.Duration(float64(delay) * opts.Multiplier)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
