// Package retry provides the bounded retry-with-delay primitive used for UI
// readiness polling and transient downstream failures.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// ErrExhausted is returned (wrapped) when every attempt was used up.
var ErrExhausted = errors.New("retry attempts exhausted")

// Backoff returns the wait before attempt+1, where attempt starts at 1.
type Backoff func(attempt int) time.Duration

// Fixed waits the same delay between attempts.
func Fixed(delay time.Duration) Backoff {
	return func(int) time.Duration { return delay }
}

// Exponential doubles base per attempt up to limit, returning a jittered value
// in [d/2, d).
func Exponential(base, limit time.Duration) Backoff {
	return func(attempt int) time.Duration {
		delay := float64(base) * math.Pow(2, float64(attempt-1))
		if delay > float64(limit) {
			delay = float64(limit)
		}
		half := time.Duration(delay / 2)
		return half + jitter(half)
	}
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying; Until and Do stop immediately
// and return the unwrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Until calls predicate up to maxAttempts times, sleeping per backoff between
// calls, until it reports true. A predicate error counts as "not yet" unless
// it is Permanent. Context cancellation aborts the wait.
func Until(ctx context.Context, maxAttempts int, backoff Backoff, predicate func(ctx context.Context) (bool, error)) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if backoff == nil {
		backoff = Fixed(0)
	}
	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ok, err := predicate(ctx)
		if err == nil && ok {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if err != nil {
			last = err
		}
		if attempt == maxAttempts {
			break
		}
		if err := sleep(ctx, backoff(attempt)); err != nil {
			return err
		}
	}
	if last != nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, maxAttempts, last)
	}
	return fmt.Errorf("%w after %d attempts", ErrExhausted, maxAttempts)
}

// Do retries fn until it returns nil.
func Do(ctx context.Context, maxAttempts int, backoff Backoff, fn func(ctx context.Context) error) error {
	return Until(ctx, maxAttempts, backoff, func(ctx context.Context) (bool, error) {
		if err := fn(ctx); err != nil {
			return false, err
		}
		return true, nil
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry wait: %w", err)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
