package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrAttemptTimeout is returned when one attempt exceeds its deadline.
var ErrAttemptTimeout = errors.New("analyzer attempt timed out")

// ExhaustedError reports that every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("analyzer request failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retrier runs an operation with bounded attempts, a hard per-attempt
// timeout and exponential delay between attempts. The delay after attempt
// k (1-based) is BaseDelay * 2^(k-1).
type Retrier struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	BaseDelay      time.Duration

	// Notify, if set, is called before each delay.
	Notify func(err error, delay time.Duration)
}

func NewRetrier(maxAttempts int, attemptTimeout, baseDelay time.Duration) *Retrier {
	return &Retrier{MaxAttempts: maxAttempts, AttemptTimeout: attemptTimeout, BaseDelay: baseDelay}
}

func (r *Retrier) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = r.BaseDelay << uint(max(r.MaxAttempts, 1))
	b.MaxElapsedTime = 0
	b.Reset()

	retries := r.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Do calls op until it succeeds, returns a Permanent error, or attempts
// run out. Each call receives a context bounded by AttemptTimeout.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var (
		attempts  int
		last      error
		permanent bool
	)

	err := backoff.RetryNotify(func() error {
		attempts++
		actx, cancel := context.WithTimeout(ctx, r.AttemptTimeout)
		defer cancel()

		err := op(actx)
		if err == nil {
			return nil
		}

		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
			last = perm.Err
			return err
		}
		if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %v", ErrAttemptTimeout, r.AttemptTimeout, err)
		}
		last = err
		return err
	}, r.backOff(ctx), func(err error, d time.Duration) {
		if r.Notify != nil {
			r.Notify(err, d)
		}
	})

	switch {
	case err == nil:
		return nil
	case permanent:
		return last
	case ctx.Err() != nil:
		return fmt.Errorf("analyzer request abandoned: %w", ctx.Err())
	}
	return &ExhaustedError{Attempts: attempts, Err: last}
}
