// Package retry provides an explicit retry policy for fixture operations.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how many times an operation is attempted and how long to
// wait between attempts. The zero value makes a single attempt.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Delay is the wait before the second attempt.
	Delay time.Duration
	// Multiplier grows the delay after each attempt; values <= 1 keep it fixed.
	Multiplier float64
	// MaxDelay caps the grown delay. Zero means no cap.
	MaxDelay time.Duration
	// RetryIf decides whether an error is worth another attempt. Nil retries every error.
	RetryIf func(error) bool
	// OnRetry is called before sleeping with the failed attempt number (1-based).
	OnRetry func(attempt int, err error, next time.Duration)
}

// Fixed returns a policy with a constant delay between attempts.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: delay}
}

// Exponential returns a policy whose delay is multiplied after each attempt.
func Exponential(attempts int, initial time.Duration, multiplier float64, maxDelay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: initial, Multiplier: multiplier, MaxDelay: maxDelay}
}

// Unless returns a copy of p that stops retrying on errors matching stop.
func (p Policy) Unless(stop func(error) bool) Policy {
	prev := p.RetryIf
	p.RetryIf = func(err error) bool {
		if stop(err) {
			return false
		}
		return prev == nil || prev(err)
	}
	return p
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. The last error is returned unchanged.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.RetryIf != nil && !p.RetryIf(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = func(err error, next time.Duration) {
			p.OnRetry(attempt, err, next)
		}
	}

	return backoff.RetryNotify(operation, p.backOff(ctx), notify)
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if p.Multiplier <= 1 {
		b = backoff.NewConstantBackOff(p.Delay)
	} else {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.Delay
		eb.Multiplier = p.Multiplier
		eb.RandomizationFactor = 0
		eb.MaxElapsedTime = 0
		if p.MaxDelay > 0 {
			eb.MaxInterval = p.MaxDelay
		} else {
			eb.MaxInterval = time.Duration(1<<63 - 1)
		}
		b = eb
	}

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}
