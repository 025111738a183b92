package etc

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Permanent marks err so Retry gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

// Backoff is a doubling delay from Base, capped at Max. A zero Max keeps
// the exponential policy's default cap.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

func (b Backoff) exponential() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Base
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	if b.Max > 0 {
		eb.MaxInterval = b.Max
	}
	eb.Reset()
	return eb
}

// Delay returns the wait before the given retry attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	eb := b.exponential()
	d := eb.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = eb.NextBackOff()
	}
	return d
}

// Retry calls fn until it succeeds, returns a permanent error, the
// attempts run out, or ctx is done. onRetry, if set, is called before
// each wait. The last error is returned.
func Retry(
	ctx context.Context,
	b Backoff,
	fn func(ctx context.Context) error,
	onRetry func(attempt int, err error),
) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b.exponential(), uint64(attempts-1)), ctx)

	var last error
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		last = fn(ctx)
		return last
	}, policy, func(err error, _ time.Duration) {
		if onRetry != nil {
			onRetry(attempt, err)
		}
	})

	// the policy reports only ctx.Err() once the context ends
	if err != nil && err == ctx.Err() && last != nil && !errors.Is(last, err) {
		return errors.Join(last, err)
	}
	return err
}
