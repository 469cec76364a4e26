package billing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetriesExhausted is returned when a bounded poll runs out of attempts.
var ErrRetriesExhausted = errors.New("billing: retries exhausted")

// RetryPolicy is a bounded poll: a fixed sleep between attempts and a hard
// attempt cap. Operations fail explicitly on exhaustion instead of hanging.
type RetryPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy covers waiting on asynchronous provider processing.
var DefaultRetryPolicy = RetryPolicy{Interval: 2 * time.Second, MaxAttempts: 5}

// Do runs op up to MaxAttempts times. op returns done=true to stop; a
// non-nil error stops immediately. Context cancellation is honored between
// attempts.
func (p RetryPolicy) Do(ctx context.Context, op func() (done bool, err error)) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		done, err := op()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Interval):
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, attempts)
}
