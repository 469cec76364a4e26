package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDoneAfterRetries(t *testing.T) {
	p := RetryPolicy{Interval: time.Millisecond, MaxAttempts: 5}

	calls := 0
	err := p.Do(context.Background(), func() (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyExhaustion(t *testing.T) {
	p := RetryPolicy{Interval: time.Millisecond, MaxAttempts: 3}

	calls := 0
	err := p.Do(context.Background(), func() (bool, error) {
		calls++
		return false, nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyStopsOnError(t *testing.T) {
	p := RetryPolicy{Interval: time.Millisecond, MaxAttempts: 5}

	boom := errors.New("boom")
	calls := 0
	err := p.Do(context.Background(), func() (bool, error) {
		calls++
		return false, boom
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyHonorsContext(t *testing.T) {
	p := RetryPolicy{Interval: time.Minute, MaxAttempts: 5}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Do(ctx, func() (bool, error) {
		return false, nil
	})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRetryPolicyZeroAttemptsRunsOnce(t *testing.T) {
	p := RetryPolicy{Interval: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func() (bool, error) {
		calls++
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
