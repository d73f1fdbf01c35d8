package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond, Multiplier: 2}
}

func TestDoWithConfigSucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, err error) { retried = append(retried, attempt) }

	got, err := DoWithConfig(context.Background(), cfg, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("flaky")
		}
		return "123-456", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "123-456", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoWithConfigExhausts(t *testing.T) {
	calls := 0
	err := DoSimple(context.Background(), fastConfig(3), func(context.Context) error {
		calls++
		return errors.New("down")
	})
	assert.EqualError(t, err, "down")
	assert.Equal(t, 3, calls)
}

func TestShouldRetryPredicate(t *testing.T) {
	calls := 0
	cfg := fastConfig(5)
	cfg.ShouldRetry = func(err error) bool { return false }
	_ = DoSimple(context.Background(), cfg, func(context.Context) error {
		calls++
		return errors.New("nope")
	})
	assert.Equal(t, 1, calls)
}

func TestContextCancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 3, InitialWait: time.Hour}
	cfg.OnRetry = func(int, error) { cancel() }

	err := DoSimple(ctx, cfg, func(context.Context) error { return errors.New("x") })
	assert.ErrorIs(t, err, context.Canceled)
}
