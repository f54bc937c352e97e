package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, func(int) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoReturnsLastError(t *testing.T) {
	last := errors.New("third")
	err := Do(context.Background(), 3, time.Millisecond, func(attempt int) error {
		if attempt == 2 {
			return last
		}
		return errors.New("earlier")
	})
	assert.Equal(t, last, err)
}

func TestDoHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, 10, time.Hour, func(int) error {
		calls++
		cancel()
		return errors.New("boom")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, time.Duration(0), Backoff(base, time.Second, 0))
	assert.Equal(t, base, Backoff(base, time.Second, 1))
	assert.Equal(t, 400*time.Millisecond, Backoff(base, time.Second, 3))
	assert.Equal(t, time.Second, Backoff(base, time.Second, 10))
	assert.Equal(t, 800*time.Millisecond, Backoff(base, 0, 4))
}
