package sweeper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fundbook/service"
)

type fakeExpirer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeExpirer) ExpireDue(context.Context) (service.SweepReport, error) {
	f.calls.Add(1)
	return service.SweepReport{Expired: 1}, f.err
}

func TestRunTicksUntilCancelled(t *testing.T) {
	f := &fakeExpirer{}
	s := New(f, 5*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return f.calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestTickToleratesOverlap(t *testing.T) {
	f := &fakeExpirer{err: service.ErrSweepInProgress}
	s := New(f, time.Hour, zaptest.NewLogger(t))
	s.tick(context.Background())
	assert.Equal(t, int32(1), f.calls.Load())
}
