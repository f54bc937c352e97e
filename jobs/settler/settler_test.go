package settler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fundbook/service"
)

type fakeSettler struct {
	calls atomic.Int32
}

func (f *fakeSettler) SettleDue(context.Context) (service.SettleReport, error) {
	if f.calls.Add(1) == 1 {
		return service.SettleReport{}, errors.New("outbox unavailable")
	}
	return service.SettleReport{Attempted: 1, Settled: 1}, nil
}

func TestRunKeepsGoingAfterErrors(t *testing.T) {
	f := &fakeSettler{}
	j := New(f, 5*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	require.Eventually(t, func() bool { return f.calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
