package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundbook/domain/orderbook"
	"fundbook/infra/notify"
)

func TestCancel(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	r, err := f.svc.Submit(ctx, sell(100, 5), "seller")
	require.NoError(t, err)

	res, err := f.svc.Cancel(ctx, "missing", "seller")
	require.NoError(t, err)
	assert.Equal(t, CancelNotFound, res.Reason)
	assert.False(t, res.Cancelled)

	res, err = f.svc.Cancel(ctx, r.Order.ID, "buyer")
	require.NoError(t, err)
	assert.Equal(t, CancelNotMaker, res.Reason)
	assert.Equal(t, orderbook.Pending, res.Status)

	res, err = f.svc.Cancel(ctx, r.Order.ID, "seller")
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, orderbook.Cancelled, res.Status)

	_, asks := f.svc.BookDepth(fundA)
	assert.Zero(t, asks)
	assert.Len(t, f.events.OfType(notify.OrderCancelled), 1)

	res, err = f.svc.Cancel(ctx, r.Order.ID, "seller")
	require.NoError(t, err)
	assert.Equal(t, CancelNotPending, res.Reason)
	assert.Equal(t, orderbook.Cancelled, res.Status)

	// a cancelled order no longer matches
	b, err := f.svc.Submit(ctx, buy(100, 5), "buyer")
	require.NoError(t, err)
	assert.Equal(t, orderbook.Pending, b.Status)
}

func TestCancelMatchedOrderIsNotPending(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.sim.FailSettlements(-1)

	s, err := f.svc.Submit(ctx, sell(100, 5), "seller")
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, buy(100, 5), "buyer")
	require.NoError(t, err)

	res, err := f.svc.Cancel(ctx, s.Order.ID, "seller")
	require.NoError(t, err)
	assert.False(t, res.Cancelled)
	assert.Equal(t, CancelNotPending, res.Reason)
	assert.Equal(t, orderbook.Matched, res.Status)
}

func TestCancelUnknownCaller(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.Cancel(context.Background(), "x", "")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}
