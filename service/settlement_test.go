package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundbook/domain/orderbook"
	"fundbook/infra/notify"
	exitwal "fundbook/infra/wal/exit"
)

func TestSettlementFailureLeavesPairMatched(t *testing.T) {
	f := newFixture(t, Options{SettleAttempts: 2})
	ctx := context.Background()
	f.sim.FailSettlements(-1)

	s, err := f.svc.Submit(ctx, sell(100, 5), "seller")
	require.NoError(t, err)
	b, err := f.svc.Submit(ctx, buy(100, 5), "buyer")
	require.NoError(t, err)

	assert.Equal(t, orderbook.Matched, b.Status)
	assert.Contains(t, b.Message, "settlement failed")
	assert.Len(t, f.sim.Settlements(), 2, "bounded inline retry")
	assert.Len(t, f.events.OfType(notify.OrderSettlementFailed), 2)

	for _, id := range []string{s.Order.ID, b.Order.ID} {
		o, err := f.svc.Get(id)
		require.NoError(t, err)
		assert.Equal(t, orderbook.Matched, o.Status)
		assert.Empty(t, o.SettlementTxHash)
	}

	stuck, err := f.svc.StuckSettlements()
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, b.Order.ID, stuck[0].BuyOrderID)
	assert.Equal(t, s.Order.ID, stuck[0].SellOrderID)
	assert.Equal(t, MatchID(b.Order.ID, s.Order.ID), stuck[0].MatchID)
	assert.Equal(t, uint32(1), stuck[0].Retries)
	assert.False(t, stuck[0].Exhausted)
	assert.NotEmpty(t, stuck[0].LastError)

	// an operator retry by the SELL id settles the pair
	f.sim.FailSettlements(0)
	o, err := f.svc.RetrySettlement(ctx, s.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderbook.Settled, o.Status)

	other, err := f.svc.Get(b.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, o.SettlementTxHash, other.SettlementTxHash)

	stuck, err = f.svc.StuckSettlements()
	require.NoError(t, err)
	assert.Empty(t, stuck)
}

func TestRetrySettlementRejectsSettledOrder(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, sell(100, 5), "seller")
	require.NoError(t, err)
	b, err := f.svc.Submit(ctx, buy(100, 5), "buyer")
	require.NoError(t, err)
	require.Equal(t, orderbook.Settled, b.Status)

	_, err = f.svc.RetrySettlement(ctx, b.Order.ID)
	assert.ErrorIs(t, err, ErrNoSettlement)

	_, err = f.svc.RetrySettlement(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSettleDueHonoursBackoffAndBudget(t *testing.T) {
	f := newFixture(t, Options{SettleAttempts: 1, MaxRetries: 2, RetryBaseBackoff: time.Minute})
	ctx := context.Background()
	f.sim.FailSettlements(-1)

	_, err := f.svc.Submit(ctx, sell(100, 5), "seller")
	require.NoError(t, err)
	b, err := f.svc.Submit(ctx, buy(100, 5), "buyer")
	require.NoError(t, err)
	require.Equal(t, orderbook.Matched, b.Status)

	rep, err := f.svc.SettleDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Attempted, "backoff has not elapsed")

	f.clock.Advance(2 * time.Minute)
	rep, err = f.svc.SettleDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Attempted)
	assert.Equal(t, 1, rep.Failed)

	f.clock.Advance(time.Hour)
	rep, err = f.svc.SettleDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Attempted)
	assert.Equal(t, 1, rep.Exhausted)

	stuck, err := f.svc.StuckSettlements()
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.True(t, stuck[0].Exhausted)
}

func TestSettleDueSettlesQueuedEntry(t *testing.T) {
	f := newFixture(t, Options{SettleAttempts: 1, RetryBaseBackoff: time.Second})
	ctx := context.Background()
	f.sim.FailSettlements(1)

	_, err := f.svc.Submit(ctx, sell(100, 5), "seller")
	require.NoError(t, err)
	b, err := f.svc.Submit(ctx, buy(100, 5), "buyer")
	require.NoError(t, err)
	require.Equal(t, orderbook.Matched, b.Status)

	f.clock.Advance(time.Minute)
	rep, err := f.svc.SettleDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Settled)

	o, err := f.svc.Get(b.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderbook.Settled, o.Status)
}

func TestAsyncModeSettlesInBackground(t *testing.T) {
	f := newFixture(t, Options{SettlementMode: ModeAsync})
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, sell(100, 5), "seller")
	require.NoError(t, err)
	b, err := f.svc.Submit(ctx, buy(100, 5), "buyer")
	require.NoError(t, err)
	assert.Equal(t, orderbook.Matched, b.Status)

	require.Eventually(t, func() bool {
		o, err := f.svc.Get(b.Order.ID)
		return err == nil && o.Status == orderbook.Settled
	}, 5*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		e, err := f.outbox.Get(exitwal.NamespaceSettle, b.Order.ID)
		return err == nil && e.State == exitwal.StateAcked
	}, 5*time.Second, 5*time.Millisecond)
	assert.Len(t, f.sim.Settlements(), 1)
}

func TestSettleMatchSkipsClaimedEntry(t *testing.T) {
	f := newFixture(t, Options{})
	f.sim.FailSettlements(-1)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, sell(100, 5), "seller")
	require.NoError(t, err)
	b, err := f.svc.Submit(ctx, buy(100, 5), "buyer")
	require.NoError(t, err)

	_, err = f.outbox.Claim(exitwal.NamespaceSettle, b.Order.ID)
	require.NoError(t, err)
	calls := len(f.sim.Settlements())

	_, err = f.svc.settleMatch(ctx, b.Order.ID, 1)
	assert.ErrorIs(t, err, errNotClaimed)
	assert.Len(t, f.sim.Settlements(), calls)
}
