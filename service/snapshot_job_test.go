package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	exitwal "fundbook/infra/wal/exit"
	"fundbook/snapshot"
)

func TestSnapshotExportsOpenOrdersAndPurgesAcked(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	open, err := f.svc.Submit(ctx, sell(10, 1), "third")
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, sell(100, 5), "seller")
	require.NoError(t, err)
	settled, err := f.svc.Submit(ctx, buy(100, 5), "buyer")
	require.NoError(t, err)
	require.NotEqual(t, open.Order.ID, settled.Order.ID)

	w := &snapshot.Writer{Dir: t.TempDir()}
	rep, err := f.svc.Snapshot(ctx, w, false)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Orders)
	assert.Equal(t, 1, rep.PurgedAcked)
	assert.Zero(t, rep.SegmentsRemoved)

	seq, orders, err := snapshot.LoadLatest(w.Dir)
	require.NoError(t, err)
	assert.Equal(t, rep.Seq, seq)
	require.Len(t, orders, 1)
	assert.Equal(t, open.Order.ID, orders[0].ID)

	_, err = f.outbox.Get(exitwal.NamespaceSettle, settled.Order.ID)
	assert.ErrorIs(t, err, exitwal.ErrNotFound)
}
