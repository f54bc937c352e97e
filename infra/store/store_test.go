package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundbook/domain/orderbook"
)

const (
	fund  = "0x0000000000000000000000000000000000000F01"
	alice = "0x00000000000000000000000000000000000000Aa"
	bob   = "0x00000000000000000000000000000000000000bB"
)

func order(id, maker string, side orderbook.Side, seq uint64) *orderbook.Order {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &orderbook.Order{
		ID:            id,
		Maker:         maker,
		Side:          side,
		Instrument:    fund,
		TokenAmount:   100,
		PricePerToken: 5,
		Nonce:         "nonce-" + id,
		Deadline:      now.Add(time.Hour),
		Status:        orderbook.Pending,
		CreatedAt:     now,
		Seq:           seq,
		UpdatedAt:     now,
	}
}

type backendCase struct {
	name string
	open func(t *testing.T) Backend
	// reopen returns a fresh backend over the same durable state, or nil.
	reopen func(t *testing.T) Backend
}

func backends(t *testing.T) []backendCase {
	pebbleDir := filepath.Join(t.TempDir(), "orders")
	sqlitePath := filepath.Join(t.TempDir(), "orders.db")

	openPebble := func(t *testing.T) Backend {
		b, err := OpenPebble(pebbleDir)
		require.NoError(t, err)
		return b
	}
	openSQLite := func(t *testing.T) Backend {
		b, err := OpenSQL(context.Background(), "sqlite", sqlitePath)
		require.NoError(t, err)
		return b
	}
	return []backendCase{
		{name: "memory", open: func(*testing.T) Backend { return NewMemoryBackend() }},
		{name: "pebble-mem", open: func(t *testing.T) Backend {
			b, err := OpenPebbleInMemory()
			require.NoError(t, err)
			return b
		}},
		{name: "pebble", open: openPebble, reopen: openPebble},
		{name: "sqlite", open: openSQLite, reopen: openSQLite},
	}
}

func TestStoreInsertGetList(t *testing.T) {
	for _, bc := range backends(t) {
		t.Run(bc.name, func(t *testing.T) {
			ctx := context.Background()
			s := New(bc.open(t))
			defer s.Close()

			require.NoError(t, s.Insert(ctx, order("b", bob, orderbook.Buy, 2)))
			require.NoError(t, s.Insert(ctx, order("a", alice, orderbook.Sell, 1)))

			got, ok := s.Get("a")
			require.True(t, ok)
			assert.Equal(t, alice, got.Maker)

			got.Status = orderbook.Cancelled
			again, _ := s.Get("a")
			assert.Equal(t, orderbook.Pending, again.Status, "Get must return a copy")

			all := s.List(Filter{})
			require.Len(t, all, 2)
			assert.Equal(t, "a", all[0].ID)

			sells := s.List(Filter{Side: orderbook.Sell, Status: orderbook.Pending})
			require.Len(t, sells, 1)
			assert.Equal(t, "a", sells[0].ID)

			assert.Empty(t, s.List(Filter{Maker: alice, Side: orderbook.Buy}))
			assert.Equal(t, uint64(2), s.MaxSeq())

			_, ok = s.Get("missing")
			assert.False(t, ok)
		})
	}
}

func TestStoreRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend())

	require.NoError(t, s.Insert(ctx, order("a", alice, orderbook.Sell, 1)))
	assert.ErrorIs(t, s.Insert(ctx, order("a", alice, orderbook.Sell, 2)), ErrDuplicateID)

	dup := order("c", alice, orderbook.Buy, 3)
	dup.Nonce = "nonce-a"
	assert.ErrorIs(t, s.Insert(ctx, dup), ErrDuplicateNonce)

	other := order("d", bob, orderbook.Buy, 4)
	other.Nonce = "nonce-a"
	assert.NoError(t, s.Insert(ctx, other), "nonces are scoped per maker")

	id, ok := s.LookupNonce(alice, "nonce-a")
	require.True(t, ok)
	assert.Equal(t, "a", id)
}

func TestStoreMutateIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	mb := NewMemoryBackend()
	s := New(mb)
	require.NoError(t, s.Insert(ctx, order("a", alice, orderbook.Sell, 1)))
	require.NoError(t, s.Insert(ctx, order("b", bob, orderbook.Buy, 2)))

	err := s.Mutate(ctx, []string{"a", "b"}, func(m map[string]*orderbook.Order) error {
		m["a"].Status = orderbook.Matched
		return errors.New("abort")
	})
	require.Error(t, err)
	a, _ := s.Get("a")
	assert.Equal(t, orderbook.Pending, a.Status)

	mb.FailNext = errors.New("disk full")
	err = s.Mutate(ctx, []string{"a", "b"}, func(m map[string]*orderbook.Order) error {
		m["a"].Status = orderbook.Matched
		m["b"].Status = orderbook.Matched
		return nil
	})
	require.Error(t, err)
	a, _ = s.Get("a")
	assert.Equal(t, orderbook.Pending, a.Status)

	err = s.Mutate(ctx, []string{"a", "missing"}, func(map[string]*orderbook.Order) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreMutateKeepsImmutableFields(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend())
	require.NoError(t, s.Insert(ctx, order("a", alice, orderbook.Sell, 1)))

	require.NoError(t, s.Mutate(ctx, []string{"a"}, func(m map[string]*orderbook.Order) error {
		m["a"].Status = orderbook.Cancelled
		m["a"].TokenAmount = 1
		m["a"].PricePerToken = 999
		m["a"].Side = orderbook.Buy
		return nil
	}))
	a, _ := s.Get("a")
	assert.Equal(t, orderbook.Cancelled, a.Status)
	assert.Equal(t, int64(100), a.TokenAmount)
	assert.Equal(t, int64(5), a.PricePerToken)
	assert.Equal(t, orderbook.Sell, a.Side)
}

func TestStoreReadersSeePairsTogether(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend())
	require.NoError(t, s.Insert(ctx, order("a", alice, orderbook.Sell, 1)))
	require.NoError(t, s.Insert(ctx, order("b", bob, orderbook.Buy, 2)))

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			list := s.List(Filter{})
			if list[0].Status != list[1].Status {
				t.Errorf("observed split pair: %s vs %s", list[0].Status, list[1].Status)
				return
			}
		}
	}()

	for _, st := range []orderbook.Status{orderbook.Matched, orderbook.Settled} {
		require.NoError(t, s.Mutate(ctx, []string{"a", "b"}, func(m map[string]*orderbook.Order) error {
			m["a"].Status, m["b"].Status = st, st
			return nil
		}))
	}
	close(done)
	wg.Wait()
}

func TestStoreSurvivesReopen(t *testing.T) {
	for _, bc := range backends(t) {
		if bc.reopen == nil {
			continue
		}
		t.Run(bc.name, func(t *testing.T) {
			ctx := context.Background()
			s := New(bc.open(t))
			require.NoError(t, s.Insert(ctx, order("a", alice, orderbook.Sell, 7)))
			require.NoError(t, s.Insert(ctx, order("b", bob, orderbook.Buy, 8)))
			require.NoError(t, s.Mutate(ctx, []string{"a", "b"}, func(m map[string]*orderbook.Order) error {
				m["a"].Status, m["a"].MatchedOrderID = orderbook.Matched, "b"
				m["b"].Status, m["b"].MatchedOrderID = orderbook.Matched, "a"
				return nil
			}))
			require.NoError(t, s.Close())

			s2 := New(bc.reopen(t))
			defer s2.Close()
			n, err := s2.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			a, ok := s2.Get("a")
			require.True(t, ok)
			assert.Equal(t, orderbook.Matched, a.Status)
			assert.Equal(t, "b", a.MatchedOrderID)
			assert.Equal(t, uint64(8), s2.MaxSeq())

			_, ok = s2.LookupNonce(bob, "nonce-b")
			assert.True(t, ok)
		})
	}
}

func TestStoreRestoreSkipsKnownOrders(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend())
	require.NoError(t, s.Insert(ctx, order("a", alice, orderbook.Sell, 1)))

	stale := order("a", alice, orderbook.Sell, 1)
	stale.Status = orderbook.Cancelled
	n, err := s.Restore(ctx, []*orderbook.Order{stale, order("b", bob, orderbook.Buy, 2)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	a, _ := s.Get("a")
	assert.Equal(t, orderbook.Pending, a.Status)
	_, ok := s.LookupNonce(bob, "nonce-b")
	assert.True(t, ok)
}
