package snapshot

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundbook/domain/orderbook"
)

func sample(id string, seq uint64) *orderbook.Order {
	return &orderbook.Order{
		ID:            id,
		Maker:         "0x00000000000000000000000000000000000000aa",
		Side:          orderbook.Sell,
		Instrument:    "0x0000000000000000000000000000000000000f01",
		TokenAmount:   100,
		PricePerToken: 5,
		Nonce:         "n-" + id,
		Deadline:      time.Unix(1700003600, 0).UTC(),
		Status:        orderbook.Pending,
		CreatedAt:     time.Unix(1700000000, 123).UTC(),
		Seq:           seq,
	}
}

func TestWriteThenLoadLatest(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir}

	_, err := w.Write(3, []*orderbook.Order{sample("a", 1)})
	require.NoError(t, err)

	m := sample("b", 2)
	m.Status = orderbook.Matched
	m.MatchedOrderID = "c"
	_, err = w.Write(10, []*orderbook.Order{sample("a", 1), m})
	require.NoError(t, err)

	seq, orders, err := LoadLatest(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), seq)
	require.Len(t, orders, 2)
	assert.Equal(t, sample("a", 1), orders[0])
	assert.Equal(t, orderbook.Matched, orders[1].Status)
	assert.Equal(t, "c", orders[1].MatchedOrderID)
	assert.True(t, orders[1].UpdatedAt.IsZero())
}

func TestLoadLatestEmptyDir(t *testing.T) {
	_, _, err := LoadLatest(t.TempDir())
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, _, err = LoadLatest("/does/not/exist")
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestWriterKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir, Keep: 2}
	for _, seq := range []uint64{1, 2, 3, 4} {
		_, err := w.Write(seq, nil)
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{fileName(3), fileName(4)}, names)
}
