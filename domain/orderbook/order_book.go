package orderbook

import "github.com/pkg/errors"

var ErrDuplicateOrder = errors.New("order already resting in book")

// Book holds the resting PENDING orders of one instrument, one price tree
// per side.
//
// Book is not safe for concurrent use. Callers serialize every read and
// mutation of a Book through the lock of the partition that owns it.
type Book struct {
	Instrument string

	Bids *RBTree
	Asks *RBTree

	index map[string]*Order
}

func NewBook(instrument string) *Book {
	return &Book{
		Instrument: instrument,
		Bids:       NewRBTree(),
		Asks:       NewRBTree(),
		index:      make(map[string]*Order),
	}
}

func (b *Book) tree(side Side) *RBTree {
	if side == Buy {
		return b.Bids
	}
	return b.Asks
}

// Insert rests a detached copy of o. The book never shares memory with the
// caller's order.
func (b *Book) Insert(o *Order) error {
	if _, ok := b.index[o.ID]; ok {
		return errors.Wrapf(ErrDuplicateOrder, "order %s", o.ID)
	}
	c := o.Clone()
	b.tree(c.Side).GetOrCreate(c.PricePerToken).Enqueue(c)
	b.index[c.ID] = c
	return nil
}

// Remove unlinks the order and drops its price level once empty.
func (b *Book) Remove(id string) bool {
	o, ok := b.index[id]
	if !ok {
		return false
	}
	delete(b.index, id)

	t := b.tree(o.Side)
	lvl := t.Find(o.PricePerToken)
	if lvl == nil {
		return true
	}
	lvl.unlink(o)
	if lvl.Empty() {
		t.Delete(lvl.Price)
	}
	return true
}

func (b *Book) Contains(id string) bool {
	_, ok := b.index[id]
	return ok
}

// Len counts resting orders on one side.
func (b *Book) Len(side Side) int {
	n := 0
	b.Walk(side, func(*Order) bool {
		n++
		return true
	})
	return n
}

// Size is the number of resting orders on both sides.
func (b *Book) Size() int {
	return len(b.index)
}

// Walk visits one side in execution priority (best price first, then
// arrival) until fn returns false. Visited orders are the book's own
// copies and must be treated as read-only.
func (b *Book) Walk(side Side, fn func(*Order) bool) {
	visit := func(lvl *PriceLevel) bool {
		for o := lvl.Head(); o != nil; o = o.Next() {
			if !fn(o) {
				return false
			}
		}
		return true
	}
	if side == Buy {
		b.Bids.Descend(visit)
	} else {
		b.Asks.Ascend(visit)
	}
}

// BestOpposite returns the best-priority order on the side opposite to
// side that is not owned by maker, or nil.
func (b *Book) BestOpposite(side Side, maker string) *Order {
	var best *Order
	b.Walk(side.Opposite(), func(o *Order) bool {
		if o.Maker == maker {
			return true
		}
		best = o
		return false
	})
	return best
}
