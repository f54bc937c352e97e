// Package store owns the canonical record of every order ever submitted.
//
// Readers get detached copies from an in-memory index. Writers go through
// Insert or Mutate, which persist to the Backend before the index changes,
// so a reader never observes a state that was not durably written.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"fundbook/domain/orderbook"
)

var (
	ErrNotFound       = errors.New("order not found")
	ErrDuplicateID    = errors.New("order id already exists")
	ErrDuplicateNonce = errors.New("nonce already used by maker")
)

// Backend is the durable side of the store.
type Backend interface {
	// SaveBatch writes every order atomically.
	SaveBatch(ctx context.Context, orders []*orderbook.Order) error
	// LoadAll streams every persisted order.
	LoadAll(ctx context.Context, fn func(*orderbook.Order) error) error
	Close() error
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Instrument string
	Side       orderbook.Side
	Status     orderbook.Status
	Maker      string
}

func (f Filter) match(o *orderbook.Order) bool {
	if f.Instrument != "" && o.Instrument != f.Instrument {
		return false
	}
	if f.Side != 0 && o.Side != f.Side {
		return false
	}
	if f.Status != 0 && o.Status != f.Status {
		return false
	}
	if f.Maker != "" && o.Maker != f.Maker {
		return false
	}
	return true
}

type Store struct {
	backend Backend

	// wmu serializes writers; mu guards the maps and is only held for
	// writing while a persisted change is swapped in.
	wmu    sync.Mutex
	mu     sync.RWMutex
	orders map[string]*orderbook.Order
	nonces map[string]string
}

func New(b Backend) *Store {
	return &Store{
		backend: b,
		orders:  make(map[string]*orderbook.Order),
		nonces:  make(map[string]string),
	}
}

func nonceKey(maker, nonce string) string {
	return maker + "\x00" + nonce
}

// Load reads every persisted order into the index. It returns the number
// of orders loaded.
func (s *Store) Load(ctx context.Context) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	orders := make(map[string]*orderbook.Order)
	nonces := make(map[string]string)
	err := s.backend.LoadAll(ctx, func(o *orderbook.Order) error {
		orders[o.ID] = o
		if o.Nonce != "" {
			nonces[nonceKey(o.Maker, o.Nonce)] = o.ID
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "load orders")
	}

	s.mu.Lock()
	s.orders, s.nonces = orders, nonces
	s.mu.Unlock()
	return len(orders), nil
}

// Get returns a copy of the order.
func (s *Store) Get(id string) (*orderbook.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// List returns copies of the matching orders in arrival order.
func (s *Store) List(f Filter) []*orderbook.Order {
	s.mu.RLock()
	out := make([]*orderbook.Order, 0, 64)
	for _, o := range s.orders {
		if f.match(o) {
			out = append(out, o.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// LookupNonce returns the id of the order that used nonce for maker.
func (s *Store) LookupNonce(maker, nonce string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.nonces[nonceKey(maker, nonce)]
	return id, ok
}

// MaxSeq is the highest arrival sequence held by any order.
func (s *Store) MaxSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max uint64
	for _, o := range s.orders {
		if o.Seq > max {
			max = o.Seq
		}
	}
	return max
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Insert persists a new order. Ids and per-maker nonces are unique.
func (s *Store) Insert(ctx context.Context, o *orderbook.Order) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.RLock()
	_, dupID := s.orders[o.ID]
	_, dupNonce := s.nonces[nonceKey(o.Maker, o.Nonce)]
	s.mu.RUnlock()

	if dupID {
		return errors.Wrapf(ErrDuplicateID, "order %s", o.ID)
	}
	if o.Nonce != "" && dupNonce {
		return errors.Wrapf(ErrDuplicateNonce, "nonce %q", o.Nonce)
	}

	c := o.Clone()
	if err := s.backend.SaveBatch(ctx, []*orderbook.Order{c}); err != nil {
		return errors.Wrapf(err, "persist order %s", o.ID)
	}

	s.mu.Lock()
	s.orders[c.ID] = c
	if c.Nonce != "" {
		s.nonces[nonceKey(c.Maker, c.Nonce)] = c.ID
	}
	s.mu.Unlock()
	return nil
}

// Mutate applies fn to copies of the named orders, persists every copy in
// one batch and then swaps them in together. If fn or persistence fails the
// index is left untouched. Immutable fields are restored from the original
// record whatever fn does to them.
func (s *Store) Mutate(ctx context.Context, ids []string, fn func(map[string]*orderbook.Order) error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.RLock()
	work := make(map[string]*orderbook.Order, len(ids))
	orig := make(map[string]*orderbook.Order, len(ids))
	for _, id := range ids {
		o, ok := s.orders[id]
		if !ok {
			s.mu.RUnlock()
			return errors.Wrapf(ErrNotFound, "order %s", id)
		}
		orig[id] = o
		work[id] = o.Clone()
	}
	s.mu.RUnlock()

	if err := fn(work); err != nil {
		return err
	}

	batch := make([]*orderbook.Order, 0, len(ids))
	for _, id := range ids {
		c, ok := work[id]
		if !ok {
			continue
		}
		restoreImmutable(c, orig[id])
		batch = append(batch, c)
	}
	if len(batch) == 0 {
		return nil
	}
	if err := s.backend.SaveBatch(ctx, batch); err != nil {
		return errors.Wrap(err, "persist mutation")
	}

	s.mu.Lock()
	for _, c := range batch {
		s.orders[c.ID] = c
	}
	s.mu.Unlock()
	return nil
}

// Restore writes orders recovered from elsewhere (the journal) without the
// uniqueness checks of Insert. Existing records are left alone; it returns
// how many orders were added.
func (s *Store) Restore(ctx context.Context, orders []*orderbook.Order) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.RLock()
	batch := make([]*orderbook.Order, 0, len(orders))
	for _, o := range orders {
		if _, ok := s.orders[o.ID]; !ok {
			batch = append(batch, o.Clone())
		}
	}
	s.mu.RUnlock()

	if len(batch) == 0 {
		return 0, nil
	}
	if err := s.backend.SaveBatch(ctx, batch); err != nil {
		return 0, errors.Wrap(err, "persist restored orders")
	}

	s.mu.Lock()
	for _, c := range batch {
		s.orders[c.ID] = c
		if c.Nonce != "" {
			s.nonces[nonceKey(c.Maker, c.Nonce)] = c.ID
		}
	}
	s.mu.Unlock()
	return len(batch), nil
}

func restoreImmutable(c, o *orderbook.Order) {
	c.ID = o.ID
	c.Maker = o.Maker
	c.Side = o.Side
	c.Instrument = o.Instrument
	c.TokenAmount = o.TokenAmount
	c.PricePerToken = o.PricePerToken
	c.Nonce = o.Nonce
	c.CreatedAt = o.CreatedAt
	c.Seq = o.Seq
}

func (s *Store) Close() error {
	return s.backend.Close()
}
