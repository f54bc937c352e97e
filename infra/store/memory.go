package store

import (
	"context"
	"sync"

	"fundbook/domain/orderbook"
)

// MemoryBackend keeps nothing across restarts. Used by tests and the
// "memory" storage driver.
type MemoryBackend struct {
	mu     sync.Mutex
	orders map[string]*orderbook.Order
	// FailNext makes the next SaveBatch return this error.
	FailNext error
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{orders: make(map[string]*orderbook.Order)}
}

func (m *MemoryBackend) SaveBatch(_ context.Context, orders []*orderbook.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailNext; err != nil {
		m.FailNext = nil
		return err
	}
	for _, o := range orders {
		m.orders[o.ID] = o.Clone()
	}
	return nil
}

func (m *MemoryBackend) LoadAll(_ context.Context, fn func(*orderbook.Order) error) error {
	m.mu.Lock()
	list := make([]*orderbook.Order, 0, len(m.orders))
	for _, o := range m.orders {
		list = append(list, o.Clone())
	}
	m.mu.Unlock()

	for _, o := range list {
		if err := fn(o); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
