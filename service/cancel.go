package service

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"fundbook/domain/orderbook"
	"fundbook/infra/notify"
	entrywal "fundbook/infra/wal/entry"
)

type CancelReason string

const (
	CancelOK         CancelReason = ""
	CancelNotFound   CancelReason = "NOT_FOUND"
	CancelNotMaker   CancelReason = "NOT_MAKER"
	CancelNotPending CancelReason = "NOT_PENDING"
)

// CancelResult reports a cancellation. Conflicts are outcomes, not errors.
type CancelResult struct {
	OrderID   string
	Cancelled bool
	Reason    CancelReason
	Status    orderbook.Status
	Message   string
}

// Cancel withdraws a PENDING order on behalf of its maker. A cancel that
// loses the race against a match or an expiry reports NOT_PENDING.
func (s *OrderService) Cancel(ctx context.Context, orderID, caller string) (*CancelResult, error) {
	wallet, err := s.identity.Resolve(ctx, caller)
	if err != nil {
		return nil, invalid("caller", err, "no settlement wallet for caller")
	}

	res := &CancelResult{OrderID: orderID}
	o, ok := s.store.Get(orderID)
	if !ok {
		res.Reason, res.Message = CancelNotFound, "order not found"
		return res, nil
	}
	res.Status = o.Status
	if o.Maker != wallet {
		res.Reason, res.Message = CancelNotMaker, "only the maker may cancel this order"
		return res, nil
	}

	p := s.partition(o.Instrument)
	p.mu.Lock()

	var cancelled *orderbook.Order
	err = s.store.Mutate(ctx, []string{orderID}, func(m map[string]*orderbook.Order) error {
		c := m[orderID]
		if c.Status != orderbook.Pending {
			res.Status = c.Status
			return errNotPending
		}
		c.Status = orderbook.Cancelled
		c.UpdatedAt = s.now()
		cancelled = c.Clone()
		return nil
	})
	if err == nil {
		p.book.Remove(orderID)
	}
	p.mu.Unlock()

	switch {
	case errors.Is(err, errNotPending):
		res.Reason = CancelNotPending
		res.Message = "order is " + res.Status.String() + ", not PENDING"
		return res, nil
	case err != nil:
		return nil, err
	}

	s.record(entrywal.RecordCancelled, cancelled)
	s.emit(notify.OrderCancelled, cancelled, nil)
	s.log.Info("order cancelled", zap.String("order_id", orderID), zap.String("maker", wallet))

	res.Cancelled = true
	res.Status = orderbook.Cancelled
	res.Message = "order cancelled"
	return res, nil
}
