package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fundbook/domain/orderbook"
	"fundbook/infra/notify"
	"fundbook/infra/store"
	entrywal "fundbook/infra/wal/entry"
)

// SweepReport summarises one expiry cycle.
type SweepReport struct {
	Expired          int
	FallbackOK       int
	FallbackFailed   int
	FallbackSkipped  int
	FallbackDeferred int
	TransitionErrors int
	Duration         time.Duration
}

// ExpireDue runs one sweep cycle: every PENDING order whose deadline has
// passed leaves the book, becomes EXPIRED and has its unfilled remainder
// routed to the liquidity pool. One order's failure never stops the cycle.
// Cycles never overlap; a concurrent call returns ErrSweepInProgress.
//
// Fallback runs for every EXPIRED order with a remainder and no recorded
// outcome, so orders left unrouted by a crash or a cancelled cycle are
// picked up by the next one.
func (s *OrderService) ExpireDue(ctx context.Context) (SweepReport, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		return SweepReport{}, ErrSweepInProgress
	}
	defer s.sweeping.Store(false)

	start := time.Now()
	now := s.now()
	var rep SweepReport

	due := make(map[string][]string)
	for _, o := range s.store.List(store.Filter{Status: orderbook.Pending}) {
		if !o.Deadline.After(now) {
			due[o.Instrument] = append(due[o.Instrument], o.ID)
		}
	}

	var expired []*orderbook.Order
	for instrument, ids := range due {
		if ctx.Err() != nil {
			break
		}
		p := s.partition(instrument)
		p.mu.Lock()
		for _, id := range ids {
			o, err := s.expireLocked(ctx, p, id, now)
			if err != nil {
				rep.TransitionErrors++
				s.log.Error("expire failed", zap.String("order_id", id), zap.Error(err))
				continue
			}
			if o != nil {
				expired = append(expired, o)
			}
		}
		p.mu.Unlock()
	}

	for _, o := range expired {
		rep.Expired++
		s.record(entrywal.RecordExpired, o)
		s.emit(notify.OrderExpired, o, func(e *notify.Event) { e.Amount = o.Remaining() })
		if o.Remaining() <= 0 {
			rep.FallbackSkipped++
		}
	}

	unrouted := s.unrouted()
	for i, o := range unrouted {
		out, err := s.runFallback(ctx, o)
		if err != nil {
			rep.FallbackDeferred = len(unrouted) - i
			break
		}
		if out.Success {
			rep.FallbackOK++
		} else {
			rep.FallbackFailed++
		}
	}

	rep.Duration = time.Since(start)
	if rep.Expired > 0 || rep.TransitionErrors > 0 || rep.FallbackOK+rep.FallbackFailed+rep.FallbackDeferred > 0 {
		s.log.Info("sweep complete",
			zap.Int("expired", rep.Expired),
			zap.Int("fallback_ok", rep.FallbackOK),
			zap.Int("fallback_failed", rep.FallbackFailed),
			zap.Int("fallback_deferred", rep.FallbackDeferred),
			zap.Int("errors", rep.TransitionErrors),
			zap.Duration("took", rep.Duration))
	}
	return rep, ctx.Err()
}

// expireLocked re-checks status and deadline under the partition lock; an
// order matched or cancelled since the scan is left alone (nil, nil).
func (s *OrderService) expireLocked(ctx context.Context, p *partition, id string, now time.Time) (*orderbook.Order, error) {
	var out *orderbook.Order
	err := s.store.Mutate(ctx, []string{id}, func(m map[string]*orderbook.Order) error {
		o := m[id]
		if o.Status != orderbook.Pending || o.Deadline.After(now) {
			delete(m, id)
			return nil
		}
		o.Status = orderbook.Expired
		o.UpdatedAt = s.now()
		out = o.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out != nil {
		p.book.Remove(id)
	}
	return out, nil
}

// unrouted lists EXPIRED orders whose remainder has not been through the
// fallback yet, in arrival order.
func (s *OrderService) unrouted() []*orderbook.Order {
	var out []*orderbook.Order
	for _, o := range s.store.List(store.Filter{Status: orderbook.Expired}) {
		if o.Fallback == nil && o.Remaining() > 0 {
			out = append(out, o)
		}
	}
	return out
}
