package service

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"fundbook/domain/orderbook"
	"fundbook/infra/notify"
	entrywal "fundbook/infra/wal/entry"
)

var errZeroNotional = errors.New("remainder has zero notional")

// runFallback routes the unfilled remainder of an EXPIRED order to the
// liquidity pool and records the outcome on the order. Status stays
// EXPIRED whatever happens, and a recorded outcome is never retried.
//
// Once ctx is done nothing is recorded and ctx's error is returned; the
// order keeps no outcome and the next sweep routes it. An outcome the
// store refuses is held and written again by later sweeps without a
// second pool call.
func (s *OrderService) runFallback(ctx context.Context, o *orderbook.Order) (*orderbook.FallbackOutcome, error) {
	if out, ok := s.unsaved[o.ID]; ok {
		if _, err := s.saveFallback(ctx, o, out); err == nil {
			delete(s.unsaved, o.ID)
		}
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	remainder := o.Remaining()
	out := &orderbook.FallbackOutcome{Remainder: remainder}
	var tx string
	var err error
	if o.Side == orderbook.Buy {
		out.Notional = s.Notional(remainder, o.PricePerToken)
		if out.Notional <= 0 {
			err = errZeroNotional
		} else {
			tx, err = s.pool.PoolBuy(ctx, o.Instrument, o.Maker, out.Notional)
		}
	} else {
		tx, err = s.pool.PoolSell(ctx, o.Instrument, o.Maker, remainder)
	}
	if err != nil && ctx.Err() != nil {
		s.log.Info("fallback interrupted", zap.String("order_id", o.ID), zap.Error(err))
		return nil, ctx.Err()
	}
	out.At = s.now()
	if err != nil {
		out.Error = err.Error()
	} else {
		out.Success, out.TxRef = true, tx
	}

	recorded, mErr := s.saveFallback(ctx, o, out)
	if mErr != nil {
		s.unsaved[o.ID] = out
		recorded = o.Clone()
		recorded.Fallback = out
	}
	s.record(entrywal.RecordFallback, recorded)

	evType := notify.FallbackCompleted
	if !out.Success {
		evType = notify.FallbackFailed
	}
	s.emit(evType, recorded, func(e *notify.Event) {
		e.Success = out.Success
		e.TxRef = out.TxRef
		e.Error = out.Error
		e.Amount = remainder
	})

	if err != nil {
		s.log.Warn("fallback failed",
			zap.String("order_id", o.ID),
			zap.Stringer("side", o.Side),
			zap.Int64("remainder", remainder),
			zap.Error(err))
	}
	return out, nil
}

// saveFallback writes out onto the order. It ignores ctx cancellation: the
// pool call has already happened.
func (s *OrderService) saveFallback(ctx context.Context, o *orderbook.Order, out *orderbook.FallbackOutcome) (*orderbook.Order, error) {
	var recorded *orderbook.Order
	err := s.store.Mutate(context.WithoutCancel(ctx), []string{o.ID}, func(m map[string]*orderbook.Order) error {
		c := m[o.ID]
		f := *out
		c.Fallback = &f
		c.UpdatedAt = out.At
		recorded = c.Clone()
		return nil
	})
	if err != nil {
		s.log.Error("fallback outcome not recorded", zap.String("order_id", o.ID), zap.Error(err))
		return nil, err
	}
	return recorded, nil
}
