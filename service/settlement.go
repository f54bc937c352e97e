package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"fundbook/domain/orderbook"
	"fundbook/infra/ledger"
	"fundbook/infra/notify"
	"fundbook/infra/retry"
	entrywal "fundbook/infra/wal/entry"
	exitwal "fundbook/infra/wal/exit"
)

const maxRetryBackoff = 10 * time.Minute

// errNotClaimed means another worker owns the settlement right now, or it
// has already completed.
var errNotClaimed = errors.New("settlement owned elsewhere")

type settleOutcome struct {
	txRef string
	err   error
}

// MatchID is the idempotency key of a matched pair.
func MatchID(buyID, sellID string) string {
	return buyID + "/" + sellID
}

func buySell(a, b *orderbook.Order) (buy, sell *orderbook.Order) {
	if a.Side == orderbook.Buy {
		return a, b
	}
	return b, a
}

// resting returns the order of the pair that was on the book first.
func resting(a, b *orderbook.Order) *orderbook.Order {
	if b.Seq < a.Seq {
		return b
	}
	return a
}

// enqueueSettlement writes the outbox entry of a MATCHED pair, keyed by the
// BUY order id. It is a no-op when the entry exists. The pair trades at the
// resting order's price.
func (s *OrderService) enqueueSettlement(a, b *orderbook.Order) (string, error) {
	buy, sell := buySell(a, b)
	req := ledger.SettlementRequest{
		MatchID:       MatchID(buy.ID, sell.ID),
		Instrument:    buy.Instrument,
		Seller:        sell.Maker,
		Buyer:         buy.Maker,
		TokenAmount:   sell.TokenAmount,
		PricePerToken: resting(a, b).PricePerToken,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	if _, err := s.outbox.Put(exitwal.NamespaceSettle, buy.ID, payload); err != nil {
		return "", errors.Wrapf(err, "queue settlement %s", req.MatchID)
	}
	return buy.ID, nil
}

func (s *OrderService) settleInBackground(key string) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if _, err := s.settleMatch(s.bgCtx, key, s.opts.SettleAttempts); err != nil && !errors.Is(err, errNotClaimed) {
			s.log.Warn("background settlement failed", zap.String("match", key), zap.Error(err))
		}
	}()
}

// settleMatch claims the outbox entry under key and drives one settlement
// attempt (with up to attempts gateway calls). On success both orders
// become SETTLED with the same tx reference; on failure they stay MATCHED
// and the entry is left FAILED for the settler job.
func (s *OrderService) settleMatch(ctx context.Context, key string, attempts int) (settleOutcome, error) {
	e, err := s.outbox.Claim(exitwal.NamespaceSettle, key)
	if err != nil {
		if errors.Is(err, exitwal.ErrNotClaimable) {
			return settleOutcome{}, errNotClaimed
		}
		return settleOutcome{err: err}, err
	}

	var req ledger.SettlementRequest
	if err := json.Unmarshal(e.Payload, &req); err != nil {
		err = errors.Wrap(err, "decode settlement")
		_ = s.outbox.MarkFailed(exitwal.NamespaceSettle, key, err)
		return settleOutcome{err: err}, err
	}

	var tx string
	callErr := retry.Do(ctx, attempts, s.opts.SettleBaseDelay, func(int) error {
		var err error
		tx, err = s.settler.Settle(ctx, req)
		return err
	})
	if callErr != nil {
		if ctx.Err() != nil {
			// abandoned, not failed: hand it back untouched
			if err := s.outbox.Release(exitwal.NamespaceSettle, key); err != nil {
				s.log.Error("release settlement", zap.String("match", req.MatchID), zap.Error(err))
			}
			return settleOutcome{err: callErr}, callErr
		}
		if err := s.outbox.MarkFailed(exitwal.NamespaceSettle, key, callErr); err != nil {
			s.log.Error("mark settlement failed", zap.String("match", req.MatchID), zap.Error(err))
		}
		s.settlementFailed(key, req, callErr)
		return settleOutcome{err: callErr}, callErr
	}

	settled, err := s.commitSettlement(ctx, key, req, tx)
	if err != nil {
		// the ledger call is idempotent on MatchID, so the retry is safe
		_ = s.outbox.MarkFailed(exitwal.NamespaceSettle, key, err)
		return settleOutcome{err: err}, err
	}
	if err := s.outbox.MarkAcked(exitwal.NamespaceSettle, key); err != nil {
		s.log.Error("ack settlement", zap.String("match", req.MatchID), zap.Error(err))
	}

	s.record(entrywal.RecordSettled, settled...)
	for _, o := range settled {
		s.emit(notify.OrderSettled, o, func(e *notify.Event) { e.Success = true })
	}
	s.log.Info("settled",
		zap.String("match", req.MatchID),
		zap.String("tx", tx),
		zap.Int64("amount", req.TokenAmount),
		zap.Int64("price", req.PricePerToken))
	return settleOutcome{txRef: tx}, nil
}

func (s *OrderService) commitSettlement(ctx context.Context, buyID string, req ledger.SettlementRequest, tx string) ([]*orderbook.Order, error) {
	buy, ok := s.store.Get(buyID)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "buy order %s", buyID)
	}
	ids := []string{buy.ID, buy.MatchedOrderID}

	var out []*orderbook.Order
	err := s.store.Mutate(ctx, ids, func(m map[string]*orderbook.Order) error {
		now := s.now()
		out = out[:0]
		for _, id := range ids {
			o := m[id]
			if o.Status != orderbook.Matched && o.Status != orderbook.Settled {
				return errors.Errorf("order %s is %s, cannot settle", id, o.Status)
			}
			o.Status = orderbook.Settled
			o.SettlementTxHash = tx
			o.FilledTokenAmount = o.TokenAmount
			o.UpdatedAt = now
			out = append(out, o.Clone())
		}
		return nil
	})
	return out, err
}

func (s *OrderService) settlementFailed(buyID string, req ledger.SettlementRequest, cause error) {
	buy, ok := s.store.Get(buyID)
	if !ok {
		return
	}
	sell, ok := s.store.Get(buy.MatchedOrderID)
	if !ok {
		return
	}
	s.record(entrywal.RecordSettlementFailed, buy, sell)
	for _, o := range []*orderbook.Order{buy, sell} {
		s.emit(notify.OrderSettlementFailed, o, func(e *notify.Event) { e.Error = cause.Error() })
	}
	s.log.Warn("settlement failed, pair stays MATCHED",
		zap.String("match", req.MatchID),
		zap.Error(cause))
}

// SettleReport summarises one settler pass.
type SettleReport struct {
	Attempted int
	Settled   int
	Failed    int
	Exhausted int
}

// SettleDue retries every queued settlement whose backoff has elapsed.
// Entries that used up MaxRetries are left FAILED for an operator.
func (s *OrderService) SettleDue(ctx context.Context) (SettleReport, error) {
	var rep SettleReport
	var due []string
	now := s.now()

	err := s.outbox.Scan(exitwal.NamespaceSettle, func(e exitwal.Entry) error {
		switch e.State {
		case exitwal.StateNew:
			due = append(due, e.Key)
		case exitwal.StateFailed:
			if e.Retries >= s.opts.MaxRetries {
				rep.Exhausted++
				return nil
			}
			wait := retry.Backoff(s.opts.RetryBaseBackoff, maxRetryBackoff, e.Retries)
			if now.Before(e.LastAttemptTime().Add(wait)) {
				return nil
			}
			due = append(due, e.Key)
		}
		return nil
	})
	if err != nil {
		return rep, errors.Wrap(err, "scan settlements")
	}

	for _, key := range due {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		_, err := s.settleMatch(ctx, key, 1)
		if errors.Is(err, errNotClaimed) {
			continue
		}
		rep.Attempted++
		if err != nil {
			rep.Failed++
			continue
		}
		rep.Settled++
	}
	return rep, nil
}

// StuckSettlement is a MATCHED pair whose settlement has failed.
type StuckSettlement struct {
	MatchID       string
	BuyOrderID    string
	SellOrderID   string
	Instrument    string
	TokenAmount   int64
	PricePerToken int64
	Retries       uint32
	Exhausted     bool
	LastError     string
	LastAttempt   time.Time
}

// StuckSettlements lists every failed settlement, oldest key first.
// Exhausted entries are no longer retried automatically.
func (s *OrderService) StuckSettlements() ([]StuckSettlement, error) {
	var out []StuckSettlement
	err := s.outbox.ScanByState(exitwal.NamespaceSettle, exitwal.StateFailed, func(e exitwal.Entry) error {
		var req ledger.SettlementRequest
		_ = json.Unmarshal(e.Payload, &req)
		st := StuckSettlement{
			MatchID:       req.MatchID,
			BuyOrderID:    e.Key,
			Instrument:    req.Instrument,
			TokenAmount:   req.TokenAmount,
			PricePerToken: req.PricePerToken,
			Retries:       e.Retries,
			Exhausted:     e.Retries >= s.opts.MaxRetries,
			LastError:     e.LastError,
			LastAttempt:   e.LastAttemptTime().UTC(),
		}
		if buy, ok := s.store.Get(e.Key); ok {
			st.SellOrderID = buy.MatchedOrderID
		}
		out = append(out, st)
		return nil
	})
	return out, err
}

// RetrySettlement resets the retry budget of a MATCHED pair (either order
// id) and makes one settlement attempt right away.
func (s *OrderService) RetrySettlement(ctx context.Context, orderID string) (*orderbook.Order, error) {
	o, ok := s.store.Get(orderID)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "order %s", orderID)
	}
	if o.Status != orderbook.Matched {
		return o, errors.Wrapf(ErrNoSettlement, "order %s is %s", orderID, o.Status)
	}
	counter, ok := s.store.Get(o.MatchedOrderID)
	if !ok {
		return o, errors.Wrapf(ErrNotFound, "counter-order %s", o.MatchedOrderID)
	}
	key, err := s.enqueueSettlement(o, counter)
	if err != nil {
		return o, err
	}

	e, err := s.outbox.Get(exitwal.NamespaceSettle, key)
	if err != nil {
		return o, err
	}
	switch e.State {
	case exitwal.StateFailed:
		if err := s.outbox.Reset(exitwal.NamespaceSettle, key); err != nil {
			return o, err
		}
	case exitwal.StateSent:
		return o, errors.Errorf("settlement of %s is in flight", orderID)
	}

	_, err = s.settleMatch(ctx, key, 1)
	if errors.Is(err, errNotClaimed) {
		err = nil
	}
	o, _ = s.store.Get(orderID)
	return o, err
}
