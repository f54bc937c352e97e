package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"fundbook/domain/orderbook"
	"fundbook/infra/identity"
	"fundbook/infra/notify"
	"fundbook/infra/store"
	entrywal "fundbook/infra/wal/entry"
)

type SubmitRequest struct {
	Side          string
	Instrument    string
	TokenAmount   int64
	PricePerToken int64
	Nonce         string
	// Deadline defaults to now + DefaultTTL when zero.
	Deadline time.Time
}

type SubmitResult struct {
	Order   *orderbook.Order
	Counter *orderbook.Order
	Status  orderbook.Status
	Message string
}

// Submit validates and places an order, then offers it to the matching
// engine. The result is PENDING (resting), MATCHED (settlement not yet
// confirmed) or SETTLED.
func (s *OrderService) Submit(ctx context.Context, req SubmitRequest, caller string) (*SubmitResult, error) {
	o, err := s.validate(ctx, req, caller)
	if err != nil {
		return nil, err
	}

	p := s.partition(o.Instrument)
	p.mu.Lock()

	o.Seq = s.seq.Next()
	o.CreatedAt = s.now()
	o.UpdatedAt = o.CreatedAt

	if err := s.store.Insert(ctx, o); err != nil {
		p.mu.Unlock()
		if errors.Is(err, store.ErrDuplicateNonce) {
			return nil, invalid("nonce", err, "nonce %q already used", o.Nonce)
		}
		return nil, errors.Wrap(err, "store order")
	}
	s.record(entrywal.RecordSubmitted, o)

	counter := orderbook.FindMatch(p.book, o)
	if counter == nil {
		err := p.book.Insert(o)
		p.mu.Unlock()
		if err != nil {
			return nil, err
		}
		s.log.Debug("order resting",
			zap.String("order_id", o.ID),
			zap.Stringer("side", o.Side),
			zap.Int64("price", o.PricePerToken),
			zap.Int64("amount", o.TokenAmount))
		return &SubmitResult{Order: o, Status: orderbook.Pending, Message: "order placed; no crossing counter-order"}, nil
	}

	matched, err := s.commitMatch(ctx, o.ID, counter.ID)
	if err != nil {
		// The order is PENDING in the store; keep the book consistent with it.
		insertErr := p.book.Insert(o)
		p.mu.Unlock()
		s.log.Error("match not recorded, order left resting",
			zap.String("order_id", o.ID),
			zap.String("counter_id", counter.ID),
			zap.Error(err))
		if insertErr != nil {
			return nil, insertErr
		}
		return &SubmitResult{Order: o, Status: orderbook.Pending, Message: "order placed; match could not be recorded"}, nil
	}
	p.book.Remove(counter.ID)
	p.mu.Unlock()

	mine, theirs := matched[o.ID], matched[counter.ID]
	s.record(entrywal.RecordMatched, mine, theirs)
	s.emit(notify.OrderMatched, mine, nil)
	s.emit(notify.OrderMatched, theirs, nil)

	key, err := s.enqueueSettlement(mine, theirs)
	if err != nil {
		// Recover recreates the entry from the MATCHED pair.
		s.log.Error("settlement not queued", zap.String("order_id", o.ID), zap.Error(err))
		return &SubmitResult{Order: mine, Counter: theirs, Status: orderbook.Matched,
			Message: "matched; settlement queued for recovery"}, nil
	}

	if s.opts.SettlementMode == ModeAsync {
		s.settleInBackground(key)
		return &SubmitResult{Order: mine, Counter: theirs, Status: orderbook.Matched,
			Message: "matched; settlement in progress"}, nil
	}

	out, err := s.settleMatch(ctx, key, s.opts.SettleAttempts)
	if err != nil && !errors.Is(err, errNotClaimed) {
		s.log.Warn("inline settlement failed", zap.String("match", key), zap.Error(err))
	}
	return s.matchResult(o.ID, counter.ID, out), nil
}

func (s *OrderService) validate(ctx context.Context, req SubmitRequest, caller string) (*orderbook.Order, error) {
	maker, err := s.identity.Resolve(ctx, caller)
	if err != nil {
		return nil, invalid("caller", err, "no settlement wallet for caller")
	}
	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		return nil, invalid("side", err, "must be BUY or SELL, got %q", req.Side)
	}
	instrument, err := identity.NormalizeAddress(req.Instrument)
	if err != nil {
		return nil, invalid("instrument", err, "not a token address")
	}
	if req.TokenAmount <= 0 {
		return nil, invalid("tokenAmount", nil, "must be a positive integer")
	}
	if req.PricePerToken < 0 {
		return nil, invalid("pricePerToken", nil, "must be a non-negative integer")
	}

	nonce := req.Nonce
	if nonce == "" {
		nonce = uuid.NewString()
	} else if _, used := s.store.LookupNonce(maker, nonce); used {
		return nil, invalid("nonce", store.ErrDuplicateNonce, "nonce %q already used", nonce)
	}

	now := s.now()
	deadline := req.Deadline.UTC()
	if req.Deadline.IsZero() {
		deadline = now.Add(s.opts.DefaultTTL)
	}
	if !deadline.After(now) {
		return nil, invalid("deadline", nil, "must be in the future")
	}
	if deadline.After(orderbook.MaxDeadline) {
		return nil, invalid("deadline", nil, "must not be after %s", orderbook.MaxDeadline.Format(time.RFC3339))
	}

	return &orderbook.Order{
		ID:            uuid.NewString(),
		Maker:         maker,
		Side:          side,
		Instrument:    instrument,
		TokenAmount:   req.TokenAmount,
		PricePerToken: req.PricePerToken,
		Nonce:         nonce,
		Deadline:      deadline,
		Status:        orderbook.Pending,
	}, nil
}

// commitMatch moves both orders to MATCHED in one store mutation. The
// caller holds the partition lock.
func (s *OrderService) commitMatch(ctx context.Context, incomingID, restingID string) (map[string]*orderbook.Order, error) {
	var out map[string]*orderbook.Order
	err := s.store.Mutate(ctx, []string{incomingID, restingID}, func(m map[string]*orderbook.Order) error {
		a, b := m[incomingID], m[restingID]
		if a.Status != orderbook.Pending || b.Status != orderbook.Pending {
			return errors.Errorf("pair %s/%s no longer pending", incomingID, restingID)
		}
		now := s.now()
		a.Status, b.Status = orderbook.Matched, orderbook.Matched
		a.MatchedOrderID, b.MatchedOrderID = restingID, incomingID
		a.UpdatedAt, b.UpdatedAt = now, now
		out = map[string]*orderbook.Order{incomingID: a.Clone(), restingID: b.Clone()}
		return nil
	})
	return out, err
}

func (s *OrderService) matchResult(orderID, counterID string, outcome settleOutcome) *SubmitResult {
	mine, _ := s.store.Get(orderID)
	theirs, _ := s.store.Get(counterID)
	res := &SubmitResult{Order: mine, Counter: theirs, Status: mine.Status}
	switch {
	case mine.Status == orderbook.Settled:
		res.Message = "matched and settled"
	case outcome.err != nil:
		res.Message = "matched; settlement failed and is queued for retry: " + outcome.err.Error()
	default:
		res.Message = "matched; settlement in progress"
	}
	return res
}
