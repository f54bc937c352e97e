package service

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"fundbook/domain/orderbook"
	"fundbook/infra/identity"
	"fundbook/infra/store"
)

type ListFilter struct {
	Instrument string
	Side       orderbook.Side
}

// List returns PENDING orders. Within one instrument and side they come in
// execution priority; instruments are ordered by address and BUY comes
// before SELL.
func (s *OrderService) List(f ListFilter) ([]*orderbook.Order, error) {
	sf := store.Filter{Side: f.Side, Status: orderbook.Pending}
	if f.Instrument != "" {
		addr, err := identity.NormalizeAddress(f.Instrument)
		if err != nil {
			return nil, invalid("instrument", err, "not a token address")
		}
		sf.Instrument = addr
	}

	out := s.store.List(sf)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Instrument != b.Instrument {
			return a.Instrument < b.Instrument
		}
		if a.Side != b.Side {
			return a.Side < b.Side
		}
		return orderbook.Less(a, b)
	})
	return out, nil
}

// Get is a point lookup in any status.
func (s *OrderService) Get(id string) (*orderbook.Order, error) {
	o, ok := s.store.Get(id)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "order %s", id)
	}
	return o, nil
}

// Probability is an advisory liquidity statistic.
type Probability struct {
	Instrument  string
	PeriodHours int
	Probability float64
	BuyVolume   int64
	SellVolume  int64
	BuyOrders   int
	SellOrders  int
}

// MatchingProbability compares the open BUY and SELL token volume created
// within the last periodHours: min(buy, sell) / max(buy, sell), 0 when a
// side is empty. It is read-only and carries no correctness guarantee.
func (s *OrderService) MatchingProbability(instrument string, periodHours int) (*Probability, error) {
	if periodHours <= 0 {
		return nil, invalid("periodHours", nil, "must be a positive integer")
	}
	sf := store.Filter{Status: orderbook.Pending}
	if instrument != "" {
		addr, err := identity.NormalizeAddress(instrument)
		if err != nil {
			return nil, invalid("instrument", err, "not a token address")
		}
		sf.Instrument = addr
	}

	since := s.now().Add(-time.Duration(periodHours) * time.Hour)
	res := &Probability{Instrument: sf.Instrument, PeriodHours: periodHours}
	buyVol, sellVol := decimal.Zero, decimal.Zero
	for _, o := range s.store.List(sf) {
		if o.CreatedAt.Before(since) {
			continue
		}
		rem := decimal.NewFromInt(o.Remaining())
		if o.Side == orderbook.Buy {
			buyVol = buyVol.Add(rem)
			res.BuyOrders++
		} else {
			sellVol = sellVol.Add(rem)
			res.SellOrders++
		}
	}
	res.BuyVolume, res.SellVolume = buyVol.IntPart(), sellVol.IntPart()

	if buyVol.IsZero() || sellVol.IsZero() {
		return res, nil
	}
	lo, hi := decimal.Min(buyVol, sellVol), decimal.Max(buyVol, sellVol)
	res.Probability = lo.DivRound(hi, 4).InexactFloat64()
	return res, nil
}

// Reservations is what a wallet's PENDING orders commit: cash for BUYs and
// tokens per instrument for SELLs.
type Reservations struct {
	Wallet       string
	CashNotional int64
	Tokens       map[string]int64
	OpenBuys     int
	OpenSells    int
}

// Reservations is recomputed from the store on every call.
func (s *OrderService) Reservations(wallet string) (*Reservations, error) {
	addr, err := identity.NormalizeAddress(wallet)
	if err != nil {
		return nil, invalid("wallet", err, "not a wallet address")
	}

	res := &Reservations{Wallet: addr, Tokens: map[string]int64{}}
	cash := decimal.Zero
	for _, o := range s.store.List(store.Filter{Maker: addr, Status: orderbook.Pending}) {
		if o.Side == orderbook.Buy {
			cash = cash.Add(s.notionalDecimal(o.Remaining(), o.PricePerToken))
			res.OpenBuys++
			continue
		}
		res.Tokens[o.Instrument] += o.Remaining()
		res.OpenSells++
	}
	res.CashNotional = cash.IntPart()
	return res, nil
}

// Notional converts a token amount at price into cash base units:
// amount * price / 10^TokenDecimals, truncated.
func (s *OrderService) Notional(amount, price int64) int64 {
	return s.notionalDecimal(amount, price).IntPart()
}

func (s *OrderService) notionalDecimal(amount, price int64) decimal.Decimal {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(price)).
		Shift(-s.opts.TokenDecimals).
		Truncate(0)
}
