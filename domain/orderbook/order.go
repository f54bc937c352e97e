package orderbook

import (
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Side uint8
type Status uint8

const (
	Buy Side = iota + 1
	Sell
)

const (
	Pending Status = iota + 1
	Matched
	Settled
	Cancelled
	Expired
)

var ErrUnknownSide = errors.New("side must be BUY or SELL")

// MaxDeadline is the latest deadline an order may carry. Snapshots keep
// times as unix nanoseconds, which end here.
var MaxDeadline = time.Unix(0, math.MaxInt64).UTC()

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the side an order of this side can trade against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide accepts "BUY" or "SELL" in any letter case.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	default:
		return 0, errors.Wrapf(ErrUnknownSide, "got %q", s)
	}
}

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Matched:
		return "MATCHED"
	case Settled:
		return "SETTLED"
	case Cancelled:
		return "CANCELLED"
	case Expired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// FallbackOutcome is the result of routing an expired order's remainder to
// the liquidity pool. It never changes the order status.
type FallbackOutcome struct {
	Remainder int64
	Notional  int64
	Success   bool
	TxRef     string
	Error     string
	At        time.Time
}

// Order is the canonical order record.
//
// Side, Instrument, TokenAmount and PricePerToken never change after
// creation. Only Status, MatchedOrderID, SettlementTxHash,
// FilledTokenAmount, Fallback and UpdatedAt mutate.
type Order struct {
	ID            string
	Maker         string
	Side          Side
	Instrument    string
	TokenAmount   int64
	PricePerToken int64
	Nonce         string
	Deadline      time.Time
	Status        Status
	CreatedAt     time.Time
	Seq           uint64

	MatchedOrderID    string
	SettlementTxHash  string
	FilledTokenAmount int64
	Fallback          *FallbackOutcome
	UpdatedAt         time.Time

	// resting-book linkage, owned by PriceLevel
	next *Order
	prev *Order
}

func (o *Order) Remaining() int64 {
	return o.TokenAmount - o.FilledTokenAmount
}

// Next walks the FIFO queue of the price level holding o.
func (o *Order) Next() *Order {
	return o.next
}

// Clone returns a detached deep copy without book linkage.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.next, c.prev = nil, nil
	if o.Fallback != nil {
		f := *o.Fallback
		c.Fallback = &f
	}
	return &c
}

// Less reports whether a has execution priority over b. Both orders must
// be on the same side: BUY prefers the higher price, SELL the lower, and
// equal prices fall back to arrival.
func Less(a, b *Order) bool {
	if a.PricePerToken != b.PricePerToken {
		if a.Side == Buy {
			return a.PricePerToken > b.PricePerToken
		}
		return a.PricePerToken < b.PricePerToken
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
