package snapshot

import (
	"time"

	"fundbook/domain/orderbook"
)

// Row is the on-disk schema of one order.
type Row struct {
	ID             string `parquet:"id"`
	Maker          string `parquet:"maker"`
	Side           string `parquet:"side"`
	Instrument     string `parquet:"instrument"`
	TokenAmount    int64  `parquet:"token_amount"`
	PricePerToken  int64  `parquet:"price_per_token"`
	Nonce          string `parquet:"nonce"`
	Deadline       int64  `parquet:"deadline"` // unix ns
	Status         string `parquet:"status"`
	CreatedAt      int64  `parquet:"created_at"` // unix ns
	Seq            uint64 `parquet:"seq"`
	MatchedOrderID string `parquet:"matched_order_id"`
	UpdatedAt      int64  `parquet:"updated_at"` // unix ns
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// FromOrder flattens an order into a Row.
func FromOrder(o *orderbook.Order) Row {
	return Row{
		ID:             o.ID,
		Maker:          o.Maker,
		Side:           o.Side.String(),
		Instrument:     o.Instrument,
		TokenAmount:    o.TokenAmount,
		PricePerToken:  o.PricePerToken,
		Nonce:          o.Nonce,
		Deadline:       unixNano(o.Deadline),
		Status:         o.Status.String(),
		CreatedAt:      unixNano(o.CreatedAt),
		Seq:            o.Seq,
		MatchedOrderID: o.MatchedOrderID,
		UpdatedAt:      unixNano(o.UpdatedAt),
	}
}

// Order rebuilds the order a Row was taken from.
func (r Row) Order() (*orderbook.Order, error) {
	side, err := orderbook.ParseSide(r.Side)
	if err != nil {
		return nil, err
	}
	return &orderbook.Order{
		ID:             r.ID,
		Maker:          r.Maker,
		Side:           side,
		Instrument:     r.Instrument,
		TokenAmount:    r.TokenAmount,
		PricePerToken:  r.PricePerToken,
		Nonce:          r.Nonce,
		Deadline:       fromUnixNano(r.Deadline),
		Status:         parseStatus(r.Status),
		CreatedAt:      fromUnixNano(r.CreatedAt),
		Seq:            r.Seq,
		MatchedOrderID: r.MatchedOrderID,
		UpdatedAt:      fromUnixNano(r.UpdatedAt),
	}, nil
}

func parseStatus(s string) orderbook.Status {
	for st := orderbook.Pending; st <= orderbook.Expired; st++ {
		if st.String() == s {
			return st
		}
	}
	return 0
}
