// Package ledger is the boundary to the distributed ledger: the settlement
// gateway for matched pairs and the liquidity pool used by fallback.
// Contract semantics live on the other side of these interfaces.
package ledger

import "context"

// SettlementRequest describes one matched pair. MatchID is stable across
// retries and is the idempotency key on the ledger side.
type SettlementRequest struct {
	MatchID       string `json:"match_id"`
	Instrument    string `json:"instrument"`
	Seller        string `json:"seller"`
	Buyer         string `json:"buyer"`
	TokenAmount   int64  `json:"token_amount,string"`
	PricePerToken int64  `json:"price_per_token,string"`
}

type SettlementGateway interface {
	Settle(ctx context.Context, req SettlementRequest) (txRef string, err error)
}

type FallbackGateway interface {
	PoolBuy(ctx context.Context, instrument, wallet string, notional int64) (txRef string, err error)
	PoolSell(ctx context.Context, instrument, wallet string, tokenAmount int64) (txRef string, err error)
}
