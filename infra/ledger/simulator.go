package ledger

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var ErrSimulatedFailure = errors.New("simulated ledger failure")

type PoolCall struct {
	Buy        bool
	Instrument string
	Wallet     string
	Amount     int64
}

// Simulator is an in-process ledger. It confirms every call with a
// deterministic transaction hash unless told to fail, and records calls
// for inspection. Settlements are idempotent on MatchID.
type Simulator struct {
	mu          sync.Mutex
	settlements []SettlementRequest
	confirmed   map[string]string
	pool        []PoolCall

	failSettle int
	failPool   bool
}

func NewSimulator() *Simulator {
	return &Simulator{confirmed: make(map[string]string)}
}

// FailSettlements makes the next n Settle calls fail. n < 0 fails forever.
func (s *Simulator) FailSettlements(n int) {
	s.mu.Lock()
	s.failSettle = n
	s.mu.Unlock()
}

func (s *Simulator) FailPool(fail bool) {
	s.mu.Lock()
	s.failPool = fail
	s.mu.Unlock()
}

func (s *Simulator) Settle(ctx context.Context, req SettlementRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settlements = append(s.settlements, req)
	if s.failSettle != 0 {
		if s.failSettle > 0 {
			s.failSettle--
		}
		return "", errors.Wrapf(ErrSimulatedFailure, "settle %s", req.MatchID)
	}
	if tx, ok := s.confirmed[req.MatchID]; ok {
		return tx, nil
	}
	tx := txHash("settle", req.MatchID)
	s.confirmed[req.MatchID] = tx
	return tx, nil
}

func (s *Simulator) PoolBuy(ctx context.Context, instrument, wallet string, notional int64) (string, error) {
	return s.poolCall(ctx, PoolCall{Buy: true, Instrument: instrument, Wallet: wallet, Amount: notional})
}

func (s *Simulator) PoolSell(ctx context.Context, instrument, wallet string, tokenAmount int64) (string, error) {
	return s.poolCall(ctx, PoolCall{Instrument: instrument, Wallet: wallet, Amount: tokenAmount})
}

func (s *Simulator) poolCall(ctx context.Context, c PoolCall) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pool = append(s.pool, c)
	if s.failPool {
		return "", errors.Wrap(ErrSimulatedFailure, "pool")
	}
	return txHash("pool", fmt.Sprintf("%d:%v:%s:%s:%d", len(s.pool), c.Buy, c.Instrument, c.Wallet, c.Amount)), nil
}

// Settlements returns every Settle call received, including failed ones.
func (s *Simulator) Settlements() []SettlementRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SettlementRequest(nil), s.settlements...)
}

func (s *Simulator) PoolCalls() []PoolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PoolCall(nil), s.pool...)
}

func txHash(kind, id string) string {
	sum := sha256.Sum256([]byte(kind + "/" + id))
	return common.BytesToHash(sum[:]).Hex()
}
