// Package identity maps an authenticated caller to the custodial wallet
// that owns its orders. Authentication itself happens upstream.
package identity

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var (
	ErrNoWallet       = errors.New("no wallet provisioned for caller")
	ErrInvalidAddress = errors.New("not a 20-byte hex address")
)

type Resolver interface {
	Resolve(ctx context.Context, caller string) (string, error)
}

// NormalizeAddress validates a hex address and returns its EIP-55
// checksum form, so the same wallet always compares equal.
func NormalizeAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", errors.Wrapf(ErrInvalidAddress, "%q", s)
	}
	return common.HexToAddress(s).Hex(), nil
}

// StaticResolver serves a fixed caller → wallet table.
type StaticResolver struct {
	wallets map[string]string
}

func NewStaticResolver(wallets map[string]string) (*StaticResolver, error) {
	m := make(map[string]string, len(wallets))
	for caller, w := range wallets {
		addr, err := NormalizeAddress(w)
		if err != nil {
			return nil, errors.Wrapf(err, "wallet for %s", caller)
		}
		m[caller] = addr
	}
	return &StaticResolver{wallets: m}, nil
}

func (r *StaticResolver) Resolve(_ context.Context, caller string) (string, error) {
	if caller == "" {
		return "", errors.Wrap(ErrNoWallet, "anonymous caller")
	}
	w, ok := r.wallets[caller]
	if !ok {
		return "", errors.Wrapf(ErrNoWallet, "caller %s", caller)
	}
	return w, nil
}
