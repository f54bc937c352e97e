package store

import (
	"context"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"

	"fundbook/domain/orderbook"
	"fundbook/infra/codec"
)

const orderPrefix = "order/"

// PebbleBackend stores one key per order: order/<id> → codec record.
type PebbleBackend struct {
	db *pebble.DB
}

func OpenPebble(dir string) (*PebbleBackend, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %s", dir)
	}
	return &PebbleBackend{db: db}, nil
}

// OpenPebbleInMemory runs pebble on an in-memory filesystem.
func OpenPebbleInMemory() (*PebbleBackend, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, errors.Wrap(err, "open in-memory pebble")
	}
	return &PebbleBackend{db: db}, nil
}

func (p *PebbleBackend) SaveBatch(_ context.Context, orders []*orderbook.Order) error {
	b := p.db.NewBatch()
	defer b.Close()
	for _, o := range orders {
		if err := b.Set([]byte(orderPrefix+o.ID), codec.MarshalOrder(o), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (p *PebbleBackend) LoadAll(ctx context.Context, fn func(*orderbook.Order) error) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(orderPrefix),
		UpperBound: []byte("order0"), // '0' follows '/'
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		o, err := codec.UnmarshalOrder(iter.Value())
		if err != nil {
			return errors.Wrapf(err, "key %s", iter.Key())
		}
		if err := fn(o); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (p *PebbleBackend) Close() error {
	return p.db.Close()
}
