package store

import (
	"context"
	"database/sql"

	_ "github.com/go-sql-driver/mysql" // MySQL driver.
	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"fundbook/domain/orderbook"
	"fundbook/infra/codec"
)

// SQLBackend keeps orders in a single table. The queryable columns mirror
// the record; payload holds the full codec encoding.
type SQLBackend struct {
	db     *sql.DB
	upsert string
}

const createOrders = `CREATE TABLE IF NOT EXISTS orders (
	id         VARCHAR(64) NOT NULL PRIMARY KEY,
	instrument VARCHAR(42) NOT NULL,
	maker      VARCHAR(42) NOT NULL,
	status     INTEGER     NOT NULL,
	seq        BIGINT      NOT NULL,
	payload    BLOB        NOT NULL
)`

var upserts = map[string]string{
	"sqlite": `INSERT INTO orders (id, instrument, maker, status, seq, payload) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET status = excluded.status, payload = excluded.payload`,
	"mysql": `INSERT INTO orders (id, instrument, maker, status, seq, payload) VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE status = VALUES(status), payload = VALUES(payload)`,
}

// OpenSQL opens driver ("sqlite" or "mysql") at dsn and creates the table
// when missing.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLBackend, error) {
	upsert, ok := upserts[driver]
	if !ok {
		return nil, errors.Errorf("unsupported sql driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}
	if driver == "sqlite" {
		// one writer; sqlite serializes anyway
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, createOrders); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create orders table")
	}
	return &SQLBackend{db: db, upsert: upsert}, nil
}

func (s *SQLBackend) SaveBatch(ctx context.Context, orders []*orderbook.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.upsert)
	if err != nil {
		return errors.Wrap(err, "prepare upsert")
	}
	defer stmt.Close()

	for _, o := range orders {
		_, err := stmt.ExecContext(ctx, o.ID, o.Instrument, o.Maker, int(o.Status), int64(o.Seq), codec.MarshalOrder(o))
		if err != nil {
			return errors.Wrapf(err, "upsert %s", o.ID)
		}
	}
	return tx.Commit()
}

func (s *SQLBackend) LoadAll(ctx context.Context, fn func(*orderbook.Order) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM orders ORDER BY seq`)
	if err != nil {
		return errors.Wrap(err, "select orders")
	}
	defer rows.Close()

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return err
		}
		o, err := codec.UnmarshalOrder(payload)
		if err != nil {
			return err
		}
		if err := fn(o); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLBackend) Close() error {
	return s.db.Close()
}
