package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"

	"fundbook/domain/orderbook"
)

const (
	filePrefix = "orders-"
	fileSuffix = ".parquet"
)

var ErrNoSnapshot = errors.New("no snapshot found")

type Writer struct {
	Dir string
	// Keep is how many snapshots survive a write. Zero keeps all.
	Keep int
}

func fileName(seq uint64) string {
	return fmt.Sprintf("%s%020d%s", filePrefix, seq, fileSuffix)
}

func parseFileName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), 10, 64)
	return v, err == nil
}

// Write stores orders as the snapshot taken at seq and returns its path.
// The file appears atomically.
func (w *Writer) Write(seq uint64, orders []*orderbook.Order) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", err
	}

	rows := make([]Row, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, FromOrder(o))
	}

	path := filepath.Join(w.Dir, fileName(seq))
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, rows); err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrap(err, "write snapshot")
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}

	if w.Keep > 0 {
		if err := w.prune(); err != nil {
			return path, err
		}
	}
	return path, nil
}

func (w *Writer) prune() error {
	seqs, err := list(w.Dir)
	if err != nil {
		return err
	}
	for len(seqs) > w.Keep {
		if err := os.Remove(filepath.Join(w.Dir, fileName(seqs[0]))); err != nil {
			return err
		}
		seqs = seqs[1:]
	}
	return nil
}

// list returns the sequence numbers of every snapshot in dir, ascending.
func list(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var seqs []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if seq, ok := parseFileName(e.Name()); ok {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// Read loads the snapshot file at path.
func Read(path string) ([]*orderbook.Order, error) {
	rows, err := parquet.ReadFile[Row](path)
	if err != nil {
		return nil, errors.Wrapf(err, "read snapshot %s", path)
	}
	out := make([]*orderbook.Order, 0, len(rows))
	for _, r := range rows {
		o, err := r.Order()
		if err != nil {
			return nil, errors.Wrapf(err, "order %s", r.ID)
		}
		out = append(out, o)
	}
	return out, nil
}

// LoadLatest reads the newest snapshot in dir.
func LoadLatest(dir string) (uint64, []*orderbook.Order, error) {
	seqs, err := list(dir)
	if err != nil {
		return 0, nil, err
	}
	if len(seqs) == 0 {
		return 0, nil, ErrNoSnapshot
	}
	seq := seqs[len(seqs)-1]
	orders, err := Read(filepath.Join(dir, fileName(seq)))
	return seq, orders, err
}
