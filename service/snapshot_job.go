package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fundbook/domain/orderbook"
	"fundbook/infra/store"
	exitwal "fundbook/infra/wal/exit"
	"fundbook/snapshot"
)

type SnapshotReport struct {
	Path            string
	Seq             uint64
	Orders          int
	PurgedAcked     int
	SegmentsRemoved int
}

// Snapshot exports every open (PENDING or MATCHED) order and then garbage
// collects acknowledged outbox entries. Journal segments older than the
// snapshot are dropped only when truncateJournal is set, which callers
// must only do when the store itself is durable.
func (s *OrderService) Snapshot(ctx context.Context, w *snapshot.Writer, truncateJournal bool) (SnapshotReport, error) {
	var rep SnapshotReport
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	rep.Seq = s.seq.Current()
	open := s.store.List(store.Filter{Status: orderbook.Pending})
	open = append(open, s.store.List(store.Filter{Status: orderbook.Matched})...)
	rep.Orders = len(open)

	path, err := w.Write(rep.Seq, open)
	if err != nil {
		return rep, err
	}
	rep.Path = path

	for _, ns := range []string{exitwal.NamespaceSettle, exitwal.NamespaceNotify} {
		n, err := s.outbox.PurgeAcked(ns)
		if err != nil {
			return rep, err
		}
		rep.PurgedAcked += n
	}

	if truncateJournal && s.journal != nil {
		n, err := s.journal.TruncateBefore(s.journal.LastSeq())
		if err != nil {
			return rep, err
		}
		rep.SegmentsRemoved = n
	}
	return rep, nil
}

// RunSnapshots takes a snapshot every interval until ctx is done.
func (s *OrderService) RunSnapshots(ctx context.Context, w *snapshot.Writer, interval time.Duration, truncateJournal bool) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		rep, err := s.Snapshot(ctx, w, truncateJournal)
		if err != nil {
			s.log.Error("snapshot failed", zap.Error(err))
			continue
		}
		s.log.Info("snapshot written",
			zap.String("path", rep.Path),
			zap.Uint64("seq", rep.Seq),
			zap.Int("orders", rep.Orders),
			zap.Int("purged", rep.PurgedAcked),
			zap.Int("segments_removed", rep.SegmentsRemoved))
	}
}
