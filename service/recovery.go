package service

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"fundbook/domain/orderbook"
	"fundbook/infra/codec"
	"fundbook/infra/store"
	entrywal "fundbook/infra/wal/entry"
	exitwal "fundbook/infra/wal/exit"
)

type RecoveryReport struct {
	Orders              int
	Pending             int
	Matched             int
	JournalRecords      int
	RestoredFromJournal int
	RequeuedSettlements int
	QueuedSettlements   int
	UnroutedFallbacks   int
	LastSeq             uint64
}

/*
Recover rebuilds in-memory state after a restart.

IMPORTANT:
- This MUST run before accepting traffic
- The store is canonical; the journal only fills in orders the store
  lacks (a non-durable backend)
- MATCHED pairs get their settlement entry back even if the process
  died between the match and the outbox write
- EXPIRED orders whose fallback never ran are only counted here; the
  next sweep routes them
*/
func (s *OrderService) Recover(ctx context.Context) (RecoveryReport, error) {
	var rep RecoveryReport

	n, err := s.store.Load(ctx)
	if err != nil {
		return rep, err
	}
	rep.Orders = n

	if s.journal != nil {
		latest := make(map[string]*orderbook.Order)
		var order []string
		_, err := entrywal.Replay(s.journal.Dir(), func(rec *entrywal.Record) error {
			rep.JournalRecords++
			o, err := codec.UnmarshalOrder(rec.Data)
			if err != nil {
				return errors.Wrapf(err, "journal record %d", rec.Seq)
			}
			if _, seen := latest[o.ID]; !seen {
				order = append(order, o.ID)
			}
			latest[o.ID] = o
			return nil
		})
		if err != nil {
			return rep, errors.Wrap(err, "replay journal")
		}

		missing := make([]*orderbook.Order, 0)
		for _, id := range order {
			if _, ok := s.store.Get(id); !ok {
				missing = append(missing, latest[id])
			}
		}
		if rep.RestoredFromJournal, err = s.store.Restore(ctx, missing); err != nil {
			return rep, err
		}
		rep.Orders += rep.RestoredFromJournal
	}

	s.seq.Advance(s.store.MaxSeq())
	rep.LastSeq = s.seq.Current()

	s.partMu.Lock()
	s.parts = make(map[string]*partition)
	s.partMu.Unlock()

	for _, o := range s.store.List(store.Filter{Status: orderbook.Pending}) {
		if err := s.partition(o.Instrument).book.Insert(o); err != nil {
			return rep, err
		}
		rep.Pending++
	}

	if rep.RequeuedSettlements, err = s.outbox.RequeueSent(exitwal.NamespaceSettle); err != nil {
		return rep, errors.Wrap(err, "requeue settlements")
	}
	if _, err := s.outbox.RequeueSent(exitwal.NamespaceNotify); err != nil {
		return rep, errors.Wrap(err, "requeue notifications")
	}

	for _, buy := range s.store.List(store.Filter{Status: orderbook.Matched, Side: orderbook.Buy}) {
		rep.Matched += 2
		sell, ok := s.store.Get(buy.MatchedOrderID)
		if !ok {
			s.log.Error("matched order without counter-order", zap.String("order_id", buy.ID))
			continue
		}
		if _, err := s.outbox.Get(exitwal.NamespaceSettle, buy.ID); err == nil {
			continue
		}
		if _, err := s.enqueueSettlement(buy, sell); err != nil {
			return rep, err
		}
		rep.QueuedSettlements++
	}

	rep.UnroutedFallbacks = len(s.unrouted())

	s.log.Info("recovery complete",
		zap.Int("orders", rep.Orders),
		zap.Int("pending", rep.Pending),
		zap.Int("matched", rep.Matched),
		zap.Int("journal_records", rep.JournalRecords),
		zap.Int("restored", rep.RestoredFromJournal),
		zap.Int("requeued", rep.RequeuedSettlements),
		zap.Int("queued", rep.QueuedSettlements),
		zap.Int("unrouted_fallbacks", rep.UnroutedFallbacks),
		zap.Uint64("last_seq", rep.LastSeq))
	return rep, nil
}
