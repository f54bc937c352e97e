// Command journal inspects the order journal and book snapshots offline.
//
//	journal dump -dir ./data/journal [-order <id>]
//	journal snapshot -dir ./data/snapshots
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"fundbook/domain/orderbook"
	"fundbook/infra/codec"
	entrywal "fundbook/infra/wal/entry"
	"fundbook/snapshot"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "dump":
		err = dump(os.Args[2:])
	case "snapshot":
		err = showSnapshot(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "journal: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: journal dump -dir DIR [-order ID] | journal snapshot -dir DIR")
	os.Exit(2)
}

type line struct {
	Seq        uint64    `json:"seq"`
	Type       string    `json:"type"`
	At         time.Time `json:"at"`
	OrderID    string    `json:"order_id"`
	Side       string    `json:"side"`
	Instrument string    `json:"instrument"`
	Amount     int64     `json:"token_amount"`
	Price      int64     `json:"price_per_token"`
	Status     string    `json:"status"`
	Counter    string    `json:"counter_order_id,omitempty"`
	TxHash     string    `json:"tx_hash,omitempty"`
}

func toLine(o *orderbook.Order) line {
	return line{
		OrderID:    o.ID,
		Side:       o.Side.String(),
		Instrument: o.Instrument,
		Amount:     o.TokenAmount,
		Price:      o.PricePerToken,
		Status:     o.Status.String(),
		Counter:    o.MatchedOrderID,
		TxHash:     o.SettlementTxHash,
	}
}

func dump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	dir := fs.String("dir", "./data/journal", "journal directory")
	only := fs.String("order", "", "only records of this order id")
	_ = fs.Parse(args)

	enc := json.NewEncoder(os.Stdout)
	last, err := entrywal.Replay(*dir, func(rec *entrywal.Record) error {
		o, err := codec.UnmarshalOrder(rec.Data)
		if err != nil {
			return err
		}
		if *only != "" && o.ID != *only {
			return nil
		}
		l := toLine(o)
		l.Seq, l.Type, l.At = rec.Seq, rec.Type.String(), time.Unix(0, rec.Time).UTC()
		return enc.Encode(l)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "last seq %d\n", last)
	return nil
}

func showSnapshot(args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dir := fs.String("dir", "./data/snapshots", "snapshot directory")
	_ = fs.Parse(args)

	seq, orders, err := snapshot.LoadLatest(*dir)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, o := range orders {
		if err := enc.Encode(toLine(o)); err != nil {
			return err
		}
	}
	fmt.Fprintf(os.Stderr, "snapshot at seq %d: %d open orders\n", seq, len(orders))
	return nil
}
