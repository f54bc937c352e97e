// Package notify carries fire-and-forget order events to an external
// notification subsystem. Events are queued in the outbox first and
// published by the broadcaster job through one of the Sink drivers.
package notify

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	exitwal "fundbook/infra/wal/exit"
)

type EventType string

const (
	OrderMatched          EventType = "order.matched"
	OrderSettled          EventType = "order.settled"
	OrderSettlementFailed EventType = "order.settlement_failed"
	OrderCancelled        EventType = "order.cancelled"
	OrderExpired          EventType = "order.expired"
	FallbackCompleted     EventType = "fallback.completed"
	FallbackFailed        EventType = "fallback.failed"
)

type Event struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	OrderID        string    `json:"order_id"`
	CounterOrderID string    `json:"counter_order_id,omitempty"`
	Instrument     string    `json:"instrument"`
	Maker          string    `json:"maker"`
	Status         string    `json:"status"`
	TxRef          string    `json:"tx_ref,omitempty"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	Amount         int64     `json:"amount,omitempty"`
	At             time.Time `json:"at"`
}

func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func Decode(b []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, errors.Wrap(err, "decode event")
	}
	return &e, nil
}

// Queue appends events to the notify namespace of the outbox. Emit never
// fails the caller: a lost notification is logged, not escalated.
type Queue struct {
	outbox *exitwal.Outbox
	log    *zap.Logger
}

func NewQueue(outbox *exitwal.Outbox, log *zap.Logger) *Queue {
	return &Queue{outbox: outbox, log: log.Named("notify")}
}

func (q *Queue) Emit(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	payload, err := e.Encode()
	if err == nil {
		_, err = q.outbox.Enqueue(exitwal.NamespaceNotify, payload)
	}
	if err != nil {
		q.log.Error("event dropped",
			zap.String("type", string(e.Type)),
			zap.String("order_id", e.OrderID),
			zap.Error(err))
	}
}
