// Package broadcaster drains the notification outbox into a sink.
package broadcaster

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"fundbook/infra/notify"
	exitwal "fundbook/infra/wal/exit"
)

type Config struct {
	Interval time.Duration
	// MaxRetries is how many failed publishes an event survives before it
	// is dropped. Zero retries forever.
	MaxRetries uint32
}

type Broadcaster struct {
	outbox *exitwal.Outbox
	sink   notify.Sink
	cfg    Config
	log    *zap.Logger
}

// ------------------------------------------------
// CONSTRUCTOR
// ------------------------------------------------

func New(outbox *exitwal.Outbox, sink notify.Sink, cfg Config, log *zap.Logger) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	return &Broadcaster{
		outbox: outbox,
		sink:   sink,
		cfg:    cfg,
		log:    log.Named("broadcaster"),
	}
}

// ------------------------------------------------
// LOOP
// ------------------------------------------------

// Run publishes pending events every interval until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.log.Info("started", zap.Duration("interval", b.cfg.Interval))

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := b.Flush(ctx); err != nil && ctx.Err() == nil {
				b.log.Warn("flush stopped", zap.Error(err))
			}
		}
	}
}

// ------------------------------------------------
// REPLAY LOGIC
// ------------------------------------------------

// Flush publishes queued events in enqueue order. The first publish
// failure ends the pass so later events never overtake it. It returns how
// many events were delivered.
func (b *Broadcaster) Flush(ctx context.Context) (int, error) {
	var keys []string
	err := b.outbox.Scan(exitwal.NamespaceNotify, func(e exitwal.Entry) error {
		if e.State == exitwal.StateNew || e.State == exitwal.StateFailed {
			keys = append(keys, e.Key)
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "scan notifications")
	}

	sent := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		// 1. Mark SENT
		e, err := b.outbox.Claim(exitwal.NamespaceNotify, key)
		if err != nil {
			if errors.Is(err, exitwal.ErrNotClaimable) {
				continue
			}
			return sent, err
		}

		ev, err := notify.Decode(e.Payload)
		if err != nil {
			// unreadable forever; drop it
			b.log.Error("dropping undecodable event", zap.String("key", key), zap.Error(err))
			_ = b.outbox.Delete(exitwal.NamespaceNotify, key)
			continue
		}

		// 2. Publish, keyed by order so one order's events stay ordered
		if err := b.sink.Publish(ctx, ev.OrderID, e.Payload); err != nil {
			_ = b.outbox.MarkFailed(exitwal.NamespaceNotify, key, err)
			if b.cfg.MaxRetries > 0 && e.Retries+1 >= b.cfg.MaxRetries {
				b.log.Warn("dropping event after repeated failures",
					zap.String("key", key),
					zap.String("type", string(ev.Type)),
					zap.Error(err))
				_ = b.outbox.Delete(exitwal.NamespaceNotify, key)
				continue
			}
			return sent, errors.Wrapf(err, "publish %s", ev.Type)
		}

		// 3. ACK and forget
		if err := b.outbox.MarkAcked(exitwal.NamespaceNotify, key); err != nil {
			return sent, err
		}
		if err := b.outbox.Delete(exitwal.NamespaceNotify, key); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// ------------------------------------------------
// SHUTDOWN
// ------------------------------------------------

func (b *Broadcaster) Close() error {
	return b.sink.Close()
}
