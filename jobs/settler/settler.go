// Package settler retries queued settlements in the background.
package settler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fundbook/service"
)

type Settler interface {
	SettleDue(ctx context.Context) (service.SettleReport, error)
}

type Job struct {
	svc      Settler
	interval time.Duration
	log      *zap.Logger
}

func New(svc Settler, interval time.Duration, log *zap.Logger) *Job {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Job{svc: svc, interval: interval, log: log.Named("settler")}
}

func (j *Job) Run(ctx context.Context) error {
	j.log.Info("started", zap.Duration("interval", j.interval))
	t := time.NewTicker(j.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		rep, err := j.svc.SettleDue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				j.log.Error("settlement pass failed", zap.Error(err))
			}
			continue
		}
		if rep.Attempted > 0 || rep.Exhausted > 0 {
			j.log.Info("settlement pass",
				zap.Int("attempted", rep.Attempted),
				zap.Int("settled", rep.Settled),
				zap.Int("failed", rep.Failed),
				zap.Int("exhausted", rep.Exhausted))
		}
	}
}
