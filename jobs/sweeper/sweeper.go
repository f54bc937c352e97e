// Package sweeper runs the periodic expiry cycle.
package sweeper

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"fundbook/service"
)

type Expirer interface {
	ExpireDue(ctx context.Context) (service.SweepReport, error)
}

// Sweeper expires due orders every interval. An order can therefore stay
// PENDING up to one interval past its deadline.
type Sweeper struct {
	svc      Expirer
	interval time.Duration
	log      *zap.Logger
}

func New(svc Expirer, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{svc: svc, interval: interval, log: log.Named("sweeper")}
}

func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("started", zap.Duration("interval", s.interval))
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	rep, err := s.svc.ExpireDue(ctx)
	switch {
	case errors.Is(err, service.ErrSweepInProgress):
		s.log.Debug("previous cycle still running")
	case err != nil && ctx.Err() == nil:
		s.log.Error("sweep failed", zap.Error(err))
	case rep.FallbackFailed > 0 || rep.TransitionErrors > 0:
		s.log.Warn("sweep had failures",
			zap.Int("fallback_failed", rep.FallbackFailed),
			zap.Int("transition_errors", rep.TransitionErrors))
	}
}
