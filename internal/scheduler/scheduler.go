// Package scheduler wires up the cron job that periodically runs the
// bidding-expiry sweep. It is a trigger source only: the sweep itself lives
// in the request service and is idempotent.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"procurement/internal/request"
)

// Scheduler wraps robfig/cron around the expiry sweep.
type Scheduler struct {
	cron     *cron.Cron
	requests *request.Service
	spec     string // cron spec, e.g. "@every 1m"
	log      *zap.Logger
}

// New creates a Scheduler that fires every intervalMinutes minutes.
func New(requests *request.Service, intervalMinutes int, log *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		requests: requests,
		spec:     fmt.Sprintf("@every %dm", intervalMinutes),
		log:      log,
	}
}

// Start registers the job and starts the scheduler. One sweep runs
// immediately so restarts do not delay overdue expiries by a full interval.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.runSweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	s.cron.Start()
	s.log.Info("expiry scheduler started", zap.String("spec", s.spec))

	go s.runSweep(ctx)
	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.Info("expiry scheduler stopped")
}

func (s *Scheduler) runSweep(ctx context.Context) {
	expired, err := s.requests.ExpireDueBidding(ctx, time.Now().UTC())
	if err != nil {
		s.log.Warn("expiry sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		s.log.Info("expiry sweep expired requests", zap.Int("count", expired))
	}
}
