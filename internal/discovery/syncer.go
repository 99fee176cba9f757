package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"vpc-gateway/internal/common/logging"
)

const resyncTimeout = 30 * time.Second

// Syncer runs a periodic reconcile job on a cron schedule so instances
// converge even when they miss pub/sub events. The job typically re-reads
// routes from the store and endpoint sets from Redis.
type Syncer struct {
	schedule string
	job      func(context.Context) error
	logger   logging.Logger
	cron     *cron.Cron
}

// NewSyncer creates a syncer. The schedule accepts standard cron
// expressions and descriptors such as "@every 30s".
func NewSyncer(schedule string, job func(context.Context) error, logger logging.Logger) *Syncer {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Syncer{
		schedule: schedule,
		job:      job,
		logger:   logger.WithFields(logging.String("component", "discovery-syncer")),
	}
}

// Start validates the schedule and begins the periodic job.
func (s *Syncer) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("invalid resync schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("Resync scheduled", logging.String("schedule", s.schedule))
	return nil
}

// Stop halts the schedule and waits for any in-flight job to finish.
func (s *Syncer) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Syncer) run() {
	ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
	defer cancel()
	if err := s.job(ctx); err != nil {
		s.logger.Error("Scheduled resync failed", err)
	}
}
