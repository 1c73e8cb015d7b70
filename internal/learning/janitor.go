package learning

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Janitor evicts idle sessions and flushes patterns on a cron schedule.
type Janitor struct {
	cron *cron.Cron
	svc  *Service
}

// StartJanitor schedules CleanupOldSessions(maxAge), then each of also with
// the same age, then Flush. schedule accepts cron expressions and
// descriptors such as "@every 10m".
func (s *Service) StartJanitor(ctx context.Context, schedule string, maxAge time.Duration, also ...func(time.Duration)) (*Janitor, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		s.CleanupOldSessions(maxAge)
		for _, fn := range also {
			fn(maxAge)
		}
		if err := s.Flush(ctx); err != nil {
			s.logger.Warn("janitor flush failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule janitor %q: %w", schedule, err)
	}
	c.Start()
	s.logger.Debug("learning janitor started", zap.String("schedule", schedule))
	return &Janitor{cron: c, svc: s}, nil
}

// Stop stops the schedule and waits for a running cleanup to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.svc.logger.Debug("learning janitor stopped")
}
