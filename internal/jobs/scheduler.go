package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/fanvault-backend/internal/config"
)

type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	config config.SchedulerConfig
}

func NewScheduler(jobs *Jobs, cfg config.SchedulerConfig) *Scheduler {
	cronLogger := cron.PrintfLogger(logrus.StandardLogger())
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		config: cfg,
	}
}

// Register adds every job whose schedule is set. An empty schedule
// disables that job.
func (s *Scheduler) Register() error {
	entries := []struct {
		name string
		spec string
		fn   func()
	}{
		{"expire-subscriptions", s.config.ExpireSubscriptionsSpec, s.jobs.ExpireSubscriptions},
		{"release-earnings", s.config.ReleaseEarningsSpec, s.jobs.ReleaseEarnings},
		{"retry-referrals", s.config.RetryReferralsSpec, s.jobs.RetryReferrals},
	}

	for _, e := range entries {
		if e.spec == "" {
			logrus.WithField("job", e.name).Info("Job disabled")
			continue
		}
		if _, err := s.cron.AddFunc(e.spec, e.fn); err != nil {
			return fmt.Errorf("schedule %s job %q: %w", e.name, e.spec, err)
		}
		logrus.WithFields(logrus.Fields{"job": e.name, "schedule": e.spec}).Info("Scheduled job")
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
