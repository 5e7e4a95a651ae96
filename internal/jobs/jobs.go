// Package jobs holds the periodic maintenance work of the ledger: expiring
// lapsed subscriptions, releasing cleared earnings and retrying referral
// earnings whose post-commit step never ran.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/fanvault-backend/internal/lock"
)

// referralGrace keeps the retry job away from transactions whose
// post-commit referral step may still be running.
const referralGrace = 5 * time.Minute

type SubscriptionExpirer interface {
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
}

type EarningsProcessor interface {
	ReleaseClearedEarnings(ctx context.Context, now time.Time, limit int) (int, error)
	RetryPendingReferrals(ctx context.Context, before time.Time, limit int) (int, error)
}

type Jobs struct {
	subs      SubscriptionExpirer
	earnings  EarningsProcessor
	locker    lock.Locker
	batchSize int
	leaseTTL  time.Duration
	now       func() time.Time
}

func NewJobs(subs SubscriptionExpirer, earnings EarningsProcessor, locker lock.Locker, batchSize int) *Jobs {
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Jobs{
		subs:      subs,
		earnings:  earnings,
		locker:    locker,
		batchSize: batchSize,
		leaseTTL:  5 * time.Minute,
		now:       time.Now,
	}
}

func (j *Jobs) ExpireSubscriptions() {
	j.run("expire-subscriptions", func(ctx context.Context, now time.Time) (int, error) {
		return j.subs.ExpireDue(ctx, now, j.batchSize)
	})
}

func (j *Jobs) ReleaseEarnings() {
	j.run("release-earnings", func(ctx context.Context, now time.Time) (int, error) {
		return j.earnings.ReleaseClearedEarnings(ctx, now, j.batchSize)
	})
}

func (j *Jobs) RetryReferrals() {
	j.run("retry-referrals", func(ctx context.Context, now time.Time) (int, error) {
		return j.earnings.RetryPendingReferrals(ctx, now.Add(-referralGrace), j.batchSize)
	})
}

// run executes one job under a cluster-wide lease so that only one
// scheduler replica works a batch at a time.
func (j *Jobs) run(name string, fn func(ctx context.Context, now time.Time) (int, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), j.leaseTTL)
	defer cancel()

	logger := logrus.WithField("job", name)
	release, err := j.locker.Acquire(ctx, "job:"+name, j.leaseTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLeaseHeld) {
			logger.Debug("Job already running elsewhere, skipping")
			return
		}
		logger.WithError(err).Error("Failed to acquire job lease")
		return
	}
	defer release()

	start := j.now()
	n, err := fn(ctx, start)
	if err != nil {
		logger.WithError(err).Error("Job failed")
		return
	}
	entry := logger.WithFields(logrus.Fields{
		"processed": n,
		"duration":  time.Since(start).String(),
	})
	if n > 0 {
		entry.Info("Job completed")
	} else {
		entry.Debug("Job completed")
	}
}
