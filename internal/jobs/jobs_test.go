package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/fanvault-backend/internal/config"
	"github.com/javajoker/fanvault-backend/internal/lock"
)

type mockWork struct {
	mock.Mock
}

func (m *mockWork) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	args := m.Called(now, limit)
	return args.Int(0), args.Error(1)
}

func (m *mockWork) ReleaseClearedEarnings(ctx context.Context, now time.Time, limit int) (int, error) {
	args := m.Called(now, limit)
	return args.Int(0), args.Error(1)
}

func (m *mockWork) RetryPendingReferrals(ctx context.Context, before time.Time, limit int) (int, error) {
	args := m.Called(before, limit)
	return args.Int(0), args.Error(1)
}

type heldLocker struct{ keys []string }

func (l *heldLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.keys = append(l.keys, key)
	return nil, lock.ErrLeaseHeld
}

var jobNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestJobs(work *mockWork, locker lock.Locker) *Jobs {
	j := NewJobs(work, work, locker, 50)
	j.now = func() time.Time { return jobNow }
	return j
}

func TestJobsCallServicesWithBatchSize(t *testing.T) {
	work := &mockWork{}
	work.On("ExpireDue", jobNow, 50).Return(2, nil).Once()
	work.On("ReleaseClearedEarnings", jobNow, 50).Return(0, nil).Once()
	work.On("RetryPendingReferrals", jobNow.Add(-referralGrace), 50).Return(0, errors.New("db down")).Once()

	j := newTestJobs(work, nil)
	j.ExpireSubscriptions()
	j.ReleaseEarnings()
	j.RetryReferrals()

	work.AssertExpectations(t)
}

func TestJobsSkipWhenLeaseHeld(t *testing.T) {
	work := &mockWork{}
	locker := &heldLocker{}

	j := newTestJobs(work, locker)
	j.ExpireSubscriptions()
	j.ReleaseEarnings()

	assert.Equal(t, []string{"job:expire-subscriptions", "job:release-earnings"}, locker.keys)
	work.AssertNotCalled(t, "ExpireDue", mock.Anything, mock.Anything)
	work.AssertNotCalled(t, "ReleaseClearedEarnings", mock.Anything, mock.Anything)
}

func TestSchedulerRegister(t *testing.T) {
	j := newTestJobs(&mockWork{}, nil)

	s := NewScheduler(j, config.SchedulerConfig{
		ExpireSubscriptionsSpec: "@every 1h",
		ReleaseEarningsSpec:     "0 3 * * *",
	})
	require.NoError(t, s.Register())
	assert.Equal(t, 2, s.Entries())

	bad := NewScheduler(j, config.SchedulerConfig{RetryReferralsSpec: "every now and then"})
	assert.Error(t, bad.Register())
}
