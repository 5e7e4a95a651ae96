// internal/services/subscription_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/fanvault-backend/internal/gateway"
	"github.com/javajoker/fanvault-backend/internal/models"
	"github.com/javajoker/fanvault-backend/internal/repository"
)

type SubscriptionService struct {
	store    repository.Store
	gateways *gateway.Registry
	now      func() time.Time
}

func NewSubscriptionService(store repository.Store, gateways *gateway.Registry) *SubscriptionService {
	return &SubscriptionService{
		store:    store,
		gateways: gateways,
		now:      time.Now,
	}
}

// activateOrRenew creates the payer's subscription to the recipient or
// extends it. A still-active subscription is extended from its current end
// date; a lapsed one restarts at now. It runs inside the settlement unit.
func (s *SubscriptionService) activateOrRenew(ctx context.Context, tx repository.Tx, txn *models.Transaction, externalID string, now time.Time) (*models.Subscription, error) {
	if txn.RecipientID == nil {
		return nil, fmt.Errorf("subscription transaction %s has no recipient", txn.ID)
	}

	months := txn.Kind.Months()
	sub, err := tx.FindSubscription(ctx, txn.PayerID, *txn.RecipientID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		if months == 0 {
			return nil, fmt.Errorf("%w: renewal without an existing subscription", ErrInvalidStateTransition)
		}
		sub = &models.Subscription{
			SubscriberID:        txn.PayerID,
			CreatorID:           *txn.RecipientID,
			StartDate:           now,
			EndDate:             now.AddDate(0, months, 0),
			OriginTransactionID: txn.ID,
		}
	case err != nil:
		return nil, fmt.Errorf("find subscription: %w", err)
	default:
		if months == 0 {
			months = sub.DurationMonths
		}
		if sub.IsActiveAt(now) {
			sub.EndDate = sub.EndDate.AddDate(0, months, 0)
		} else {
			sub.StartDate = now
			sub.EndDate = now.AddDate(0, months, 0)
		}
	}

	if txn.TierID != nil {
		sub.TierID = txn.TierID
	}
	sub.Amount = txn.Amount
	sub.Status = models.SubscriptionStatusActive
	sub.DurationMonths = months
	sub.LatestTransactionID = txn.ID
	sub.CanceledAt = nil
	if externalID != "" {
		sub.ExternalID = &externalID
	}
	sub.AutoRenew = sub.ExternalID != nil

	if err := tx.SaveSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}
	txn.SubscriptionID = &sub.ID
	return sub, nil
}

// suspend ends access immediately; used when the paying transaction is refunded.
func (s *SubscriptionService) suspend(ctx context.Context, tx repository.Tx, id uuid.UUID, now time.Time) (*models.Subscription, error) {
	sub, err := tx.LockSubscription(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock subscription %s: %w", id, err)
	}
	sub.Status = models.SubscriptionStatusSuspended
	sub.EndDate = now
	sub.AutoRenew = false
	if err := tx.SaveSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}
	return sub, nil
}

// CancelSelfService stops renewal but keeps access until the paid-through
// end date. A gateway-managed subscription is canceled at the provider as
// the last step; a provider failure leaves the subscription untouched.
func (s *SubscriptionService) CancelSelfService(ctx context.Context, subscriberID, subscriptionID uuid.UUID) (*models.Subscription, error) {
	var result *models.Subscription
	err := s.store.RunInTx(ctx, func(tx repository.Tx) error {
		sub, err := tx.LockSubscription(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.SubscriberID != subscriberID {
			return ErrForbidden
		}
		if sub.Status != models.SubscriptionStatusActive {
			return fmt.Errorf("%w: subscription is %s", ErrInvalidStateTransition, sub.Status)
		}

		now := s.now()
		renewing := sub.AutoRenew
		sub.Status = models.SubscriptionStatusCanceled
		sub.AutoRenew = false
		sub.CanceledAt = &now
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		if renewing {
			if err := s.cancelAtProvider(ctx, tx, sub); err != nil {
				return err
			}
		}
		result = sub
		return nil
	})
	return result, err
}

// CancelImmediately is the administrative cancel: access ends now.
func (s *SubscriptionService) CancelImmediately(ctx context.Context, subscriptionID uuid.UUID) (*models.Subscription, error) {
	var result *models.Subscription
	err := s.store.RunInTx(ctx, func(tx repository.Tx) error {
		sub, err := tx.LockSubscription(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status == models.SubscriptionStatusExpired {
			return fmt.Errorf("%w: subscription is %s", ErrInvalidStateTransition, sub.Status)
		}

		now := s.now()
		renewing := sub.AutoRenew
		sub.Status = models.SubscriptionStatusCanceled
		sub.EndDate = now
		sub.AutoRenew = false
		sub.CanceledAt = &now
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		if renewing {
			if err := s.cancelAtProvider(ctx, tx, sub); err != nil {
				return err
			}
		}
		result = sub
		return nil
	})
	return result, err
}

func (s *SubscriptionService) cancelAtProvider(ctx context.Context, tx repository.Tx, sub *models.Subscription) error {
	if sub.ExternalID == nil {
		return nil
	}
	origin, err := tx.GetTransaction(ctx, sub.OriginTransactionID)
	if err != nil {
		return fmt.Errorf("load origin transaction: %w", err)
	}
	adapter, err := s.gateways.Get(origin.Gateway)
	if err != nil {
		return err
	}
	return adapter.CancelSubscription(ctx, *sub.ExternalID)
}

// ApplyLifecycle maps a provider lifecycle notification onto the
// subscription it references.
func (s *SubscriptionService) ApplyLifecycle(ctx context.Context, n *gateway.Notification) (*models.Subscription, error) {
	var result *models.Subscription
	err := s.store.RunInTx(ctx, func(tx repository.Tx) error {
		found, err := tx.FindSubscriptionByExternalID(ctx, n.SubscriptionID)
		if err != nil {
			return err
		}
		sub, err := tx.LockSubscription(ctx, found.ID)
		if err != nil {
			return err
		}

		now := s.now()
		switch n.Class {
		case gateway.ClassRenewalFailure:
			sub.Status = models.SubscriptionStatusSuspended
		case gateway.ClassCancellation:
			if sub.Status == models.SubscriptionStatusActive {
				sub.Status = models.SubscriptionStatusCanceled
				sub.CanceledAt = &now
			}
			sub.AutoRenew = false
		case gateway.ClassExpiration:
			sub.Status = models.SubscriptionStatusExpired
			sub.AutoRenew = false
		default:
			return fmt.Errorf("%w: %s is not a lifecycle event", ErrInvalidStateTransition, n.Class)
		}

		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		result = sub
		return nil
	})
	return result, err
}

// ExpireDue marks active or canceled subscriptions whose end date has passed
// as expired. Each subscription is its own unit of work.
func (s *SubscriptionService) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.store.ListSubscriptionsEndingBefore(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions ending before %s: %w", now.Format(time.RFC3339), err)
	}

	expired := 0
	for _, candidate := range due {
		changed := false
		err := s.store.RunInTx(ctx, func(tx repository.Tx) error {
			sub, err := tx.LockSubscription(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if sub.IsActiveAt(now) || (sub.Status != models.SubscriptionStatusActive && sub.Status != models.SubscriptionStatusCanceled) {
				return nil
			}
			sub.Status = models.SubscriptionStatusExpired
			sub.AutoRenew = false
			changed = true
			return tx.SaveSubscription(ctx, sub)
		})
		if err != nil {
			logrus.WithField("subscription_id", candidate.ID).WithError(err).Error("Failed to expire subscription")
			continue
		}
		if changed {
			expired++
		}
	}
	return expired, nil
}

func (s *SubscriptionService) List(ctx context.Context, subscriberID uuid.UUID) ([]models.Subscription, error) {
	return s.store.ListSubscriptions(ctx, subscriberID)
}

// HasAccess reports whether subscriber currently holds an active
// subscription to creator.
func (s *SubscriptionService) HasAccess(ctx context.Context, subscriberID, creatorID uuid.UUID) (bool, error) {
	sub, err := s.store.FindSubscription(ctx, subscriberID, creatorID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sub.IsActiveAt(s.now()), nil
}
