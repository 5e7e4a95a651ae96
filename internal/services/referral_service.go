// internal/services/referral_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/fanvault-backend/internal/ledger"
	"github.com/javajoker/fanvault-backend/internal/models"
	"github.com/javajoker/fanvault-backend/internal/repository"
)

type ReferralService struct {
	store repository.Store
}

func NewReferralService(store repository.Store) *ReferralService {
	return &ReferralService{store: store}
}

// CalculateEarnings credits the payer's referrer and the recipient's referrer
// with 1% of an approved subscription transaction. A transaction earns each
// role at most once; repeated calls return nothing new.
func (s *ReferralService) CalculateEarnings(ctx context.Context, transactionID uuid.UUID) ([]models.ReferralEarning, error) {
	var created []models.ReferralEarning

	err := s.store.RunInTx(ctx, func(tx repository.Tx) error {
		created = nil
		txn, err := tx.LockTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if txn.Status != models.TransactionStatusApproved || txn.SubscriptionID == nil || txn.ReferralsProcessed {
			return nil
		}

		parties := []struct {
			role  models.EarnerRole
			party *uuid.UUID
		}{
			{models.EarnerRoleUserReferrer, &txn.PayerID},
			{models.EarnerRoleCreatorReferrer, txn.RecipientID},
		}
		for _, p := range parties {
			if p.party == nil {
				continue
			}
			referral, err := tx.FindActiveReferral(ctx, *p.party)
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("find referral for %s: %w", p.party, err)
			}

			earning := models.ReferralEarning{
				ReferralID:    referral.ID,
				ReferrerID:    referral.ReferrerID,
				TransactionID: txn.ID,
				Role:          p.role,
				Amount:        ledger.ReferralEarning(txn.Amount),
				Status:        models.EarningStatusPending,
			}
			err = tx.CreateReferralEarning(ctx, &earning)
			if errors.Is(err, repository.ErrDuplicate) {
				continue
			}
			if err != nil {
				return fmt.Errorf("create %s earning: %w", p.role, err)
			}
			created = append(created, earning)
		}

		txn.ReferralsProcessed = true
		return tx.SaveTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RetryPending recomputes earnings for approved subscription transactions
// whose post-commit referral step never completed.
func (s *ReferralService) RetryPending(ctx context.Context, before time.Time, limit int) (int, error) {
	txns, err := s.store.ListTransactionsPendingReferrals(ctx, before, limit)
	if err != nil {
		return 0, fmt.Errorf("list transactions pending referrals: %w", err)
	}

	processed := 0
	for _, txn := range txns {
		if _, err := s.CalculateEarnings(ctx, txn.ID); err != nil {
			logrus.WithField("transaction_id", txn.ID).WithError(err).Error("Referral earnings retry failed")
			continue
		}
		processed++
	}
	return processed, nil
}

func (s *ReferralService) ListEarnings(ctx context.Context, referrerID uuid.UUID) ([]models.ReferralEarning, error) {
	return s.store.ListReferralEarnings(ctx, referrerID)
}
