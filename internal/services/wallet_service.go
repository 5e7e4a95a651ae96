// internal/services/wallet_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/fanvault-backend/internal/ledger"
	"github.com/javajoker/fanvault-backend/internal/models"
	"github.com/javajoker/fanvault-backend/internal/repository"
	"github.com/javajoker/fanvault-backend/internal/utils"
)

type WalletService struct {
	store    repository.Store
	wallets  *ledger.WalletLedger
	platform *ledger.PlatformLedger
	retry    RetryPolicy
}

type AdjustBalanceRequest struct {
	// Amount is signed: positive credits the holder, negative debits it.
	Amount  decimal.Decimal      `json:"amount" validate:"required"`
	Counter models.WalletCounter `json:"counter" validate:"required,oneof=spendable pending payout"`
	Reason  string               `json:"reason" validate:"required,max=255"`
}

type WithdrawPlatformRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"positive_amount"`
	Description string          `json:"description" validate:"required,max=255"`
}

// ConservationReport is the result of a ledger self-check.
type ConservationReport struct {
	Balanced              bool                   `json:"balanced"`
	Imbalances            []repository.Imbalance `json:"imbalances"`
	PlatformBalance       decimal.Decimal        `json:"platform_balance"`
	PlatformSystemBalance decimal.Decimal        `json:"platform_system_balance"`
}

func NewWalletService(store repository.Store, retry RetryPolicy) *WalletService {
	return &WalletService{
		store:    store,
		wallets:  ledger.NewWalletLedger(),
		platform: ledger.NewPlatformLedger(),
		retry:    retry,
	}
}

// GetWallet returns the holder's counters; a holder that never received
// funds reads as an empty wallet.
func (s *WalletService) GetWallet(ctx context.Context, holderID uuid.UUID) (*models.Wallet, error) {
	w, err := s.store.GetWallet(ctx, holderID)
	if errors.Is(err, repository.ErrNotFound) {
		return &models.Wallet{HolderID: holderID}, nil
	}
	return w, err
}

func (s *WalletService) ListEntries(ctx context.Context, holderID uuid.UUID, params utils.PaginationParams) (utils.PaginationResult, error) {
	entries, total, err := s.store.ListWalletEntries(ctx, holderID, params)
	if err != nil {
		return utils.PaginationResult{}, err
	}
	return utils.CreatePaginationResult(entries, total, params), nil
}

// AdjustBalance is an administrative correction. The counter movement is
// paired against the gateway clearing account and carries no transaction.
func (s *WalletService) AdjustBalance(ctx context.Context, actorID, holderID uuid.UUID, req *AdjustBalanceRequest) (*models.Wallet, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.Amount.IsZero() {
		return nil, invalidf("amount must not be zero")
	}
	if holderID == models.PlatformAccountID || holderID == models.GatewayClearingAccountID {
		return nil, invalidf("system accounts cannot be adjusted")
	}

	clearing := ledger.Posting{HolderID: models.GatewayClearingAccountID, Counter: models.CounterSystem}
	holder := ledger.Posting{HolderID: holderID, Counter: req.Counter}
	from, to := clearing, holder
	if req.Amount.IsNegative() {
		from, to = holder, clearing
	}

	var ref uuid.UUID
	err := s.retry.Do(ctx, "adjust balance", func() error {
		return s.store.RunInTx(ctx, func(tx repository.Tx) error {
			var err error
			ref, err = s.wallets.Transfer(ctx, tx, from, to, req.Amount.Abs(), "adjustment: "+req.Reason, nil)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"actor_id":     actorID,
		"holder_id":    holderID,
		"counter":      req.Counter,
		"amount":       req.Amount.StringFixed(2),
		"reference_id": ref,
	}).Info("Wallet balance adjusted")

	s.audit(ctx, actorID, "wallet_adjusted", holderID, models.JSONB{
		"counter":      string(req.Counter),
		"amount":       req.Amount.String(),
		"reason":       req.Reason,
		"reference_id": ref.String(),
	})
	return s.GetWallet(ctx, holderID)
}

func (s *WalletService) GetPlatformBalance(ctx context.Context) (*models.PlatformBalance, error) {
	return s.store.GetPlatformBalance(ctx)
}

// WithdrawPlatform takes accumulated fee revenue out of the platform. The
// platform ledger records the withdrawal and the platform wallet's system
// counter moves to the clearing account in the same unit. Wallet rows are
// locked before the balance row, the same order settlements take.
func (s *WalletService) WithdrawPlatform(ctx context.Context, actorID uuid.UUID, req *WithdrawPlatformRequest) (*models.PlatformLedgerEntry, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	var entry *models.PlatformLedgerEntry
	err := s.retry.Do(ctx, "platform withdrawal", func() error {
		return s.store.RunInTx(ctx, func(tx repository.Tx) error {
			if _, err := tx.LockWallets(ctx, models.PlatformAccountID, models.GatewayClearingAccountID); err != nil {
				return fmt.Errorf("lock wallets: %w", err)
			}
			var err error
			if entry, err = s.platform.Withdraw(ctx, tx, req.Amount, req.Description); err != nil {
				return err
			}
			_, err = s.wallets.Transfer(ctx, tx,
				ledger.Posting{HolderID: models.PlatformAccountID, Counter: models.CounterSystem},
				ledger.Posting{HolderID: models.GatewayClearingAccountID, Counter: models.CounterSystem},
				req.Amount, "platform withdrawal: "+req.Description, nil)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actorID, "platform_withdrawal", models.PlatformAccountID, models.JSONB{
		"amount":      req.Amount.String(),
		"description": req.Description,
	})
	return entry, nil
}

// VerifyConservation checks that every movement nets to zero and that the
// platform's fee balance matches its wallet.
func (s *WalletService) VerifyConservation(ctx context.Context) (*ConservationReport, error) {
	imbalances, err := s.store.ReferenceImbalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("reference imbalances: %w", err)
	}
	balance, err := s.store.GetPlatformBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("platform balance: %w", err)
	}
	wallet, err := s.GetWallet(ctx, models.PlatformAccountID)
	if err != nil {
		return nil, err
	}

	report := &ConservationReport{
		Imbalances:            imbalances,
		PlatformBalance:       balance.Balance,
		PlatformSystemBalance: wallet.SystemBalance,
	}
	report.Balanced = len(imbalances) == 0 && balance.Balance.Equal(wallet.SystemBalance)
	if !report.Balanced {
		logrus.WithFields(logrus.Fields{
			"imbalances":       len(imbalances),
			"platform_balance": balance.Balance.String(),
			"platform_wallet":  wallet.SystemBalance.String(),
		}).Error("Ledger conservation check failed")
	}
	return report, nil
}

func (s *WalletService) audit(ctx context.Context, actorID uuid.UUID, action string, resourceID uuid.UUID, values models.JSONB) {
	err := s.store.CreateAuditLog(ctx, &models.AuditLog{
		UserID:       &actorID,
		Action:       action,
		ResourceType: "wallet",
		ResourceID:   &resourceID,
		NewValues:    values,
	})
	if err != nil {
		logrus.WithError(err).Error("Failed to write audit log")
	}
}
