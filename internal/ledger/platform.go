package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/fanvault-backend/internal/models"
	"github.com/javajoker/fanvault-backend/internal/repository"
)

// FeeRecord is one signed change of platform revenue.
type FeeRecord struct {
	TransactionID  *uuid.UUID
	FeeAmount      decimal.Decimal
	OriginalAmount decimal.Decimal
	FeePercent     decimal.Decimal
	Category       models.FeeCategory
	SenderID       *uuid.UUID
	ReceiverID     *uuid.UUID
	Description    string
}

// PlatformLedger keeps the platform's running fee balance.
type PlatformLedger struct{}

func NewPlatformLedger() *PlatformLedger {
	return &PlatformLedger{}
}

// RecordFee applies a signed fee to the running balance. Negative fees are
// never checked against zero; a refund after a withdrawal can leave the
// balance negative.
func (p *PlatformLedger) RecordFee(ctx context.Context, tx repository.Tx, rec FeeRecord) (*models.PlatformLedgerEntry, error) {
	balance, err := tx.LockPlatformBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock platform balance: %w", err)
	}

	entry, err := p.append(ctx, tx, balance, rec)
	if err != nil {
		return nil, err
	}
	if balance.Balance.IsNegative() {
		logrus.WithFields(logrus.Fields{
			"transaction_id": rec.TransactionID,
			"fee_amount":     rec.FeeAmount.String(),
			"balance":        balance.Balance.String(),
			"category":       rec.Category,
		}).Warn("Platform balance is negative after fee entry")
	}
	return entry, nil
}

func (p *PlatformLedger) Withdraw(ctx context.Context, tx repository.Tx, amount decimal.Decimal, description string) (*models.PlatformLedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	balance, err := tx.LockPlatformBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock platform balance: %w", err)
	}
	if amount.GreaterThan(balance.Balance) {
		return nil, fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientBalance, balance.Balance.StringFixed(2), amount.StringFixed(2))
	}

	return p.append(ctx, tx, balance, FeeRecord{
		FeeAmount:      amount.Neg(),
		OriginalAmount: amount,
		FeePercent:     decimal.Zero,
		Category:       models.FeeCategoryWithdrawal,
		Description:    description,
	})
}

func (p *PlatformLedger) append(ctx context.Context, tx repository.Tx, balance *models.PlatformBalance, rec FeeRecord) (*models.PlatformLedgerEntry, error) {
	balance.Balance = balance.Balance.Add(rec.FeeAmount)
	if err := tx.SavePlatformBalance(ctx, balance); err != nil {
		return nil, fmt.Errorf("save platform balance: %w", err)
	}

	entry := &models.PlatformLedgerEntry{
		TransactionID:  rec.TransactionID,
		FeeAmount:      rec.FeeAmount,
		FeePercent:     rec.FeePercent,
		Category:       rec.Category,
		OriginalAmount: rec.OriginalAmount,
		SenderID:       rec.SenderID,
		ReceiverID:     rec.ReceiverID,
		BalanceDelta:   rec.FeeAmount,
		BalanceAfter:   balance.Balance,
		Description:    rec.Description,
	}
	if err := tx.AppendPlatformEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("append platform entry: %w", err)
	}
	return entry, nil
}
