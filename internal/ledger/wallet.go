package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/javajoker/fanvault-backend/internal/models"
	"github.com/javajoker/fanvault-backend/internal/repository"
)

// Posting addresses one counter of one holder's wallet.
type Posting struct {
	HolderID uuid.UUID
	Counter  models.WalletCounter
}

func (p Posting) String() string {
	return p.HolderID.String() + "." + string(p.Counter)
}

// Reference ties the entries of one logical movement together.
type Reference struct {
	ID            uuid.UUID
	TransactionID *uuid.UUID
	Status        models.EntryStatus
}

// NewReference allocates the shared id for one movement. Entries without a
// transaction are recorded as system adjustments.
func NewReference(transactionID *uuid.UUID) Reference {
	status := models.EntryStatusApproved
	if transactionID == nil {
		status = models.EntryStatusSystem
	}
	return Reference{ID: uuid.New(), TransactionID: transactionID, Status: status}
}

// WalletLedger mutates wallet counters inside a caller-held unit of work.
// Every mutation appends exactly one entry.
type WalletLedger struct{}

func NewWalletLedger() *WalletLedger {
	return &WalletLedger{}
}

func (l *WalletLedger) Credit(ctx context.Context, tx repository.Tx, p Posting, amount decimal.Decimal, description string, ref Reference) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return l.apply(ctx, tx, p, amount, models.DirectionCredit, description, ref)
}

// Debit refuses to take a holder counter below zero. The signed system
// counter of the platform and clearing accounts is exempt.
func (l *WalletLedger) Debit(ctx context.Context, tx repository.Tx, p Posting, amount decimal.Decimal, description string, ref Reference) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return l.apply(ctx, tx, p, amount.Neg(), models.DirectionDebit, description, ref)
}

func (l *WalletLedger) apply(ctx context.Context, tx repository.Tx, p Posting, delta decimal.Decimal, dir models.EntryDirection, description string, ref Reference) (*models.Wallet, error) {
	wallets, err := tx.LockWallets(ctx, p.HolderID)
	if err != nil {
		return nil, fmt.Errorf("lock wallet %s: %w", p.HolderID, err)
	}
	w := wallets[p.HolderID]

	current, err := w.Balance(p.Counter)
	if err != nil {
		return nil, err
	}
	next := current.Add(delta)
	if p.Counter != models.CounterSystem && next.IsNegative() {
		return nil, fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, p, current.StringFixed(2), delta.Neg().StringFixed(2))
	}
	if err := w.Apply(p.Counter, delta); err != nil {
		return nil, err
	}
	if err := tx.SaveWallet(ctx, w); err != nil {
		return nil, fmt.Errorf("save wallet %s: %w", p.HolderID, err)
	}

	entry := &models.WalletLedgerEntry{
		HolderID:      p.HolderID,
		WalletID:      w.ID,
		Amount:        delta,
		Counter:       p.Counter,
		Direction:     dir,
		ReferenceID:   ref.ID,
		TransactionID: ref.TransactionID,
		Status:        ref.Status,
		Description:   description,
		BalanceAfter:  next,
	}
	if err := tx.AppendWalletEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("append wallet entry: %w", err)
	}
	return w, nil
}

// Transfer moves amount between two postings under one reference id. Both
// wallets are locked in ascending holder order before either side moves.
func (l *WalletLedger) Transfer(ctx context.Context, tx repository.Tx, from, to Posting, amount decimal.Decimal, description string, transactionID *uuid.UUID) (uuid.UUID, error) {
	if !amount.IsPositive() {
		return uuid.Nil, ErrInvalidAmount
	}
	if _, err := tx.LockWallets(ctx, from.HolderID, to.HolderID); err != nil {
		return uuid.Nil, fmt.Errorf("lock wallets: %w", err)
	}

	ref := NewReference(transactionID)
	if _, err := l.Debit(ctx, tx, from, amount, description, ref); err != nil {
		return uuid.Nil, err
	}
	if _, err := l.Credit(ctx, tx, to, amount, description, ref); err != nil {
		return uuid.Nil, err
	}
	return ref.ID, nil
}

// MovePendingToAvailable clears earnings from the pending counter into the
// payout counter of the same wallet.
func (l *WalletLedger) MovePendingToAvailable(ctx context.Context, tx repository.Tx, holderID uuid.UUID, amount decimal.Decimal, transactionID *uuid.UUID) (uuid.UUID, error) {
	return l.Transfer(ctx, tx,
		Posting{HolderID: holderID, Counter: models.CounterPending},
		Posting{HolderID: holderID, Counter: models.CounterPayout},
		amount, "earnings cleared", transactionID)
}
