// internal/models/wallet.go
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Wallet struct {
	BaseModel
	HolderID      uuid.UUID       `json:"holder_id" gorm:"type:uuid;not null;uniqueIndex"`
	Spendable     decimal.Decimal `json:"spendable" gorm:"type:numeric(20,4);not null;default:0"`
	Pending       decimal.Decimal `json:"pending" gorm:"type:numeric(20,4);not null;default:0"`
	Payout        decimal.Decimal `json:"payout" gorm:"type:numeric(20,4);not null;default:0"`
	SystemBalance decimal.Decimal `json:"system_balance" gorm:"type:numeric(20,4);not null;default:0"`
}

// Balance returns the current value of one counter.
func (w *Wallet) Balance(counter WalletCounter) (decimal.Decimal, error) {
	switch counter {
	case CounterSpendable:
		return w.Spendable, nil
	case CounterPending:
		return w.Pending, nil
	case CounterPayout:
		return w.Payout, nil
	case CounterSystem:
		return w.SystemBalance, nil
	}
	return decimal.Zero, fmt.Errorf("unknown wallet counter %q", counter)
}

// Apply adds a signed delta to one counter.
func (w *Wallet) Apply(counter WalletCounter, delta decimal.Decimal) error {
	switch counter {
	case CounterSpendable:
		w.Spendable = w.Spendable.Add(delta)
	case CounterPending:
		w.Pending = w.Pending.Add(delta)
	case CounterPayout:
		w.Payout = w.Payout.Add(delta)
	case CounterSystem:
		w.SystemBalance = w.SystemBalance.Add(delta)
	default:
		return fmt.Errorf("unknown wallet counter %q", counter)
	}
	return nil
}

// WalletLedgerEntry is one append-only counter mutation. Entries of the same
// logical movement share ReferenceID and sum to zero.
type WalletLedgerEntry struct {
	ID            uuid.UUID       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	HolderID      uuid.UUID       `json:"holder_id" gorm:"type:uuid;not null;index"`
	WalletID      uuid.UUID       `json:"wallet_id" gorm:"type:uuid;not null"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:numeric(20,4);not null"`
	Counter       WalletCounter   `json:"counter" gorm:"type:varchar(20);not null"`
	Direction     EntryDirection  `json:"direction" gorm:"type:varchar(10);not null"`
	ReferenceID   uuid.UUID       `json:"reference_id" gorm:"type:uuid;not null;index"`
	TransactionID *uuid.UUID      `json:"transaction_id" gorm:"type:uuid;index"`
	Status        EntryStatus     `json:"status" gorm:"type:varchar(20);not null"`
	Description   string          `json:"description" gorm:"size:255"`
	BalanceAfter  decimal.Decimal `json:"balance_after" gorm:"type:numeric(20,4);not null"`
	CreatedAt     time.Time       `json:"created_at"`
}

// PlatformBalance is the single row holding the platform's running fee balance.
type PlatformBalance struct {
	ID        uint            `json:"-" gorm:"primaryKey"`
	Balance   decimal.Decimal `json:"balance" gorm:"type:numeric(20,4);not null;default:0"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PlatformLedgerEntry records one signed change of platform fee revenue.
type PlatformLedgerEntry struct {
	ID             uuid.UUID       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TransactionID  *uuid.UUID      `json:"transaction_id" gorm:"type:uuid;index"`
	FeeAmount      decimal.Decimal `json:"fee_amount" gorm:"type:numeric(20,4);not null"`
	FeePercent     decimal.Decimal `json:"fee_percent" gorm:"type:numeric(7,4);not null"`
	Category       FeeCategory     `json:"category" gorm:"type:varchar(20);not null;index"`
	OriginalAmount decimal.Decimal `json:"original_amount" gorm:"type:numeric(20,4);not null"`
	SenderID       *uuid.UUID      `json:"sender_id" gorm:"type:uuid"`
	ReceiverID     *uuid.UUID      `json:"receiver_id" gorm:"type:uuid"`
	BalanceDelta   decimal.Decimal `json:"balance_delta" gorm:"type:numeric(20,4);not null"`
	BalanceAfter   decimal.Decimal `json:"balance_after" gorm:"type:numeric(20,4);not null"`
	Description    string          `json:"description" gorm:"size:255"`
	CreatedAt      time.Time       `json:"created_at"`
}
