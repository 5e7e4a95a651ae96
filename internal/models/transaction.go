// internal/models/transaction.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is one purchase intent and its single settlement outcome.
type Transaction struct {
	BaseModel
	Token            string            `json:"token" gorm:"size:64;not null;uniqueIndex"`
	PayerID          uuid.UUID         `json:"payer_id" gorm:"type:uuid;not null;index"`
	RecipientID      *uuid.UUID        `json:"recipient_id" gorm:"type:uuid;index"`
	Amount           decimal.Decimal   `json:"amount" gorm:"type:numeric(20,4);not null"`
	Currency         string            `json:"currency" gorm:"size:3;not null;default:'USD'"`
	Kind             TransactionKind   `json:"kind" gorm:"type:varchar(32);not null;index"`
	Status           TransactionStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	SettlementMethod SettlementMethod  `json:"settlement_method" gorm:"type:varchar(20);not null"`
	Gateway          string            `json:"gateway,omitempty" gorm:"size:20;uniqueIndex:idx_transactions_gateway_ref"`
	GatewayReference *string           `json:"gateway_reference,omitempty" gorm:"size:255;uniqueIndex:idx_transactions_gateway_ref"`
	Digest           string            `json:"-" gorm:"size:128"`

	TierID          *uuid.UUID `json:"tier_id,omitempty" gorm:"type:uuid"`
	SubscriptionID  *uuid.UUID `json:"subscription_id,omitempty" gorm:"type:uuid;index"`
	TrackingLinkID  *uuid.UUID `json:"tracking_link_id,omitempty" gorm:"type:uuid"`
	PurchasableKind string     `json:"purchasable_kind,omitempty" gorm:"size:20"`
	PurchasableID   *uuid.UUID `json:"purchasable_id,omitempty" gorm:"type:uuid;index"`
	Metadata        JSONB      `json:"metadata,omitempty" gorm:"type:jsonb"`

	FeePercent  decimal.Decimal `json:"fee_percent" gorm:"type:numeric(7,4);not null"`
	PlatformFee decimal.Decimal `json:"platform_fee" gorm:"type:numeric(20,4);not null;default:0"`
	NetAmount   decimal.Decimal `json:"net_amount" gorm:"type:numeric(20,4);not null;default:0"`

	DeclineReason      string     `json:"decline_reason,omitempty" gorm:"type:text"`
	RefundReason       string     `json:"refund_reason,omitempty" gorm:"type:text"`
	ProcessedAt        *time.Time `json:"processed_at"`
	RefundedAt         *time.Time `json:"refunded_at"`
	ClearanceDueAt     *time.Time `json:"clearance_due_at,omitempty" gorm:"index"`
	ClearedAt          *time.Time `json:"cleared_at,omitempty"`
	ReferralsProcessed bool       `json:"-" gorm:"not null;default:false"`
}

// UsesInternalWallet reports whether the payer's own wallet funds the transaction.
func (t *Transaction) UsesInternalWallet() bool {
	return t.SettlementMethod == SettlementMethodInternalWallet
}

// HoldsPendingEarnings reports whether the net credit still sits in the
// recipient's pending-clearance counter.
func (t *Transaction) HoldsPendingEarnings() bool {
	return t.ClearanceDueAt != nil && t.ClearedAt == nil
}

// CanTransitionTo enforces pending -> approved|declined and approved -> refunded.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch s {
	case TransactionStatusPending:
		return next == TransactionStatusApproved || next == TransactionStatusDeclined
	case TransactionStatusApproved:
		return next == TransactionStatusRefunded
	default:
		return false
	}
}

// TrackingAttribution records which tracking link produced a settled action.
type TrackingAttribution struct {
	BaseModel
	TrackingLinkID uuid.UUID `json:"tracking_link_id" gorm:"type:uuid;not null;index"`
	TransactionID  uuid.UUID `json:"transaction_id" gorm:"type:uuid;not null;index"`
	Action         string    `json:"action" gorm:"size:40;not null"`
}
