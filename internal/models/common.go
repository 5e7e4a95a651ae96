// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// System accounts. They own wallets like any holder but only their signed
// system counter ever moves.
var (
	PlatformAccountID        = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	GatewayClearingAccountID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

// Enums
type UserRole string

const (
	UserRoleFan     UserRole = "fan"
	UserRoleCreator UserRole = "creator"
	UserRoleAdmin   UserRole = "admin"
	UserRoleSystem  UserRole = "system"
)

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusBanned    UserStatus = "banned"
)

type TransactionKind string

const (
	TransactionKindTip                 TransactionKind = "tip"
	TransactionKindOneTimePurchase     TransactionKind = "one-time-purchase"
	TransactionKindSubscription1Month  TransactionKind = "subscription-1-month"
	TransactionKindSubscription2Month  TransactionKind = "subscription-2-month"
	TransactionKindSubscription3Month  TransactionKind = "subscription-3-month"
	TransactionKindSubscription6Month  TransactionKind = "subscription-6-month"
	TransactionKindSubscription12Month TransactionKind = "subscription-12-month"
	TransactionKindSubscriptionRenewal TransactionKind = "subscription-renewal"
)

var subscriptionMonths = map[TransactionKind]int{
	TransactionKindSubscription1Month:  1,
	TransactionKindSubscription2Month:  2,
	TransactionKindSubscription3Month:  3,
	TransactionKindSubscription6Month:  6,
	TransactionKindSubscription12Month: 12,
}

// Valid reports whether k is one of the recognized kinds.
func (k TransactionKind) Valid() bool {
	switch k {
	case TransactionKindTip, TransactionKindOneTimePurchase, TransactionKindSubscriptionRenewal:
		return true
	}
	_, ok := subscriptionMonths[k]
	return ok
}

// IsSubscription covers the initial subscription kinds and renewals.
func (k TransactionKind) IsSubscription() bool {
	if k == TransactionKindSubscriptionRenewal {
		return true
	}
	_, ok := subscriptionMonths[k]
	return ok
}

// Months returns the paid duration of an initial subscription kind, or 0.
func (k TransactionKind) Months() int {
	return subscriptionMonths[k]
}

// SubscriptionKindForMonths maps a duration back to its purchase kind.
func SubscriptionKindForMonths(months int) (TransactionKind, bool) {
	for kind, m := range subscriptionMonths {
		if m == months {
			return kind, true
		}
	}
	return "", false
}

type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"
	TransactionStatusApproved TransactionStatus = "approved"
	TransactionStatusDeclined TransactionStatus = "declined"
	TransactionStatusRefunded TransactionStatus = "refunded"
)

type SettlementMethod string

const (
	SettlementMethodInternalWallet  SettlementMethod = "internal-wallet"
	SettlementMethodExternalGateway SettlementMethod = "external-gateway"
	SettlementMethodTestAdapter     SettlementMethod = "test-adapter"
)

type WalletCounter string

const (
	CounterSpendable WalletCounter = "spendable"
	CounterPending   WalletCounter = "pending"
	CounterPayout    WalletCounter = "payout"
	// CounterSystem is signed and only used by system accounts.
	CounterSystem WalletCounter = "system"
)

type EntryDirection string

const (
	DirectionCredit EntryDirection = "credit"
	DirectionDebit  EntryDirection = "debit"
)

// EntryStatus mirrors the owning transaction's state; entries without a
// transaction are system adjustments.
type EntryStatus string

const (
	EntryStatusApproved EntryStatus = "approved"
	EntryStatusRefunded EntryStatus = "refunded"
	EntryStatusSystem   EntryStatus = "system"
)

type FeeCategory string

const (
	FeeCategorySubscription   FeeCategory = "subscription"
	FeeCategoryTip            FeeCategory = "tip"
	FeeCategoryMediaPurchase  FeeCategory = "media-purchase"
	FeeCategoryRefundReversal FeeCategory = "refund-reversal"
	FeeCategoryOther          FeeCategory = "other"
	FeeCategoryWithdrawal     FeeCategory = "withdrawal"
)

// FeeCategoryFor maps a transaction kind to its platform ledger category.
func FeeCategoryFor(kind TransactionKind) FeeCategory {
	switch {
	case kind.IsSubscription():
		return FeeCategorySubscription
	case kind == TransactionKindTip:
		return FeeCategoryTip
	case kind == TransactionKindOneTimePurchase:
		return FeeCategoryMediaPurchase
	default:
		return FeeCategoryOther
	}
}

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCanceled  SubscriptionStatus = "canceled"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

type ReferralStatus string

const (
	ReferralStatusActive   ReferralStatus = "active"
	ReferralStatusInactive ReferralStatus = "inactive"
)

type EarnerRole string

const (
	EarnerRoleUserReferrer    EarnerRole = "user-referrer"
	EarnerRoleCreatorReferrer EarnerRole = "creator-referrer"
)

type EarningStatus string

const (
	EarningStatusPending EarningStatus = "pending"
	EarningStatusPaid    EarningStatus = "paid"
)

type WebhookStatus string

const (
	WebhookStatusReceived  WebhookStatus = "received"
	WebhookStatusProcessed WebhookStatus = "processed"
	WebhookStatusIgnored   WebhookStatus = "ignored"
	WebhookStatusRejected  WebhookStatus = "rejected"
	WebhookStatusFailed    WebhookStatus = "failed"
	// WebhookStatusHeld is acknowledged but needs an operator, e.g. a
	// partial refund the ledger cannot book on its own.
	WebhookStatusHeld WebhookStatus = "held"
)
