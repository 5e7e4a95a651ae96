// internal/models/referral.go
package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Referral links a referrer to the account they brought to the platform.
type Referral struct {
	BaseModel
	ReferrerID   uuid.UUID      `json:"referrer_id" gorm:"type:uuid;not null;index"`
	ReferredID   uuid.UUID      `json:"referred_id" gorm:"type:uuid;not null;uniqueIndex"`
	ReferredRole UserRole       `json:"referred_role" gorm:"type:varchar(20);not null"`
	Status       ReferralStatus `json:"status" gorm:"type:varchar(20);not null;default:'active'"`
}

type ReferralEarning struct {
	BaseModel
	ReferralID    uuid.UUID       `json:"referral_id" gorm:"type:uuid;not null;index"`
	ReferrerID    uuid.UUID       `json:"referrer_id" gorm:"type:uuid;not null;index"`
	TransactionID uuid.UUID       `json:"transaction_id" gorm:"type:uuid;not null;uniqueIndex:idx_referral_earnings_txn_role"`
	Role          EarnerRole      `json:"role" gorm:"type:varchar(20);not null;uniqueIndex:idx_referral_earnings_txn_role"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:numeric(20,4);not null"`
	Status        EarningStatus   `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
}
