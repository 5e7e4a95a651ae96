// internal/models/subscription.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Subscription struct {
	BaseModel
	SubscriberID        uuid.UUID          `json:"subscriber_id" gorm:"type:uuid;not null;uniqueIndex:idx_subscriptions_pair"`
	CreatorID           uuid.UUID          `json:"creator_id" gorm:"type:uuid;not null;uniqueIndex:idx_subscriptions_pair"`
	TierID              *uuid.UUID         `json:"tier_id" gorm:"type:uuid"`
	Amount              decimal.Decimal    `json:"amount" gorm:"type:numeric(20,4);not null"`
	Status              SubscriptionStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	StartDate           time.Time          `json:"start_date"`
	EndDate             time.Time          `json:"end_date" gorm:"index"`
	DurationMonths      int                `json:"duration_months" gorm:"not null"`
	ExternalID          *string            `json:"external_id,omitempty" gorm:"size:255;index"`
	OriginTransactionID uuid.UUID          `json:"origin_transaction_id" gorm:"type:uuid;not null"`
	LatestTransactionID uuid.UUID          `json:"latest_transaction_id" gorm:"type:uuid;not null"`
	AutoRenew           bool               `json:"auto_renew" gorm:"not null;default:false"`
	CanceledAt          *time.Time         `json:"canceled_at,omitempty"`
}

// IsActiveAt reports whether the subscription grants access at t. Canceled
// self-service subscriptions keep access until their paid-through end.
func (s *Subscription) IsActiveAt(t time.Time) bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusCanceled:
		return t.Before(s.EndDate)
	default:
		return false
	}
}

// SubscriptionTier is a creator's offer; prices are kept per duration.
type SubscriptionTier struct {
	BaseModel
	CreatorID uuid.UUID   `json:"creator_id" gorm:"type:uuid;not null;index"`
	Name      string      `json:"name" gorm:"size:100;not null"`
	Currency  string      `json:"currency" gorm:"size:3;not null;default:'USD'"`
	IsActive  bool        `json:"is_active" gorm:"not null"`
	Prices    []TierPrice `json:"prices" gorm:"foreignKey:TierID"`
}

type TierPrice struct {
	BaseModel
	TierID         uuid.UUID       `json:"tier_id" gorm:"type:uuid;not null;uniqueIndex:idx_tier_prices_duration"`
	DurationMonths int             `json:"duration_months" gorm:"not null;uniqueIndex:idx_tier_prices_duration"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:numeric(20,4);not null"`
}

// PriceFor returns the price for a duration from the tier's schedule.
func (t *SubscriptionTier) PriceFor(months int) (decimal.Decimal, bool) {
	for _, p := range t.Prices {
		if p.DurationMonths == months {
			return p.Amount, true
		}
	}
	return decimal.Zero, false
}
