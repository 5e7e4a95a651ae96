// internal/models/content.go
package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PermissionKind string

const (
	PermissionFree         PermissionKind = "free"
	PermissionSubscription PermissionKind = "subscription"
	PermissionPurchase     PermissionKind = "purchase"
)

// PermissionSet is one way a viewer can unlock an item. Any satisfied set grants access.
type PermissionSet struct {
	Kind  PermissionKind  `json:"kind"`
	Price decimal.Decimal `json:"price,omitempty"`
}

// Purchasable is implemented by every content kind that can be unlocked.
type Purchasable interface {
	OwnerID() uuid.UUID
	HasMedia() bool
	PermissionSets() []PermissionSet
}

const (
	PurchasableKindPost    = "post"
	PurchasableKindMessage = "message"
)

// PurchasableRef identifies an item inside a transaction's correlation payload.
type PurchasableRef struct {
	Kind string    `json:"kind" validate:"required,oneof=post message"`
	ID   uuid.UUID `json:"id" validate:"required"`
}

type Post struct {
	BaseModel
	CreatorID       uuid.UUID       `json:"creator_id" gorm:"type:uuid;not null;index"`
	Text            string          `json:"text" gorm:"type:text"`
	MediaCount      int             `json:"media_count" gorm:"not null;default:0"`
	SubscribersOnly bool            `json:"subscribers_only" gorm:"not null"`
	Price           decimal.Decimal `json:"price" gorm:"type:numeric(20,4);not null;default:0"`
}

func (p *Post) OwnerID() uuid.UUID { return p.CreatorID }

func (p *Post) HasMedia() bool { return p.MediaCount > 0 }

func (p *Post) PermissionSets() []PermissionSet {
	var sets []PermissionSet
	if !p.SubscribersOnly && p.Price.IsZero() {
		sets = append(sets, PermissionSet{Kind: PermissionFree})
	}
	if p.SubscribersOnly {
		sets = append(sets, PermissionSet{Kind: PermissionSubscription})
	}
	if p.Price.IsPositive() {
		sets = append(sets, PermissionSet{Kind: PermissionPurchase, Price: p.Price})
	}
	return sets
}

// Message is a direct message; paid messages unlock by purchase only.
type Message struct {
	BaseModel
	SenderID   uuid.UUID       `json:"sender_id" gorm:"type:uuid;not null;index"`
	ReceiverID uuid.UUID       `json:"receiver_id" gorm:"type:uuid;not null;index"`
	Text       string          `json:"text" gorm:"type:text"`
	MediaCount int             `json:"media_count" gorm:"not null;default:0"`
	Price      decimal.Decimal `json:"price" gorm:"type:numeric(20,4);not null;default:0"`
}

func (m *Message) OwnerID() uuid.UUID { return m.SenderID }

func (m *Message) HasMedia() bool { return m.MediaCount > 0 }

func (m *Message) PermissionSets() []PermissionSet {
	if m.Price.IsPositive() {
		return []PermissionSet{{Kind: PermissionPurchase, Price: m.Price}}
	}
	return []PermissionSet{{Kind: PermissionFree}}
}
