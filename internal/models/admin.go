// internal/models/admin.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	BaseModel
	UserID       *uuid.UUID `json:"user_id" gorm:"type:uuid;index"`
	Action       string     `json:"action" gorm:"size:100;not null;index"`
	ResourceType string     `json:"resource_type" gorm:"size:50;not null;index"`
	ResourceID   *uuid.UUID `json:"resource_id" gorm:"type:uuid;index"`
	NewValues    JSONB      `json:"new_values" gorm:"type:jsonb"`
	StatusCode   int        `json:"status_code"`
	IPAddress    string     `json:"ip_address" gorm:"size:45"`
	UserAgent    string     `json:"user_agent" gorm:"type:text"`
}

// UserNotification is the in-app copy of a settlement notification.
type UserNotification struct {
	BaseModel
	UserID              uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;index"`
	Type                string     `json:"type" gorm:"type:varchar(50);not null;index"`
	Title               string     `json:"title" gorm:"size:255;not null"`
	Message             string     `json:"message" gorm:"type:text;not null"`
	Status              string     `json:"status" gorm:"type:varchar(20);default:'unread';index"`
	RelatedResourceType string     `json:"related_resource_type,omitempty" gorm:"size:50"`
	RelatedResourceID   *uuid.UUID `json:"related_resource_id" gorm:"type:uuid"`
	ReadAt              *time.Time `json:"read_at"`
}

// WebhookEvent journals every inbound gateway notification.
type WebhookEvent struct {
	BaseModel
	Gateway       string        `json:"gateway" gorm:"size:20;not null;index"`
	EventType     string        `json:"event_type" gorm:"size:60;not null;index"`
	Status        WebhookStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	TransactionID *uuid.UUID    `json:"transaction_id" gorm:"type:uuid;index"`
	ArchiveKey    string        `json:"archive_key,omitempty" gorm:"size:255"`
	Payload       string        `json:"-" gorm:"type:text"`
	Error         string        `json:"error,omitempty" gorm:"type:text"`
	ProcessedAt   *time.Time    `json:"processed_at"`
}
