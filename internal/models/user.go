// internal/models/user.go
package models

import (
	"time"
)

// User is the account directory record the ledger reads; profile management
// lives in another service.
type User struct {
	BaseModel
	Username    string     `json:"username" gorm:"uniqueIndex;size:50;not null"`
	Email       string     `json:"email" gorm:"uniqueIndex;size:255;not null"`
	Role        UserRole   `json:"role" gorm:"type:varchar(20);not null"`
	Status      UserStatus `json:"status" gorm:"type:varchar(20);default:'active'"`
	ProfileData JSONB      `json:"profile_data" gorm:"type:jsonb"`
	LastLoginAt *time.Time `json:"last_login_at"`

	// Relationships
	Wallet *Wallet `json:"wallet,omitempty" gorm:"foreignKey:HolderID"`
}

func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}
