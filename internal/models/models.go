package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// BaseModel provides common fields and auto-generated ULID for all models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// AuthEventType names an authentication state transition
type AuthEventType string

const (
	AuthEventSignedIn     AuthEventType = "signed_in"
	AuthEventSignedOut    AuthEventType = "signed_out"
	AuthEventLoginFailed  AuthEventType = "login_failed"
	AuthEventLogoutFailed AuthEventType = "logout_failed"
)

// AuthEvent is one entry of the authentication audit log. Tokens are never
// stored.
type AuthEvent struct {
	BaseModel
	Type   AuthEventType `json:"type" gorm:"type:varchar(32);not null;index"`
	UserID string        `json:"user_id" gorm:"type:varchar(128)"`
	Email  string        `json:"email"`
	Detail string        `json:"detail" gorm:"type:text"`
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&AuthEvent{})
}
