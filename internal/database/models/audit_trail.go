package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditTrail records user-attributable actions for compliance and
// forensic replay, independent of entity versioning. UserID is nullable
// so unauthenticated attempts can be recorded too.
type AuditTrail struct {
	ID uint `gorm:"primarykey" json:"id"`

	Action string     `gorm:"not null;index" json:"action"`
	UserID *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	Entity string     `gorm:"not null" json:"entity"`
	Value  string     `gorm:"type:text" json:"value,omitempty"`
	Status string     `gorm:"not null" json:"status"` // success, failed

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (AuditTrail) TableName() string {
	return "audit_trail"
}
