package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Entity type names used by the version ledger and audit trail.
const (
	EntityTypeOrganisation = "organisation"
	EntityTypeCloudAccount = "cloud_account"
	EntityTypeEnvironment  = "environment"
	EntityTypeApplication  = "application"
	EntityTypeTag          = "tag"
	EntityTypeSecret       = "secret"
)

// Base model with UUID primary key and timestamps
type Base struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

func (b *Base) EntityID() uuid.UUID {
	return b.ID
}

// Versioned adds the optimistic-concurrency token column shared by
// registry-managed entities. Outside the in-flight window of a single
// mutation the stored value always matches the latest ledger entry.
type Versioned struct {
	Version string `gorm:"not null;default:''" json:"version"`
}

func (v *Versioned) CurrentVersion() string {
	return v.Version
}

func (v *Versioned) SetVersion(token string) {
	v.Version = token
}

// Entity is implemented by every model the resource registry manages.
type Entity interface {
	EntityType() string
	EntityID() uuid.UUID
	CurrentVersion() string
	SetVersion(token string)
}
