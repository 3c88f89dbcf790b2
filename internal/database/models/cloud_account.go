package models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type CloudProvider string

const (
	ProviderAWS          CloudProvider = "aws"
	ProviderGCP          CloudProvider = "gcp"
	ProviderAzure        CloudProvider = "azure"
	ProviderDigitalOcean CloudProvider = "digitalocean"
	ProviderCloudflare   CloudProvider = "cloudflare"
)

type CloudAccount struct {
	Base
	Versioned
	OrganisationID uuid.UUID `gorm:"type:uuid;index;not null" json:"organisation_id"`

	Provider          CloudProvider `gorm:"not null;uniqueIndex:cloud_account_provider_identifier_unique" json:"provider"`
	AccountIdentifier string        `gorm:"not null;uniqueIndex:cloud_account_provider_identifier_unique" json:"account_identifier"`

	// Encrypted provider credentials (age encrypted blob, opaque to the core)
	EncryptedCredentials []byte `gorm:"type:bytea" json:"-"`

	Region   string         `json:"region,omitempty"`
	Metadata datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`

	// Relationships. Environments hold an ON DELETE RESTRICT foreign key
	// back to this account; the registry refuses deletion while any exist.
	Organisation *Organisation `gorm:"foreignKey:OrganisationID" json:"-"`
	Environments []Environment `gorm:"foreignKey:CloudAccountID" json:"-"`
}

func (CloudAccount) TableName() string {
	return "cloud_account"
}

func (CloudAccount) EntityType() string {
	return EntityTypeCloudAccount
}
