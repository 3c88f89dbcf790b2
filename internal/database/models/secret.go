package models

import "github.com/google/uuid"

// Secret tracks a provider-managed secret. Version identifiers are issued
// by the provider; the registry only records the last -> current handover,
// which must happen in a single atomic update.
type Secret struct {
	Base
	OrganisationID uuid.UUID `gorm:"type:uuid;index;not null" json:"organisation_id"`

	SecretID         string  `gorm:"uniqueIndex;not null" json:"secret_id"`
	CurrentVersionID string  `gorm:"not null" json:"current_version_id"`
	LastVersionID    *string `json:"last_version_id,omitempty"`

	Organisation *Organisation `gorm:"foreignKey:OrganisationID" json:"-"`
}

func (Secret) TableName() string {
	return "secrets"
}

func (Secret) EntityType() string {
	return EntityTypeSecret
}

// The provider-issued current version id doubles as the optimistic token.
func (s *Secret) CurrentVersion() string {
	return s.CurrentVersionID
}

func (s *Secret) SetVersion(token string) {
	s.CurrentVersionID = token
}
