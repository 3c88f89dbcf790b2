package models

import "github.com/google/uuid"

type EnvironmentState string

const (
	EnvironmentStateCreating EnvironmentState = "CREATING"
	EnvironmentStateActive   EnvironmentState = "ACTIVE"
	EnvironmentStateUpdating EnvironmentState = "UPDATING"
	EnvironmentStateFailed   EnvironmentState = "FAILED"
	EnvironmentStateDeleting EnvironmentState = "DELETING"
)

type Environment struct {
	Base
	Versioned
	OrganisationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:environments_name_org_id_unique" json:"organisation_id"`
	CloudAccountID uuid.UUID `gorm:"type:uuid;index;not null" json:"cloud_account_id"`

	Name  string           `gorm:"not null;uniqueIndex:environments_name_org_id_unique" json:"name"`
	State EnvironmentState `gorm:"not null;index;default:'CREATING'" json:"state"`

	VpcID  *string `json:"vpc_id,omitempty"`
	Region string  `json:"region,omitempty"`

	// Last provisioning error, surfaced on FAILED
	Error string `json:"error,omitempty"`

	// Relationships
	Organisation *Organisation `gorm:"foreignKey:OrganisationID" json:"-"`
	CloudAccount *CloudAccount `gorm:"foreignKey:CloudAccountID;constraint:OnDelete:RESTRICT" json:"-"`
}

func (Environment) TableName() string {
	return "environments"
}

func (Environment) EntityType() string {
	return EntityTypeEnvironment
}
