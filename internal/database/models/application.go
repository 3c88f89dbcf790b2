package models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Application struct {
	Base
	Versioned
	OrganisationID uuid.UUID `gorm:"type:uuid;index;not null" json:"organisation_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description,omitempty"`

	// Relationships
	Organisation *Organisation               `gorm:"foreignKey:OrganisationID" json:"-"`
	Mappings     []ApplicationEnvironmentTag `gorm:"foreignKey:ApplicationID" json:"-"`
}

func (Application) TableName() string {
	return "applications"
}

func (Application) EntityType() string {
	return EntityTypeApplication
}

// Tag is a named label shared across applications.
type Tag struct {
	Base
	Versioned
	Name     string         `gorm:"uniqueIndex;not null" json:"name"`
	Features datatypes.JSON `gorm:"type:jsonb" json:"features,omitempty"`
}

func (Tag) TableName() string {
	return "tags"
}

func (Tag) EntityType() string {
	return EntityTypeTag
}

// ApplicationEnvironmentTag joins an application to a tag within an
// environment. The triple is unique.
type ApplicationEnvironmentTag struct {
	Base
	ApplicationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:unique_app_env_tag_mapping" json:"application_id"`
	TagID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:unique_app_env_tag_mapping" json:"tag_id"`
	EnvironmentID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:unique_app_env_tag_mapping" json:"environment_id"`

	Application *Application `gorm:"foreignKey:ApplicationID" json:"-"`
	Tag         *Tag         `gorm:"foreignKey:TagID" json:"-"`
	Environment *Environment `gorm:"foreignKey:EnvironmentID" json:"-"`
}

func (ApplicationEnvironmentTag) TableName() string {
	return "application_environment_tag_mapping"
}
