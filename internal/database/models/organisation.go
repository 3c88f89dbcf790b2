package models

type Organisation struct {
	Base
	Versioned
	Name string `gorm:"not null" json:"name"`
	Slug string `gorm:"uniqueIndex;not null" json:"slug"`
	Plan string `gorm:"default:'free'" json:"plan"` // free, pro, enterprise

	MaxCloudAccounts int `gorm:"default:10" json:"max_cloud_accounts"`
	MaxEnvironments  int `gorm:"default:25" json:"max_environments"`

	// Relationships
	CloudAccounts []CloudAccount `gorm:"foreignKey:OrganisationID" json:"-"`
	Environments  []Environment  `gorm:"foreignKey:OrganisationID" json:"-"`
	Applications  []Application  `gorm:"foreignKey:OrganisationID" json:"-"`
	Secrets       []Secret       `gorm:"foreignKey:OrganisationID" json:"-"`
}

func (Organisation) TableName() string {
	return "organisation"
}

func (Organisation) EntityType() string {
	return EntityTypeOrganisation
}
