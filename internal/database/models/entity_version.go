package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// EntityVersion is one row of the append-only version ledger. Rows are
// never updated or deleted; ordering within an entity is by the
// auto-increment id, not by parsing the version token.
type EntityVersion struct {
	ID uint `gorm:"primarykey" json:"id"`

	EntityType string    `gorm:"not null;index:idx_entity_versions_entity,priority:1" json:"entity_type"`
	EntityID   uuid.UUID `gorm:"type:uuid;not null;index:idx_entity_versions_entity,priority:2" json:"entity_id"`

	Version     string    `gorm:"not null" json:"version"`
	FromVersion *string   `json:"from_version,omitempty"`
	Operation   Operation `gorm:"not null" json:"operation"`

	Metadata datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (EntityVersion) TableName() string {
	return "entity_versions"
}
