package registry

import (
	"fmt"

	"github.com/google/uuid"
)

// NotFoundError is returned when the addressed entity does not exist.
type NotFoundError struct {
	EntityType string
	EntityID   uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.EntityType, e.EntityID)
}

// ConstraintViolationError is returned when a referential-integrity or
// uniqueness rule rejects the mutation, e.g. deleting a cloud account
// that environments still reference.
type ConstraintViolationError struct {
	EntityType string
	EntityID   uuid.UUID
	Detail     string
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("constraint violation on %s %s: %s", e.EntityType, e.EntityID, e.Detail)
}
