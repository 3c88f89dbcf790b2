package tasks

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Task type names
const (
	TypeEnvironmentProvision = "environment:provision"
	TypeEnvironmentApply     = "environment:apply_update"
	TypeEnvironmentTeardown  = "environment:teardown"
)

// ProvisionPayload asks the worker to provision a freshly created
// environment. ObservedVersion is the version the enqueuing request saw;
// the transition is rejected if someone else advanced it meanwhile.
type ProvisionPayload struct {
	EnvironmentID   uuid.UUID  `json:"environment_id"`
	OrganisationID  uuid.UUID  `json:"organisation_id"`
	ObservedVersion string     `json:"observed_version"`
	RequestedBy     *uuid.UUID `json:"requested_by,omitempty"`
}

func NewEnvironmentProvisionTask(payload ProvisionPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEnvironmentProvision, data), nil
}

// ApplyPayload carries a requested configuration change for an
// environment already moved to UPDATING.
type ApplyPayload struct {
	EnvironmentID   uuid.UUID      `json:"environment_id"`
	OrganisationID  uuid.UUID      `json:"organisation_id"`
	ObservedVersion string         `json:"observed_version"`
	RequestedBy     *uuid.UUID     `json:"requested_by,omitempty"`
	Changes         map[string]any `json:"changes,omitempty"`
}

func NewEnvironmentApplyTask(payload ApplyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEnvironmentApply, data), nil
}

// TeardownPayload asks the worker to tear down an environment moved to
// DELETING.
type TeardownPayload struct {
	EnvironmentID   uuid.UUID  `json:"environment_id"`
	OrganisationID  uuid.UUID  `json:"organisation_id"`
	ObservedVersion string     `json:"observed_version"`
	RequestedBy     *uuid.UUID `json:"requested_by,omitempty"`
}

func NewEnvironmentTeardownTask(payload TeardownPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEnvironmentTeardown, data), nil
}
