package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/opsmith/cloudbase/internal/audit"
	"github.com/opsmith/cloudbase/internal/database/models"
	"github.com/opsmith/cloudbase/internal/registry"
	"gorm.io/gorm"
)

// Event is a lifecycle trigger delivered by a user request or by the
// provisioning worker, possibly long after the original request.
type Event string

const (
	EventProvisionSucceeded Event = "provision_succeeded"
	EventProvisionFailed    Event = "provision_failed"
	EventUpdateRequested    Event = "update_requested"
	EventUpdateSucceeded    Event = "update_succeeded"
	EventUpdateFailed       Event = "update_failed"
	EventDeleteRequested    Event = "delete_requested"
	EventDeleteSucceeded    Event = "delete_succeeded"
	EventDeleteFailed       Event = "delete_failed"
)

// stateRemoved marks the edge that removes the environment row.
const stateRemoved models.EnvironmentState = ""

type transitionKey struct {
	From  models.EnvironmentState
	Event Event
}

// transitions is the full legal edge set. Anything not in this table is
// an illegal transition; legality is a single lookup.
var transitions = map[transitionKey]models.EnvironmentState{
	{models.EnvironmentStateCreating, EventProvisionSucceeded}: models.EnvironmentStateActive,
	{models.EnvironmentStateCreating, EventProvisionFailed}:    models.EnvironmentStateFailed,
	{models.EnvironmentStateActive, EventUpdateRequested}:      models.EnvironmentStateUpdating,
	{models.EnvironmentStateUpdating, EventUpdateSucceeded}:    models.EnvironmentStateActive,
	{models.EnvironmentStateUpdating, EventUpdateFailed}:       models.EnvironmentStateFailed,
	{models.EnvironmentStateActive, EventDeleteRequested}:      models.EnvironmentStateDeleting,
	{models.EnvironmentStateFailed, EventDeleteRequested}:      models.EnvironmentStateDeleting,
	{models.EnvironmentStateDeleting, EventDeleteSucceeded}:    stateRemoved,
	{models.EnvironmentStateDeleting, EventDeleteFailed}:       models.EnvironmentStateFailed,
}

// IllegalTransitionError is returned when (current state, event) is not
// a legal edge. The environment is left unchanged.
type IllegalTransitionError struct {
	EnvironmentID uuid.UUID
	From          models.EnvironmentState
	Event         Event
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition for environment %s: %q in state %s", e.EnvironmentID, e.Event, e.From)
}

// TransitionRequest carries one lifecycle event. Actor is set when the
// event is user-initiated; Detail holds the provisioning error on
// failure events; Patch carries provisioning results (vpc id, region)
// folded into the same guarded update.
type TransitionRequest struct {
	EnvironmentID   uuid.UUID
	Event           Event
	ExpectedVersion string
	Actor           *uuid.UUID
	Detail          string
	Patch           map[string]any
}

// Result reports the outcome of an applied transition. NewVersion is
// empty when the row was removed.
type Result struct {
	State      models.EnvironmentState
	NewVersion string
	Removed    bool
}

// Machine applies lifecycle transitions as optimistic-version-guarded
// registry updates. A stale caller gets a version conflict instead of
// silently overwriting a concurrent transition.
type Machine struct {
	db       *gorm.DB
	registry *registry.Service
	audit    *audit.Recorder
	logger   *slog.Logger
}

func NewMachine(db *gorm.DB, reg *registry.Service, rec *audit.Recorder, logger *slog.Logger) *Machine {
	return &Machine{db: db, registry: reg, audit: rec, logger: logger}
}

// Transition validates the edge against the stored state and applies it.
// The registry compare-and-set, the ledger append and any audit row
// commit as one transaction.
func (m *Machine) Transition(ctx context.Context, req TransitionRequest) (*Result, error) {
	var result Result

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reg := m.registry.WithTx(tx)
		rec := m.audit.WithTx(tx)

		entity, err := reg.Get(ctx, models.EntityTypeEnvironment, req.EnvironmentID)
		if err != nil {
			return err
		}
		env := entity.(*models.Environment)

		next, ok := transitions[transitionKey{From: env.State, Event: req.Event}]
		if !ok {
			return &IllegalTransitionError{
				EnvironmentID: req.EnvironmentID,
				From:          env.State,
				Event:         req.Event,
			}
		}

		if next == stateRemoved {
			if err := reg.DeleteVersioned(ctx, models.EntityTypeEnvironment, req.EnvironmentID, req.ExpectedVersion); err != nil {
				return err
			}
			result = Result{Removed: true}
			return m.recordAudit(ctx, rec, req, env, next)
		}

		patch := make(map[string]any, len(req.Patch)+2)
		for k, v := range req.Patch {
			patch[k] = v
		}
		patch["state"] = next
		if next == models.EnvironmentStateFailed {
			patch["error"] = req.Detail
		}

		meta := map[string]any{
			"event":      string(req.Event),
			"from_state": string(env.State),
			"to_state":   string(next),
		}

		newVersion, err := reg.UpdateWithMetadata(ctx, models.EntityTypeEnvironment, req.EnvironmentID, patch, meta, req.ExpectedVersion)
		if err != nil {
			return err
		}
		result = Result{State: next, NewVersion: newVersion}
		return m.recordAudit(ctx, rec, req, env, next)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("environment transition applied",
		"environment_id", req.EnvironmentID,
		"event", req.Event,
		"state", result.State,
		"removed", result.Removed,
	)
	return &result, nil
}

// recordAudit writes the audit row inside the transition's transaction.
// Terminal failures are always recorded; user-initiated events are
// recorded regardless of outcome.
func (m *Machine) recordAudit(ctx context.Context, rec *audit.Recorder, req TransitionRequest, env *models.Environment, next models.EnvironmentState) error {
	entity := fmt.Sprintf("environment:%s", req.EnvironmentID)

	if next == models.EnvironmentStateFailed {
		return rec.Record(ctx, "environment_"+string(req.Event), req.Actor, entity, req.Detail, audit.StatusFailed)
	}
	if req.Actor != nil {
		to := string(next)
		if next == stateRemoved {
			to = "removed"
		}
		value := fmt.Sprintf("%s -> %s", env.State, to)
		return rec.Record(ctx, "environment_"+string(req.Event), req.Actor, entity, value, audit.StatusSuccess)
	}
	return nil
}
