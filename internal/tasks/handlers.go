package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/opsmith/cloudbase/internal/database/models"
	"github.com/opsmith/cloudbase/internal/lifecycle"
	"github.com/opsmith/cloudbase/internal/registry"
	"github.com/opsmith/cloudbase/internal/versioning"
)

// Handler consumes provisioning tasks and feeds their outcomes into the
// lifecycle machine as guarded transitions.
type Handler struct {
	registry    *registry.Service
	machine     *lifecycle.Machine
	provisioner Provisioner
	logger      *slog.Logger
}

func NewHandler(reg *registry.Service, machine *lifecycle.Machine, provisioner Provisioner, logger *slog.Logger) *Handler {
	return &Handler{
		registry:    reg,
		machine:     machine,
		provisioner: provisioner,
		logger:      logger,
	}
}

func (h *Handler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeEnvironmentProvision, h.HandleProvision)
	mux.HandleFunc(TypeEnvironmentApply, h.HandleApply)
	mux.HandleFunc(TypeEnvironmentTeardown, h.HandleTeardown)
}

func (h *Handler) HandleProvision(ctx context.Context, t *asynq.Task) error {
	var payload ProvisionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	h.logger.Info("starting environment provision",
		"environment_id", payload.EnvironmentID,
		"org_id", payload.OrganisationID,
	)

	env, done, err := h.loadEnvironment(ctx, payload.EnvironmentID)
	if done || err != nil {
		return err
	}

	result, provErr := h.provisioner.Provision(ctx, env)

	req := lifecycle.TransitionRequest{
		EnvironmentID:   env.ID,
		ExpectedVersion: env.Version,
	}
	if provErr != nil {
		req.Event = lifecycle.EventProvisionFailed
		req.Detail = provErr.Error()
	} else {
		req.Event = lifecycle.EventProvisionSucceeded
		req.Patch = map[string]any{
			"vpc_id": result.VpcID,
			"region": result.Region,
		}
	}

	return h.applyTransition(ctx, req)
}

func (h *Handler) HandleApply(ctx context.Context, t *asynq.Task) error {
	var payload ApplyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	h.logger.Info("starting environment update",
		"environment_id", payload.EnvironmentID,
		"changes", len(payload.Changes),
	)

	env, done, err := h.loadEnvironment(ctx, payload.EnvironmentID)
	if done || err != nil {
		return err
	}

	_, provErr := h.provisioner.Apply(ctx, env, payload.Changes)

	req := lifecycle.TransitionRequest{
		EnvironmentID:   env.ID,
		ExpectedVersion: env.Version,
	}
	if provErr != nil {
		req.Event = lifecycle.EventUpdateFailed
		req.Detail = provErr.Error()
	} else {
		req.Event = lifecycle.EventUpdateSucceeded
		req.Patch = payload.Changes
	}

	return h.applyTransition(ctx, req)
}

func (h *Handler) HandleTeardown(ctx context.Context, t *asynq.Task) error {
	var payload TeardownPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	h.logger.Info("starting environment teardown",
		"environment_id", payload.EnvironmentID,
	)

	env, done, err := h.loadEnvironment(ctx, payload.EnvironmentID)
	if done || err != nil {
		return err
	}

	req := lifecycle.TransitionRequest{
		EnvironmentID:   env.ID,
		ExpectedVersion: env.Version,
	}
	if provErr := h.provisioner.Teardown(ctx, env); provErr != nil {
		req.Event = lifecycle.EventDeleteFailed
		req.Detail = provErr.Error()
	} else {
		req.Event = lifecycle.EventDeleteSucceeded
	}

	return h.applyTransition(ctx, req)
}

// loadEnvironment re-fetches the environment. A missing row means the
// work is moot; done is true and the task is dropped without error.
func (h *Handler) loadEnvironment(ctx context.Context, id uuid.UUID) (*models.Environment, bool, error) {
	entity, err := h.registry.Get(ctx, models.EntityTypeEnvironment, id)
	if err != nil {
		var notFound *registry.NotFoundError
		if errors.As(err, &notFound) {
			h.logger.Warn("environment gone before task ran", "environment_id", id)
			return nil, true, nil
		}
		return nil, false, err
	}
	return entity.(*models.Environment), false, nil
}

// applyTransition drops conflict and illegal-transition failures on the
// floor: another worker won the race and retrying cannot help. Other
// errors surface so asynq retries the task.
func (h *Handler) applyTransition(ctx context.Context, req lifecycle.TransitionRequest) error {
	_, err := h.machine.Transition(ctx, req)
	if err == nil {
		return nil
	}

	var conflict *versioning.ConflictError
	var illegal *lifecycle.IllegalTransitionError
	var notFound *registry.NotFoundError
	if errors.As(err, &conflict) || errors.As(err, &illegal) || errors.As(err, &notFound) {
		h.logger.Warn("transition superseded by concurrent work",
			"environment_id", req.EnvironmentID,
			"event", req.Event,
			"reason", err.Error(),
		)
		return nil
	}
	return err
}
