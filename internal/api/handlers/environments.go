package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/opsmith/cloudbase/internal/api/dto"
	"github.com/opsmith/cloudbase/internal/api/middleware"
	"github.com/opsmith/cloudbase/internal/audit"
	"github.com/opsmith/cloudbase/internal/database/models"
	"github.com/opsmith/cloudbase/internal/lifecycle"
	"github.com/opsmith/cloudbase/internal/registry"
	"github.com/opsmith/cloudbase/internal/tasks"
	"gorm.io/gorm"
)

type EnvironmentHandler struct {
	db          *gorm.DB
	registry    *registry.Service
	machine     *lifecycle.Machine
	audit       *audit.Recorder
	asynqClient *asynq.Client
	logger      *slog.Logger
}

func NewEnvironmentHandler(db *gorm.DB, reg *registry.Service, machine *lifecycle.Machine, rec *audit.Recorder, asynqClient *asynq.Client, logger *slog.Logger) *EnvironmentHandler {
	return &EnvironmentHandler{db: db, registry: reg, machine: machine, audit: rec, asynqClient: asynqClient, logger: logger}
}

// recordAudit writes the audit row and surfaces a failed write in the
// logs. The request itself is not failed over a broken audit trail.
func (h *EnvironmentHandler) recordAudit(ctx context.Context, action string, actor *uuid.UUID, entity, value, status string) {
	if err := h.audit.Record(ctx, action, actor, entity, value, status); err != nil {
		h.logger.Error("audit write failed", "action", action, "entity", entity, "error", err)
	}
}

type CreateEnvironmentRequest struct {
	OrganisationID string `json:"organisation_id"`
	CloudAccountID string `json:"cloud_account_id"`
	Name           string `json:"name"`
	Region         string `json:"region,omitempty"`
}

func (r CreateEnvironmentRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if _, err := uuid.Parse(r.OrganisationID); err != nil {
		errors["organisation_id"] = "Invalid organisation ID"
	}
	if _, err := uuid.Parse(r.CloudAccountID); err != nil {
		errors["cloud_account_id"] = "Invalid cloud account ID"
	}
	if r.Name == "" {
		errors["name"] = "Name is required"
	}
	return errors
}

type UpdateEnvironmentRequest struct {
	Region          string `json:"region,omitempty"`
	ExpectedVersion string `json:"expected_version"`
}

// EnvironmentEventRequest delivers a lifecycle event from an external
// provisioning system.
type EnvironmentEventRequest struct {
	Event           string `json:"event"`
	ExpectedVersion string `json:"expected_version"`
	Detail          string `json:"detail,omitempty"`
}

type EnvironmentResponse struct {
	ID             string  `json:"id"`
	OrganisationID string  `json:"organisation_id"`
	CloudAccountID string  `json:"cloud_account_id"`
	Name           string  `json:"name"`
	State          string  `json:"state"`
	VpcID          *string `json:"vpc_id,omitempty"`
	Region         string  `json:"region,omitempty"`
	Error          string  `json:"error,omitempty"`
	Version        string  `json:"version"`
	CreatedAt      string  `json:"created_at"`
}

func environmentToResponse(env *models.Environment) EnvironmentResponse {
	return EnvironmentResponse{
		ID:             env.ID.String(),
		OrganisationID: env.OrganisationID.String(),
		CloudAccountID: env.CloudAccountID.String(),
		Name:           env.Name,
		State:          string(env.State),
		VpcID:          env.VpcID,
		Region:         env.Region,
		Error:          env.Error,
		Version:        env.Version,
		CreatedAt:      env.CreatedAt.Format(time.RFC3339),
	}
}

// List handles GET /api/v1/environments?organisation_id=...&state=...
func (h *EnvironmentHandler) List(w http.ResponseWriter, r *http.Request) {
	query := h.db.Model(&models.Environment{})
	if orgParam := r.URL.Query().Get("organisation_id"); orgParam != "" {
		orgID, err := uuid.Parse(orgParam)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organisation ID"})
			return
		}
		query = query.Where("organisation_id = ?", orgID)
	}
	if state := r.URL.Query().Get("state"); state != "" {
		query = query.Where("state = ?", state)
	}

	var envs []models.Environment
	if err := query.Order("created_at DESC").Find(&envs).Error; err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list environments"})
		return
	}

	response := make([]EnvironmentResponse, len(envs))
	for i := range envs {
		response[i] = environmentToResponse(&envs[i])
	}
	writeJSON(w, http.StatusOK, response)
}

// Create handles POST /api/v1/environments. The environment starts in
// CREATING and a provision task is enqueued; the worker reports the
// outcome as a lifecycle event.
func (h *EnvironmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActorID(r.Context())

	var req CreateEnvironmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	orgID, _ := uuid.Parse(req.OrganisationID)
	acctID, _ := uuid.Parse(req.CloudAccountID)

	// The referenced cloud account must exist and belong to the organisation.
	entity, err := h.registry.Get(r.Context(), models.EntityTypeCloudAccount, acctID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entity.(*models.CloudAccount).OrganisationID != orgID {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Cloud account does not belong to organisation"})
		return
	}

	env := models.Environment{
		OrganisationID: orgID,
		CloudAccountID: acctID,
		Name:           req.Name,
		State:          models.EnvironmentStateCreating,
		Region:         req.Region,
	}
	version, err := h.registry.Create(r.Context(), &env)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.recordAudit(r.Context(), audit.ActionCreateEnvironment, actor,
		fmt.Sprintf("environment:%s", env.ID), env.Name, audit.StatusSuccess)

	if h.asynqClient != nil {
		task, err := tasks.NewEnvironmentProvisionTask(tasks.ProvisionPayload{
			EnvironmentID:   env.ID,
			OrganisationID:  orgID,
			ObservedVersion: version,
			RequestedBy:     actor,
		})
		if err == nil {
			_, err = h.asynqClient.Enqueue(task)
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to enqueue provisioning"})
			return
		}
	}

	writeJSON(w, http.StatusCreated, environmentToResponse(&env))
}

// Get handles GET /api/v1/environments/:id
func (h *EnvironmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid environment ID"})
		return
	}

	entity, err := h.registry.Get(r.Context(), models.EntityTypeEnvironment, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, environmentToResponse(entity.(*models.Environment)))
}

// Update handles PUT /api/v1/environments/:id. A user-requested change
// moves ACTIVE to UPDATING and hands the work to the worker.
func (h *EnvironmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActorID(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid environment ID"})
		return
	}

	var req UpdateEnvironmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	changes := make(map[string]any)
	if req.Region != "" {
		changes["region"] = req.Region
	}

	result, err := h.machine.Transition(r.Context(), lifecycle.TransitionRequest{
		EnvironmentID:   id,
		Event:           lifecycle.EventUpdateRequested,
		ExpectedVersion: req.ExpectedVersion,
		Actor:           actor,
	})
	if err != nil {
		// User-requested updates are audited regardless of outcome.
		h.recordAudit(r.Context(), audit.ActionUpdateEnvironment, actor,
			fmt.Sprintf("environment:%s", id), err.Error(), audit.StatusFailed)
		writeDomainError(w, err)
		return
	}

	var envEntity models.Entity
	envEntity, err = h.registry.Get(r.Context(), models.EntityTypeEnvironment, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	env := envEntity.(*models.Environment)

	if h.asynqClient != nil {
		task, err := tasks.NewEnvironmentApplyTask(tasks.ApplyPayload{
			EnvironmentID:   id,
			OrganisationID:  env.OrganisationID,
			ObservedVersion: result.NewVersion,
			RequestedBy:     actor,
			Changes:         changes,
		})
		if err == nil {
			_, err = h.asynqClient.Enqueue(task)
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to enqueue update"})
			return
		}
	}

	writeJSON(w, http.StatusAccepted, environmentToResponse(env))
}

// Delete handles DELETE /api/v1/environments/:id. Moves the environment
// to DELETING; the worker performs the teardown and reports back.
func (h *EnvironmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActorID(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid environment ID"})
		return
	}

	var body struct {
		ExpectedVersion string `json:"expected_version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	result, err := h.machine.Transition(r.Context(), lifecycle.TransitionRequest{
		EnvironmentID:   id,
		Event:           lifecycle.EventDeleteRequested,
		ExpectedVersion: body.ExpectedVersion,
		Actor:           actor,
	})
	if err != nil {
		h.recordAudit(r.Context(), audit.ActionDeleteEnvironment, actor,
			fmt.Sprintf("environment:%s", id), err.Error(), audit.StatusFailed)
		writeDomainError(w, err)
		return
	}

	if h.asynqClient != nil {
		var env models.Environment
		if err := h.db.Where("id = ?", id).First(&env).Error; err == nil {
			task, err := tasks.NewEnvironmentTeardownTask(tasks.TeardownPayload{
				EnvironmentID:   id,
				OrganisationID:  env.OrganisationID,
				ObservedVersion: result.NewVersion,
				RequestedBy:     actor,
			})
			if err == nil {
				_, err = h.asynqClient.Enqueue(task)
			}
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to enqueue teardown"})
				return
			}
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":      id.String(),
		"state":   string(result.State),
		"version": result.NewVersion,
	})
}

// Event handles POST /api/v1/environments/:id/events, delivering a
// lifecycle event from an external provisioning system.
func (h *EnvironmentHandler) Event(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActorID(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid environment ID"})
		return
	}

	var req EnvironmentEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.Event == "" {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Event is required"})
		return
	}

	result, err := h.machine.Transition(r.Context(), lifecycle.TransitionRequest{
		EnvironmentID:   id,
		Event:           lifecycle.Event(req.Event),
		ExpectedVersion: req.ExpectedVersion,
		Actor:           actor,
		Detail:          req.Detail,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if result.Removed {
		writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Environment removed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":      id.String(),
		"state":   string(result.State),
		"version": result.NewVersion,
	})
}
