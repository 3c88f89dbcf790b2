package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opsmith/cloudbase/internal/api/dto"
	"github.com/opsmith/cloudbase/internal/api/middleware"
	"github.com/opsmith/cloudbase/internal/audit"
	"github.com/opsmith/cloudbase/internal/database/models"
	"github.com/opsmith/cloudbase/internal/registry"
	"gorm.io/gorm"
)

type SecretHandler struct {
	db       *gorm.DB
	registry *registry.Service
	audit    *audit.Recorder
	logger   *slog.Logger
}

func NewSecretHandler(db *gorm.DB, reg *registry.Service, rec *audit.Recorder, logger *slog.Logger) *SecretHandler {
	return &SecretHandler{db: db, registry: reg, audit: rec, logger: logger}
}

type CreateSecretRequest struct {
	OrganisationID   string `json:"organisation_id"`
	SecretID         string `json:"secret_id"`
	CurrentVersionID string `json:"current_version_id"`
}

func (r CreateSecretRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if _, err := uuid.Parse(r.OrganisationID); err != nil {
		errors["organisation_id"] = "Invalid organisation ID"
	}
	if r.SecretID == "" {
		errors["secret_id"] = "Secret ID is required"
	}
	if r.CurrentVersionID == "" {
		errors["current_version_id"] = "Current version ID is required"
	}
	return errors
}

// RotateSecretRequest installs a provider-issued new version. The
// expected current version guards against concurrent rotations.
type RotateSecretRequest struct {
	NewVersionID    string `json:"new_version_id"`
	ExpectedCurrent string `json:"expected_current"`
}

// recordAudit writes the rotation audit row and surfaces a failed write
// in the logs without failing the request.
func (h *SecretHandler) recordAudit(ctx context.Context, actor *uuid.UUID, entity, value, status string) {
	if err := h.audit.Record(ctx, audit.ActionRotateSecret, actor, entity, value, status); err != nil {
		h.logger.Error("audit write failed", "action", audit.ActionRotateSecret, "entity", entity, "error", err)
	}
}

// List handles GET /api/v1/secrets?organisation_id=...
func (h *SecretHandler) List(w http.ResponseWriter, r *http.Request) {
	query := h.db.Model(&models.Secret{})
	if orgParam := r.URL.Query().Get("organisation_id"); orgParam != "" {
		orgID, err := uuid.Parse(orgParam)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organisation ID"})
			return
		}
		query = query.Where("organisation_id = ?", orgID)
	}

	var secrets []models.Secret
	if err := query.Order("created_at DESC").Find(&secrets).Error; err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list secrets"})
		return
	}
	writeJSON(w, http.StatusOK, secrets)
}

// Create handles POST /api/v1/secrets
func (h *SecretHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	orgID, _ := uuid.Parse(req.OrganisationID)
	secret := models.Secret{
		OrganisationID:   orgID,
		SecretID:         req.SecretID,
		CurrentVersionID: req.CurrentVersionID,
	}
	if _, err := h.registry.Create(r.Context(), &secret); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, secret)
}

// Get handles GET /api/v1/secrets/:id
func (h *SecretHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid secret ID"})
		return
	}

	entity, err := h.registry.Get(r.Context(), models.EntityTypeSecret, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

// Rotate handles POST /api/v1/secrets/:id/rotate
func (h *SecretHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActorID(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid secret ID"})
		return
	}

	var req RotateSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.NewVersionID == "" {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "New version ID is required"})
		return
	}

	entityRef := fmt.Sprintf("secret:%s", id)
	if err := h.registry.RotateSecret(r.Context(), id, req.NewVersionID, req.ExpectedCurrent); err != nil {
		h.recordAudit(r.Context(), actor, entityRef, err.Error(), audit.StatusFailed)
		writeDomainError(w, err)
		return
	}
	h.recordAudit(r.Context(), actor, entityRef,
		fmt.Sprintf("%s -> %s", req.ExpectedCurrent, req.NewVersionID), audit.StatusSuccess)

	entity, err := h.registry.Get(r.Context(), models.EntityTypeSecret, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

// Delete handles DELETE /api/v1/secrets/:id
func (h *SecretHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid secret ID"})
		return
	}

	if err := h.registry.Delete(r.Context(), models.EntityTypeSecret, id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Secret deleted"})
}
