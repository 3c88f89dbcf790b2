package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opsmith/cloudbase/internal/api/dto"
	"github.com/opsmith/cloudbase/internal/database/models"
	"github.com/opsmith/cloudbase/internal/registry"
	"gorm.io/gorm"
)

type ApplicationHandler struct {
	db       *gorm.DB
	registry *registry.Service
}

func NewApplicationHandler(db *gorm.DB, reg *registry.Service) *ApplicationHandler {
	return &ApplicationHandler{db: db, registry: reg}
}

type CreateApplicationRequest struct {
	OrganisationID string `json:"organisation_id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
}

func (r CreateApplicationRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if _, err := uuid.Parse(r.OrganisationID); err != nil {
		errors["organisation_id"] = "Invalid organisation ID"
	}
	if r.Name == "" {
		errors["name"] = "Name is required"
	}
	return errors
}

type UpdateApplicationRequest struct {
	Name            string `json:"name,omitempty"`
	Description     string `json:"description,omitempty"`
	ExpectedVersion string `json:"expected_version"`
}

// CreateMappingRequest attaches a (tag, environment) pair to an
// application. The triple is unique.
type CreateMappingRequest struct {
	TagID         string `json:"tag_id"`
	EnvironmentID string `json:"environment_id"`
}

type ApplicationResponse struct {
	ID             string `json:"id"`
	OrganisationID string `json:"organisation_id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Version        string `json:"version"`
	CreatedAt      string `json:"created_at"`
}

func applicationToResponse(app *models.Application) ApplicationResponse {
	return ApplicationResponse{
		ID:             app.ID.String(),
		OrganisationID: app.OrganisationID.String(),
		Name:           app.Name,
		Description:    app.Description,
		Version:        app.Version,
		CreatedAt:      app.CreatedAt.Format(time.RFC3339),
	}
}

// List handles GET /api/v1/applications?organisation_id=...
func (h *ApplicationHandler) List(w http.ResponseWriter, r *http.Request) {
	query := h.db.Model(&models.Application{})
	if orgParam := r.URL.Query().Get("organisation_id"); orgParam != "" {
		orgID, err := uuid.Parse(orgParam)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organisation ID"})
			return
		}
		query = query.Where("organisation_id = ?", orgID)
	}

	var apps []models.Application
	if err := query.Order("created_at DESC").Find(&apps).Error; err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list applications"})
		return
	}

	response := make([]ApplicationResponse, len(apps))
	for i := range apps {
		response[i] = applicationToResponse(&apps[i])
	}
	writeJSON(w, http.StatusOK, response)
}

// Create handles POST /api/v1/applications
func (h *ApplicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	orgID, _ := uuid.Parse(req.OrganisationID)
	app := models.Application{
		OrganisationID: orgID,
		Name:           req.Name,
		Description:    req.Description,
	}
	if _, err := h.registry.Create(r.Context(), &app); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, applicationToResponse(&app))
}

// Get handles GET /api/v1/applications/:id
func (h *ApplicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid application ID"})
		return
	}

	entity, err := h.registry.Get(r.Context(), models.EntityTypeApplication, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, applicationToResponse(entity.(*models.Application)))
}

// Update handles PUT /api/v1/applications/:id
func (h *ApplicationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid application ID"})
		return
	}

	var req UpdateApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	patch := make(map[string]any)
	if req.Name != "" {
		patch["name"] = req.Name
	}
	if req.Description != "" {
		patch["description"] = req.Description
	}
	if len(patch) == 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Nothing to update"})
		return
	}

	newVersion, err := h.registry.Update(r.Context(), models.EntityTypeApplication, id, patch, req.ExpectedVersion)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "version": newVersion})
}

// Delete handles DELETE /api/v1/applications/:id
func (h *ApplicationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid application ID"})
		return
	}

	if err := h.registry.Delete(r.Context(), models.EntityTypeApplication, id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Application deleted"})
}

// CreateMapping handles POST /api/v1/applications/:id/mappings
func (h *ApplicationHandler) CreateMapping(w http.ResponseWriter, r *http.Request) {
	appID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid application ID"})
		return
	}

	var req CreateMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	tagID, err := uuid.Parse(req.TagID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid tag ID"})
		return
	}
	envID, err := uuid.Parse(req.EnvironmentID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid environment ID"})
		return
	}

	mapping := models.ApplicationEnvironmentTag{
		ApplicationID: appID,
		TagID:         tagID,
		EnvironmentID: envID,
	}
	if err := h.db.Create(&mapping).Error; err != nil {
		writeJSON(w, http.StatusConflict, dto.ErrorResponse{Error: "Mapping already exists or references are invalid"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": mapping.ID.String()})
}

// ListMappings handles GET /api/v1/applications/:id/mappings
func (h *ApplicationHandler) ListMappings(w http.ResponseWriter, r *http.Request) {
	appID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid application ID"})
		return
	}

	var mappings []models.ApplicationEnvironmentTag
	if err := h.db.Where("application_id = ?", appID).Find(&mappings).Error; err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list mappings"})
		return
	}
	writeJSON(w, http.StatusOK, mappings)
}

// DeleteMapping handles DELETE /api/v1/applications/:id/mappings/:mappingID
func (h *ApplicationHandler) DeleteMapping(w http.ResponseWriter, r *http.Request) {
	appID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid application ID"})
		return
	}
	mappingID, err := uuid.Parse(chi.URLParam(r, "mappingID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid mapping ID"})
		return
	}

	res := h.db.Where("id = ? AND application_id = ?", mappingID, appID).
		Delete(&models.ApplicationEnvironmentTag{})
	if res.Error != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to delete mapping"})
		return
	}
	if res.RowsAffected == 0 {
		writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "Mapping not found"})
		return
	}
	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Mapping deleted"})
}
