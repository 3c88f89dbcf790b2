package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opsmith/cloudbase/internal/api/dto"
	"github.com/opsmith/cloudbase/internal/database/models"
	"github.com/opsmith/cloudbase/internal/registry"
	"gorm.io/gorm"
)

var slugRegex = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

type OrganisationHandler struct {
	db       *gorm.DB
	registry *registry.Service
}

func NewOrganisationHandler(db *gorm.DB, reg *registry.Service) *OrganisationHandler {
	return &OrganisationHandler{db: db, registry: reg}
}

type CreateOrganisationRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
	Plan string `json:"plan,omitempty"`
}

func (r CreateOrganisationRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.Name == "" {
		errors["name"] = "Name is required"
	}
	if !slugRegex.MatchString(r.Slug) {
		errors["slug"] = "Slug must be lowercase letters, digits and hyphens"
	}
	if r.Plan != "" && r.Plan != "free" && r.Plan != "pro" && r.Plan != "enterprise" {
		errors["plan"] = "Invalid plan"
	}
	return errors
}

type UpdateOrganisationRequest struct {
	Name            string `json:"name,omitempty"`
	Plan            string `json:"plan,omitempty"`
	ExpectedVersion string `json:"expected_version"`
}

type OrganisationResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	Plan      string `json:"plan"`
	Version   string `json:"version"`
	CreatedAt string `json:"created_at"`
}

func organisationToResponse(org *models.Organisation) OrganisationResponse {
	return OrganisationResponse{
		ID:        org.ID.String(),
		Name:      org.Name,
		Slug:      org.Slug,
		Plan:      org.Plan,
		Version:   org.Version,
		CreatedAt: org.CreatedAt.Format(time.RFC3339),
	}
}

// List handles GET /api/v1/organisations
func (h *OrganisationHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	pagination := dto.PaginationParams{Page: page, PerPage: perPage}
	pagination.Normalize()

	query := h.db.Model(&models.Organisation{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to count organisations"})
		return
	}

	var orgs []models.Organisation
	if err := query.
		Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.PerPage).
		Find(&orgs).Error; err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list organisations"})
		return
	}

	response := make([]OrganisationResponse, len(orgs))
	for i := range orgs {
		response[i] = organisationToResponse(&orgs[i])
	}

	writeJSON(w, http.StatusOK, dto.PaginatedResponse{
		Data:       response,
		Total:      total,
		Page:       pagination.Page,
		PerPage:    pagination.PerPage,
		TotalPages: totalPages(total, pagination.PerPage),
	})
}

// Create handles POST /api/v1/organisations
func (h *OrganisationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateOrganisationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	plan := req.Plan
	if plan == "" {
		plan = "free"
	}

	org := models.Organisation{
		Name: req.Name,
		Slug: req.Slug,
		Plan: plan,
	}
	if _, err := h.registry.Create(r.Context(), &org); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, organisationToResponse(&org))
}

// Get handles GET /api/v1/organisations/:id
func (h *OrganisationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organisation ID"})
		return
	}

	entity, err := h.registry.Get(r.Context(), models.EntityTypeOrganisation, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, organisationToResponse(entity.(*models.Organisation)))
}

// Update handles PUT /api/v1/organisations/:id
func (h *OrganisationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organisation ID"})
		return
	}

	var req UpdateOrganisationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	patch := make(map[string]any)
	if req.Name != "" {
		patch["name"] = req.Name
	}
	if req.Plan != "" {
		patch["plan"] = req.Plan
	}
	if len(patch) == 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Nothing to update"})
		return
	}

	newVersion, err := h.registry.Update(r.Context(), models.EntityTypeOrganisation, id, patch, req.ExpectedVersion)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "version": newVersion})
}

// Delete handles DELETE /api/v1/organisations/:id
// Deletion cascades to the organisation's cloud accounts and environments.
func (h *OrganisationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organisation ID"})
		return
	}

	if err := h.registry.Delete(r.Context(), models.EntityTypeOrganisation, id); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Organisation deleted"})
}

func totalPages(total int64, perPage int) int {
	pages := int(total) / perPage
	if int(total)%perPage > 0 {
		pages++
	}
	return pages
}
