package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opsmith/cloudbase/internal/api/dto"
	"github.com/opsmith/cloudbase/internal/database/models"
	"github.com/opsmith/cloudbase/internal/registry"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TagHandler struct {
	db       *gorm.DB
	registry *registry.Service
}

func NewTagHandler(db *gorm.DB, reg *registry.Service) *TagHandler {
	return &TagHandler{db: db, registry: reg}
}

type CreateTagRequest struct {
	Name     string          `json:"name"`
	Features json.RawMessage `json:"features,omitempty"`
}

type UpdateTagRequest struct {
	Features        json.RawMessage `json:"features,omitempty"`
	ExpectedVersion string          `json:"expected_version"`
}

// List handles GET /api/v1/tags
func (h *TagHandler) List(w http.ResponseWriter, r *http.Request) {
	var tags []models.Tag
	if err := h.db.Order("name ASC").Find(&tags).Error; err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list tags"})
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

// Create handles POST /api/v1/tags
func (h *TagHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Name is required"})
		return
	}

	tag := models.Tag{
		Name:     req.Name,
		Features: datatypes.JSON(req.Features),
	}
	if _, err := h.registry.Create(r.Context(), &tag); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}

// Get handles GET /api/v1/tags/:id
func (h *TagHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid tag ID"})
		return
	}

	entity, err := h.registry.Get(r.Context(), models.EntityTypeTag, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

// Update handles PUT /api/v1/tags/:id
func (h *TagHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid tag ID"})
		return
	}

	var req UpdateTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if len(req.Features) == 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Nothing to update"})
		return
	}

	newVersion, err := h.registry.Update(r.Context(), models.EntityTypeTag, id,
		map[string]any{"features": datatypes.JSON(req.Features)}, req.ExpectedVersion)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "version": newVersion})
}

// Delete handles DELETE /api/v1/tags/:id
func (h *TagHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid tag ID"})
		return
	}

	if err := h.registry.Delete(r.Context(), models.EntityTypeTag, id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Tag deleted"})
}
