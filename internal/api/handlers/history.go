package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opsmith/cloudbase/internal/api/dto"
	"github.com/opsmith/cloudbase/internal/database/models"
	"github.com/opsmith/cloudbase/internal/ledger"
)

type HistoryHandler struct {
	ledger *ledger.Ledger
}

func NewHistoryHandler(led *ledger.Ledger) *HistoryHandler {
	return &HistoryHandler{ledger: led}
}

var knownEntityTypes = map[string]bool{
	models.EntityTypeOrganisation: true,
	models.EntityTypeCloudAccount: true,
	models.EntityTypeEnvironment:  true,
	models.EntityTypeApplication:  true,
	models.EntityTypeTag:          true,
	models.EntityTypeSecret:       true,
}

// List handles GET /api/v1/history/:entityType/:id?cursor=...&limit=...
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	if !knownEntityTypes[entityType] {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Unknown entity type"})
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid entity ID"})
		return
	}

	var cursor uint
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cursor"})
			return
		}
		cursor = uint(parsed)
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, next, err := h.ledger.History(r.Context(), entityType, id, cursor, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to read history"})
		return
	}
	writeJSON(w, http.StatusOK, dto.CursorResponse{Data: entries, NextCursor: next})
}
