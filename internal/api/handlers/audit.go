package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opsmith/cloudbase/internal/api/dto"
	"github.com/opsmith/cloudbase/internal/audit"
)

type AuditHandler struct {
	recorder *audit.Recorder
}

func NewAuditHandler(rec *audit.Recorder) *AuditHandler {
	return &AuditHandler{recorder: rec}
}

// List handles GET /api/v1/audit. Filter by user_id or by a from/to
// time range (RFC 3339); user_id wins when both are present.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	if userParam := r.URL.Query().Get("user_id"); userParam != "" {
		userID, err := uuid.Parse(userParam)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid user ID"})
			return
		}
		rows, err := h.recorder.ByUser(r.Context(), userID, limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list audit entries"})
			return
		}
		writeJSON(w, http.StatusOK, rows)
		return
	}

	fromParam := r.URL.Query().Get("from")
	toParam := r.URL.Query().Get("to")
	if fromParam == "" || toParam == "" {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Either user_id or from and to are required"})
		return
	}
	from, err := time.Parse(time.RFC3339, fromParam)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid from timestamp"})
		return
	}
	to, err := time.Parse(time.RFC3339, toParam)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid to timestamp"})
		return
	}

	rows, err := h.recorder.ByTimeRange(r.Context(), from, to, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list audit entries"})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
