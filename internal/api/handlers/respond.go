package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opsmith/cloudbase/internal/api/dto"
	"github.com/opsmith/cloudbase/internal/lifecycle"
	"github.com/opsmith/cloudbase/internal/registry"
	"github.com/opsmith/cloudbase/internal/versioning"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps the core error taxonomy onto HTTP statuses:
// NotFound 404, VersionConflict/IllegalTransition/ConstraintViolation
// 409, anything else 500.
func writeDomainError(w http.ResponseWriter, err error) {
	var notFound *registry.NotFoundError
	if errors.As(err, &notFound) {
		writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: notFound.Error()})
		return
	}

	var conflict *versioning.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, dto.ErrorResponse{
			Error:          conflict.Error(),
			CurrentVersion: conflict.Current,
		})
		return
	}

	var illegal *lifecycle.IllegalTransitionError
	if errors.As(err, &illegal) {
		writeJSON(w, http.StatusConflict, dto.ErrorResponse{Error: illegal.Error()})
		return
	}

	var constraint *registry.ConstraintViolationError
	if errors.As(err, &constraint) {
		writeJSON(w, http.StatusConflict, dto.ErrorResponse{Error: constraint.Error()})
		return
	}

	writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Internal error"})
}
