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
	"github.com/opsmith/cloudbase/pkg/crypto"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var validProviders = map[string]bool{
	string(models.ProviderAWS):          true,
	string(models.ProviderGCP):          true,
	string(models.ProviderAzure):        true,
	string(models.ProviderDigitalOcean): true,
	string(models.ProviderCloudflare):   true,
}

type CloudAccountHandler struct {
	db        *gorm.DB
	registry  *registry.Service
	encryptor *crypto.Encryptor
}

func NewCloudAccountHandler(db *gorm.DB, reg *registry.Service, encryptor *crypto.Encryptor) *CloudAccountHandler {
	return &CloudAccountHandler{db: db, registry: reg, encryptor: encryptor}
}

type CreateCloudAccountRequest struct {
	OrganisationID    string          `json:"organisation_id"`
	Provider          string          `json:"provider"`
	AccountIdentifier string          `json:"account_identifier"`
	Credentials       json.RawMessage `json:"credentials,omitempty"`
	Region            string          `json:"region,omitempty"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
}

func (r CreateCloudAccountRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if _, err := uuid.Parse(r.OrganisationID); err != nil {
		errors["organisation_id"] = "Invalid organisation ID"
	}
	if !validProviders[r.Provider] {
		errors["provider"] = "Invalid provider"
	}
	if r.AccountIdentifier == "" {
		errors["account_identifier"] = "Account identifier is required"
	}
	return errors
}

type UpdateCloudAccountRequest struct {
	Region          string          `json:"region,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	ExpectedVersion string          `json:"expected_version"`
}

type CloudAccountResponse struct {
	ID                string          `json:"id"`
	OrganisationID    string          `json:"organisation_id"`
	Provider          string          `json:"provider"`
	AccountIdentifier string          `json:"account_identifier"`
	Region            string          `json:"region,omitempty"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	Version           string          `json:"version"`
	CreatedAt         string          `json:"created_at"`
}

func cloudAccountToResponse(acct *models.CloudAccount) CloudAccountResponse {
	return CloudAccountResponse{
		ID:                acct.ID.String(),
		OrganisationID:    acct.OrganisationID.String(),
		Provider:          string(acct.Provider),
		AccountIdentifier: acct.AccountIdentifier,
		Region:            acct.Region,
		Metadata:          json.RawMessage(acct.Metadata),
		Version:           acct.Version,
		CreatedAt:         acct.CreatedAt.Format(time.RFC3339),
	}
}

// List handles GET /api/v1/cloud-accounts?organisation_id=...
func (h *CloudAccountHandler) List(w http.ResponseWriter, r *http.Request) {
	query := h.db.Model(&models.CloudAccount{})
	if orgParam := r.URL.Query().Get("organisation_id"); orgParam != "" {
		orgID, err := uuid.Parse(orgParam)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organisation ID"})
			return
		}
		query = query.Where("organisation_id = ?", orgID)
	}

	var accounts []models.CloudAccount
	if err := query.Order("created_at DESC").Find(&accounts).Error; err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list cloud accounts"})
		return
	}

	response := make([]CloudAccountResponse, len(accounts))
	for i := range accounts {
		response[i] = cloudAccountToResponse(&accounts[i])
	}
	writeJSON(w, http.StatusOK, response)
}

// Create handles POST /api/v1/cloud-accounts
func (h *CloudAccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateCloudAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	orgID, _ := uuid.Parse(req.OrganisationID)
	acct := models.CloudAccount{
		OrganisationID:    orgID,
		Provider:          models.CloudProvider(req.Provider),
		AccountIdentifier: req.AccountIdentifier,
		Region:            req.Region,
		Metadata:          datatypes.JSON(req.Metadata),
	}

	if len(req.Credentials) > 0 {
		encrypted, err := h.encryptor.Encrypt(req.Credentials)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to encrypt credentials"})
			return
		}
		acct.EncryptedCredentials = encrypted
	}

	if _, err := h.registry.Create(r.Context(), &acct); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, cloudAccountToResponse(&acct))
}

// Get handles GET /api/v1/cloud-accounts/:id
func (h *CloudAccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cloud account ID"})
		return
	}

	entity, err := h.registry.Get(r.Context(), models.EntityTypeCloudAccount, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cloudAccountToResponse(entity.(*models.CloudAccount)))
}

// Update handles PUT /api/v1/cloud-accounts/:id
func (h *CloudAccountHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cloud account ID"})
		return
	}

	var req UpdateCloudAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	patch := make(map[string]any)
	if req.Region != "" {
		patch["region"] = req.Region
	}
	if len(req.Metadata) > 0 {
		patch["metadata"] = datatypes.JSON(req.Metadata)
	}
	if len(patch) == 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Nothing to update"})
		return
	}

	newVersion, err := h.registry.Update(r.Context(), models.EntityTypeCloudAccount, id, patch, req.ExpectedVersion)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "version": newVersion})
}

// Delete handles DELETE /api/v1/cloud-accounts/:id
// Refused while environments still reference the account.
func (h *CloudAccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cloud account ID"})
		return
	}

	if err := h.registry.Delete(r.Context(), models.EntityTypeCloudAccount, id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Cloud account deleted"})
}
