package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/signetlabs/signet/internal/api/dto"
	"github.com/signetlabs/signet/internal/api/service"
)

// FGAHandler handles authorization and policy requests.
type FGAHandler struct {
	service *service.FGAService
}

// NewFGAHandler creates a new FGAHandler.
func NewFGAHandler(fgaService *service.FGAService) *FGAHandler {
	return &FGAHandler{service: fgaService}
}

// Authorize handles POST /api/v1/authorize
func (h *FGAHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req dto.AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "Invalid JSON request body")
		return
	}

	resp, err := h.service.Authorize(r.Context(), w.Header().Get("X-Request-ID"), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// PutPolicy handles PUT /api/v1/policies/{id}
func (h *FGAHandler) PutPolicy(w http.ResponseWriter, r *http.Request) {
	var req dto.PolicyPutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "Invalid JSON request body")
		return
	}
	if req.Policy != nil && req.Policy.ID == "" {
		req.Policy.ID = chi.URLParam(r, "id")
	}

	resp, err := h.service.PutPolicy(r.Context(), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// GetPolicy handles GET /api/v1/policies/{id}
func (h *FGAHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.GetPolicy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// ListPolicies handles GET /api/v1/policies
func (h *FGAHandler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.ListPolicies(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// DisablePolicy handles POST /api/v1/policies/{id}/disable
func (h *FGAHandler) DisablePolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DisablePolicy(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}
