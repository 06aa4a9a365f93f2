package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/signetlabs/signet/internal/api/dto"
	"github.com/signetlabs/signet/internal/api/service"
)

// CompositeHandler handles composite evidence requests.
type CompositeHandler struct {
	service *service.CompositeService
}

// NewCompositeHandler creates a new CompositeHandler.
func NewCompositeHandler(compositeService *service.CompositeService) *CompositeHandler {
	return &CompositeHandler{service: compositeService}
}

// Get handles GET /api/v1/composites/{id}
func (h *CompositeHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Verify handles POST /api/v1/composites/{id}/verify
func (h *CompositeHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req dto.CompositeVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondBadRequest(w, "Invalid JSON request body")
		return
	}

	resp, err := h.service.Verify(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Export handles GET /api/v1/composites/{id}/export
func (h *CompositeHandler) Export(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Export(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// ReTimestamp handles POST /api/v1/composites/{id}/retimestamp
func (h *CompositeHandler) ReTimestamp(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.ReTimestamp(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Revalidate handles POST /api/v1/composites/revalidate
func (h *CompositeHandler) Revalidate(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Revalidate(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Backfill handles POST /api/v1/composites/backfill
func (h *CompositeHandler) Backfill(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Backfill(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}
