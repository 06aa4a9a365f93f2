package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/signetlabs/signet/internal/api/service"
)

// AuditHandler handles audit stream requests.
type AuditHandler struct {
	service *service.AuditService
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(auditService *service.AuditService) *AuditHandler {
	return &AuditHandler{service: auditService}
}

// Entries handles GET /api/v1/audit/{stream}
func (h *AuditHandler) Entries(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Entries(r.Context(), chi.URLParam(r, "stream"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Verify handles GET /api/v1/audit/{stream}/verify
func (h *AuditHandler) Verify(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Verify(r.Context(), chi.URLParam(r, "stream"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}
