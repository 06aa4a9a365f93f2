package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/signetlabs/signet/internal/api/dto"
	apierrors "github.com/signetlabs/signet/internal/api/errors"
	"github.com/signetlabs/signet/internal/api/service"
	"github.com/signetlabs/signet/pkg/workflow"
)

// WorkflowHandler handles document, definition and instance requests.
type WorkflowHandler struct {
	service *service.WorkflowService
}

// NewWorkflowHandler creates a new WorkflowHandler.
func NewWorkflowHandler(workflowService *service.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{service: workflowService}
}

// CreateDocument handles POST /api/v1/documents
func (h *WorkflowHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req dto.DocumentCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "Invalid JSON request body")
		return
	}

	resp, err := h.service.CreateDocument(r.Context(), actorFrom(r), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, resp)
}

// GetDocument handles GET /api/v1/documents/{id}
func (h *WorkflowHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// CreateDefinition handles POST /api/v1/definitions
func (h *WorkflowHandler) CreateDefinition(w http.ResponseWriter, r *http.Request) {
	var req dto.DefinitionCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "Invalid JSON request body")
		return
	}

	resp, err := h.service.CreateDefinition(r.Context(), actorFrom(r), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, resp)
}

// GetDefinition handles GET /api/v1/definitions/{id}
func (h *WorkflowHandler) GetDefinition(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.GetDefinition(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// ValidateDefinition handles POST /api/v1/definitions/validate
func (h *WorkflowHandler) ValidateDefinition(w http.ResponseWriter, r *http.Request) {
	var def workflow.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondBadRequest(w, "Invalid JSON request body")
		return
	}

	respondJSON(w, http.StatusOK, h.service.ValidateDefinition(&def))
}

// CreateInstance handles POST /api/v1/instances
func (h *WorkflowHandler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var req dto.InstanceCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "Invalid JSON request body")
		return
	}

	resp, err := h.service.CreateInstance(r.Context(), actorFrom(r), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, resp)
}

// GetInstance handles GET /api/v1/instances/{id}
func (h *WorkflowHandler) GetInstance(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.GetInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Start handles POST /api/v1/instances/{id}/start
func (h *WorkflowHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req dto.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "Invalid JSON request body")
		return
	}

	resp, err := h.service.Start(r.Context(), actorFrom(r), chi.URLParam(r, "id"), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// View handles POST /api/v1/instances/{id}/view
func (h *WorkflowHandler) View(w http.ResponseWriter, r *http.Request) {
	var req dto.ViewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "Invalid JSON request body")
		return
	}

	resp, err := h.service.View(r.Context(), actorFrom(r), chi.URLParam(r, "id"), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Sign handles POST /api/v1/instances/{id}/sign
func (h *WorkflowHandler) Sign(w http.ResponseWriter, r *http.Request) {
	var req dto.SignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "Invalid JSON request body")
		return
	}

	resp, err := h.service.Sign(r.Context(), actorFrom(r), chi.URLParam(r, "id"), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Decline handles POST /api/v1/instances/{id}/decline
func (h *WorkflowHandler) Decline(w http.ResponseWriter, r *http.Request) {
	var req dto.DeclineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "Invalid JSON request body")
		return
	}

	resp, err := h.service.Decline(r.Context(), actorFrom(r), chi.URLParam(r, "id"), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Delegate handles POST /api/v1/instances/{id}/delegate
func (h *WorkflowHandler) Delegate(w http.ResponseWriter, r *http.Request) {
	var req dto.DelegateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "Invalid JSON request body")
		return
	}

	resp, err := h.service.Delegate(r.Context(), actorFrom(r), chi.URLParam(r, "id"), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Void handles POST /api/v1/instances/{id}/void
func (h *WorkflowHandler) Void(w http.ResponseWriter, r *http.Request) {
	var req dto.VoidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "Invalid JSON request body")
		return
	}

	resp, err := h.service.Void(r.Context(), actorFrom(r), chi.URLParam(r, "id"), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// actorFrom extracts the acting subject from the request. The gateway
// in front of this service authenticates and sets the header.
func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "anonymous"
}

// handleServiceError maps a service error to an HTTP response.
func handleServiceError(w http.ResponseWriter, err error) {
	status, apiErr := apierrors.MapError(err)
	respondError(w, status, apiErr)
}

// respondBadRequest writes a validation_error response.
func respondBadRequest(w http.ResponseWriter, message string) {
	respondError(w, http.StatusBadRequest, &dto.APIError{
		Code:    apierrors.CodeValidation,
		Message: message,
	})
}
