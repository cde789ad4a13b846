package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rNLKJA/moodist-server/pkg/httputil"
	"github.com/rNLKJA/moodist-server/pkg/middleware"

	"github.com/rNLKJA/moodist-server/internal/service"
)

// ConnectionHandler handles HTTP requests for connection endpoints.
type ConnectionHandler struct {
	service *service.ConnectionService
	logger  *slog.Logger
}

// NewConnectionHandler creates a new connection HTTP handler.
func NewConnectionHandler(svc *service.ConnectionService, logger *slog.Logger) *ConnectionHandler {
	return &ConnectionHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// CreateConnectionRequest is the JSON request body for connecting to a
// patient.
type CreateConnectionRequest struct {
	PatientUniqueID string `json:"patient_unique_id" validate:"required,len=6"`
}

// AddReferenceRequest is the JSON request body for adding a reference line.
type AddReferenceRequest struct {
	Description string `json:"description" validate:"required,max=500"`
	Datetime    string `json:"datetime" validate:"omitempty"`
}

// --- Handlers ---

// Create handles POST /api/v1/connections
func (h *ConnectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	clinicianID := middleware.AccountIDFromContext(r.Context())

	var req CreateConnectionRequest
	if !decode(w, r, &req) {
		return
	}

	conn, err := h.service.Connect(r.Context(), clinicianID, req.PatientUniqueID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: conn})
}

// List handles GET /api/v1/connections
func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromContext(r.Context())
	role := middleware.RoleFromContext(r.Context())

	conns, err := h.service.List(r.Context(), accountID, role)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: conns})
}

// Status handles GET /api/v1/connections/status/{patientUniqueID}
func (h *ConnectionHandler) Status(w http.ResponseWriter, r *http.Request) {
	clinicianID := middleware.AccountIDFromContext(r.Context())
	patientUniqueID := chi.URLParam(r, "patientUniqueID")

	conn, connected, err := h.service.Status(r.Context(), clinicianID, patientUniqueID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	data := map[string]any{"connected": connected}
	if connected {
		data["connection"] = conn
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: data})
}

// Delete handles DELETE /api/v1/connections/{id}
func (h *ConnectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromContext(r.Context())

	connectionID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.service.Disconnect(r.Context(), accountID, connectionID.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{
		"id":     connectionID.String(),
		"status": "disconnected",
	}})
}

// AddReference handles POST /api/v1/connections/{id}/references
func (h *ConnectionHandler) AddReference(w http.ResponseWriter, r *http.Request) {
	clinicianID := middleware.AccountIDFromContext(r.Context())

	connectionID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req AddReferenceRequest
	if !decode(w, r, &req) {
		return
	}

	line, err := h.service.AddReference(r.Context(), clinicianID, connectionID.String(), service.AddReferenceInput{
		Description: req.Description,
		Datetime:    req.Datetime,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: line})
}

// UpdateReference handles PUT /api/v1/connections/{id}/references/{refID}
func (h *ConnectionHandler) UpdateReference(w http.ResponseWriter, r *http.Request) {
	clinicianID := middleware.AccountIDFromContext(r.Context())

	connectionID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	refID, err := strconv.Atoi(chi.URLParam(r, "refID"))
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "refID must be an integer"},
		})
		return
	}

	var req AddReferenceRequest
	if !decode(w, r, &req) {
		return
	}

	line, err := h.service.UpdateReference(r.Context(), clinicianID, connectionID.String(), refID, service.AddReferenceInput{
		Description: req.Description,
		Datetime:    req.Datetime,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: line})
}

// ListReferences handles GET /api/v1/connections/{id}/references
func (h *ConnectionHandler) ListReferences(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromContext(r.Context())

	connectionID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	lines, err := h.service.ListReferences(r.Context(), accountID, connectionID.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: lines})
}

// DeleteReference handles DELETE /api/v1/connections/{id}/references/{refID}
func (h *ConnectionHandler) DeleteReference(w http.ResponseWriter, r *http.Request) {
	clinicianID := middleware.AccountIDFromContext(r.Context())

	connectionID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	refID, err := strconv.Atoi(chi.URLParam(r, "refID"))
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "refID must be an integer"},
		})
		return
	}

	if err := h.service.DeleteReference(r.Context(), clinicianID, connectionID.String(), refID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{
		"ref_id": refID,
		"status": "deleted",
	}})
}
