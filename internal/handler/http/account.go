package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rNLKJA/moodist-server/pkg/httputil"
	"github.com/rNLKJA/moodist-server/pkg/middleware"

	"github.com/rNLKJA/moodist-server/internal/service"
)

// AccountHandler handles HTTP requests for account endpoints.
type AccountHandler struct {
	accounts    *service.AccountService
	connections *service.ConnectionService
	logger      *slog.Logger
}

// NewAccountHandler creates a new account HTTP handler.
func NewAccountHandler(accounts *service.AccountService, connections *service.ConnectionService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, connections: connections, logger: logger}
}

// Me handles GET /api/v1/accounts/me
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromContext(r.Context())
	role := middleware.RoleFromContext(r.Context())

	account, err := h.accounts.GetAccount(r.Context(), accountID, role)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: account})
}

// RotateID handles POST /api/v1/accounts/me/rotate-id
func (h *AccountHandler) RotateID(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromContext(r.Context())
	role := middleware.RoleFromContext(r.Context())

	account, err := h.accounts.RotateUniqueID(r.Context(), accountID, role)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: account})
}

// GetPatient handles GET /api/v1/patients/{uniqueID}
func (h *AccountHandler) GetPatient(w http.ResponseWriter, r *http.Request) {
	clinicianID := middleware.AccountIDFromContext(r.Context())
	uniqueID := chi.URLParam(r, "uniqueID")

	patient, err := h.connections.GetConnectedPatient(r.Context(), clinicianID, uniqueID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: patient})
}
