package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rNLKJA/moodist-server/pkg/httputil"
	"github.com/rNLKJA/moodist-server/pkg/middleware"
	"github.com/rNLKJA/moodist-server/pkg/pagination"

	"github.com/rNLKJA/moodist-server/internal/domain"
	"github.com/rNLKJA/moodist-server/internal/service"
)

// MoodHandler handles HTTP requests for mood log endpoints.
type MoodHandler struct {
	service *service.MoodService
	logger  *slog.Logger
}

// NewMoodHandler creates a new mood HTTP handler.
func NewMoodHandler(svc *service.MoodService, logger *slog.Logger) *MoodHandler {
	return &MoodHandler{service: svc, logger: logger}
}

// LogMoodRequest is the JSON request body for a daily mood check-in.
type LogMoodRequest struct {
	Q1 int `json:"q1" validate:"min=0,max=3"`
	Q2 int `json:"q2" validate:"min=0,max=3"`
	Q3 int `json:"q3" validate:"min=0,max=3"`
	Q4 int `json:"q4" validate:"min=0,max=3"`
	Q5 int `json:"q5" validate:"min=0,max=3"`
}

// Log handles POST /api/v1/moods
func (h *MoodHandler) Log(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromContext(r.Context())

	var req LogMoodRequest
	if !decode(w, r, &req) {
		return
	}

	log, err := h.service.Log(r.Context(), accountID, domain.MoodScores{
		Q1: req.Q1, Q2: req.Q2, Q3: req.Q3, Q4: req.Q4, Q5: req.Q5,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: log})
}

// Today handles GET /api/v1/moods/today
func (h *MoodHandler) Today(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromContext(r.Context())

	logged, err := h.service.HasLoggedToday(r.Context(), accountID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]bool{"logged_today": logged}})
}

// List handles GET /api/v1/moods/{patientID}
func (h *MoodHandler) List(w http.ResponseWriter, r *http.Request) {
	callerID := middleware.AccountIDFromContext(r.Context())
	callerRole := middleware.RoleFromContext(r.Context())
	patientID := chi.URLParam(r, "patientID")

	page := pagination.FromRequest(r)

	logs, total, err := h.service.List(r.Context(), callerID, callerRole, patientID, page.PerPage, page.Offset)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(logs, int(total), page.Page, page.PerPage))
}
