package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rNLKJA/moodist-server/pkg/health"
	"github.com/rNLKJA/moodist-server/pkg/middleware"

	"github.com/rNLKJA/moodist-server/internal/domain"
	"github.com/rNLKJA/moodist-server/internal/service"
	"github.com/rNLKJA/moodist-server/internal/token"
)

// NewRouter creates a chi router with all server routes registered.
func NewRouter(
	accountService *service.AccountService,
	connectionService *service.ConnectionService,
	moodService *service.MoodService,
	sessions *token.SessionManager,
	revocations token.RevocationList,
	healthHandler *health.Handler,
	logger *slog.Logger,
	corsConfig middleware.CORSConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(corsConfig))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Tracing("moodist-server"))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics("moodist"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Token validator that bridges to our internal session manager. Besides
	// signature and expiry, tokens issued at or before the account's last
	// revocation (logout, password change or reset) are rejected; a
	// revocation store outage fails open so auth stays available.
	tokenValidator := func(tok string) (*middleware.Claims, error) {
		claims, err := sessions.ValidateAccessToken(tok)
		if err != nil {
			return nil, err
		}
		revokedAt, found, err := revocations.RevokedAt(context.Background(), claims.AccountID)
		if err != nil {
			logger.Error("access token revocation check failed",
				slog.String("account_id", claims.AccountID),
				slog.String("error", err.Error()),
			)
		} else if found && claims.IssuedAt != nil && !claims.IssuedAt.Time.After(revokedAt) {
			return nil, errors.New("access token has been revoked")
		}
		return &middleware.Claims{
			AccountID: claims.AccountID,
			Email:     claims.Email,
			Role:      claims.Role,
		}, nil
	}

	authHandler := NewAuthHandler(accountService, logger)
	accountHandler := NewAccountHandler(accountService, connectionService, logger)
	connectionHandler := NewConnectionHandler(connectionService, logger)
	moodHandler := NewMoodHandler(moodService, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		// Auth endpoints (public)
		r.Group(func(r chi.Router) {
			r.Post("/auth/register", authHandler.Register)
			r.Post("/auth/verify", authHandler.Verify)
			r.Post("/auth/resend", authHandler.Resend)
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/refresh", authHandler.Refresh)
			r.Post("/auth/forgot-password", authHandler.ForgotPassword)
			r.Post("/auth/reset-password", authHandler.ResetPassword)
		})

		// Auth endpoints that require a valid access token
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tokenValidator))

			r.Post("/auth/logout", authHandler.Logout)
			r.Post("/auth/change-password", authHandler.ChangePassword)
			r.Post("/auth/change-email", authHandler.ChangeEmail)
		})

		// Account endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tokenValidator))

			r.Get("/accounts/me", accountHandler.Me)

			r.With(middleware.RequireRole(domain.RolePatient)).
				Post("/accounts/me/rotate-id", accountHandler.RotateID)

			r.With(middleware.RequireRole(domain.RoleClinician)).
				Get("/patients/{uniqueID}", accountHandler.GetPatient)
		})

		// Connection endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tokenValidator))

			r.Get("/connections", connectionHandler.List)
			r.Delete("/connections/{id}", connectionHandler.Delete)
			r.Get("/connections/{id}/references", connectionHandler.ListReferences)

			clinicianOnly := middleware.RequireRole(domain.RoleClinician)
			r.With(clinicianOnly).Post("/connections", connectionHandler.Create)
			r.With(clinicianOnly).Get("/connections/status/{patientUniqueID}", connectionHandler.Status)
			r.With(clinicianOnly).Post("/connections/{id}/references", connectionHandler.AddReference)
			r.With(clinicianOnly).Put("/connections/{id}/references/{refID}", connectionHandler.UpdateReference)
			r.With(clinicianOnly).Delete("/connections/{id}/references/{refID}", connectionHandler.DeleteReference)
		})

		// Mood log endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tokenValidator))

			patientOnly := middleware.RequireRole(domain.RolePatient)
			r.With(patientOnly).Post("/moods", moodHandler.Log)
			r.With(patientOnly).Get("/moods/today", moodHandler.Today)

			r.Get("/moods/{patientID}", moodHandler.List)
		})
	})

	return r
}
