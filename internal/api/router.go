package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/mw10013/orgagent/internal/api/middleware"
	"github.com/mw10013/orgagent/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	UploadHandler         http.HandlerFunc
	ListUploadsHandler    http.HandlerFunc
	DownloadUploadHandler http.HandlerFunc
	DeleteUploadHandler   http.HandlerFunc

	CreateApprovalHandler http.HandlerFunc
	ListApprovalsHandler  http.HandlerFunc
	GetApprovalHandler    http.HandlerFunc
	ApprovalStatusHandler http.HandlerFunc
	ApproveHandler        http.HandlerFunc
	RejectHandler         http.HandlerFunc

	EventsHandler http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/uploads", orNotImplemented(deps.UploadHandler))
		r.Get("/api/v1/uploads", orNotImplemented(deps.ListUploadsHandler))
		r.Get("/api/v1/uploads/{name}", orNotImplemented(deps.DownloadUploadHandler))
		r.Delete("/api/v1/uploads/{name}", orNotImplemented(deps.DeleteUploadHandler))

		r.Post("/api/v1/approvals", orNotImplemented(deps.CreateApprovalHandler))
		r.Get("/api/v1/approvals", orNotImplemented(deps.ListApprovalsHandler))
		r.Get("/api/v1/approvals/{id}", orNotImplemented(deps.GetApprovalHandler))
		r.Get("/api/v1/approvals/{id}/status", orNotImplemented(deps.ApprovalStatusHandler))
		r.Post("/api/v1/approvals/{id}/approve", orNotImplemented(deps.ApproveHandler))
		r.Post("/api/v1/approvals/{id}/reject", orNotImplemented(deps.RejectHandler))

		r.Get("/api/v1/events", orNotImplemented(deps.EventsHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{id}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
