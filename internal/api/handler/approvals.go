package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mw10013/orgagent/internal/api/middleware"
	"github.com/mw10013/orgagent/internal/api/response"
	"github.com/mw10013/orgagent/internal/cache"
	"github.com/mw10013/orgagent/internal/store"
	"github.com/mw10013/orgagent/pkg/models"
)

// ApprovalDirectory is the approval surface the handlers depend on.
type ApprovalDirectory interface {
	RequestApproval(ctx context.Context, tenantID uuid.UUID, title, description string) (*models.ApprovalRequest, error)
	Approve(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (bool, error)
	Reject(ctx context.Context, tenantID uuid.UUID, id uuid.UUID, reason string) (bool, error)
	ListApprovals(ctx context.Context, tenantID uuid.UUID) ([]*models.ApprovalRequest, error)
	GetApproval(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (*models.ApprovalRequest, error)
}

type createApprovalRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type rejectApprovalRequest struct {
	Reason string `json:"reason"`
}

// NewCreateApprovalHandler returns an http.HandlerFunc for POST /api/v1/approvals.
func NewCreateApprovalHandler(dir ApprovalDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := middleware.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		var req createApprovalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Title == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "title is required", nil)
			return
		}

		approval, err := dir.RequestApproval(r.Context(), tenantID, req.Title, req.Description)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create approval", nil)
			return
		}
		response.Created(w, approval)
	}
}

// NewListApprovalsHandler returns an http.HandlerFunc for GET /api/v1/approvals.
func NewListApprovalsHandler(dir ApprovalDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := middleware.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		approvals, err := dir.ListApprovals(r.Context(), tenantID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list approvals", nil)
			return
		}
		if approvals == nil {
			approvals = []*models.ApprovalRequest{}
		}
		response.JSON(w, approvals)
	}
}

// NewGetApprovalHandler returns an http.HandlerFunc for GET /api/v1/approvals/{id}.
func NewGetApprovalHandler(dir ApprovalDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := middleware.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid approval ID", nil)
			return
		}

		approval, err := dir.GetApproval(r.Context(), tenantID, id)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Approval not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get approval", nil)
			return
		}
		response.JSON(w, approval)
	}
}

// NewApprovalStatusHandler returns an http.HandlerFunc for
// GET /api/v1/approvals/{id}/status. It serves from the cache when the
// status was recently resolved and falls through to the directory otherwise.
func NewApprovalStatusHandler(dir ApprovalDirectory, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := middleware.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid approval ID", nil)
			return
		}

		if c != nil {
			if status, ok, err := c.GetApprovalStatus(r.Context(), id); err == nil && ok {
				response.JSON(w, map[string]string{"id": id.String(), "status": status})
				return
			}
		}

		approval, err := dir.GetApproval(r.Context(), tenantID, id)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Approval not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get approval", nil)
			return
		}
		response.JSON(w, map[string]string{"id": id.String(), "status": approval.Status})
	}
}

// NewApproveHandler returns an http.HandlerFunc for POST /api/v1/approvals/{id}/approve.
// An approval that is unknown or already resolved yields 409.
func NewApproveHandler(dir ApprovalDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := middleware.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid approval ID", nil)
			return
		}

		applied, err := dir.Approve(r.Context(), tenantID, id)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to approve", nil)
			return
		}
		if !applied {
			response.Error(w, http.StatusConflict, "ALREADY_RESOLVED", "Approval is unknown or already resolved", nil)
			return
		}
		response.JSON(w, map[string]string{"id": id.String(), "status": models.ApprovalStatusApproved})
	}
}

// NewRejectHandler returns an http.HandlerFunc for POST /api/v1/approvals/{id}/reject.
func NewRejectHandler(dir ApprovalDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := middleware.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid approval ID", nil)
			return
		}

		var req rejectApprovalRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
				return
			}
		}

		applied, err := dir.Reject(r.Context(), tenantID, id, req.Reason)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to reject", nil)
			return
		}
		if !applied {
			response.Error(w, http.StatusConflict, "ALREADY_RESOLVED", "Approval is unknown or already resolved", nil)
			return
		}
		response.JSON(w, map[string]string{"id": id.String(), "status": models.ApprovalStatusRejected})
	}
}
