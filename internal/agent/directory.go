package agent

import (
	"context"

	"github.com/google/uuid"
	"github.com/mw10013/orgagent/pkg/models"
)

// Flat accessors over Agent resolution so callers holding only a tenant id
// (HTTP handlers, the queue consumer wiring) can reach agent operations
// through narrow interfaces.

func (r *Registry) ListUploads(ctx context.Context, tenantID uuid.UUID) ([]*models.Upload, error) {
	return r.Agent(tenantID).ListUploads(ctx)
}

func (r *Registry) RequestApproval(ctx context.Context, tenantID uuid.UUID, title, description string) (*models.ApprovalRequest, error) {
	return r.Agent(tenantID).RequestApproval(ctx, title, description)
}

func (r *Registry) Approve(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (bool, error) {
	return r.Agent(tenantID).Approve(ctx, id)
}

func (r *Registry) Reject(ctx context.Context, tenantID uuid.UUID, id uuid.UUID, reason string) (bool, error) {
	return r.Agent(tenantID).Reject(ctx, id, reason)
}

func (r *Registry) ListApprovals(ctx context.Context, tenantID uuid.UUID) ([]*models.ApprovalRequest, error) {
	return r.Agent(tenantID).ListApprovals(ctx)
}

func (r *Registry) GetApproval(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (*models.ApprovalRequest, error) {
	return r.flows.GetApproval(ctx, id, tenantID)
}

func (r *Registry) Subscribe(tenantID uuid.UUID) (<-chan models.Event, func()) {
	return r.Agent(tenantID).Subscribe()
}
