package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mw10013/orgagent/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error

	UpsertUpload(ctx context.Context, upload *models.Upload) (*models.Upload, error)
	ListUploads(ctx context.Context, tenantID uuid.UUID) ([]*models.Upload, error)
	GetUpload(ctx context.Context, tenantID uuid.UUID, name string) (*models.Upload, error)
	SetUploadClassification(ctx context.Context, tenantID uuid.UUID, name, label string, confidence float64) (*models.Upload, error)
	DeleteUpload(ctx context.Context, tenantID uuid.UUID, name string) (bool, error)

	CreateApproval(ctx context.Context, approval *models.ApprovalRequest) error
	GetApproval(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.ApprovalRequest, error)
	ListApprovals(ctx context.Context, tenantID uuid.UUID) ([]*models.ApprovalRequest, error)
	ListPendingApprovals(ctx context.Context) ([]*models.ApprovalRequest, error)
	ResolveApproval(ctx context.Context, id uuid.UUID, resolution Resolution) (*models.ApprovalRequest, error)
}

// Resolution describes the terminal transition of a pending approval.
// The update is conditional on status still being pending, which makes the
// transition a compare-and-swap: concurrent signals and deadline expiry race
// safely, and exactly one of them wins.
type Resolution struct {
	Status       string
	Reason       string
	ErrorMessage *string
	ResolvedAt   time.Time
}
