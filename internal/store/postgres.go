package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mw10013/orgagent/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

func (s *PostgresStore) GetDefaultTenant(ctx context.Context) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM tenants WHERE name = 'default' LIMIT 1`,
	).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default tenant: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Uploads ---

const uploadColumns = `id, tenant_id, name, storage_key, idempotency_key, label, confidence, created_at, updated_at`

func scanUpload(row pgx.Row) (*models.Upload, error) {
	var u models.Upload
	err := row.Scan(&u.ID, &u.TenantID, &u.Name, &u.StorageKey, &u.IdempotencyKey,
		&u.Label, &u.Confidence, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) UpsertUpload(ctx context.Context, upload *models.Upload) (*models.Upload, error) {
	result, err := scanUpload(s.pool.QueryRow(ctx,
		`INSERT INTO uploads (id, tenant_id, name, storage_key, idempotency_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tenant_id, name) DO UPDATE SET
		   storage_key = EXCLUDED.storage_key,
		   idempotency_key = EXCLUDED.idempotency_key,
		   updated_at = NOW()
		 RETURNING `+uploadColumns,
		upload.ID, upload.TenantID, upload.Name, upload.StorageKey, upload.IdempotencyKey,
		upload.CreatedAt, upload.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("upsert upload: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) ListUploads(ctx context.Context, tenantID uuid.UUID) ([]*models.Upload, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE tenant_id = $1 ORDER BY created_at DESC, name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var uploads []*models.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

func (s *PostgresStore) GetUpload(ctx context.Context, tenantID uuid.UUID, name string) (*models.Upload, error) {
	u, err := scanUpload(s.pool.QueryRow(ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE tenant_id = $1 AND name = $2`, tenantID, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get upload: %w", err)
	}
	return u, nil
}

// SetUploadClassification records a classification result on an existing
// upload. Returns ErrNotFound when no row matches; callers treat that as a
// benign no-op since classification may race with deletion or arrive before
// the upload is recorded.
func (s *PostgresStore) SetUploadClassification(ctx context.Context, tenantID uuid.UUID, name, label string, confidence float64) (*models.Upload, error) {
	u, err := scanUpload(s.pool.QueryRow(ctx,
		`UPDATE uploads SET label = $3, confidence = $4, updated_at = NOW()
		 WHERE tenant_id = $1 AND name = $2
		 RETURNING `+uploadColumns, tenantID, name, label, confidence))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set upload classification: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) DeleteUpload(ctx context.Context, tenantID uuid.UUID, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM uploads WHERE tenant_id = $1 AND name = $2`, tenantID, name)
	if err != nil {
		return false, fmt.Errorf("delete upload: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// --- Approval Requests ---

const approvalColumns = `id, tenant_id, title, description, status, reason, error_message, deadline, resolved_at, created_at, updated_at`

func scanApproval(row pgx.Row) (*models.ApprovalRequest, error) {
	var a models.ApprovalRequest
	err := row.Scan(&a.ID, &a.TenantID, &a.Title, &a.Description, &a.Status, &a.Reason,
		&a.ErrorMessage, &a.Deadline, &a.ResolvedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) CreateApproval(ctx context.Context, approval *models.ApprovalRequest) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO approval_requests (id, tenant_id, title, description, status, deadline, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		approval.ID, approval.TenantID, approval.Title, approval.Description,
		approval.Status, approval.Deadline, approval.CreatedAt, approval.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create approval: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetApproval(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.ApprovalRequest, error) {
	a, err := scanApproval(s.pool.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListApprovals(ctx context.Context, tenantID uuid.UUID) ([]*models.ApprovalRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*models.ApprovalRequest
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

func (s *PostgresStore) ListPendingApprovals(ctx context.Context) ([]*models.ApprovalRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests WHERE status = 'pending' ORDER BY deadline`)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*models.ApprovalRequest
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

// ResolveApproval transitions a pending approval to a terminal state.
// The WHERE status = 'pending' guard makes this a compare-and-swap; when
// another caller already resolved the row, ErrNotFound is returned and the
// row is untouched.
func (s *PostgresStore) ResolveApproval(ctx context.Context, id uuid.UUID, resolution Resolution) (*models.ApprovalRequest, error) {
	a, err := scanApproval(s.pool.QueryRow(ctx,
		`UPDATE approval_requests
		 SET status = $2, reason = NULLIF($3, ''), error_message = $4, resolved_at = $5, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+approvalColumns,
		id, resolution.Status, resolution.Reason, resolution.ErrorMessage, resolution.ResolvedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve approval: %w", err)
	}
	return a, nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
