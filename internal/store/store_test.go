package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mw10013/orgagent/internal/store"
	"github.com/mw10013/orgagent/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("orgagent_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Run migrations
	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

// defaultTenantID returns the UUID of the seeded default tenant.
func defaultTenantID(t *testing.T, s store.Store) uuid.UUID {
	t.Helper()
	tenant, err := s.GetDefaultTenant(context.Background())
	require.NoError(t, err)
	return tenant.ID
}

func newUpload(tenantID uuid.UUID, name string) *models.Upload {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Upload{
		ID:             uuid.New(),
		TenantID:       tenantID,
		Name:           name,
		StorageKey:     tenantID.String() + "/" + name,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func newApproval(tenantID uuid.UUID, title string) *models.ApprovalRequest {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.ApprovalRequest{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Title:     title,
		Status:    models.ApprovalStatusPending,
		Deadline:  now.Add(7 * 24 * time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// --- Tenant Tests ---

func TestGetDefaultTenant(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	tenant, err := s.GetDefaultTenant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "default", tenant.Name)
	assert.NotEqual(t, uuid.Nil, tenant.ID)
}

func TestGetTenant(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	tenantID := defaultTenantID(t, s)

	tenant, err := s.GetTenant(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, tenantID, tenant.ID)

	_, err = s.GetTenant(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "oga_abcd",
		Scopes:    []string{"read", "write"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.CreateAPIKey(ctx, key)
	require.NoError(t, err)

	// Get by prefix
	keys, err := s.GetAPIKeyByPrefix(ctx, "oga_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, "test-key", keys[0].Name)
}

func TestAPIKey_List(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)
	now := time.Now().UTC().Truncate(time.Microsecond)

	for i := 0; i < 3; i++ {
		err := s.CreateAPIKey(ctx, &models.APIKey{
			ID:        uuid.New(),
			TenantID:  tenantID,
			Name:      "key-" + uuid.NewString()[:4],
			KeyHash:   "hash-" + uuid.NewString()[:4],
			KeyPrefix: "oga_" + uuid.NewString()[:4],
			Scopes:    []string{"read"},
			CreatedAt: now,
			UpdatedAt: now,
		})
		require.NoError(t, err)
	}

	keys, err := s.ListAPIKeys(ctx, tenantID)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestAPIKey_Revoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)
	now := time.Now().UTC().Truncate(time.Microsecond)

	key := &models.APIKey{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      "revoke-me",
		KeyHash:   "hash",
		KeyPrefix: "oga_revk",
		Scopes:    []string{"read"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	// Revoke
	err := s.RevokeAPIKey(ctx, key.ID, tenantID)
	require.NoError(t, err)

	// Should not appear in list or prefix lookup
	keys, err := s.ListAPIKeys(ctx, tenantID)
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = s.GetAPIKeyByPrefix(ctx, "oga_revk")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestAPIKey_RevokeNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.RevokeAPIKey(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAPIKey_UpdateLastUsed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)
	now := time.Now().UTC().Truncate(time.Microsecond)

	key := &models.APIKey{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      "usage-key",
		KeyHash:   "hash",
		KeyPrefix: "oga_used",
		Scopes:    []string{"read"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	err := s.UpdateAPIKeyLastUsed(ctx, key.ID)
	require.NoError(t, err)

	keys, err := s.GetAPIKeyByPrefix(ctx, "oga_used")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)
}

func TestAPIKey_DuplicateID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)
	now := time.Now().UTC().Truncate(time.Microsecond)

	id := uuid.New()
	key := &models.APIKey{
		ID: id, TenantID: tenantID, Name: "dup1", KeyHash: "h1", KeyPrefix: "oga_dup1",
		Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	key2 := &models.APIKey{
		ID: id, TenantID: tenantID, Name: "dup2", KeyHash: "h2", KeyPrefix: "oga_dup2",
		Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	err := s.CreateAPIKey(ctx, key2)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

// --- Upload Tests ---

func TestUpload_UpsertInsert(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	upload := newUpload(tenantID, "report.pdf")
	result, err := s.UpsertUpload(ctx, upload)
	require.NoError(t, err)
	assert.Equal(t, upload.ID, result.ID)
	assert.Equal(t, "report.pdf", result.Name)
	assert.Nil(t, result.Label)
}

func TestUpload_UpsertSameNameKeepsOneRow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	first, err := s.UpsertUpload(ctx, newUpload(tenantID, "report.pdf"))
	require.NoError(t, err)

	// Redelivery with a fresh idempotency key updates in place.
	second := newUpload(tenantID, "report.pdf")
	result, err := s.UpsertUpload(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, first.ID, result.ID) // original ID preserved
	assert.Equal(t, second.IdempotencyKey, result.IdempotencyKey)

	uploads, err := s.ListUploads(ctx, tenantID)
	require.NoError(t, err)
	assert.Len(t, uploads, 1)
}

func TestUpload_ListNewestFirst(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	old := newUpload(tenantID, "old.txt")
	old.CreatedAt = old.CreatedAt.Add(-time.Hour)
	_, err := s.UpsertUpload(ctx, old)
	require.NoError(t, err)
	_, err = s.UpsertUpload(ctx, newUpload(tenantID, "new.txt"))
	require.NoError(t, err)

	uploads, err := s.ListUploads(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, uploads, 2)
	assert.Equal(t, "new.txt", uploads[0].Name)
	assert.Equal(t, "old.txt", uploads[1].Name)
}

func TestUpload_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetUpload(context.Background(), uuid.New(), "ghost.txt")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpload_SetClassification(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	_, err := s.UpsertUpload(ctx, newUpload(tenantID, "photo.png"))
	require.NoError(t, err)

	updated, err := s.SetUploadClassification(ctx, tenantID, "photo.png", "image", 0.9)
	require.NoError(t, err)
	require.NotNil(t, updated.Label)
	assert.Equal(t, "image", *updated.Label)
	require.NotNil(t, updated.Confidence)
	assert.InDelta(t, 0.9, *updated.Confidence, 0.001)
}

func TestUpload_SetClassificationNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.SetUploadClassification(context.Background(), uuid.New(), "ghost.txt", "image", 0.9)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpload_Delete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	_, err := s.UpsertUpload(ctx, newUpload(tenantID, "doomed.txt"))
	require.NoError(t, err)

	removed, err := s.DeleteUpload(ctx, tenantID, "doomed.txt")
	require.NoError(t, err)
	assert.True(t, removed)

	// Deleting again reports nothing removed.
	removed, err = s.DeleteUpload(ctx, tenantID, "doomed.txt")
	require.NoError(t, err)
	assert.False(t, removed)
}

// --- Approval Tests ---

func TestApproval_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	approval := newApproval(tenantID, "Rotate keys")
	require.NoError(t, s.CreateApproval(ctx, approval))

	got, err := s.GetApproval(ctx, approval.ID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, approval.ID, got.ID)
	assert.Equal(t, models.ApprovalStatusPending, got.Status)
	assert.Nil(t, got.Reason)
	assert.Nil(t, got.ResolvedAt)
}

func TestApproval_GetScopesToTenant(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	approval := newApproval(tenantID, "Rotate keys")
	require.NoError(t, s.CreateApproval(ctx, approval))

	_, err := s.GetApproval(ctx, approval.ID, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApproval_ListPending(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	pending := newApproval(tenantID, "Still waiting")
	require.NoError(t, s.CreateApproval(ctx, pending))

	resolvedSoon := newApproval(tenantID, "Already handled")
	require.NoError(t, s.CreateApproval(ctx, resolvedSoon))
	_, err := s.ResolveApproval(ctx, resolvedSoon.ID, store.Resolution{
		Status:     models.ApprovalStatusApproved,
		ResolvedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	got, err := s.ListPendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pending.ID, got[0].ID)
}

func TestApproval_ResolveApprove(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	approval := newApproval(tenantID, "Rotate keys")
	require.NoError(t, s.CreateApproval(ctx, approval))

	resolvedAt := time.Now().UTC().Truncate(time.Microsecond)
	resolved, err := s.ResolveApproval(ctx, approval.ID, store.Resolution{
		Status:     models.ApprovalStatusApproved,
		ResolvedAt: resolvedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, resolved.Status)
	assert.Nil(t, resolved.Reason) // empty reason stored as NULL
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, resolvedAt, resolved.ResolvedAt.UTC().Truncate(time.Microsecond))
}

func TestApproval_ResolveRejectWithReason(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	approval := newApproval(tenantID, "Drop table")
	require.NoError(t, s.CreateApproval(ctx, approval))

	resolved, err := s.ResolveApproval(ctx, approval.ID, store.Resolution{
		Status:     models.ApprovalStatusRejected,
		Reason:     models.ApprovalReasonTimedOut,
		ResolvedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusRejected, resolved.Status)
	require.NotNil(t, resolved.Reason)
	assert.Equal(t, models.ApprovalReasonTimedOut, *resolved.Reason)
}

func TestApproval_ResolveIsCompareAndSwap(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	approval := newApproval(tenantID, "Rotate keys")
	require.NoError(t, s.CreateApproval(ctx, approval))

	_, err := s.ResolveApproval(ctx, approval.ID, store.Resolution{
		Status:     models.ApprovalStatusApproved,
		ResolvedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	// The losing side of the race gets ErrNotFound and the row is untouched.
	_, err = s.ResolveApproval(ctx, approval.ID, store.Resolution{
		Status:     models.ApprovalStatusRejected,
		Reason:     models.ApprovalReasonTimedOut,
		ResolvedAt: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.GetApproval(ctx, approval.ID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, got.Status)
}

// --- Ping Test ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.Ping(context.Background())
	assert.NoError(t, err)
}
