package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mw10013/orgagent/internal/cache"
	"github.com/mw10013/orgagent/internal/store"
	"github.com/mw10013/orgagent/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── in-memory approval store ───────────────────────────────────────────────

type memStore struct {
	mu        sync.Mutex
	approvals map[uuid.UUID]*models.ApprovalRequest
}

func newMemStore() *memStore {
	return &memStore{approvals: map[uuid.UUID]*models.ApprovalRequest{}}
}

func (s *memStore) Ping(context.Context) error { return nil }
func (s *memStore) GetDefaultTenant(context.Context) (*models.Tenant, error) {
	return nil, store.ErrNotFound
}
func (s *memStore) GetTenant(context.Context, uuid.UUID) (*models.Tenant, error) {
	return nil, store.ErrNotFound
}
func (s *memStore) GetAPIKeyByPrefix(context.Context, string) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *memStore) UpdateAPIKeyLastUsed(context.Context, uuid.UUID) error { return nil }
func (s *memStore) CreateAPIKey(context.Context, *models.APIKey) error    { return nil }
func (s *memStore) ListAPIKeys(context.Context, uuid.UUID) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *memStore) RevokeAPIKey(context.Context, uuid.UUID, uuid.UUID) error { return nil }
func (s *memStore) UpsertUpload(_ context.Context, u *models.Upload) (*models.Upload, error) {
	return u, nil
}
func (s *memStore) ListUploads(context.Context, uuid.UUID) ([]*models.Upload, error) {
	return nil, nil
}
func (s *memStore) GetUpload(context.Context, uuid.UUID, string) (*models.Upload, error) {
	return nil, store.ErrNotFound
}
func (s *memStore) SetUploadClassification(context.Context, uuid.UUID, string, string, float64) (*models.Upload, error) {
	return nil, store.ErrNotFound
}
func (s *memStore) DeleteUpload(context.Context, uuid.UUID, string) (bool, error) {
	return false, nil
}

func (s *memStore) CreateApproval(_ context.Context, a *models.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *a
	s.approvals[a.ID] = &stored
	return nil
}

func (s *memStore) GetApproval(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok || a.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *memStore) ListApprovals(_ context.Context, tenantID uuid.UUID) ([]*models.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ApprovalRequest
	for _, a := range s.approvals {
		if a.TenantID == tenantID {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memStore) ListPendingApprovals(context.Context) ([]*models.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ApprovalRequest
	for _, a := range s.approvals {
		if a.Status == models.ApprovalStatusPending {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

// ResolveApproval mirrors the conditional UPDATE in Postgres: the transition
// only applies while the row is still pending.
func (s *memStore) ResolveApproval(_ context.Context, id uuid.UUID, r store.Resolution) (*models.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.approvals[id]
	if !ok || a.Status != models.ApprovalStatusPending {
		return nil, store.ErrNotFound
	}
	a.Status = r.Status
	if r.Reason != "" {
		reason := r.Reason
		a.Reason = &reason
	}
	a.ErrorMessage = r.ErrorMessage
	resolvedAt := r.ResolvedAt
	a.ResolvedAt = &resolvedAt
	a.UpdatedAt = r.ResolvedAt
	copied := *a
	return &copied, nil
}

var _ store.Store = (*memStore)(nil)

// ─── fake cache ─────────────────────────────────────────────────────────────

type memCache struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]string
}

func newMemCache() *memCache {
	return &memCache{statuses: map[uuid.UUID]string{}}
}

func (c *memCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (c *memCache) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (c *memCache) Delete(context.Context, string) error                     { return nil }
func (c *memCache) Ping(context.Context) error                               { return nil }

func (c *memCache) SetApprovalStatus(_ context.Context, id uuid.UUID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[id] = status
	return nil
}

func (c *memCache) GetApprovalStatus(_ context.Context, id uuid.UUID) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[id]
	return status, ok, nil
}

func (c *memCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

var _ cache.Cache = (*memCache)(nil)

// ─── recording reporter ─────────────────────────────────────────────────────

type recordingReporter struct {
	mu       sync.Mutex
	progress []*models.ApprovalRequest
	resolved chan *models.ApprovalRequest
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{resolved: make(chan *models.ApprovalRequest, 8)}
}

func (r *recordingReporter) ApprovalProgress(a *models.ApprovalRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, a)
}

func (r *recordingReporter) ApprovalResolved(a *models.ApprovalRequest) {
	r.resolved <- a
}

func (r *recordingReporter) progressCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.progress)
}

func awaitResolved(t *testing.T, r *recordingReporter) *models.ApprovalRequest {
	t.Helper()
	select {
	case a := <-r.resolved:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for resolution report")
		return nil
	}
}

// ─── helpers ────────────────────────────────────────────────────────────────

func newTestEngine(t *testing.T, timeout time.Duration) (*Engine, *memStore, *memCache, *recordingReporter) {
	t.Helper()
	st := newMemStore()
	ca := newMemCache()
	rep := newRecordingReporter()
	e := NewEngine(st, ca, timeout)
	require.NoError(t, e.Start(context.Background(), rep))
	t.Cleanup(e.Stop)
	return e, st, ca, rep
}

// ─── tests ──────────────────────────────────────────────────────────────────

func TestEngine_StartApproval_CreatesPending(t *testing.T) {
	e, st, ca, rep := newTestEngine(t, time.Hour)
	tenantID := uuid.New()

	before := time.Now().UTC()
	approval, err := e.StartApproval(context.Background(), tenantID, "Rotate keys", "Replace all API keys")
	require.NoError(t, err)

	assert.Equal(t, models.ApprovalStatusPending, approval.Status)
	assert.Equal(t, tenantID, approval.TenantID)
	assert.WithinDuration(t, before.Add(time.Hour), approval.Deadline, 5*time.Second)

	stored, err := st.GetApproval(context.Background(), approval.ID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, stored.Status)

	status, ok, err := ca.GetApprovalStatus(context.Background(), approval.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.ApprovalStatusPending, status)

	assert.Equal(t, 1, rep.progressCount())
}

func TestEngine_Signal_Approve(t *testing.T) {
	e, st, ca, rep := newTestEngine(t, time.Hour)
	tenantID := uuid.New()

	approval, err := e.StartApproval(context.Background(), tenantID, "Rotate keys", "")
	require.NoError(t, err)

	ok, err := e.Signal(context.Background(), approval.ID, tenantID, true, "")
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := st.GetApproval(context.Background(), approval.ID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, stored.Status)
	assert.Nil(t, stored.Reason)
	require.NotNil(t, stored.ResolvedAt)

	resolved := awaitResolved(t, rep)
	assert.Equal(t, models.ApprovalStatusApproved, resolved.Status)

	status, ok, err := ca.GetApprovalStatus(context.Background(), approval.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.ApprovalStatusApproved, status)
}

func TestEngine_Signal_RejectWithReason(t *testing.T) {
	e, st, _, rep := newTestEngine(t, time.Hour)
	tenantID := uuid.New()

	approval, err := e.StartApproval(context.Background(), tenantID, "Drop table", "")
	require.NoError(t, err)

	ok, err := e.Signal(context.Background(), approval.ID, tenantID, false, "too risky")
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := st.GetApproval(context.Background(), approval.ID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusRejected, stored.Status)
	require.NotNil(t, stored.Reason)
	assert.Equal(t, "too risky", *stored.Reason)

	awaitResolved(t, rep)
}

func TestEngine_Signal_RejectDefaultReason(t *testing.T) {
	e, st, _, rep := newTestEngine(t, time.Hour)
	tenantID := uuid.New()

	approval, err := e.StartApproval(context.Background(), tenantID, "Drop table", "")
	require.NoError(t, err)

	ok, err := e.Signal(context.Background(), approval.ID, tenantID, false, "")
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := st.GetApproval(context.Background(), approval.ID, tenantID)
	require.NoError(t, err)
	require.NotNil(t, stored.Reason)
	assert.Equal(t, models.ApprovalReasonRejected, *stored.Reason)

	awaitResolved(t, rep)
}

func TestEngine_Signal_SecondSignalReturnsFalse(t *testing.T) {
	e, _, _, rep := newTestEngine(t, time.Hour)
	tenantID := uuid.New()

	approval, err := e.StartApproval(context.Background(), tenantID, "Rotate keys", "")
	require.NoError(t, err)

	ok, err := e.Signal(context.Background(), approval.ID, tenantID, true, "")
	require.NoError(t, err)
	require.True(t, ok)
	awaitResolved(t, rep)

	ok, err = e.Signal(context.Background(), approval.ID, tenantID, false, "changed my mind")
	require.NoError(t, err)
	assert.False(t, ok)

	select {
	case a := <-rep.resolved:
		t.Fatalf("losing signal reported a resolution: %s", a.Status)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngine_Signal_UnknownIDReturnsFalse(t *testing.T) {
	e, _, _, _ := newTestEngine(t, time.Hour)

	ok, err := e.Signal(context.Background(), uuid.New(), uuid.New(), true, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_Signal_WrongTenantReturnsFalse(t *testing.T) {
	e, _, _, _ := newTestEngine(t, time.Hour)
	tenantID := uuid.New()

	approval, err := e.StartApproval(context.Background(), tenantID, "Rotate keys", "")
	require.NoError(t, err)

	ok, err := e.Signal(context.Background(), approval.ID, uuid.New(), true, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_DeadlineExpiresToTimedOut(t *testing.T) {
	e, st, _, rep := newTestEngine(t, 50*time.Millisecond)
	tenantID := uuid.New()

	approval, err := e.StartApproval(context.Background(), tenantID, "Rotate keys", "")
	require.NoError(t, err)

	resolved := awaitResolved(t, rep)
	assert.Equal(t, models.ApprovalStatusRejected, resolved.Status)
	require.NotNil(t, resolved.Reason)
	assert.Equal(t, models.ApprovalReasonTimedOut, *resolved.Reason)

	stored, err := st.GetApproval(context.Background(), approval.ID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusRejected, stored.Status)

	// Signal after expiry loses the race.
	ok, err := e.Signal(context.Background(), approval.ID, tenantID, true, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_StopLeavesPendingAndResumes(t *testing.T) {
	st := newMemStore()
	ca := newMemCache()
	rep := newRecordingReporter()
	tenantID := uuid.New()

	first := NewEngine(st, ca, time.Hour)
	require.NoError(t, first.Start(context.Background(), rep))

	approval, err := first.StartApproval(context.Background(), tenantID, "Rotate keys", "")
	require.NoError(t, err)
	first.Stop()

	stored, err := st.GetApproval(context.Background(), approval.ID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, stored.Status)

	// A fresh engine picks the pending workflow back up and can resolve it.
	second := NewEngine(st, ca, time.Hour)
	require.NoError(t, second.Start(context.Background(), rep))
	t.Cleanup(second.Stop)

	ok, err := second.Signal(context.Background(), approval.ID, tenantID, true, "")
	require.NoError(t, err)
	assert.True(t, ok)

	resolved := awaitResolved(t, rep)
	assert.Equal(t, models.ApprovalStatusApproved, resolved.Status)
}

func TestEngine_ResumedWorkflowStillExpires(t *testing.T) {
	st := newMemStore()
	ca := newMemCache()
	rep := newRecordingReporter()
	tenantID := uuid.New()

	// Seed a pending row whose deadline has already passed, as if the process
	// was down when it expired.
	past := time.Now().UTC().Add(-time.Minute)
	approval := &models.ApprovalRequest{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Title:     "Rotate keys",
		Status:    models.ApprovalStatusPending,
		Deadline:  past,
		CreatedAt: past.Add(-time.Hour),
		UpdatedAt: past.Add(-time.Hour),
	}
	require.NoError(t, st.CreateApproval(context.Background(), approval))

	e := NewEngine(st, ca, time.Hour)
	require.NoError(t, e.Start(context.Background(), rep))
	t.Cleanup(e.Stop)

	resolved := awaitResolved(t, rep)
	assert.Equal(t, approval.ID, resolved.ID)
	assert.Equal(t, models.ApprovalStatusRejected, resolved.Status)
	require.NotNil(t, resolved.Reason)
	assert.Equal(t, models.ApprovalReasonTimedOut, *resolved.Reason)
}

func TestEngine_ListAndGetScopeToTenant(t *testing.T) {
	e, _, _, _ := newTestEngine(t, time.Hour)
	tenantA := uuid.New()
	tenantB := uuid.New()

	a1, err := e.StartApproval(context.Background(), tenantA, "One", "")
	require.NoError(t, err)
	_, err = e.StartApproval(context.Background(), tenantB, "Two", "")
	require.NoError(t, err)

	listed, err := e.ListApprovals(context.Background(), tenantA)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, a1.ID, listed[0].ID)

	_, err = e.GetApproval(context.Background(), a1.ID, tenantB)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
