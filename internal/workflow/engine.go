// Package workflow runs durable approval workflows. A workflow is a single
// attempt: it is created pending with a deadline, suspends awaiting an
// external approve/reject signal, and transitions exactly once to approved or
// rejected. State lives in Postgres, so pending workflows survive restarts
// and are resumed by Start; suspension holds no resources on the tenant
// agent, which stays fully responsive while workflows wait.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mw10013/orgagent/internal/cache"
	"github.com/mw10013/orgagent/internal/store"
	"github.com/mw10013/orgagent/pkg/models"
)

const approvalStatusTTL = 30 * time.Minute

// Reporter receives workflow lifecycle reports on behalf of the owning tenant
// agent. Implemented by the agent registry.
type Reporter interface {
	ApprovalProgress(approval *models.ApprovalRequest)
	ApprovalResolved(approval *models.ApprovalRequest)
}

// Engine owns the lifecycle of approval workflows.
type Engine struct {
	store    store.Store
	cache    cache.Cache
	timeout  time.Duration
	reporter Reporter

	mu      sync.Mutex
	waiters map[uuid.UUID]chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEngine creates an engine whose workflows wait up to timeout for a signal.
func NewEngine(st store.Store, ca cache.Cache, timeout time.Duration) *Engine {
	return &Engine{
		store:   st,
		cache:   ca,
		timeout: timeout,
		waiters: make(map[uuid.UUID]chan struct{}),
		stop:    make(chan struct{}),
	}
}

// Start binds the reporter and resumes every workflow that was pending when
// the process last stopped.
func (e *Engine) Start(ctx context.Context, reporter Reporter) error {
	e.reporter = reporter

	pending, err := e.store.ListPendingApprovals(ctx)
	if err != nil {
		return fmt.Errorf("resume pending approvals: %w", err)
	}
	for _, approval := range pending {
		e.spawn(approval)
	}
	if len(pending) > 0 {
		slog.Info("resumed pending approval workflows", "count", len(pending))
	}
	return nil
}

// Stop halts all waiters and blocks until they exit. Pending workflows stay
// pending in the store and resume on the next Start.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	e.wg.Wait()
}

// StartApproval creates a new pending workflow for the tenant, begins its
// suspended wait, and reports initial progress.
func (e *Engine) StartApproval(ctx context.Context, tenantID uuid.UUID, title, description string) (*models.ApprovalRequest, error) {
	now := time.Now().UTC()
	approval := &models.ApprovalRequest{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Title:       title,
		Description: description,
		Status:      models.ApprovalStatusPending,
		Deadline:    now.Add(e.timeout),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.CreateApproval(ctx, approval); err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}
	_ = e.cache.SetApprovalStatus(ctx, approval.ID, approval.Status, approvalStatusTTL)

	e.spawn(approval)
	e.reporter.ApprovalProgress(approval)

	slog.Info("approval workflow started",
		"approval_id", approval.ID, "tenant_id", tenantID, "deadline", approval.Deadline)
	return approval, nil
}

// Signal delivers an approve or reject to a pending workflow. Returns false
// with no mutation when the workflow does not exist for the tenant or is
// already terminal; the losing side of a race with the deadline also gets
// false.
func (e *Engine) Signal(ctx context.Context, id uuid.UUID, tenantID uuid.UUID, approve bool, reason string) (bool, error) {
	approval, err := e.store.GetApproval(ctx, id, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if approval.Terminal() {
		return false, nil
	}

	resolution := store.Resolution{
		Status:     models.ApprovalStatusApproved,
		Reason:     reason,
		ResolvedAt: time.Now().UTC(),
	}
	if !approve {
		resolution.Status = models.ApprovalStatusRejected
		if resolution.Reason == "" {
			resolution.Reason = models.ApprovalReasonRejected
		}
	}

	resolved, err := e.store.ResolveApproval(ctx, id, resolution)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	_ = e.cache.SetApprovalStatus(ctx, id, resolved.Status, approvalStatusTTL)
	e.wake(id)
	e.reporter.ApprovalProgress(resolved)
	e.reporter.ApprovalResolved(resolved)

	slog.Info("approval workflow signaled",
		"approval_id", id, "tenant_id", tenantID, "status", resolved.Status)
	return true, nil
}

// ListApprovals returns the tenant's workflow instances as status snapshots,
// newest first.
func (e *Engine) ListApprovals(ctx context.Context, tenantID uuid.UUID) ([]*models.ApprovalRequest, error) {
	return e.store.ListApprovals(ctx, tenantID)
}

// GetApproval returns one workflow instance scoped to the tenant.
func (e *Engine) GetApproval(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.ApprovalRequest, error) {
	return e.store.GetApproval(ctx, id, tenantID)
}

func (e *Engine) spawn(approval *models.ApprovalRequest) {
	signal := make(chan struct{})

	e.mu.Lock()
	e.waiters[approval.ID] = signal
	e.mu.Unlock()

	e.wg.Add(1)
	go e.wait(approval, signal)
}

func (e *Engine) wake(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.waiters[id]; ok {
		close(ch)
		delete(e.waiters, id)
	}
}

func (e *Engine) removeWaiter(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.waiters, id)
}

// wait is the suspended phase of one workflow. It holds no lock on the tenant
// agent and ends when a signal arrives, the deadline passes, or the engine
// stops. Internal failures fold into the rejected outcome rather than
// propagating; the error is recorded on the row for triage.
func (e *Engine) wait(approval *models.ApprovalRequest, signal chan struct{}) {
	defer e.wg.Done()
	defer e.removeWaiter(approval.ID)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in approval waiter", "approval_id", approval.ID, "error", r)
			msg := fmt.Sprintf("panic: %v", r)
			e.expire(approval, store.Resolution{
				Status:       models.ApprovalStatusRejected,
				Reason:       models.ApprovalReasonError,
				ErrorMessage: &msg,
				ResolvedAt:   time.Now().UTC(),
			})
		}
	}()

	timer := time.NewTimer(time.Until(approval.Deadline))
	defer timer.Stop()

	select {
	case <-signal:
		// Resolved by Signal; it already reported.
	case <-timer.C:
		e.expire(approval, store.Resolution{
			Status:     models.ApprovalStatusRejected,
			Reason:     models.ApprovalReasonTimedOut,
			ResolvedAt: time.Now().UTC(),
		})
	case <-e.stop:
		// Stays pending; resumed on next Start.
	}
}

// expire applies a terminal resolution from the waiter side. Losing the
// compare-and-swap to a concurrent signal is routine and reported by the
// winner, so ErrNotFound is silently absorbed.
func (e *Engine) expire(approval *models.ApprovalRequest, resolution store.Resolution) {
	ctx := context.Background()

	resolved, err := e.store.ResolveApproval(ctx, approval.ID, resolution)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		slog.Error("resolve expired approval", "approval_id", approval.ID, "error", err)
		return
	}

	_ = e.cache.SetApprovalStatus(ctx, approval.ID, resolved.Status, approvalStatusTTL)
	e.reporter.ApprovalProgress(resolved)
	e.reporter.ApprovalResolved(resolved)

	slog.Info("approval workflow expired",
		"approval_id", approval.ID, "tenant_id", approval.TenantID, "reason", resolution.Reason)
}
