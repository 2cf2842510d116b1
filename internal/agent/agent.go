// Package agent hosts the per-tenant actor of record for uploads and
// approvals. One Agent exists per tenant; all operations on it are serialized
// through a single goroutine, so the tenant's rows have exactly one in-flight
// writer at a time. Operations on different tenants run fully concurrently.
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mw10013/orgagent/internal/storage"
	"github.com/mw10013/orgagent/internal/store"
	"github.com/mw10013/orgagent/pkg/models"
)

var ErrAgentClosed = errors.New("agent closed")

// Workflows is what the agent needs from the approval workflow engine.
type Workflows interface {
	StartApproval(ctx context.Context, tenantID uuid.UUID, title, description string) (*models.ApprovalRequest, error)
	Signal(ctx context.Context, id uuid.UUID, tenantID uuid.UUID, approve bool, reason string) (bool, error)
	ListApprovals(ctx context.Context, tenantID uuid.UUID) ([]*models.ApprovalRequest, error)
	GetApproval(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.ApprovalRequest, error)
}

// Agent is the durable actor for one tenant. Obtain instances through a
// Registry; never construct them directly.
type Agent struct {
	tenantID uuid.UUID
	store    store.Store
	flows    Workflows
	hub      *hub

	calls chan call
	done  chan struct{}
}

type call struct {
	fn    func(ctx context.Context) error
	reply chan error
}

func newAgent(tenantID uuid.UUID, st store.Store, flows Workflows) *Agent {
	a := &Agent{
		tenantID: tenantID,
		store:    st,
		flows:    flows,
		hub:      newHub(),
		calls:    make(chan call),
		done:     make(chan struct{}),
	}
	go a.loop()
	return a
}

// loop executes calls one at a time in arrival order.
func (a *Agent) loop() {
	ctx := context.Background()
	for {
		select {
		case c := <-a.calls:
			c.reply <- c.fn(ctx)
		case <-a.done:
			return
		}
	}
}

func (a *Agent) close() {
	close(a.done)
}

// do submits fn to the agent's loop and waits for it to finish. The caller's
// context only bounds the wait; a submitted fn always runs to completion so
// the store is never left mid-mutation.
func (a *Agent) do(ctx context.Context, fn func(ctx context.Context) error) error {
	c := call{fn: fn, reply: make(chan error, 1)}
	select {
	case a.calls <- c:
	case <-a.done:
		return ErrAgentClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TenantID returns the tenant this agent serves.
func (a *Agent) TenantID() uuid.UUID { return a.tenantID }

// Subscribe registers a live-event observer for this tenant. The returned
// cancel func must be called when the observer disconnects.
func (a *Agent) Subscribe() (<-chan models.Event, func()) {
	return a.hub.subscribe()
}

// RecordUpload upserts an upload record keyed by logical name and broadcasts
// an upload-recorded event. Repeated delivery with the same name updates the
// existing row rather than duplicating it.
func (a *Agent) RecordUpload(ctx context.Context, name string, createdAt time.Time, idempotencyKey string) (*models.Upload, error) {
	var recorded *models.Upload
	err := a.do(ctx, func(ctx context.Context) error {
		upload := &models.Upload{
			ID:             uuid.New(),
			TenantID:       a.tenantID,
			Name:           name,
			StorageKey:     storage.ObjectKey(a.tenantID.String(), name),
			IdempotencyKey: idempotencyKey,
			CreatedAt:      createdAt,
			UpdatedAt:      createdAt,
		}
		var err error
		recorded, err = a.store.UpsertUpload(ctx, upload)
		if err != nil {
			return err
		}
		a.publish(models.Event{Type: models.EventUploadRecorded, Upload: recorded})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recorded, nil
}

// ListUploads returns the tenant's uploads, newest first.
func (a *Agent) ListUploads(ctx context.Context) ([]*models.Upload, error) {
	var uploads []*models.Upload
	err := a.do(ctx, func(ctx context.Context) error {
		var err error
		uploads, err = a.store.ListUploads(ctx, a.tenantID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return uploads, nil
}

// RecordClassification sets the label and confidence on an existing upload and
// broadcasts a classification event. When no matching row exists the call is a
// no-op: classification may arrive out of order with recording or deletion.
func (a *Agent) RecordClassification(ctx context.Context, name, label string, confidence float64) error {
	return a.do(ctx, func(ctx context.Context) error {
		updated, err := a.store.SetUploadClassification(ctx, a.tenantID, name, label, confidence)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		a.publish(models.Event{Type: models.EventUploadClassified, Upload: updated})
		return nil
	})
}

// DeleteUpload removes the record for name if present and broadcasts a
// deletion event. Deleting an absent record is not an error.
func (a *Agent) DeleteUpload(ctx context.Context, name string) error {
	return a.do(ctx, func(ctx context.Context) error {
		removed, err := a.store.DeleteUpload(ctx, a.tenantID, name)
		if err != nil {
			return err
		}
		if removed {
			a.publish(models.Event{
				Type: models.EventUploadDeleted,
				Upload: &models.Upload{
					TenantID:   a.tenantID,
					Name:       name,
					StorageKey: storage.ObjectKey(a.tenantID.String(), name),
				},
			})
		}
		return nil
	})
}

// RequestApproval starts a new approval workflow scoped to this tenant and
// broadcasts an approval-requested event. The returned request is pending.
func (a *Agent) RequestApproval(ctx context.Context, title, description string) (*models.ApprovalRequest, error) {
	var approval *models.ApprovalRequest
	err := a.do(ctx, func(ctx context.Context) error {
		var err error
		approval, err = a.flows.StartApproval(ctx, a.tenantID, title, description)
		if err != nil {
			return err
		}
		a.publish(models.Event{Type: models.EventApprovalRequested, Approval: approval})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approval, nil
}

// Approve signals the pending workflow with an approval. Returns false, with
// no mutation and no broadcast, when the workflow does not exist or is
// already terminal.
func (a *Agent) Approve(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := a.do(ctx, func(ctx context.Context) error {
		var err error
		ok, err = a.flows.Signal(ctx, id, a.tenantID, true, "")
		return err
	})
	return ok, err
}

// Reject signals the pending workflow with a rejection and optional reason.
// Same false contract as Approve for unknown or terminal workflows.
func (a *Agent) Reject(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	var ok bool
	err := a.do(ctx, func(ctx context.Context) error {
		var err error
		ok, err = a.flows.Signal(ctx, id, a.tenantID, false, reason)
		return err
	})
	return ok, err
}

// ListApprovals enumerates all approval workflow instances for this tenant as
// status snapshots, newest first.
func (a *Agent) ListApprovals(ctx context.Context) ([]*models.ApprovalRequest, error) {
	var approvals []*models.ApprovalRequest
	err := a.do(ctx, func(ctx context.Context) error {
		var err error
		approvals, err = a.flows.ListApprovals(ctx, a.tenantID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return approvals, nil
}

// publish stamps and broadcasts an event to all connected observers.
func (a *Agent) publish(ev models.Event) {
	ev.TenantID = a.tenantID
	ev.At = time.Now().UTC()
	a.hub.publish(ev)
}

// PublishApproval broadcasts a workflow lifecycle event. Called by the
// workflow engine (through the registry) while a workflow progresses, which
// may happen days after the originating request.
func (a *Agent) PublishApproval(eventType string, approval *models.ApprovalRequest) {
	a.publish(models.Event{Type: eventType, Approval: approval})
}
