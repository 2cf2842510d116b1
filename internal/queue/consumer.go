package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mw10013/orgagent/internal/classify"
	"github.com/mw10013/orgagent/internal/storage"
	"github.com/mw10013/orgagent/pkg/models"
)

// TenantAgent is what the consumer needs from a resolved agent.
type TenantAgent interface {
	RecordUpload(ctx context.Context, name string, createdAt time.Time, idempotencyKey string) (*models.Upload, error)
	RecordClassification(ctx context.Context, name, label string, confidence float64) error
	DeleteUpload(ctx context.Context, name string) error
}

// ObjectStat re-fetches object metadata; a put notification is only applied
// when the object still exists.
type ObjectStat interface {
	Stat(ctx context.Context, key string) (*storage.ObjectInfo, error)
}

// Consumer applies storage-change notifications to tenant agents with
// per-message acknowledgment semantics. It holds the drop-versus-retry
// policy: schema violations and stale targets are dropped because retrying
// cannot fix them, while agent failures are retried as transient faults.
type Consumer struct {
	storage    ObjectStat
	resolve    func(tenantID uuid.UUID) TenantAgent
	classifier classify.Provider
}

// NewConsumer creates a Consumer. resolve returns (creating if absent) the
// agent for a tenant.
func NewConsumer(st ObjectStat, resolve func(tenantID uuid.UUID) TenantAgent, classifier classify.Provider) *Consumer {
	return &Consumer{storage: st, resolve: resolve, classifier: classifier}
}

// Handle processes one notification.
func (c *Consumer) Handle(ctx context.Context, m Message) Outcome {
	var n Notification
	if err := json.Unmarshal(m.Body, &n); err != nil {
		// Malformed messages are not retried; redelivery cannot fix a
		// schema violation.
		slog.Error("dropping malformed notification", "message_id", m.ID, "error", err)
		return Ack
	}
	if n.Object.Key == "" {
		slog.Error("dropping notification without object key", "message_id", m.ID, "action", n.Action)
		return Ack
	}

	switch n.Action {
	case ActionPut:
		return c.handlePut(ctx, n)
	case ActionDelete, ActionLifecycleDelete:
		return c.handleDelete(ctx, n)
	default:
		slog.Warn("dropping notification with unknown action", "message_id", m.ID, "action", n.Action, "key", n.Object.Key)
		return Ack
	}
}

func (c *Consumer) handlePut(ctx context.Context, n Notification) Outcome {
	// The object may already be gone; notifications race with storage.
	info, err := c.storage.Stat(ctx, n.Object.Key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		slog.Warn("object gone before notification processed", "key", n.Object.Key)
		return Ack
	}
	if err != nil {
		slog.Error("stat object", "key", n.Object.Key, "error", err)
		return Retry
	}

	if info.TenantID == "" || info.Name == "" || info.IdempotencyKey == "" {
		// A data-integrity bug upstream, not a transient fault.
		slog.Error("object missing required metadata",
			"key", n.Object.Key, "tenant_id", info.TenantID, "name", info.Name,
			"idempotency_key", info.IdempotencyKey)
		return Ack
	}
	tenantID, err := uuid.Parse(info.TenantID)
	if err != nil {
		slog.Error("object has invalid tenant id metadata", "key", n.Object.Key, "tenant_id", info.TenantID)
		return Ack
	}

	createdAt := n.EventTime
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	agent := c.resolve(tenantID)
	upload, err := agent.RecordUpload(ctx, info.Name, createdAt, info.IdempotencyKey)
	if err != nil {
		slog.Error("record upload",
			"key", n.Object.Key, "tenant_id", tenantID, "name", info.Name,
			"idempotency_key", info.IdempotencyKey, "error", err)
		return Retry
	}
	slog.Info("upload recorded",
		"key", n.Object.Key, "tenant_id", tenantID, "name", info.Name,
		"idempotency_key", info.IdempotencyKey)

	c.classifyUpload(ctx, agent, upload, info)
	return Ack
}

// classifyUpload runs classification after a successful record. Failures are
// logged but never retried: the upload itself already succeeded, and a
// missing label is acceptable eventual-consistency behavior.
func (c *Consumer) classifyUpload(ctx context.Context, agent TenantAgent, upload *models.Upload, info *storage.ObjectInfo) {
	result, err := c.classifier.Classify(ctx, classify.Input{
		Name:        upload.Name,
		ContentType: info.ContentType,
		Size:        info.Size,
	})
	if err != nil {
		slog.Warn("classify upload", "tenant_id", upload.TenantID, "name", upload.Name, "error", err)
		return
	}
	if err := agent.RecordClassification(ctx, upload.Name, result.Label, result.Confidence); err != nil {
		slog.Warn("record classification",
			"tenant_id", upload.TenantID, "name", upload.Name, "label", result.Label, "error", err)
	}
}

func (c *Consumer) handleDelete(ctx context.Context, n Notification) Outcome {
	tenantStr, name, ok := storage.SplitKey(n.Object.Key)
	if !ok {
		slog.Error("dropping delete notification with malformed key", "key", n.Object.Key)
		return Ack
	}
	tenantID, err := uuid.Parse(tenantStr)
	if err != nil {
		slog.Error("dropping delete notification with invalid tenant id", "key", n.Object.Key)
		return Ack
	}

	if err := c.resolve(tenantID).DeleteUpload(ctx, name); err != nil {
		slog.Error("delete upload record", "key", n.Object.Key, "tenant_id", tenantID, "name", name, "error", err)
		return Retry
	}
	slog.Info("upload record deleted", "key", n.Object.Key, "tenant_id", tenantID, "name", name)
	return Ack
}

// Compile-time check that Consumer implements Handler.
var _ Handler = (*Consumer)(nil)
