// Package intake accepts uploads into object storage and feeds the
// notification pipeline.
package intake

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mw10013/orgagent/internal/queue"
	"github.com/mw10013/orgagent/internal/storage"
)

// Notifier publishes storage-change notifications.
type Notifier interface {
	Enqueue(ctx context.Context, n queue.Notification) error
}

// Receipt describes an accepted upload. The record itself appears in the
// tenant agent only after the notification pipeline processes it; clients
// observe eventual consistency.
type Receipt struct {
	TenantID       uuid.UUID `json:"tenant_id"`
	Name           string    `json:"name"`
	StorageKey     string    `json:"storage_key"`
	IdempotencyKey string    `json:"idempotency_key"`
	AcceptedAt     time.Time `json:"accepted_at"`
}

// Service stores upload bodies and, outside production, optimistically
// enqueues the notification a storage-side bucket hook would otherwise emit.
type Service struct {
	storage  storage.ObjectStore
	notifier Notifier
	env      string
}

// NewService creates the intake service. env gates local notification
// enqueueing; in production the bucket's own notification hook feeds the
// stream instead.
func NewService(st storage.ObjectStore, notifier Notifier, env string) *Service {
	return &Service{storage: st, notifier: notifier, env: env}
}

// Store writes the body to object storage under "{tenant}/{name}" with the
// metadata the queue consumer requires, then emits a local put notification
// outside production.
func (s *Service) Store(ctx context.Context, tenantID uuid.UUID, name, contentType string, body io.Reader, size int64) (*Receipt, error) {
	key := storage.ObjectKey(tenantID.String(), name)
	idempotencyKey := uuid.NewString()

	err := s.storage.Put(ctx, key, body, size, storage.ObjectInfo{
		TenantID:       tenantID.String(),
		Name:           name,
		IdempotencyKey: idempotencyKey,
		ContentType:    contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	now := time.Now().UTC()
	s.notify(ctx, queue.Notification{
		Action:         queue.ActionPut,
		Object:         queue.NotificationObject{Key: key, Size: &size},
		EventTime:      now,
		IdempotencyKey: idempotencyKey,
	})

	return &Receipt{
		TenantID:       tenantID,
		Name:           name,
		StorageKey:     key,
		IdempotencyKey: idempotencyKey,
		AcceptedAt:     now,
	}, nil
}

// Open streams a stored upload body back to the caller.
func (s *Service) Open(ctx context.Context, tenantID uuid.UUID, name string) (io.ReadCloser, *storage.ObjectInfo, error) {
	return s.storage.Get(ctx, storage.ObjectKey(tenantID.String(), name))
}

// Delete removes the object from storage and emits a local delete
// notification outside production.
func (s *Service) Delete(ctx context.Context, tenantID uuid.UUID, name string) error {
	key := storage.ObjectKey(tenantID.String(), name)
	if err := s.storage.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}

	s.notify(ctx, queue.Notification{
		Action:    queue.ActionDelete,
		Object:    queue.NotificationObject{Key: key},
		EventTime: time.Now().UTC(),
	})
	return nil
}

// notify is best-effort: intake already succeeded, and in production the
// storage-side hook delivers the notification anyway.
func (s *Service) notify(ctx context.Context, n queue.Notification) {
	if s.env == "production" {
		return
	}
	if err := s.notifier.Enqueue(ctx, n); err != nil {
		slog.Error("enqueue local notification", "key", n.Object.Key, "action", n.Action, "error", err)
	}
}
