package models

import (
	"time"

	"github.com/google/uuid"
)

// Upload is one stored object belonging to a tenant. The logical name is
// unique within the tenant; the storage key is always "{tenant_id}/{name}".
// Label and Confidence arrive later, when classification completes, and may
// never arrive at all.
type Upload struct {
	ID             uuid.UUID `db:"id"              json:"id"`
	TenantID       uuid.UUID `db:"tenant_id"       json:"tenant_id"`
	Name           string    `db:"name"            json:"name"`
	StorageKey     string    `db:"storage_key"     json:"storage_key"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key"`
	Label          *string   `db:"label"           json:"label,omitempty"`
	Confidence     *float64  `db:"confidence"      json:"confidence,omitempty"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"      json:"updated_at"`
}
