// Package models contains shared data models used across the orgagent codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents an organization. Every other entity belongs to a tenant,
// and the tenant id is the unit of isolation for uploads and approvals.
type Tenant struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
