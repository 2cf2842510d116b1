package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
)

// Reason codes recorded on a rejected approval so callers can distinguish an
// explicit rejection from a deadline expiry or an internal failure.
const (
	ApprovalReasonRejected = "rejected"
	ApprovalReasonTimedOut = "timed_out"
	ApprovalReasonError    = "error"
)

// ApprovalRequest is one durable approval workflow instance. It is created
// pending with a deadline and transitions exactly once to approved or
// rejected; rows are never deleted.
type ApprovalRequest struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	TenantID     uuid.UUID  `db:"tenant_id"     json:"tenant_id"`
	Title        string     `db:"title"         json:"title"`
	Description  string     `db:"description"   json:"description"`
	Status       string     `db:"status"        json:"status"`
	Reason       *string    `db:"reason"        json:"reason,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	Deadline     time.Time  `db:"deadline"      json:"deadline"`
	ResolvedAt   *time.Time `db:"resolved_at"   json:"resolved_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// Terminal reports whether the request has reached a final state.
func (a *ApprovalRequest) Terminal() bool {
	return a.Status == ApprovalStatusApproved || a.Status == ApprovalStatusRejected
}
