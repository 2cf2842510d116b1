package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types form a closed, tagged union so connected clients can
// discriminate broadcast messages without ambiguity.
const (
	EventUploadRecorded    = "upload.recorded"
	EventUploadClassified  = "upload.classified"
	EventUploadDeleted     = "upload.deleted"
	EventApprovalRequested = "approval.requested"
	EventApprovalProgress  = "approval.progress"
	EventApprovalResolved  = "approval.resolved"
)

// Event is one live update broadcast to every connected client of a tenant.
// Exactly one of Upload/Approval is set, matching Type.
type Event struct {
	Type     string           `json:"type"`
	TenantID uuid.UUID        `json:"tenant_id"`
	Upload   *Upload          `json:"upload,omitempty"`
	Approval *ApprovalRequest `json:"approval,omitempty"`
	At       time.Time        `json:"at"`
}
