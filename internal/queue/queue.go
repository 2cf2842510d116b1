// Package queue carries storage-change notifications from object storage to
// the tenant agents. Delivery is at-least-once: handlers must tolerate
// duplicates, which the upload path does by upserting on logical name.
package queue

import (
	"context"
	"time"
)

// Storage-change actions the consumer accepts. Anything else is dropped.
const (
	ActionPut             = "PutObject"
	ActionDelete          = "DeleteObject"
	ActionLifecycleDelete = "LifecycleDeletion"
)

// Notification is the fixed wire shape of one storage-change message.
type Notification struct {
	Action         string             `json:"action"`
	Object         NotificationObject `json:"object"`
	EventTime      time.Time          `json:"eventTime"`
	IdempotencyKey string             `json:"idempotencyKey,omitempty"`
}

type NotificationObject struct {
	Key  string  `json:"key"`
	Size *int64  `json:"size,omitempty"`
	ETag *string `json:"eTag,omitempty"`
}

// Message is one delivered queue entry.
type Message struct {
	ID      string
	Body    []byte
	Attempt int
}

// Outcome tells the transport what to do with a handled message.
type Outcome int

const (
	// Ack removes the message from the queue. Used for success and for
	// messages that retrying cannot fix (schema violations, stale targets).
	Ack Outcome = iota
	// Retry leaves the message for redelivery after a transient fault.
	Retry
)

// Handler processes one message and reports its outcome.
type Handler interface {
	Handle(ctx context.Context, m Message) Outcome
}
