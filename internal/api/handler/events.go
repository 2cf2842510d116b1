package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/mw10013/orgagent/internal/api/middleware"
	"github.com/mw10013/orgagent/internal/api/response"
	"github.com/mw10013/orgagent/pkg/models"
)

// EventSource subscribes a caller to a tenant's broadcast stream. The
// returned cancel func must be called when the subscriber goes away.
type EventSource interface {
	Subscribe(tenantID uuid.UUID) (<-chan models.Event, func())
}

// NewEventsHandler returns an http.HandlerFunc for GET /api/v1/events that
// streams tenant broadcasts as server-sent events. The connection stays open
// until the client disconnects.
func NewEventsHandler(src EventSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := middleware.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Streaming unsupported", nil)
			return
		}

		events, cancel := src.Subscribe(tenantID)
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				payload, err := json.Marshal(event)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
				flusher.Flush()
			}
		}
	}
}
