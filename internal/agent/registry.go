package agent

import (
	"sync"

	"github.com/google/uuid"
	"github.com/mw10013/orgagent/internal/store"
	"github.com/mw10013/orgagent/pkg/models"
)

// Registry resolves tenant agents by tenant id, creating them lazily on first
// reference. Agents persist for the lifetime of the registry; there is no
// per-agent teardown.
type Registry struct {
	store store.Store
	flows Workflows

	mu     sync.Mutex
	agents map[uuid.UUID]*Agent
	closed bool
}

// NewRegistry creates an empty registry.
func NewRegistry(st store.Store, flows Workflows) *Registry {
	return &Registry{
		store:  st,
		flows:  flows,
		agents: make(map[uuid.UUID]*Agent),
	}
}

// Agent returns the agent for tenantID, starting one if none exists yet.
func (r *Registry) Agent(tenantID uuid.UUID) *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.agents[tenantID]; ok {
		return a
	}
	a := newAgent(tenantID, r.store, r.flows)
	if r.closed {
		a.close()
	}
	r.agents[tenantID] = a
	return a
}

// Close stops every agent loop. In-flight calls finish; later calls return
// ErrAgentClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for _, a := range r.agents {
		a.close()
	}
}

// ApprovalProgress relays a workflow progress report to the owning tenant's
// connected clients. Satisfies the workflow engine's reporter contract.
func (r *Registry) ApprovalProgress(approval *models.ApprovalRequest) {
	r.Agent(approval.TenantID).PublishApproval(models.EventApprovalProgress, approval)
}

// ApprovalResolved relays a workflow terminal transition to the owning
// tenant's connected clients.
func (r *Registry) ApprovalResolved(approval *models.ApprovalRequest) {
	r.Agent(approval.TenantID).PublishApproval(models.EventApprovalResolved, approval)
}
