// Package approval implements the tool-call approval gate. Calls that are
// not exempt and not covered by trust mode become pending entries a human
// must approve or reject before dispatch. Entries expire after a TTL and
// are swept lazily on access.
package approval

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelops/kestrel/pkg/models"
	"github.com/kestrelops/kestrel/pkg/tools"
)

// DefaultTTL is how long an unapproved call stays actionable.
const DefaultTTL = 10 * time.Minute

var (
	// ErrPendingNotFound means the call id is unknown, already resolved, or
	// was rejected. A second approve of the same id lands here.
	ErrPendingNotFound = errors.New("pending call not found")

	// ErrPendingExpired means the call outlived its TTL before anyone acted.
	ErrPendingExpired = errors.New("pending call expired")
)

// PendingCall is one tool call waiting for a human decision.
type PendingCall struct {
	ID         string         `json:"id"`
	InstanceID string         `json:"instance_id"`
	Principal  string         `json:"principal"`
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args"`
	Safety     models.Safety  `json:"safety"`
	Reason     string         `json:"reason"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

// Expired reports whether the call's TTL has elapsed at t.
func (p *PendingCall) Expired(t time.Time) bool {
	return t.After(p.ExpiresAt)
}

// Decision is the gate's verdict on one proposed call.
type Decision struct {
	// Allowed means the call may execute immediately.
	Allowed bool
	// Pending is set when the call needs approval first.
	Pending *PendingCall
	// Safety and Reason echo the classification that drove the verdict.
	Safety models.Safety
	Reason string
}

// Manager owns the pending-call table. Safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*PendingCall
	ttl     time.Duration

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewManager creates a manager; ttl <= 0 falls back to DefaultTTL.
func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		pending: make(map[string]*PendingCall),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Gate decides whether a classified call may run now. Approval-exempt tools
// (think, plan_task) always pass. Trust mode bypasses the gate except for
// run_command and anything classified dangerous; dangerous calls are gated
// in every mode. Everything else under require_approval becomes pending.
func (m *Manager) Gate(
	mode models.ApprovalMode,
	instanceID, principalID, tool string,
	args map[string]any,
	safety models.Safety,
	reason string,
) Decision {
	if tools.ApprovalExempt(tool) {
		return Decision{Allowed: true, Safety: safety, Reason: reason}
	}
	if mode == models.ModeTrust && tool != tools.ToolRunCommand && safety != models.SafetyDangerous {
		return Decision{Allowed: true, Safety: safety, Reason: reason}
	}

	now := m.now()
	call := &PendingCall{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		Principal:  principalID,
		Tool:       tool,
		Args:       args,
		Safety:     safety,
		Reason:     reason,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
	}

	m.mu.Lock()
	m.sweepLocked(now)
	m.pending[call.ID] = call
	m.mu.Unlock()

	return Decision{Pending: call, Safety: safety, Reason: reason}
}

// Approve resolves a pending call for dispatch. The entry is removed either
// way: a hit returns the call, an expired entry returns ErrPendingExpired,
// and an unknown id (including one already approved) returns
// ErrPendingNotFound.
func (m *Manager) Approve(id string) (*PendingCall, error) {
	return m.take(id)
}

// Reject removes a pending call without dispatching it.
func (m *Manager) Reject(id string) (*PendingCall, error) {
	return m.take(id)
}

func (m *Manager) take(id string) (*PendingCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call, ok := m.pending[id]
	if !ok {
		return nil, ErrPendingNotFound
	}
	delete(m.pending, id)
	if call.Expired(m.now()) {
		return nil, ErrPendingExpired
	}
	return call, nil
}

// Get returns a pending call without resolving it.
func (m *Manager) Get(id string) (*PendingCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call, ok := m.pending[id]
	if !ok {
		return nil, ErrPendingNotFound
	}
	if call.Expired(m.now()) {
		delete(m.pending, id)
		return nil, ErrPendingExpired
	}
	return call, nil
}

// List returns the live pending calls for one principal; an empty principal
// id matches everything.
func (m *Manager) List(principalID string) []*PendingCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(m.now())

	result := []*PendingCall{}
	for _, call := range m.pending {
		if principalID == "" || call.Principal == principalID {
			result = append(result, call)
		}
	}
	return result
}

// sweepLocked drops expired entries. Caller holds mu.
func (m *Manager) sweepLocked(now time.Time) {
	for id, call := range m.pending {
		if call.Expired(now) {
			delete(m.pending, id)
		}
	}
}
