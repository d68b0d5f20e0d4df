// Package session tracks per-principal runtime state: the sandbox binding,
// the approval mode, and the pending-call table. Sessions are in-memory;
// durable state (instances, events) lives in the database.
package session

import (
	"sync"
	"time"

	"github.com/kestrelops/kestrel/pkg/approval"
	"github.com/kestrelops/kestrel/pkg/models"
	"github.com/kestrelops/kestrel/pkg/sandbox"
	"github.com/kestrelops/kestrel/pkg/tools"
)

// Session holds one principal's runtime state. The tool handle exists iff a
// sandbox root is configured; SetSandbox maintains that invariant.
type Session struct {
	Principal models.Principal

	mu      sync.Mutex
	root    string
	handle  *tools.SandboxedTools
	mode    models.ApprovalMode
	pending *approval.Manager
	updated time.Time
}

// SetSandbox rebinds the session to a new sandbox root. The root is
// validated by constructing a guard; on failure the previous binding stays
// intact and the error is returned.
func (s *Session) SetSandbox(root string) error {
	guard, err := sandbox.NewGuard(root)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = guard.Root()
	s.handle = tools.NewSandboxedTools(guard)
	s.updated = time.Now()
	return nil
}

// Sandbox returns the canonical root and tool handle; handle is nil when no
// sandbox is configured.
func (s *Session) Sandbox() (string, *tools.SandboxedTools) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root, s.handle
}

// SetMode switches between require_approval and trust_mode.
func (s *Session) SetMode(mode models.ApprovalMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.updated = time.Now()
}

// Mode returns the current approval mode.
func (s *Session) Mode() models.ApprovalMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Pending returns the session's approval manager.
func (s *Session) Pending() *approval.Manager {
	return s.pending
}

func (s *Session) lastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updated
}

// Store maps principal ids to sessions, creating them lazily on first use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
}

// NewStore creates a session store. ttl is the pending-call TTL handed to
// each session's approval manager.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

// Get returns the session for principal, creating it with defaults
// (require_approval, no sandbox) on first access.
func (s *Store) Get(principal models.Principal) *Session {
	s.mu.RLock()
	session, ok := s.sessions[principal.ID]
	s.mu.RUnlock()
	if ok {
		return session
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check under the write lock.
	if session, ok = s.sessions[principal.ID]; ok {
		return session
	}
	session = &Session{
		Principal: principal,
		mode:      models.ModeRequireApproval,
		pending:   approval.NewManager(s.ttl),
		updated:   time.Now(),
	}
	s.sessions[principal.ID] = session
	return session
}

// Lookup returns the session for a principal id without creating one.
func (s *Store) Lookup(principalID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[principalID]
	return session, ok
}

// Sweep removes sessions idle longer than maxIdle. Sessions with live
// pending calls are kept regardless of age; a parked run must stay
// resumable until its pending call expires on its own. Returns the number
// of sessions removed.
func (s *Store) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if sess.lastActivity().After(cutoff) {
			continue
		}
		if len(sess.Pending().List(id)) > 0 {
			continue
		}
		delete(s.sessions, id)
		removed++
	}
	return removed
}
