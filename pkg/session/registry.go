// Package session implements the in-memory session and token registries.
//
// The session registry is the exclusive owner of session records for the
// lifetime of a batch. The token registry stores only token hashes and
// grants per-token concurrency permits. Both tolerate concurrent readers
// and writers; mutations are serialized per session.
package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/caster-net/caster/pkg/models"
)

var (
	// ErrNotFound indicates no session is registered under the id.
	ErrNotFound = errors.New("session not found")
	// ErrDuplicateSession indicates a Create with an already-used id.
	ErrDuplicateSession = errors.New("session already exists")
	// ErrTerminalStatus indicates a transition away from a terminal status.
	ErrTerminalStatus = errors.New("session already in terminal status")
)

// Registry is the in-memory store of sessions keyed by session id.
// Sessions are stored and returned as clones, so callers never share
// mutable state with the registry.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*models.Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]*models.Session),
	}
}

// Create stores a new session.
func (r *Registry) Create(s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID]; exists {
		return ErrDuplicateSession
	}
	r.sessions[s.ID] = s.Clone()
	return nil
}

// Get returns a copy of the session, or ErrNotFound.
func (r *Registry) Get(id uuid.UUID) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Update replaces the stored record for the session's id.
func (r *Registry) Update(s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	r.sessions[s.ID] = s.Clone()
	return nil
}

// Mutate runs fn against the stored session under the registry lock,
// giving read-modify-write atomicity per session (budget charges depend on
// this when more than one call holds a permit). fn gets the live record; an
// error from fn aborts the mutation. Returns a clone of the session after fn.
func (r *Registry) Mutate(id uuid.UUID, fn func(*models.Session) error) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// Transition moves the session to a new status. Transitions out of a
// terminal status are rejected; setting the same terminal status twice is
// a no-op. Returns the updated session.
func (r *Registry) Transition(id uuid.UUID, to models.SessionStatus) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status.Terminal() && s.Status != to {
		return nil, ErrTerminalStatus
	}
	s.Status = to
	return s.Clone(), nil
}

// Delete removes the session. Deleting an unknown id is a no-op.
func (r *Registry) Delete(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
