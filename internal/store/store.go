// Package store provides storage backends for LeadPipe.
//
// It persists flow definitions, conversation sessions, inbound responses,
// assignment requests, and the processed-message dedup set. An in-memory
// store backs tests and development; SQLite and PostgreSQL back production.
package store

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/leadpipe/LeadPipe/internal/models"
)

// Store errors shared by all backends.
var (
	// ErrDuplicateDefault is returned when saving a default flow for a
	// company that already has one. At most one default per company.
	ErrDuplicateDefault = errors.New("company already has a default flow")
	// ErrFlowInUse is returned when deleting a flow that active sessions
	// still reference. Deleting mid-session flows is a data-integrity hazard.
	ErrFlowInUse = errors.New("flow is referenced by active sessions")
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
)

// FlowFilter narrows flow listings. Zero values mean "no constraint".
type FlowFilter struct {
	CompanyID  string
	UnitID     string // matches flows scoped to this unit or unit-agnostic flows
	ActiveOnly bool
}

// Store is the persistence interface the engine's callers depend on.
type Store interface {
	SaveFlow(f models.FlowDefinition) error
	GetFlow(id string) (*models.FlowDefinition, error)
	ListFlows(filter FlowFilter) ([]models.FlowDefinition, error)
	DeleteFlow(id string) error

	SaveSession(s models.ConversationSession) error
	GetSession(id string) (*models.ConversationSession, error)
	GetActiveSessionForLead(leadID string) (*models.ConversationSession, error)
	DeleteSession(id string) error

	AddResponse(r models.Response) error
	GetResponses() ([]models.Response, error)

	AddAssignment(a models.AssignmentRequest) error
	GetAssignments() ([]models.AssignmentRequest, error)

	// WasProcessed / MarkProcessed implement at-most-once advance per
	// inbound answer: channel adapters deliver at least once, so the
	// caller checks the provider message id before invoking the engine.
	WasProcessed(messageID string) (bool, error)
	MarkProcessed(messageID string) error

	Close() error
}

// InMemoryStore is a mutex-guarded in-memory Store for tests and development.
type InMemoryStore struct {
	mu          sync.RWMutex
	flows       map[string]models.FlowDefinition
	sessions    map[string]models.ConversationSession
	responses   []models.Response
	assignments []models.AssignmentRequest
	processed   map[string]time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		flows:     make(map[string]models.FlowDefinition),
		sessions:  make(map[string]models.ConversationSession),
		processed: make(map[string]time.Time),
	}
}

// SaveFlow stores or updates a flow definition, enforcing the
// one-default-per-company invariant.
func (s *InMemoryStore) SaveFlow(f models.FlowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.IsDefault {
		for _, existing := range s.flows {
			if existing.CompanyID == f.CompanyID && existing.IsDefault && existing.ID != f.ID {
				return ErrDuplicateDefault
			}
		}
	}
	s.flows[f.ID] = f
	return nil
}

// GetFlow retrieves a flow definition by id.
func (s *InMemoryStore) GetFlow(id string) (*models.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

// ListFlows returns the flows matching the filter, ordered by creation time
// then id for determinism.
func (s *InMemoryStore) ListFlows(filter FlowFilter) ([]models.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.FlowDefinition
	for _, f := range s.flows {
		if !flowMatchesFilter(&f, filter) {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteFlow removes a flow unless active sessions still reference it.
func (s *InMemoryStore) DeleteFlow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[id]; !ok {
		return ErrNotFound
	}
	for _, sess := range s.sessions {
		if sess.FlowID == id && sess.Status == models.SessionStatusActive {
			return ErrFlowInUse
		}
	}
	delete(s.flows, id)
	return nil
}

// SaveSession stores or replaces a session snapshot. One call per engine
// step keeps the write atomic from the caller's perspective.
func (s *InMemoryStore) SaveSession(sess models.ConversationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

// GetSession retrieves a session by id.
func (s *InMemoryStore) GetSession(id string) (*models.ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

// GetActiveSessionForLead returns the lead's active session, if any.
func (s *InMemoryStore) GetActiveSessionForLead(leadID string) (*models.ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.ConversationSession
	for id := range s.sessions {
		sess := s.sessions[id]
		if sess.LeadID != leadID || sess.Status != models.SessionStatusActive {
			continue
		}
		if best == nil || sess.CreatedAt.After(best.CreatedAt) {
			best = &sess
		}
	}
	return best, nil
}

// DeleteSession removes a session.
func (s *InMemoryStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// AddResponse records an inbound response.
func (s *InMemoryStore) AddResponse(r models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
	return nil
}

// GetResponses returns all recorded responses.
func (s *InMemoryStore) GetResponses() ([]models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Response, len(s.responses))
	copy(out, s.responses)
	return out, nil
}

// AddAssignment records a hot-lead assignment request.
func (s *InMemoryStore) AddAssignment(a models.AssignmentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = append(s.assignments, a)
	return nil
}

// GetAssignments returns all recorded assignment requests.
func (s *InMemoryStore) GetAssignments() ([]models.AssignmentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AssignmentRequest, len(s.assignments))
	copy(out, s.assignments)
	return out, nil
}

// WasProcessed reports whether a message id has been processed already.
func (s *InMemoryStore) WasProcessed(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processed[messageID]
	return ok, nil
}

// MarkProcessed records a message id as processed.
func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[messageID] = time.Now()
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

// flowMatchesFilter applies a FlowFilter to one flow. A flow without a unit
// is unit-agnostic and matches any requested unit.
func flowMatchesFilter(f *models.FlowDefinition, filter FlowFilter) bool {
	if filter.CompanyID != "" && f.CompanyID != filter.CompanyID {
		return false
	}
	if filter.UnitID != "" && f.UnitID != "" && f.UnitID != filter.UnitID {
		return false
	}
	if filter.ActiveOnly && !f.IsActive {
		return false
	}
	return true
}

// DetectDSNType reports which backend a DSN targets: "postgres" for
// PostgreSQL URLs or key-value DSNs, "sqlite3" for file paths.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}
