// Package models defines execution-time session state for LeadPipe flows.
package models

import "time"

// SessionStatus represents where a session is in its lifecycle. Handoff and
// Ended are terminal: the engine never resumes from them, an external actor
// must create a brand-new session.
type SessionStatus string

const (
	// SessionStatusActive indicates the session accepts further answers.
	SessionStatusActive SessionStatus = "active"
	// SessionStatusHandoff indicates a human agent has taken over.
	SessionStatusHandoff SessionStatus = "handoff"
	// SessionStatusEnded indicates the flow ran to completion.
	SessionStatusEnded SessionStatus = "ended"
)

// ConversationSession is the per-lead, per-conversation execution state
// tracked against a flow. The engine mutates only copies of it; the caller
// persists the updated session as a single atomic write after each step.
type ConversationSession struct {
	ID               string            `json:"id"`
	LeadID           string            `json:"lead_id"`
	CompanyID        string            `json:"company_id"`
	FlowID           string            `json:"flow_id"`
	CurrentNodeID    string            `json:"current_node_id,omitempty"` // empty means not started or finished
	Status           SessionStatus     `json:"status"`
	AccumulatedScore int               `json:"accumulated_score"` // clamped to [MinScore, MaxScore] after every update
	FieldValues      map[string]string `json:"field_values,omitempty"`
	VisitedNodeIDs   map[string]bool   `json:"visited_node_ids,omitempty"` // cycle detection and step cap
	FallbackDepth    int               `json:"fallback_depth,omitempty"`   // redirects followed so far
	HotNotified      bool              `json:"hot_notified,omitempty"`     // assignment request already emitted
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewConversationSession creates a fresh, not-started session for a lead
// against a flow.
func NewConversationSession(id, leadID, companyID, flowID string) *ConversationSession {
	now := time.Now()
	return &ConversationSession{
		ID:             id,
		LeadID:         leadID,
		CompanyID:      companyID,
		FlowID:         flowID,
		Status:         SessionStatusActive,
		FieldValues:    make(map[string]string),
		VisitedNodeIDs: make(map[string]bool),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Started reports whether the session has surfaced its first question.
func (s *ConversationSession) Started() bool {
	return s.CurrentNodeID != "" || s.Status != SessionStatusActive
}

// Terminal reports whether the session reached Handoff or Ended.
func (s *ConversationSession) Terminal() bool {
	return s.Status == SessionStatusHandoff || s.Status == SessionStatusEnded
}

// Clone returns a deep copy of the session. The simulation harness records
// one snapshot per transition, so shared maps would leak later mutations
// into earlier transcript entries.
func (s *ConversationSession) Clone() *ConversationSession {
	cp := *s
	cp.FieldValues = make(map[string]string, len(s.FieldValues))
	for k, v := range s.FieldValues {
		cp.FieldValues[k] = v
	}
	cp.VisitedNodeIDs = make(map[string]bool, len(s.VisitedNodeIDs))
	for k, v := range s.VisitedNodeIDs {
		cp.VisitedNodeIDs[k] = v
	}
	return &cp
}

// OutputKind discriminates the engine's step outputs.
type OutputKind string

const (
	// OutputAsk surfaces the next question node to the lead.
	OutputAsk OutputKind = "ask"
	// OutputHandoff signals that a human agent must take over.
	OutputHandoff OutputKind = "handoff"
	// OutputEnd signals the flow ran to completion.
	OutputEnd OutputKind = "end"
	// OutputRedirect signals the caller should restart on the fallback flow.
	OutputRedirect OutputKind = "redirect"
)

// Output is the engine's decision for one step. The engine supplies only the
// question's prompt key and message templates; the external text collaborator
// renders the actual message sent to the lead.
type Output struct {
	Kind           OutputKind    `json:"kind"`
	Node           *QuestionNode `json:"node,omitempty"`             // set for ask
	Message        string        `json:"message,omitempty"`          // greeting, handoff, or send_message text
	FallbackFlowID string        `json:"fallback_flow_id,omitempty"` // set for redirect
	AssignmentRole string        `json:"assignment_role,omitempty"`  // set on the first transition into hot when auto-assignment is enabled
}
