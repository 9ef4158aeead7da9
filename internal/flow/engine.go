// Package flow implements the qualification engine: flow compilation, the
// per-session execution state machine, trigger resolution, scoring, and the
// simulation harness.
//
// The engine is pure: Advance never mutates its inputs, holds no locks, and
// produces identical results for identical session snapshots and answers.
// Serializing concurrent answers for the same session is the caller's job.
package flow

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leadpipe/LeadPipe/internal/models"
)

// MaxFallbackChain bounds how many fallback redirects a session may follow.
// A longer chain is treated as a misconfigured cycle and degrades to handoff.
const MaxFallbackChain = 5

// CompiledFlow is a flow definition resolved into a validated lookup table.
// Building it once per flow load converts the stringly-typed next_step
// references into checked lookups, so broken references surface at load time
// instead of mid-conversation.
type CompiledFlow struct {
	def   *models.FlowDefinition
	nodes map[string]*models.QuestionNode

	// clock supplies the current time for time_elapsed rules and session
	// timestamps. Tests inject a fixed clock to keep transitions reproducible.
	clock func() time.Time
}

// Compile validates a flow definition and builds its node lookup table.
func Compile(def *models.FlowDefinition) (*CompiledFlow, error) {
	if def == nil {
		return nil, fmt.Errorf("flow definition is nil")
	}
	if err := def.Validate(); err != nil {
		slog.Error("Flow compile failed validation", "flowID", def.ID, "error", err)
		return nil, fmt.Errorf("flow %s failed validation: %w", def.ID, err)
	}

	nodes := make(map[string]*models.QuestionNode, len(def.QualificationQuestions))
	for i := range def.QualificationQuestions {
		q := &def.QualificationQuestions[i]
		nodes[q.ID] = q
	}
	slog.Debug("Flow compiled", "flowID", def.ID, "nodes", len(nodes), "rules", len(def.ConditionRules))
	return &CompiledFlow{def: def, nodes: nodes, clock: time.Now}, nil
}

// WithClock overrides the engine clock. Intended for tests and simulation.
func (cf *CompiledFlow) WithClock(clock func() time.Time) *CompiledFlow {
	cf.clock = clock
	return cf
}

// Definition returns the underlying flow definition.
func (cf *CompiledFlow) Definition() *models.FlowDefinition {
	return cf.def
}

// Node returns the question node with the given id, if it exists.
func (cf *CompiledFlow) Node(id string) (*models.QuestionNode, bool) {
	n, ok := cf.nodes[id]
	return n, ok
}

// FirstNode returns the first question node in authoring order, if any.
func (cf *CompiledFlow) FirstNode() (*models.QuestionNode, bool) {
	if len(cf.def.QualificationQuestions) == 0 {
		return nil, false
	}
	return &cf.def.QualificationQuestions[0], true
}

// Advance executes one step of the state machine: it applies the inbound
// answer to the session's current node, updates the clamped score, evaluates
// the flow's condition rules (first match wins), and routes to the next node
// or a terminal output.
//
// The session argument is never mutated; the updated copy is returned
// alongside the output. Every internal failure degrades to handoff so the
// lead never sees a crash.
func (cf *CompiledFlow) Advance(session *models.ConversationSession, answer string) (*models.ConversationSession, models.Output) {
	s := session.Clone()
	s.UpdatedAt = cf.clock()

	if s.Terminal() {
		slog.Warn("Advance called on terminal session", "sessionID", s.ID, "status", s.Status)
		if s.Status == models.SessionStatusHandoff {
			return s, models.Output{Kind: models.OutputHandoff, Message: cf.def.HandoffMessage}
		}
		return s, models.Output{Kind: models.OutputEnd}
	}

	// Start step: surface the greeting and the first question.
	if s.CurrentNodeID == "" {
		first, ok := cf.FirstNode()
		if !ok {
			slog.Warn("Advance on flow with no questions", "sessionID", s.ID, "flowID", cf.def.ID)
			s.Status = models.SessionStatusEnded
			return s, models.Output{Kind: models.OutputEnd}
		}
		s.CurrentNodeID = first.ID
		s.VisitedNodeIDs[first.ID] = true
		slog.Debug("Session started", "sessionID", s.ID, "flowID", cf.def.ID, "node", first.ID)
		return s, models.Output{Kind: models.OutputAsk, Node: first, Message: cf.def.GreetingMessage}
	}

	node, ok := cf.Node(s.CurrentNodeID)
	if !ok {
		// Dangling reference, e.g. the node was removed by a concurrent edit.
		// Fatal to the session but not to the process.
		slog.Error("Session references unknown node", "sessionID", s.ID, "flowID", cf.def.ID, "node", s.CurrentNodeID)
		return cf.redirectOrEnd(s)
	}

	// Apply the answer and the node's score delta. The clamp runs before any
	// routing decision so no path can leave the score out of range.
	normalized := normalizeAnswer(answer, node.ExpectedAnswers)
	if node.FieldToUpdate != "" {
		s.FieldValues[node.FieldToUpdate] = normalized
	}
	s.AccumulatedScore = ClampScore(s.AccumulatedScore + node.ScoreImpact)

	// Condition rules run against the just-updated session, so score-based
	// actions like mark_hot see the delta that this answer contributed.
	if out, fired := cf.evaluateRules(s, normalized); fired {
		return s, cf.stampAssignment(s, out)
	}

	return cf.followNextStep(s, node.NextStep)
}

// followNextStep routes according to a node's next_step pointer.
func (cf *CompiledFlow) followNextStep(s *models.ConversationSession, nextStep string) (*models.ConversationSession, models.Output) {
	switch nextStep {
	case models.NextStepHandoff:
		s.Status = models.SessionStatusHandoff
		return s, cf.stampAssignment(s, models.Output{Kind: models.OutputHandoff, Message: cf.def.HandoffMessage})
	case models.NextStepFinish:
		s.Status = models.SessionStatusEnded
		return s, cf.stampAssignment(s, models.Output{Kind: models.OutputEnd})
	}
	return cf.routeToNode(s, nextStep)
}

// routeToNode transitions the session onto the node with the given id,
// enforcing the cycle guard. A misconfigured flow must never strand a session
// in a silent loop, so a revisit degrades to handoff.
func (cf *CompiledFlow) routeToNode(s *models.ConversationSession, nodeID string) (*models.ConversationSession, models.Output) {
	next, ok := cf.Node(nodeID)
	if !ok {
		slog.Error("Next step references unknown node", "sessionID", s.ID, "flowID", cf.def.ID, "node", nodeID)
		s.Status = models.SessionStatusHandoff
		return s, cf.stampAssignment(s, models.Output{Kind: models.OutputHandoff, Message: cf.def.HandoffMessage})
	}
	if s.VisitedNodeIDs[next.ID] {
		slog.Warn("Cycle guard refused transition", "sessionID", s.ID, "flowID", cf.def.ID, "node", next.ID)
		s.Status = models.SessionStatusHandoff
		return s, cf.stampAssignment(s, models.Output{Kind: models.OutputHandoff, Message: cf.def.HandoffMessage})
	}
	s.CurrentNodeID = next.ID
	s.VisitedNodeIDs[next.ID] = true
	return s, cf.stampAssignment(s, models.Output{Kind: models.OutputAsk, Node: next})
}

// redirectOrEnd ends the session on this flow, redirecting to the fallback
// flow when one is configured and the chain bound has not been exhausted.
func (cf *CompiledFlow) redirectOrEnd(s *models.ConversationSession) (*models.ConversationSession, models.Output) {
	if cf.def.FallbackFlowID != "" && cf.def.FallbackFlowID != cf.def.ID {
		if s.FallbackDepth >= MaxFallbackChain {
			slog.Error("Fallback chain bound exceeded", "sessionID", s.ID, "flowID", cf.def.ID, "depth", s.FallbackDepth)
			s.Status = models.SessionStatusHandoff
			return s, models.Output{Kind: models.OutputHandoff, Message: cf.def.HandoffMessage}
		}
		s.Status = models.SessionStatusEnded
		slog.Info("Session redirecting to fallback flow", "sessionID", s.ID, "from", cf.def.ID, "to", cf.def.FallbackFlowID)
		return s, models.Output{Kind: models.OutputRedirect, FallbackFlowID: cf.def.FallbackFlowID}
	}
	s.Status = models.SessionStatusEnded
	return s, models.Output{Kind: models.OutputEnd}
}

// stampAssignment marks the output with the auto-assignment role the first
// time the session's classification transitions into hot. The engine only
// requests an assignment; picking the concrete agent is the external
// assignment collaborator's job.
func (cf *CompiledFlow) stampAssignment(s *models.ConversationSession, out models.Output) models.Output {
	if !cf.def.AutoAssignHotLeads || s.HotNotified {
		return out
	}
	if Classify(s.AccumulatedScore, cf.def.HotLeadThreshold, cf.def.WarmLeadThreshold) != models.TemperatureHot {
		return out
	}
	s.HotNotified = true
	out.AssignmentRole = cf.def.AutoAssignAgentRole
	slog.Info("Hot lead assignment requested", "sessionID", s.ID, "leadID", s.LeadID, "role", out.AssignmentRole, "score", s.AccumulatedScore)
	return out
}

// normalizeAnswer maps an inbound answer onto a recognized token when the
// node declares expected answers. Matching is case-insensitive on the trimmed
// answer; an unrecognized answer is kept verbatim (free text).
func normalizeAnswer(answer string, expected []string) string {
	trimmed := strings.TrimSpace(answer)
	for _, tok := range expected {
		if strings.EqualFold(trimmed, tok) {
			return tok
		}
	}
	return answer
}
