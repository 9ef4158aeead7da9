// Package messaging implements the qualification orchestrator: the glue
// between inbound channel traffic, the flow engine, the store, and the text
// rendering collaborator.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadpipe/LeadPipe/internal/flow"
	"github.com/leadpipe/LeadPipe/internal/genai"
	"github.com/leadpipe/LeadPipe/internal/models"
	"github.com/leadpipe/LeadPipe/internal/store"
	"github.com/leadpipe/LeadPipe/internal/util"
)

// ErrNoFlowAvailable is returned when no flow matches an inbound event. The
// caller decides the fallback policy, e.g. routing the lead to a human queue.
var ErrNoFlowAvailable = errors.New("no qualification flow available for event")

// Qualifier serializes inbound answers per lead and drives the engine one
// step per answer: dedupe, advance, persist the session as a single write,
// then render and deliver the engine's output. The engine itself is pure;
// all side effects live here.
type Qualifier struct {
	st         store.Store
	msgService Service
	gaClient   genai.ClientInterface // nil means prompt keys are sent verbatim

	mu        sync.Mutex
	leadLocks map[string]*sync.Mutex
}

// NewQualifier creates a Qualifier with its collaborators.
func NewQualifier(st store.Store, msgService Service, gaClient genai.ClientInterface) *Qualifier {
	return &Qualifier{
		st:         st,
		msgService: msgService,
		gaClient:   gaClient,
		leadLocks:  make(map[string]*sync.Mutex),
	}
}

// leadLock returns the mutex serializing answer processing for one lead.
// Concurrent answers for the same session are a race the engine does not
// arbitrate, so they are serialized here.
func (q *Qualifier) leadLock(leadID string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.leadLocks[leadID]
	if !ok {
		l = &sync.Mutex{}
		q.leadLocks[leadID] = l
	}
	return l
}

// Run consumes the messaging service's response and receipt channels until
// the context is cancelled.
func (q *Qualifier) Run(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-q.msgService.Responses():
				if !ok {
					return
				}
				if err := q.HandleResponse(ctx, resp); err != nil {
					slog.Error("Qualifier failed to handle response", "error", err, "from", resp.From)
				}
			}
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case receipt, ok := <-q.msgService.Receipts():
				if !ok {
					return
				}
				slog.Debug("Delivery receipt", "to", receipt.To, "status", receipt.Status)
			}
		}
	}()
}

// HandleEvent processes an inbound lead event: it resolves the best matching
// flow and starts a fresh session, delivering the greeting and the first
// question. An already-active session for the lead is left untouched.
func (q *Qualifier) HandleEvent(ctx context.Context, event *models.TriggerEvent) (*models.ConversationSession, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	lock := q.leadLock(event.LeadID)
	lock.Lock()
	defer lock.Unlock()

	if existing, err := q.st.GetActiveSessionForLead(event.LeadID); err != nil {
		return nil, fmt.Errorf("failed to look up active session: %w", err)
	} else if existing != nil {
		slog.Debug("Lead already has an active session", "leadID", event.LeadID, "sessionID", existing.ID)
		return existing, nil
	}

	flows, err := q.st.ListFlows(store.FlowFilter{CompanyID: event.CompanyID, UnitID: event.UnitID, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	def := flow.Resolve(event, flows)
	if def == nil {
		slog.Info("No flow matched inbound event", "companyID", event.CompanyID, "channel", event.SourceChannel)
		return nil, ErrNoFlowAvailable
	}

	return q.startSession(ctx, def, event.LeadID, event.CompanyID, 0)
}

// startSession creates and starts a session on the given flow, delivering
// the engine's first output.
func (q *Qualifier) startSession(ctx context.Context, def *models.FlowDefinition, leadID, companyID string, fallbackDepth int) (*models.ConversationSession, error) {
	cf, err := flow.Compile(def)
	if err != nil {
		// Configuration error: degrade to handoff rather than crash.
		slog.Error("Flow failed to compile, handing off", "flowID", def.ID, "error", err)
		q.sendHandoff(ctx, def, leadID)
		return nil, err
	}

	session := models.NewConversationSession(util.GenerateSessionID(), leadID, companyID, def.ID)
	session.FallbackDepth = fallbackDepth

	session, out := cf.Advance(session, "")
	if err := q.st.SaveSession(*session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	slog.Info("Session started", "sessionID", session.ID, "leadID", leadID, "flowID", def.ID)

	q.dispatchOutput(ctx, cf, session, out)
	return session, nil
}

// HandleResponse processes one inbound answer: dedupe, serialize per lead,
// advance the engine exactly once, persist, and deliver the output.
func (q *Qualifier) HandleResponse(ctx context.Context, resp models.Response) error {
	leadID, err := q.msgService.ValidateAndCanonicalizeRecipient(resp.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	// At-least-once delivery from the channel becomes at-most-once advance:
	// a message id seen before never reaches the engine again.
	if resp.ID != "" {
		seen, err := q.st.WasProcessed(resp.ID)
		if err != nil {
			return fmt.Errorf("failed dedup check: %w", err)
		}
		if seen {
			slog.Debug("Duplicate inbound message ignored", "messageID", resp.ID, "leadID", leadID)
			return nil
		}
	}

	lock := q.leadLock(leadID)
	lock.Lock()
	defer lock.Unlock()

	if err := q.st.AddResponse(resp); err != nil {
		slog.Warn("Failed to record inbound response", "error", err, "leadID", leadID)
	}

	session, err := q.st.GetActiveSessionForLead(leadID)
	if err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	if session == nil {
		slog.Debug("Inbound answer without active session ignored", "leadID", leadID)
		return nil
	}

	def, err := q.st.GetFlow(session.FlowID)
	if err != nil {
		return fmt.Errorf("failed to load flow %s: %w", session.FlowID, err)
	}
	if def == nil || !def.IsActive {
		// Session integrity error: the flow vanished or was deactivated
		// underneath the session. Fatal to the session, not the process.
		slog.Error("Session references missing or inactive flow, force-ending", "sessionID", session.ID, "flowID", session.FlowID)
		session.Status = models.SessionStatusEnded
		session.UpdatedAt = time.Now()
		if err := q.st.SaveSession(*session); err != nil {
			return fmt.Errorf("failed to force-end session: %w", err)
		}
		return nil
	}

	cf, err := flow.Compile(def)
	if err != nil {
		slog.Error("Active flow failed to compile, handing off", "flowID", def.ID, "error", err)
		session.Status = models.SessionStatusHandoff
		session.UpdatedAt = time.Now()
		if err := q.st.SaveSession(*session); err != nil {
			return fmt.Errorf("failed to persist session: %w", err)
		}
		q.sendHandoff(ctx, def, leadID)
		return nil
	}

	session, out := cf.Advance(session, resp.Body)
	if err := q.st.SaveSession(*session); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	if resp.ID != "" {
		if err := q.st.MarkProcessed(resp.ID); err != nil {
			slog.Warn("Failed to mark message processed", "error", err, "messageID", resp.ID)
		}
	}

	q.dispatchOutput(ctx, cf, session, out)
	return nil
}

// dispatchOutput delivers one engine output: rendering, sending, assignment
// side effects, and fallback redirects.
func (q *Qualifier) dispatchOutput(ctx context.Context, cf *flow.CompiledFlow, session *models.ConversationSession, out models.Output) {
	if out.AssignmentRole != "" {
		q.recordAssignment(session, out.AssignmentRole)
	}

	switch out.Kind {
	case models.OutputAsk:
		body := q.renderAsk(ctx, cf, session, out)
		q.send(ctx, session.LeadID, body)

	case models.OutputHandoff:
		if out.Message != "" {
			q.send(ctx, session.LeadID, out.Message)
		}
		slog.Info("Session handed off", "sessionID", session.ID, "leadID", session.LeadID,
			"score", session.AccumulatedScore, "temperature", cf.Temperature(session))

	case models.OutputEnd:
		slog.Info("Session ended", "sessionID", session.ID, "leadID", session.LeadID,
			"score", session.AccumulatedScore, "temperature", cf.Temperature(session))

	case models.OutputRedirect:
		q.followRedirect(ctx, session, out.FallbackFlowID)
	}
}

// followRedirect restarts the lead on the fallback flow, carrying the chain
// depth so a misconfigured fallback cycle cannot loop forever.
func (q *Qualifier) followRedirect(ctx context.Context, session *models.ConversationSession, fallbackFlowID string) {
	depth := session.FallbackDepth + 1
	if depth > flow.MaxFallbackChain {
		slog.Error("Fallback chain bound exceeded, stopping redirects", "sessionID", session.ID, "depth", depth)
		return
	}

	def, err := q.st.GetFlow(fallbackFlowID)
	if err != nil || def == nil || !def.IsActive {
		slog.Error("Fallback flow unavailable", "sessionID", session.ID, "fallbackFlowID", fallbackFlowID, "error", err)
		return
	}
	if _, err := q.startSession(ctx, def, session.LeadID, session.CompanyID, depth); err != nil {
		slog.Error("Failed to start fallback session", "error", err, "fallbackFlowID", fallbackFlowID)
	}
}

// recordAssignment persists the hot-lead assignment request for the external
// assignment collaborator.
func (q *Qualifier) recordAssignment(session *models.ConversationSession, role string) {
	req := models.AssignmentRequest{
		ID:        uuid.NewString(),
		LeadID:    session.LeadID,
		SessionID: session.ID,
		CompanyID: session.CompanyID,
		Role:      role,
		CreatedAt: time.Now(),
	}
	if err := q.st.AddAssignment(req); err != nil {
		slog.Error("Failed to record assignment request", "error", err, "leadID", session.LeadID)
		return
	}
	slog.Info("Assignment requested for hot lead", "leadID", session.LeadID, "role", role)
}

// renderAsk turns an ask output into the message body sent to the lead. With
// a GenAI client the question's prompt key and the lead's known field values
// are rendered into natural language; without one the prompt key is sent
// verbatim, prefixed by any interjected message.
func (q *Qualifier) renderAsk(ctx context.Context, cf *flow.CompiledFlow, session *models.ConversationSession, out models.Output) string {
	base := out.Node.Question
	if q.gaClient != nil {
		system := "You are a sales qualification assistant. Phrase the given question naturally and concisely for a chat conversation, in the language of the question. Reply with the message only."
		user := fmt.Sprintf("Question: %s\nKnown lead fields: %v", out.Node.Question, session.FieldValues)
		rendered, err := q.gaClient.GeneratePrompt(ctx, system, user)
		if err != nil {
			slog.Warn("GenAI rendering failed, sending prompt key verbatim", "error", err, "sessionID", session.ID)
		} else if rendered != "" {
			base = rendered
		}
	}
	if out.Message != "" {
		return out.Message + "\n" + base
	}
	return base
}

// send delivers a message to a lead, logging failures. A send failure never
// fails the engine step: the session state is already persisted.
func (q *Qualifier) send(ctx context.Context, leadID, body string) {
	if body == "" {
		return
	}
	if err := q.msgService.SendMessage(ctx, leadID, body); err != nil {
		slog.Error("Failed to send message", "error", err, "leadID", leadID)
	}
}

// sendHandoff sends the flow's handoff message when configuration failures
// force a degrade.
func (q *Qualifier) sendHandoff(ctx context.Context, def *models.FlowDefinition, leadID string) {
	if def.HandoffMessage != "" {
		q.send(ctx, leadID, def.HandoffMessage)
	}
}
