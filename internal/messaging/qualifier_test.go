package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leadpipe/LeadPipe/internal/models"
	"github.com/leadpipe/LeadPipe/internal/store"
)

const testLead = "5551234567"

func qualifierFlow(id string, mutate func(*models.FlowDefinition)) models.FlowDefinition {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	def := models.FlowDefinition{
		ID:                  id,
		CompanyID:           "acme",
		IsActive:            true,
		IsDefault:           true,
		GreetingMessage:     "welcome to acme",
		HandoffMessage:      "an agent will reach out",
		AutoAssignHotLeads:  true,
		AutoAssignAgentRole: "closer",
		QualificationQuestions: []models.QuestionNode{
			{ID: "q1", Question: "ask_budget", FieldToUpdate: "budget", ScoreImpact: 20, NextStep: "q2"},
			{ID: "q2", Question: "ask_urgency", FieldToUpdate: "urgency", ScoreImpact: 30, NextStep: models.NextStepHandoff},
		},
		HotLeadThreshold:  40,
		WarmLeadThreshold: 20,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if mutate != nil {
		mutate(&def)
	}
	return def
}

func newTestQualifier(t *testing.T, flows ...models.FlowDefinition) (*Qualifier, *store.InMemoryStore, *SimulatedService) {
	t.Helper()
	st := store.NewInMemoryStore()
	for _, f := range flows {
		if err := st.SaveFlow(f); err != nil {
			t.Fatalf("failed to seed flow %s: %v", f.ID, err)
		}
	}
	svc := NewSimulatedService()
	return NewQualifier(st, svc, nil), st, svc
}

func testEvent() *models.TriggerEvent {
	return &models.TriggerEvent{CompanyID: "acme", LeadID: testLead, SourceChannel: "whatsapp"}
}

func TestHandleEventStartsSession(t *testing.T) {
	q, st, svc := newTestQualifier(t, qualifierFlow("flow-1", nil))

	session, err := q.HandleEvent(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if session.FlowID != "flow-1" || session.Status != models.SessionStatusActive {
		t.Fatalf("unexpected session: %+v", session)
	}

	persisted, _ := st.GetActiveSessionForLead(testLead)
	if persisted == nil || persisted.ID != session.ID {
		t.Fatalf("session not persisted: %+v", persisted)
	}

	sent := svc.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 outbound message, got %d", len(sent))
	}
	if !strings.Contains(sent[0].Body, "welcome to acme") || !strings.Contains(sent[0].Body, "ask_budget") {
		t.Errorf("expected greeting and first question, got %q", sent[0].Body)
	}
}

func TestHandleEventWithoutMatchingFlow(t *testing.T) {
	q, _, svc := newTestQualifier(t)

	_, err := q.HandleEvent(context.Background(), testEvent())
	if !errors.Is(err, ErrNoFlowAvailable) {
		t.Fatalf("expected ErrNoFlowAvailable, got %v", err)
	}
	if len(svc.Sent()) != 0 {
		t.Errorf("no message should be sent without a flow")
	}
}

func TestHandleEventKeepsExistingSession(t *testing.T) {
	q, _, svc := newTestQualifier(t, qualifierFlow("flow-1", nil))

	first, err := q.HandleEvent(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	second, err := q.HandleEvent(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("second HandleEvent failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected the existing session, got new session %s", second.ID)
	}
	if len(svc.Sent()) != 1 {
		t.Errorf("re-triggering must not re-send, got %d messages", len(svc.Sent()))
	}
}

func TestHandleResponseAdvancesToHotHandoff(t *testing.T) {
	q, st, svc := newTestQualifier(t, qualifierFlow("flow-1", nil))
	ctx := context.Background()

	if _, err := q.HandleEvent(ctx, testEvent()); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	if err := q.HandleResponse(ctx, models.Response{ID: "m1", From: testLead, Body: "50k"}); err != nil {
		t.Fatalf("HandleResponse failed: %v", err)
	}
	session, _ := st.GetActiveSessionForLead(testLead)
	if session == nil || session.AccumulatedScore != 20 || session.CurrentNodeID != "q2" {
		t.Fatalf("unexpected session after first answer: %+v", session)
	}

	if err := q.HandleResponse(ctx, models.Response{ID: "m2", From: testLead, Body: "this week"}); err != nil {
		t.Fatalf("HandleResponse failed: %v", err)
	}
	if active, _ := st.GetActiveSessionForLead(testLead); active != nil {
		t.Fatalf("expected no active session after handoff, got %+v", active)
	}

	sent := svc.Sent()
	last := sent[len(sent)-1]
	if !strings.Contains(last.Body, "an agent will reach out") {
		t.Errorf("expected handoff message, got %q", last.Body)
	}

	assignments, _ := st.GetAssignments()
	if len(assignments) != 1 || assignments[0].Role != "closer" || assignments[0].LeadID != testLead {
		t.Fatalf("expected one closer assignment, got %+v", assignments)
	}
}

func TestHandleResponseDeduplicates(t *testing.T) {
	q, st, svc := newTestQualifier(t, qualifierFlow("flow-1", nil))
	ctx := context.Background()

	if _, err := q.HandleEvent(ctx, testEvent()); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if err := q.HandleResponse(ctx, models.Response{ID: "m1", From: testLead, Body: "50k"}); err != nil {
		t.Fatalf("HandleResponse failed: %v", err)
	}
	sentBefore := len(svc.Sent())

	// Webhook retry delivers the same provider message id again.
	if err := q.HandleResponse(ctx, models.Response{ID: "m1", From: testLead, Body: "50k"}); err != nil {
		t.Fatalf("duplicate HandleResponse failed: %v", err)
	}

	session, _ := st.GetActiveSessionForLead(testLead)
	if session.AccumulatedScore != 20 {
		t.Errorf("duplicate message advanced the engine: score %d", session.AccumulatedScore)
	}
	if len(svc.Sent()) != sentBefore {
		t.Errorf("duplicate message produced outbound traffic")
	}
}

func TestHandleResponseWithoutSessionIsIgnored(t *testing.T) {
	q, _, svc := newTestQualifier(t, qualifierFlow("flow-1", nil))

	if err := q.HandleResponse(context.Background(), models.Response{ID: "m1", From: testLead, Body: "hello"}); err != nil {
		t.Fatalf("expected stray answer to be ignored, got %v", err)
	}
	if len(svc.Sent()) != 0 {
		t.Errorf("stray answer must not produce outbound traffic")
	}
}

func TestHandleResponseForceEndsOnDeactivatedFlow(t *testing.T) {
	def := qualifierFlow("flow-1", nil)
	q, st, _ := newTestQualifier(t, def)
	ctx := context.Background()

	if _, err := q.HandleEvent(ctx, testEvent()); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	def.IsActive = false
	if err := st.SaveFlow(def); err != nil {
		t.Fatalf("failed to deactivate flow: %v", err)
	}

	if err := q.HandleResponse(ctx, models.Response{ID: "m1", From: testLead, Body: "50k"}); err != nil {
		t.Fatalf("HandleResponse failed: %v", err)
	}
	if active, _ := st.GetActiveSessionForLead(testLead); active != nil {
		t.Fatalf("expected session force-ended, got %+v", active)
	}
}

func TestHandleResponseFollowsFallbackRedirect(t *testing.T) {
	primary := qualifierFlow("flow-1", func(f *models.FlowDefinition) {
		f.FallbackFlowID = "flow-fallback"
	})
	fallback := qualifierFlow("flow-fallback", func(f *models.FlowDefinition) {
		f.IsDefault = false
		// Scoped to a channel the trigger event does not use, so the event
		// resolves to the primary flow and only the redirect reaches this one.
		f.TriggerSources = []string{"webform"}
		f.GreetingMessage = "fallback greeting"
		f.QualificationQuestions = []models.QuestionNode{
			{ID: "f1", Question: "ask_anything", ScoreImpact: 10, NextStep: models.NextStepFinish},
		}
	})
	q, st, svc := newTestQualifier(t, primary, fallback)
	ctx := context.Background()

	initial, err := q.HandleEvent(ctx, testEvent())
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if initial.FlowID != "flow-1" {
		t.Fatalf("expected the event to start on the primary flow, got %s", initial.FlowID)
	}

	// A concurrent edit removes the session's current node: the next answer
	// redirects onto the fallback flow.
	edited := primary
	edited.QualificationQuestions = []models.QuestionNode{
		{ID: "x1", Question: "ask_new", ScoreImpact: 10, NextStep: models.NextStepFinish},
	}
	if err := st.SaveFlow(edited); err != nil {
		t.Fatalf("failed to edit flow: %v", err)
	}

	if err := q.HandleResponse(ctx, models.Response{ID: "m1", From: testLead, Body: "anything"}); err != nil {
		t.Fatalf("HandleResponse failed: %v", err)
	}

	session, _ := st.GetActiveSessionForLead(testLead)
	if session == nil || session.FlowID != "flow-fallback" {
		t.Fatalf("expected active session on the fallback flow, got %+v", session)
	}
	if session.FallbackDepth != 1 {
		t.Errorf("expected fallback depth 1, got %d", session.FallbackDepth)
	}

	sent := svc.Sent()
	last := sent[len(sent)-1]
	if !strings.Contains(last.Body, "fallback greeting") {
		t.Errorf("expected fallback flow greeting, got %q", last.Body)
	}
}

func TestHandleResponseRejectsInvalidSender(t *testing.T) {
	q, _, _ := newTestQualifier(t, qualifierFlow("flow-1", nil))
	if err := q.HandleResponse(context.Background(), models.Response{From: "not-a-number", Body: "x"}); err == nil {
		t.Fatal("expected error for invalid sender")
	}
}

// mockRenderer implements genai.ClientInterface for rendering tests.
type mockRenderer struct {
	reply string
	err   error
	calls int
}

func (m *mockRenderer) GeneratePrompt(ctx context.Context, system, user string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

func TestRenderAskUsesGenAIWhenAvailable(t *testing.T) {
	st := store.NewInMemoryStore()
	if err := st.SaveFlow(qualifierFlow("flow-1", nil)); err != nil {
		t.Fatalf("failed to seed flow: %v", err)
	}
	svc := NewSimulatedService()
	renderer := &mockRenderer{reply: "What budget did you have in mind?"}
	q := NewQualifier(st, svc, renderer)

	if _, err := q.HandleEvent(context.Background(), testEvent()); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if renderer.calls != 1 {
		t.Fatalf("expected one render call, got %d", renderer.calls)
	}
	sent := svc.Sent()
	if !strings.Contains(sent[0].Body, "What budget did you have in mind?") {
		t.Errorf("expected rendered question, got %q", sent[0].Body)
	}
}

func TestRenderAskFallsBackOnGenAIError(t *testing.T) {
	st := store.NewInMemoryStore()
	if err := st.SaveFlow(qualifierFlow("flow-1", nil)); err != nil {
		t.Fatalf("failed to seed flow: %v", err)
	}
	svc := NewSimulatedService()
	renderer := &mockRenderer{err: errors.New("upstream unavailable")}
	q := NewQualifier(st, svc, renderer)

	if _, err := q.HandleEvent(context.Background(), testEvent()); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	sent := svc.Sent()
	if !strings.Contains(sent[0].Body, "ask_budget") {
		t.Errorf("expected verbatim prompt key on render failure, got %q", sent[0].Body)
	}
}
