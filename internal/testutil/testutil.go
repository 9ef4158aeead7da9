// Package testutil provides common test utilities and helpers for LeadPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leadpipe/LeadPipe/internal/api"
	"github.com/leadpipe/LeadPipe/internal/messaging"
	"github.com/leadpipe/LeadPipe/internal/models"
	"github.com/leadpipe/LeadPipe/internal/store"
)

// NewTestServer creates a test API server with in-memory dependencies. The
// returned store and messaging service are the ones wired into the server.
func NewTestServer() (*api.Server, *store.InMemoryStore, *messaging.SimulatedService) {
	st := store.NewInMemoryStore()
	msgService := messaging.NewSimulatedService()
	return api.NewServer(st, msgService, nil), st, msgService
}

// SampleFlow builds a small but complete qualification flow: two questions,
// score impacts, and hot/warm thresholds. Tests adjust fields as needed.
func SampleFlow(id, companyID string) models.FlowDefinition {
	now := time.Now()
	return models.FlowDefinition{
		ID:              id,
		CompanyID:       companyID,
		Name:            "sample qualification",
		IsActive:        true,
		GreetingMessage: "greeting",
		HandoffMessage:  "an agent will contact you",
		QualificationQuestions: []models.QuestionNode{
			{ID: "q1", Question: "ask_budget", FieldToUpdate: "budget", ScoreImpact: 20, NextStep: "q2"},
			{ID: "q2", Question: "ask_urgency", FieldToUpdate: "urgency", ScoreImpact: 30, NextStep: models.NextStepHandoff},
		},
		HotLeadThreshold:  40,
		WarmLeadThreshold: 20,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// MockGenAIClient implements genai.ClientInterface with a canned reply.
type MockGenAIClient struct {
	Reply string
	Err   error
	Calls []string
}

// GeneratePrompt returns the canned reply and records the user prompt.
func (m *MockGenAIClient) GeneratePrompt(ctx context.Context, system, user string) (string, error) {
	m.Calls = append(m.Calls, user)
	if m.Err != nil {
		return "", m.Err
	}
	return m.Reply, nil
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON API response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// MustSaveFlow saves a flow and fails the test on error.
func MustSaveFlow(t *testing.T, st store.Store, def models.FlowDefinition) {
	t.Helper()
	if err := st.SaveFlow(def); err != nil {
		t.Fatalf("failed to save flow %s: %v", def.ID, err)
	}
}
