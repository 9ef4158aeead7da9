package store

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/leadpipe/LeadPipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// unmarshalFlow decodes a stored flow definition document.
func unmarshalFlow(doc string) (*models.FlowDefinition, error) {
	var f models.FlowDefinition
	if err := json.Unmarshal([]byte(doc), &f); err != nil {
		slog.Error("Failed to unmarshal flow document", "error", err)
		return nil, fmt.Errorf("failed to unmarshal flow document: %w", err)
	}
	return &f, nil
}

// unmarshalSession decodes a stored session document.
func unmarshalSession(doc string) (*models.ConversationSession, error) {
	var s models.ConversationSession
	if err := json.Unmarshal([]byte(doc), &s); err != nil {
		slog.Error("Failed to unmarshal session document", "error", err)
		return nil, fmt.Errorf("failed to unmarshal session document: %w", err)
	}
	if s.FieldValues == nil {
		s.FieldValues = make(map[string]string)
	}
	if s.VisitedNodeIDs == nil {
		s.VisitedNodeIDs = make(map[string]bool)
	}
	return &s, nil
}
