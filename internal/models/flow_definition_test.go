package models

import (
	"errors"
	"testing"
)

func validDefinition() FlowDefinition {
	return FlowDefinition{
		ID:        "flow-1",
		CompanyID: "acme",
		IsActive:  true,
		QualificationQuestions: []QuestionNode{
			{ID: "q1", Question: "a", ScoreImpact: 10, NextStep: "q2"},
			{ID: "q2", Question: "b", ScoreImpact: 20, NextStep: NextStepHandoff},
		},
		HotLeadThreshold:  60,
		WarmLeadThreshold: 30,
	}
}

func TestFlowDefinitionValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*FlowDefinition)
		wantErr error
	}{
		{"valid", nil, nil},
		{"missing company", func(f *FlowDefinition) { f.CompanyID = "" }, ErrEmptyCompanyID},
		{"negative threshold", func(f *FlowDefinition) { f.WarmLeadThreshold = -1 }, ErrNegativeThreshold},
		{"inverted thresholds", func(f *FlowDefinition) { f.HotLeadThreshold = 10 }, ErrInvertedThresholds},
		{"self fallback", func(f *FlowDefinition) { f.FallbackFlowID = "flow-1" }, ErrFallbackSelfRef},
		{"empty node id", func(f *FlowDefinition) { f.QualificationQuestions[0].ID = "" }, ErrEmptyNodeID},
		{"duplicate node id", func(f *FlowDefinition) { f.QualificationQuestions[1].ID = "q1" }, ErrDuplicateNodeID},
		{"empty next step", func(f *FlowDefinition) { f.QualificationQuestions[0].NextStep = "" }, ErrEmptyNextStep},
		{"dangling next step", func(f *FlowDefinition) { f.QualificationQuestions[0].NextStep = "ghost" }, ErrDanglingNextStep},
		{"invalid rule", func(f *FlowDefinition) {
			f.ConditionRules = []ConditionRule{{Field: "bogus", Operator: OpEq, Value: "x", Action: ActionHandoff}}
		}, ErrInvalidConditionRule},
		{"no questions is allowed", func(f *FlowDefinition) { f.QualificationQuestions = nil }, nil},
		{"other flow fallback is allowed", func(f *FlowDefinition) { f.FallbackFlowID = "flow-2" }, nil},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			def := validDefinition()
			if c.mutate != nil {
				c.mutate(&def)
			}
			err := def.Validate()
			if c.wantErr == nil {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			if !errors.Is(err, c.wantErr) {
				t.Fatalf("expected %v, got %v", c.wantErr, err)
			}
		})
	}
}

func TestTriggerSpecificity(t *testing.T) {
	def := validDefinition()
	if got := def.TriggerSpecificity(); got != 0 {
		t.Errorf("expected specificity 0, got %d", got)
	}
	def.TriggerSources = []string{"whatsapp"}
	def.TriggerKeywords = []string{"sale"}
	if got := def.TriggerSpecificity(); got != 2 {
		t.Errorf("expected specificity 2, got %d", got)
	}
	def.TriggerCampaigns = []string{"c1"}
	if got := def.TriggerSpecificity(); got != 3 {
		t.Errorf("expected specificity 3, got %d", got)
	}
}

func TestTriggerEventValidate(t *testing.T) {
	event := TriggerEvent{CompanyID: "acme", LeadID: "lead", SourceChannel: "whatsapp"}
	if err := event.Validate(); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*TriggerEvent)
		wantErr error
	}{
		{"missing company", func(e *TriggerEvent) { e.CompanyID = "" }, ErrEmptyCompanyID},
		{"missing lead", func(e *TriggerEvent) { e.LeadID = "" }, ErrEmptyLeadID},
		{"missing channel", func(e *TriggerEvent) { e.SourceChannel = "" }, ErrEmptySourceChannel},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e := event
			c.mutate(&e)
			if err := e.Validate(); !errors.Is(err, c.wantErr) {
				t.Fatalf("expected %v, got %v", c.wantErr, err)
			}
		})
	}
}
