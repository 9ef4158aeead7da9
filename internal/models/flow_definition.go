// Package models defines the qualification flow schema for LeadPipe.
package models

import "time"

// Reserved next_step values. Anything else must be the id of another
// QuestionNode in the same flow.
const (
	// NextStepHandoff terminates the session and hands the lead to a human agent.
	NextStepHandoff = "handoff"
	// NextStepFinish terminates the session without a handoff.
	NextStepFinish = "finish"
)

// QuestionNode is one step in a qualification flow: a prompt key, a lead
// field to write, a score delta, and a next-step pointer.
type QuestionNode struct {
	ID              string   `json:"id"`
	Question        string   `json:"question"`                   // prompt key, rendered by the text collaborator
	FieldToUpdate   string   `json:"field_to_update,omitempty"`  // lead attribute written with the answer
	ExpectedAnswers []string `json:"expected_answers,omitempty"` // recognized short-answer tokens; empty means free text
	ScoreImpact     int      `json:"score_impact"`
	NextStep        string   `json:"next_step"` // node id, "handoff", or "finish"
}

// FlowDefinition is a named qualification script owned by one company,
// optionally scoped to one unit. It is read-only to the engine at execution
// time; authoring happens through an external builder that produces validated
// documents in this schema.
type FlowDefinition struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	UnitID    string `json:"unit_id,omitempty"` // empty means unit-agnostic
	Name      string `json:"name,omitempty"`
	IsActive  bool   `json:"is_active"`
	IsDefault bool   `json:"is_default"` // at most one default per company
	Priority  int    `json:"priority"`   // higher wins ties among matching non-default flows
	Industry  string `json:"industry,omitempty"`

	TriggerSources   []string `json:"trigger_sources,omitempty"`   // channel identifiers; empty matches any
	TriggerCampaigns []string `json:"trigger_campaigns,omitempty"` // campaign ids; empty matches any
	TriggerKeywords  []string `json:"trigger_keywords,omitempty"`  // case-insensitive substrings; empty matches any

	GreetingMessage     string `json:"greeting_message,omitempty"`
	OutsideHoursMessage string `json:"outside_hours_message,omitempty"`
	HandoffMessage      string `json:"handoff_message,omitempty"`

	QualificationQuestions []QuestionNode  `json:"qualification_questions"`
	ConditionRules         []ConditionRule `json:"condition_rules,omitempty"`

	HotLeadThreshold  int `json:"hot_lead_threshold"`
	WarmLeadThreshold int `json:"warm_lead_threshold"`

	AutoAssignHotLeads  bool   `json:"auto_assign_hot_leads"`
	AutoAssignAgentRole string `json:"auto_assign_agent_role,omitempty"`

	FallbackFlowID string `json:"fallback_flow_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TriggerSpecificity counts the non-empty trigger fields. More non-empty
// fields means a more specific flow, used as a tie-break in resolution.
func (f *FlowDefinition) TriggerSpecificity() int {
	n := 0
	if len(f.TriggerSources) > 0 {
		n++
	}
	if len(f.TriggerCampaigns) > 0 {
		n++
	}
	if len(f.TriggerKeywords) > 0 {
		n++
	}
	return n
}

// Validate checks the structural invariants of a flow definition: company
// ownership, threshold ordering, node id uniqueness, and next_step reference
// integrity. It does not enforce the one-default-per-company invariant, which
// requires visibility into the company's other flows (see the store layer).
func (f *FlowDefinition) Validate() error {
	if f.CompanyID == "" {
		return ErrEmptyCompanyID
	}
	if f.WarmLeadThreshold < 0 || f.HotLeadThreshold < 0 {
		return ErrNegativeThreshold
	}
	if f.HotLeadThreshold < f.WarmLeadThreshold {
		return ErrInvertedThresholds
	}
	if f.FallbackFlowID != "" && f.FallbackFlowID == f.ID {
		return ErrFallbackSelfRef
	}

	seen := make(map[string]bool, len(f.QualificationQuestions))
	for _, q := range f.QualificationQuestions {
		if q.ID == "" {
			return ErrEmptyNodeID
		}
		if seen[q.ID] {
			return ErrDuplicateNodeID
		}
		seen[q.ID] = true
	}
	for _, q := range f.QualificationQuestions {
		switch q.NextStep {
		case "":
			return ErrEmptyNextStep
		case NextStepHandoff, NextStepFinish:
		default:
			if !seen[q.NextStep] {
				return ErrDanglingNextStep
			}
		}
	}

	for _, r := range f.ConditionRules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TriggerEvent is an inbound lead/message event handed to the trigger
// resolver: the originating company/unit, the source channel, and whatever
// campaign id and free text the channel adapter extracted.
type TriggerEvent struct {
	CompanyID     string `json:"company_id"`
	UnitID        string `json:"unit_id,omitempty"`
	LeadID        string `json:"lead_id"`
	SourceChannel string `json:"source_channel"`
	CampaignID    string `json:"campaign_id,omitempty"`
	FreeText      string `json:"free_text,omitempty"`
}

// Validate checks the required fields of a trigger event.
func (e *TriggerEvent) Validate() error {
	if e.CompanyID == "" {
		return ErrEmptyCompanyID
	}
	if e.LeadID == "" {
		return ErrEmptyLeadID
	}
	if e.SourceChannel == "" {
		return ErrEmptySourceChannel
	}
	return nil
}
