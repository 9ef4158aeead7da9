// Package models defines the advanced branching rule vocabulary.
package models

import "fmt"

// ConditionField names the session value a rule inspects.
type ConditionField string

const (
	FieldScore       ConditionField = "score"
	FieldResponse    ConditionField = "response"
	FieldUrgency     ConditionField = "urgency"
	FieldBudget      ConditionField = "budget"
	FieldInterest    ConditionField = "interest"
	FieldTimeElapsed ConditionField = "time_elapsed"
	FieldCustom      ConditionField = "custom"
)

// ConditionOperator names the comparison applied to the field value.
type ConditionOperator string

const (
	OpEq          ConditionOperator = "eq"
	OpNeq         ConditionOperator = "neq"
	OpGte         ConditionOperator = "gte"
	OpLte         ConditionOperator = "lte"
	OpGt          ConditionOperator = "gt"
	OpLt          ConditionOperator = "lt"
	OpContains    ConditionOperator = "contains"
	OpNotContains ConditionOperator = "not_contains"
	OpStartsWith  ConditionOperator = "starts_with"
	OpEndsWith    ConditionOperator = "ends_with"
)

// ConditionAction names what happens when a rule matches.
type ConditionAction string

const (
	ActionNextNode    ConditionAction = "next_node"
	ActionHandoff     ConditionAction = "handoff"
	ActionMarkHot     ConditionAction = "mark_hot"
	ActionMarkWarm    ConditionAction = "mark_warm"
	ActionSendMessage ConditionAction = "send_message"
	ActionEndFlow     ConditionAction = "end_flow"
)

// LogicalConnector joins a rule to the next one in the ordered list.
type LogicalConnector string

const (
	ConnectorAnd LogicalConnector = "and"
	ConnectorOr  LogicalConnector = "or"
)

// ConditionRule is one entry in a flow's ordered rule list. Rules are
// evaluated top to bottom after each answer; the first match wins and its
// action overrides the node's next_step.
type ConditionRule struct {
	Field       ConditionField    `json:"field"`
	CustomField string            `json:"custom_field,omitempty"` // field name when Field is "custom"
	Operator    ConditionOperator `json:"operator"`
	Value       string            `json:"value"`
	Action      ConditionAction   `json:"action"`
	ActionValue string            `json:"actionValue,omitempty"` // node id or message text depending on action
	AndOr       LogicalConnector  `json:"andOr,omitempty"`
}

// IsValidConditionField checks if the given field is part of the fixed vocabulary.
func IsValidConditionField(f ConditionField) bool {
	switch f {
	case FieldScore, FieldResponse, FieldUrgency, FieldBudget, FieldInterest, FieldTimeElapsed, FieldCustom:
		return true
	default:
		return false
	}
}

// IsValidConditionOperator checks if the given operator is supported.
func IsValidConditionOperator(op ConditionOperator) bool {
	switch op {
	case OpEq, OpNeq, OpGte, OpLte, OpGt, OpLt, OpContains, OpNotContains, OpStartsWith, OpEndsWith:
		return true
	default:
		return false
	}
}

// IsValidConditionAction checks if the given action is supported.
func IsValidConditionAction(a ConditionAction) bool {
	switch a {
	case ActionNextNode, ActionHandoff, ActionMarkHot, ActionMarkWarm, ActionSendMessage, ActionEndFlow:
		return true
	default:
		return false
	}
}

// Validate checks that the rule uses the fixed field/operator/action
// vocabulary and carries an action value where the action needs one.
func (r *ConditionRule) Validate() error {
	if !IsValidConditionField(r.Field) {
		return fmt.Errorf("%w: unknown field %q", ErrInvalidConditionRule, r.Field)
	}
	if r.Field == FieldCustom && r.CustomField == "" {
		return fmt.Errorf("%w: custom field name required", ErrInvalidConditionRule)
	}
	if !IsValidConditionOperator(r.Operator) {
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidConditionRule, r.Operator)
	}
	// A rule chained to its successor with "and" contributes only its
	// predicate; the chain's action comes from the final rule.
	if r.AndOr != ConnectorAnd && !IsValidConditionAction(r.Action) {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidConditionRule, r.Action)
	}
	if r.Action != "" && !IsValidConditionAction(r.Action) {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidConditionRule, r.Action)
	}
	if (r.Action == ActionNextNode || r.Action == ActionSendMessage) && r.ActionValue == "" {
		return fmt.Errorf("%w: action %q requires an action value", ErrInvalidConditionRule, r.Action)
	}
	return nil
}
