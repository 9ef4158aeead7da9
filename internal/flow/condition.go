// Package flow implements the advanced condition rule evaluator.
package flow

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/leadpipe/LeadPipe/internal/models"
)

// evaluateRules walks the flow's ordered rule list against the just-updated
// session. Consecutive rules joined by "and" form a chain that matches only
// when every predicate in it holds; the chain's action is its final rule's
// action. The first matching chain wins and its action overrides next_step
// routing.
//
// The returned bool reports whether an action produced an output. mark_warm
// adjusts the score but lets routing continue, so it stops rule evaluation
// without producing an output of its own.
func (cf *CompiledFlow) evaluateRules(s *models.ConversationSession, answer string) (models.Output, bool) {
	rules := cf.def.ConditionRules
	for i := 0; i < len(rules); {
		// Collect the and-chain starting at i.
		end := i
		matched := cf.ruleMatches(&rules[end], s, answer)
		for rules[end].AndOr == models.ConnectorAnd && end+1 < len(rules) {
			end++
			matched = matched && cf.ruleMatches(&rules[end], s, answer)
		}
		if matched {
			slog.Debug("Condition rule fired", "sessionID", s.ID, "flowID", cf.def.ID, "rule", end, "action", rules[end].Action)
			return cf.applyRuleAction(s, &rules[end])
		}
		i = end + 1
	}
	return models.Output{}, false
}

// applyRuleAction executes a matched rule's action against the session.
func (cf *CompiledFlow) applyRuleAction(s *models.ConversationSession, rule *models.ConditionRule) (models.Output, bool) {
	switch rule.Action {
	case models.ActionHandoff:
		s.Status = models.SessionStatusHandoff
		return models.Output{Kind: models.OutputHandoff, Message: cf.def.HandoffMessage}, true

	case models.ActionMarkHot:
		// Raise the score into the hot band so classification and the
		// derived temperature stay consistent, then hand off: hot leads
		// leave the bot.
		if s.AccumulatedScore < cf.def.HotLeadThreshold {
			s.AccumulatedScore = ClampScore(cf.def.HotLeadThreshold)
		}
		s.Status = models.SessionStatusHandoff
		return models.Output{Kind: models.OutputHandoff, Message: cf.def.HandoffMessage}, true

	case models.ActionMarkWarm:
		// Scoring adjustment only: the conversation continues with normal
		// next_step routing, but no further rules are evaluated.
		if s.AccumulatedScore < cf.def.WarmLeadThreshold {
			s.AccumulatedScore = ClampScore(cf.def.WarmLeadThreshold)
		}
		return models.Output{}, false

	case models.ActionSendMessage:
		// Interject a message and stay on the current node awaiting the
		// next answer.
		node, ok := cf.Node(s.CurrentNodeID)
		if !ok {
			s.Status = models.SessionStatusHandoff
			return models.Output{Kind: models.OutputHandoff, Message: cf.def.HandoffMessage}, true
		}
		return models.Output{Kind: models.OutputAsk, Node: node, Message: rule.ActionValue}, true

	case models.ActionEndFlow:
		s.Status = models.SessionStatusEnded
		return models.Output{Kind: models.OutputEnd}, true

	case models.ActionNextNode:
		next, ok := cf.Node(rule.ActionValue)
		if !ok {
			slog.Error("Condition rule targets unknown node", "sessionID", s.ID, "flowID", cf.def.ID, "node", rule.ActionValue)
			s.Status = models.SessionStatusHandoff
			return models.Output{Kind: models.OutputHandoff, Message: cf.def.HandoffMessage}, true
		}
		if s.VisitedNodeIDs[next.ID] {
			slog.Warn("Cycle guard refused rule transition", "sessionID", s.ID, "flowID", cf.def.ID, "node", next.ID)
			s.Status = models.SessionStatusHandoff
			return models.Output{Kind: models.OutputHandoff, Message: cf.def.HandoffMessage}, true
		}
		s.CurrentNodeID = next.ID
		s.VisitedNodeIDs[next.ID] = true
		return models.Output{Kind: models.OutputAsk, Node: next}, true
	}

	// Unknown action: the specific rule fails, never the whole advance.
	slog.Error("Condition rule with unknown action ignored", "flowID", cf.def.ID, "action", rule.Action)
	return models.Output{}, false
}

// ruleMatches evaluates a single rule predicate. A malformed rule or a
// non-numeric value under an ordering operator fails the rule, never the
// advance call.
func (cf *CompiledFlow) ruleMatches(rule *models.ConditionRule, s *models.ConversationSession, answer string) bool {
	left, ok := cf.fieldValue(rule, s, answer)
	if !ok {
		return false
	}
	return compare(left, rule.Operator, rule.Value)
}

// fieldValue resolves a rule's field against the session.
func (cf *CompiledFlow) fieldValue(rule *models.ConditionRule, s *models.ConversationSession, answer string) (string, bool) {
	switch rule.Field {
	case models.FieldScore:
		return strconv.Itoa(s.AccumulatedScore), true
	case models.FieldResponse:
		return answer, true
	case models.FieldUrgency, models.FieldBudget, models.FieldInterest:
		return s.FieldValues[string(rule.Field)], true
	case models.FieldTimeElapsed:
		elapsed := cf.clock().Sub(s.CreatedAt)
		return strconv.FormatInt(int64(elapsed.Seconds()), 10), true
	case models.FieldCustom:
		if rule.CustomField == "" {
			return "", false
		}
		return s.FieldValues[rule.CustomField], true
	default:
		slog.Warn("Condition rule references unknown field", "flowID", cf.def.ID, "field", rule.Field)
		return "", false
	}
}

// compare applies one operator. Ordering operators compare numerically and
// fail when either side is not numeric. String operators are case-sensitive.
// eq/neq compare numerically when both sides parse as numbers, as strings
// otherwise.
func compare(left string, op models.ConditionOperator, right string) bool {
	switch op {
	case models.OpEq, models.OpNeq:
		equal := left == right
		if ln, lerr := strconv.ParseFloat(strings.TrimSpace(left), 64); lerr == nil {
			if rn, rerr := strconv.ParseFloat(strings.TrimSpace(right), 64); rerr == nil {
				equal = ln == rn
			}
		}
		if op == models.OpEq {
			return equal
		}
		return !equal

	case models.OpGte, models.OpLte, models.OpGt, models.OpLt:
		ln, lerr := strconv.ParseFloat(strings.TrimSpace(left), 64)
		rn, rerr := strconv.ParseFloat(strings.TrimSpace(right), 64)
		if lerr != nil || rerr != nil {
			return false
		}
		switch op {
		case models.OpGte:
			return ln >= rn
		case models.OpLte:
			return ln <= rn
		case models.OpGt:
			return ln > rn
		default:
			return ln < rn
		}

	case models.OpContains:
		return strings.Contains(left, right)
	case models.OpNotContains:
		return !strings.Contains(left, right)
	case models.OpStartsWith:
		return strings.HasPrefix(left, right)
	case models.OpEndsWith:
		return strings.HasSuffix(left, right)
	default:
		return false
	}
}
