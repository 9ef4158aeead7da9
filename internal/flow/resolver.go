// Package flow implements trigger resolution: picking the single best
// matching flow for an inbound lead event.
package flow

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/leadpipe/LeadPipe/internal/models"
)

// Resolve selects the flow for an inbound event from the company's flows,
// or nil when nothing matches. The caller decides the no-flow policy (e.g.
// routing to a human queue).
//
// Matching non-default flows win over the company default, ordered by
// priority descending, then by trigger specificity, then by creation order
// for full determinism. Resolve is pure and safe to call concurrently.
func Resolve(event *models.TriggerEvent, flows []models.FlowDefinition) *models.FlowDefinition {
	var matches []*models.FlowDefinition
	var defaults []*models.FlowDefinition

	for i := range flows {
		f := &flows[i]
		if !f.IsActive || f.CompanyID != event.CompanyID {
			continue
		}
		// Flows without a unit are unit-agnostic and match any unit.
		if f.UnitID != "" && event.UnitID != "" && f.UnitID != event.UnitID {
			continue
		}
		if f.IsDefault {
			defaults = append(defaults, f)
			continue
		}
		if matchesTriggers(f, event) {
			matches = append(matches, f)
		}
	}

	if len(matches) > 0 {
		sort.SliceStable(matches, func(i, j int) bool {
			a, b := matches[i], matches[j]
			if a.Priority != b.Priority {
				return a.Priority > b.Priority
			}
			if sa, sb := a.TriggerSpecificity(), b.TriggerSpecificity(); sa != sb {
				return sa > sb
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		})
		slog.Debug("Trigger resolved to flow", "companyID", event.CompanyID, "flowID", matches[0].ID, "candidates", len(matches))
		return matches[0]
	}

	if len(defaults) == 0 {
		slog.Debug("No flow matched event", "companyID", event.CompanyID, "channel", event.SourceChannel)
		return nil
	}
	if len(defaults) > 1 {
		// Data-integrity violation: more than one default per company. Pick
		// the lowest id deterministically, but surface the error.
		sort.Slice(defaults, func(i, j int) bool { return defaults[i].ID < defaults[j].ID })
		slog.Error("Multiple default flows for company, picking lowest id", "companyID", event.CompanyID, "count", len(defaults), "picked", defaults[0].ID)
	}
	slog.Debug("Trigger resolved to default flow", "companyID", event.CompanyID, "flowID", defaults[0].ID)
	return defaults[0]
}

// matchesTriggers reports whether a flow's trigger rules match the event.
// An empty trigger set is a wildcard; a flow with entirely empty trigger
// sets matches unconditionally as a generic catch-all.
func matchesTriggers(f *models.FlowDefinition, event *models.TriggerEvent) bool {
	if len(f.TriggerSources) > 0 && !containsString(f.TriggerSources, event.SourceChannel) {
		return false
	}
	if len(f.TriggerCampaigns) > 0 && !containsString(f.TriggerCampaigns, event.CampaignID) {
		return false
	}
	if len(f.TriggerKeywords) > 0 && !matchesKeyword(f.TriggerKeywords, event.FreeText) {
		return false
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// matchesKeyword reports whether any keyword is a case-insensitive substring
// of the event's free text.
func matchesKeyword(keywords []string, freeText string) bool {
	if freeText == "" {
		return false
	}
	lower := strings.ToLower(freeText)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
