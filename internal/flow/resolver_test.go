package flow

import (
	"testing"
	"time"

	"github.com/leadpipe/LeadPipe/internal/models"
)

func resolverFlow(id string, mutate func(*models.FlowDefinition)) models.FlowDefinition {
	def := models.FlowDefinition{
		ID:        id,
		CompanyID: "acme",
		IsActive:  true,
		QualificationQuestions: []models.QuestionNode{
			{ID: "q1", Question: "a", ScoreImpact: 10, NextStep: models.NextStepFinish},
		},
		HotLeadThreshold:  60,
		WarmLeadThreshold: 30,
		CreatedAt:         time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if mutate != nil {
		mutate(&def)
	}
	return def
}

func resolverEvent() *models.TriggerEvent {
	return &models.TriggerEvent{
		CompanyID:     "acme",
		LeadID:        "lead-1",
		SourceChannel: "whatsapp",
		CampaignID:    "spring-sale",
		FreeText:      "Hi, I saw your Spring Sale ad",
	}
}

func TestResolveCampaignMatchBeatsDefault(t *testing.T) {
	flows := []models.FlowDefinition{
		resolverFlow("default", func(f *models.FlowDefinition) { f.IsDefault = true }),
		resolverFlow("campaign", func(f *models.FlowDefinition) {
			f.TriggerCampaigns = []string{"spring-sale"}
		}),
	}
	got := Resolve(resolverEvent(), flows)
	if got == nil || got.ID != "campaign" {
		t.Fatalf("expected campaign flow to beat the default, got %+v", got)
	}
}

func TestResolvePriorityOrdersMatches(t *testing.T) {
	flows := []models.FlowDefinition{
		resolverFlow("low", func(f *models.FlowDefinition) {
			f.TriggerSources = []string{"whatsapp"}
			f.Priority = 1
		}),
		resolverFlow("high", func(f *models.FlowDefinition) {
			f.TriggerSources = []string{"whatsapp"}
			f.Priority = 9
		}),
	}
	got := Resolve(resolverEvent(), flows)
	if got == nil || got.ID != "high" {
		t.Fatalf("expected highest priority flow, got %+v", got)
	}
}

func TestResolveSpecificityBreaksPriorityTies(t *testing.T) {
	flows := []models.FlowDefinition{
		resolverFlow("broad", func(f *models.FlowDefinition) {
			f.TriggerSources = []string{"whatsapp"}
		}),
		resolverFlow("narrow", func(f *models.FlowDefinition) {
			f.TriggerSources = []string{"whatsapp"}
			f.TriggerCampaigns = []string{"spring-sale"}
		}),
	}
	got := Resolve(resolverEvent(), flows)
	if got == nil || got.ID != "narrow" {
		t.Fatalf("expected more specific flow on equal priority, got %+v", got)
	}
}

func TestResolveCreationOrderBreaksRemainingTies(t *testing.T) {
	flows := []models.FlowDefinition{
		resolverFlow("newer", func(f *models.FlowDefinition) {
			f.TriggerSources = []string{"whatsapp"}
			f.CreatedAt = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
		}),
		resolverFlow("older", func(f *models.FlowDefinition) {
			f.TriggerSources = []string{"whatsapp"}
			f.CreatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		}),
	}
	got := Resolve(resolverEvent(), flows)
	if got == nil || got.ID != "older" {
		t.Fatalf("expected earliest created flow, got %+v", got)
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	flows := []models.FlowDefinition{
		resolverFlow("default", func(f *models.FlowDefinition) { f.IsDefault = true }),
		resolverFlow("other-campaign", func(f *models.FlowDefinition) {
			f.TriggerCampaigns = []string{"black-friday"}
		}),
	}
	event := resolverEvent()
	event.CampaignID = "unrelated"
	event.FreeText = ""
	got := Resolve(event, flows)
	if got == nil || got.ID != "default" {
		t.Fatalf("expected the default flow, got %+v", got)
	}
}

func TestResolveReturnsNilWithoutMatchOrDefault(t *testing.T) {
	flows := []models.FlowDefinition{
		resolverFlow("campaign", func(f *models.FlowDefinition) {
			f.TriggerCampaigns = []string{"black-friday"}
		}),
	}
	event := resolverEvent()
	event.CampaignID = ""
	event.FreeText = ""
	if got := Resolve(event, flows); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestResolveIgnoresInactiveAndForeignFlows(t *testing.T) {
	flows := []models.FlowDefinition{
		resolverFlow("inactive", func(f *models.FlowDefinition) {
			f.IsActive = false
			f.TriggerSources = []string{"whatsapp"}
		}),
		resolverFlow("other-company", func(f *models.FlowDefinition) {
			f.CompanyID = "globex"
			f.TriggerSources = []string{"whatsapp"}
		}),
	}
	if got := Resolve(resolverEvent(), flows); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestResolveUnitScoping(t *testing.T) {
	flows := []models.FlowDefinition{
		resolverFlow("unit-scoped", func(f *models.FlowDefinition) {
			f.UnitID = "store-2"
			f.TriggerSources = []string{"whatsapp"}
		}),
		resolverFlow("unit-agnostic", func(f *models.FlowDefinition) {
			f.TriggerSources = []string{"whatsapp"}
		}),
	}
	event := resolverEvent()
	event.UnitID = "store-1"

	got := Resolve(event, flows)
	if got == nil || got.ID != "unit-agnostic" {
		t.Fatalf("expected the unit-agnostic flow for a foreign unit, got %+v", got)
	}

	event.UnitID = "store-2"
	got = Resolve(event, flows)
	// Both match now; specificity is equal, creation times equal, id decides.
	if got == nil {
		t.Fatal("expected a flow for the scoped unit")
	}
}

func TestResolveKeywordMatchingIsCaseInsensitive(t *testing.T) {
	flows := []models.FlowDefinition{
		resolverFlow("keyword", func(f *models.FlowDefinition) {
			f.TriggerKeywords = []string{"SPRING SALE"}
		}),
	}
	got := Resolve(resolverEvent(), flows)
	if got == nil || got.ID != "keyword" {
		t.Fatalf("expected case-insensitive keyword match, got %+v", got)
	}
}

func TestResolveDuplicateDefaultsPicksLowestID(t *testing.T) {
	flows := []models.FlowDefinition{
		resolverFlow("zz-default", func(f *models.FlowDefinition) { f.IsDefault = true }),
		resolverFlow("aa-default", func(f *models.FlowDefinition) { f.IsDefault = true }),
	}
	event := resolverEvent()
	event.CampaignID = ""
	event.FreeText = ""
	got := Resolve(event, flows)
	if got == nil || got.ID != "aa-default" {
		t.Fatalf("expected deterministic lowest-id default, got %+v", got)
	}
}
