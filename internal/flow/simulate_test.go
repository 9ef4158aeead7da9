package flow

import (
	"testing"

	"github.com/leadpipe/LeadPipe/internal/models"
)

func TestSimulateMatchesLiveExecution(t *testing.T) {
	cf := mustCompile(t, qualFlow())
	answers := []string{"50k", "this week"}

	transcript := cf.Simulate(answers)

	// Drive the same answers through Advance manually.
	live := models.NewConversationSession("live", "lead-live", "acme", "flow-1")
	live, out := cf.Advance(live, "")
	for _, a := range answers {
		if out.Kind != models.OutputAsk {
			break
		}
		live, out = cf.Advance(live, a)
	}

	final := transcript[len(transcript)-1]
	if final.Session.AccumulatedScore != live.AccumulatedScore {
		t.Errorf("simulated score %d != live score %d", final.Session.AccumulatedScore, live.AccumulatedScore)
	}
	if final.Session.Status != live.Status {
		t.Errorf("simulated status %s != live status %s", final.Session.Status, live.Status)
	}
	if final.Output.Kind != out.Kind {
		t.Errorf("simulated final output %s != live output %s", final.Output.Kind, out.Kind)
	}
	if final.Session.FieldValues["budget"] != live.FieldValues["budget"] {
		t.Errorf("simulated fields diverge from live fields")
	}
}

func TestSimulateStopsAtTerminal(t *testing.T) {
	cf := mustCompile(t, qualFlow())

	// Extra answers past the handoff must not be consumed.
	transcript := cf.Simulate([]string{"50k", "this week", "ignored", "ignored too"})

	// Start + two answers.
	if len(transcript) != 3 {
		t.Fatalf("expected 3 transcript entries, got %d", len(transcript))
	}
	if transcript[len(transcript)-1].Output.Kind != models.OutputHandoff {
		t.Errorf("expected terminal handoff, got %s", transcript[len(transcript)-1].Output.Kind)
	}
}

func TestSimulateExhaustedScriptStaysActive(t *testing.T) {
	cf := mustCompile(t, qualFlow())

	transcript := cf.Simulate([]string{"50k"})
	last := transcript[len(transcript)-1]
	if last.Output.Kind != models.OutputAsk {
		t.Fatalf("expected simulation to stop mid-flow on ask, got %s", last.Output.Kind)
	}
	if last.Session.Status != models.SessionStatusActive {
		t.Errorf("expected active session when script runs out, got %s", last.Session.Status)
	}
}

func TestSimulateSnapshotsAreIndependent(t *testing.T) {
	cf := mustCompile(t, qualFlow())
	transcript := cf.Simulate([]string{"50k", "this week"})

	// Each entry is a snapshot of the session after that step, not a shared
	// reference mutated by later steps.
	if transcript[0].Session.AccumulatedScore != 0 {
		t.Errorf("start snapshot should have score 0, got %d", transcript[0].Session.AccumulatedScore)
	}
	if transcript[1].Session.AccumulatedScore != 20 {
		t.Errorf("first answer snapshot should have score 20, got %d", transcript[1].Session.AccumulatedScore)
	}
	if transcript[2].Session.AccumulatedScore != 50 {
		t.Errorf("final snapshot should have score 50, got %d", transcript[2].Session.AccumulatedScore)
	}
}

func TestSimulateEmptyFlow(t *testing.T) {
	def := qualFlow()
	def.QualificationQuestions = nil
	cf := mustCompile(t, def)

	transcript := cf.Simulate([]string{"anything"})
	if len(transcript) != 1 {
		t.Fatalf("expected a single entry for an empty flow, got %d", len(transcript))
	}
	if transcript[0].Output.Kind != models.OutputEnd {
		t.Errorf("expected end output, got %s", transcript[0].Output.Kind)
	}
}
