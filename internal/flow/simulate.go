// Package flow implements the simulation harness used for authoring-time
// testing and training.
package flow

import (
	"log/slog"

	"github.com/leadpipe/LeadPipe/internal/models"
)

// TranscriptEntry records one engine transition during a simulation: the
// answer fed in, the output produced, and a snapshot of the session after
// the step.
type TranscriptEntry struct {
	Answer  string                      `json:"answer,omitempty"`
	Output  models.Output               `json:"output"`
	Session *models.ConversationSession `json:"session"`
}

// Simulate replays the flow against scripted answers, starting from a fresh
// session. It drives the exact Advance used in production, so transitions
// are identical to live execution given identical inputs. The run stops at
// the first terminal or redirect output, or when the script is exhausted.
func (cf *CompiledFlow) Simulate(answers []string) []TranscriptEntry {
	session := models.NewConversationSession("sim", "sim-lead", cf.def.CompanyID, cf.def.ID)
	session.CreatedAt = cf.clock()
	session.UpdatedAt = session.CreatedAt

	var transcript []TranscriptEntry

	// Start step: no answer consumed.
	session, out := cf.Advance(session, "")
	transcript = append(transcript, TranscriptEntry{Output: out, Session: session.Clone()})
	if out.Kind != models.OutputAsk {
		return transcript
	}

	for _, answer := range answers {
		session, out = cf.Advance(session, answer)
		transcript = append(transcript, TranscriptEntry{Answer: answer, Output: out, Session: session.Clone()})
		if out.Kind != models.OutputAsk {
			break
		}
	}

	slog.Debug("Simulation finished", "flowID", cf.def.ID, "steps", len(transcript), "final", transcript[len(transcript)-1].Output.Kind)
	return transcript
}
