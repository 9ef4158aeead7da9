// Package api provides HTTP handlers for qualification flow management.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/leadpipe/LeadPipe/internal/flow"
	"github.com/leadpipe/LeadPipe/internal/models"
	"github.com/leadpipe/LeadPipe/internal/store"
	"github.com/leadpipe/LeadPipe/internal/util"
)

// flowsHandler handles collection-level flow operations (POST and GET /flows).
func (s *Server) flowsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.flowsHandler: processing request", "method", r.Method, "path", r.URL.Path)
	switch r.Method {
	case http.MethodPost:
		s.createFlowHandler(w, r)
	case http.MethodGet:
		s.listFlowsHandler(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.flowsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// createFlowHandler handles POST /flows. A flow that fails validation or
// would become a second default for its company is rejected.
func (s *Server) createFlowHandler(w http.ResponseWriter, r *http.Request) {
	var def models.FlowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		slog.Warn("Server.createFlowHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if def.ID == "" {
		def.ID = util.GenerateFlowID()
	}
	now := time.Now()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now

	if err := def.Validate(); err != nil {
		slog.Warn("Server.createFlowHandler: validation failed", "error", err, "flowID", def.ID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	// Compile up front so a flow that would degrade every session to handoff
	// never reaches the store.
	if _, err := flow.Compile(&def); err != nil {
		slog.Warn("Server.createFlowHandler: flow failed to compile", "error", err, "flowID", def.ID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.st.SaveFlow(def); err != nil {
		if errors.Is(err, store.ErrDuplicateDefault) {
			slog.Warn("Server.createFlowHandler: duplicate default flow", "flowID", def.ID, "companyID", def.CompanyID)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Company already has a default flow"))
			return
		}
		slog.Error("Server.createFlowHandler: failed to save flow", "error", err, "flowID", def.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save flow"))
		return
	}

	slog.Info("Flow saved", "flowID", def.ID, "companyID", def.CompanyID, "isDefault", def.IsDefault)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Flow saved successfully", def))
}

// listFlowsHandler handles GET /flows with optional company_id, unit_id, and
// active query filters.
func (s *Server) listFlowsHandler(w http.ResponseWriter, r *http.Request) {
	filter := store.FlowFilter{
		CompanyID:  r.URL.Query().Get("company_id"),
		UnitID:     r.URL.Query().Get("unit_id"),
		ActiveOnly: r.URL.Query().Get("active") == "true",
	}
	flows, err := s.st.ListFlows(filter)
	if err != nil {
		slog.Error("Server.listFlowsHandler: failed to list flows", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch flows"))
		return
	}
	slog.Debug("flows fetched", "count", len(flows))
	writeJSONResponse(w, http.StatusOK, models.Success(flows))
}

// flowByIDHandler handles GET and DELETE /flows/{id}.
func (s *Server) flowByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	flowID := strings.TrimPrefix(r.URL.Path, "/flows/")
	if flowID == "" || strings.Contains(flowID, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown flow endpoint"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		def, err := s.st.GetFlow(flowID)
		if err != nil {
			slog.Error("Server.flowByIDHandler: failed to fetch flow", "error", err, "flowID", flowID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch flow"))
			return
		}
		if def == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(def))

	case http.MethodDelete:
		err := s.st.DeleteFlow(flowID)
		switch {
		case errors.Is(err, store.ErrFlowInUse):
			slog.Warn("Server.flowByIDHandler: flow has active sessions", "flowID", flowID)
			writeJSONResponse(w, http.StatusConflict, models.Error("Flow has active sessions"))
		case errors.Is(err, store.ErrNotFound):
			writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
		case err != nil:
			slog.Error("Server.flowByIDHandler: failed to delete flow", "error", err, "flowID", flowID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete flow"))
		default:
			slog.Info("Flow deleted", "flowID", flowID)
			writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flow deleted successfully", nil))
		}

	default:
		w.Header().Set("Allow", "GET, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// simulateRequest is the POST /simulate body: a flow (inline or by id) and
// the scripted answers to drive through it.
type simulateRequest struct {
	FlowID  string                 `json:"flow_id,omitempty"`
	Flow    *models.FlowDefinition `json:"flow,omitempty"`
	Answers []string               `json:"answers"`
}

// simulateResult is the POST /simulate response payload.
type simulateResult struct {
	Transcript  []flow.TranscriptEntry `json:"transcript"`
	FinalScore  int                    `json:"final_score"`
	Temperature models.LeadTemperature `json:"temperature"`
	Status      models.SessionStatus   `json:"status"`
	FieldValues map[string]string      `json:"field_values"`
}

// simulateHandler handles POST /simulate. Simulation runs the real engine
// against a throwaway session: nothing is persisted and nothing is sent.
func (s *Server) simulateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.simulateHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.simulateHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.simulateHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	def := req.Flow
	if def == nil {
		if req.FlowID == "" {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: flow or flow_id"))
			return
		}
		stored, err := s.st.GetFlow(req.FlowID)
		if err != nil {
			slog.Error("Server.simulateHandler: failed to fetch flow", "error", err, "flowID", req.FlowID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch flow"))
			return
		}
		if stored == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
			return
		}
		def = stored
	}

	cf, err := flow.Compile(def)
	if err != nil {
		slog.Warn("Server.simulateHandler: flow failed to compile", "error", err, "flowID", def.ID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	transcript := cf.Simulate(req.Answers)
	result := simulateResult{Transcript: transcript}
	if n := len(transcript); n > 0 {
		final := transcript[n-1].Session
		result.FinalScore = final.AccumulatedScore
		result.Temperature = cf.Temperature(final)
		result.Status = final.Status
		result.FieldValues = final.FieldValues
	}

	slog.Debug("Server.simulateHandler: simulation complete", "flowID", def.ID, "steps", len(transcript))
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}
