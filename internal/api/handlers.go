// Package api provides HTTP handlers for LeadPipe runtime endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/leadpipe/LeadPipe/internal/messaging"
	"github.com/leadpipe/LeadPipe/internal/models"
	"github.com/leadpipe/LeadPipe/internal/store"
)

// eventsHandler handles inbound lead events (POST /events). A matching flow
// starts a qualification session; with no match the lead is left for manual
// handling.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.eventsHandler: processing event request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.eventsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var event models.TriggerEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		slog.Warn("Server.eventsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	// Canonicalize the lead identifier so the session key matches inbound
	// channel traffic for the same lead.
	canonicalLead, err := s.msgService.ValidateAndCanonicalizeRecipient(event.LeadID)
	if err != nil {
		slog.Warn("Server.eventsHandler: lead validation failed", "error", err, "original_lead", event.LeadID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	event.LeadID = canonicalLead

	if err := event.Validate(); err != nil {
		slog.Warn("Server.eventsHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	session, err := s.qualifier.HandleEvent(context.Background(), &event)
	if err != nil {
		if errors.Is(err, messaging.ErrNoFlowAvailable) {
			slog.Info("Server.eventsHandler: no flow matched event", "companyID", event.CompanyID, "channel", event.SourceChannel)
			writeJSONResponse(w, http.StatusNotFound, models.Error("No qualification flow available for this event"))
			return
		}
		slog.Error("Server.eventsHandler: failed to handle event", "error", err, "leadID", event.LeadID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process event"))
		return
	}

	slog.Info("Server.eventsHandler: event processed", "leadID", event.LeadID, "sessionID", session.ID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Session started", session))
}

// responseHandler handles incoming lead answers (POST /response). The same
// path channel adapters use, exposed for direct integrations and testing.
func (s *Server) responseHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("responseHandler invoked", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("responseHandler method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var resp models.Response
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		slog.Warn("Invalid JSON in responseHandler", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if resp.From == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: from"))
		return
	}
	resp.Time = time.Now().Unix()

	if err := s.qualifier.HandleResponse(context.Background(), resp); err != nil {
		slog.Error("Error handling response", "error", err, "from", resp.From)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process response"))
		return
	}

	slog.Info("Response recorded", "from", resp.From)
	writeJSONResponse(w, http.StatusCreated, models.Recorded("Response recorded successfully"))
}

// sessionByIDHandler handles GET /sessions/{id}.
func (s *Server) sessionByIDHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("sessionByIDHandler invoked", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown session endpoint"))
		return
	}

	session, err := s.st.GetSession(sessionID)
	if err != nil {
		slog.Error("Error fetching session", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch session"))
		return
	}
	if session == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(session))
}

// assignmentsHandler returns recorded hot-lead assignment requests
// (GET /assignments).
func (s *Server) assignmentsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("assignmentsHandler invoked", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	assignments, err := s.st.GetAssignments()
	if err != nil {
		slog.Error("Error fetching assignments", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch assignments"))
		return
	}
	slog.Debug("assignments fetched", "count", len(assignments))
	writeJSONResponse(w, http.StatusOK, models.Success(assignments))
}

// healthHandler provides a health check endpoint for monitoring and load balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	// Store reachability doubles as the readiness indicator.
	if flows, err := s.st.ListFlows(store.FlowFilter{ActiveOnly: true}); err != nil {
		slog.Warn("Health check: failed to query store", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Failed to query flow store"
	} else {
		healthData["active_flows"] = len(flows)
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, statusCode, healthData)
}
