// Package api provides HTTP handlers for FlowDeck endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/FlowDeckHQ/FlowDeck/internal/models"
)

// flowDefinition is the authoring payload: one flow and its full step list.
type flowDefinition struct {
	Flow  models.Flow   `json:"flow"`
	Steps []models.Step `json:"steps"`
}

func (s *Server) saveFlowHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.saveFlowHandler: processing save flow request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.saveFlowHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var def flowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		slog.Warn("Server.saveFlowHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if def.Flow.ID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("flow.id is required"))
		return
	}
	for i := range def.Steps {
		def.Steps[i].FlowID = def.Flow.ID
		def.Steps[i].Order = i
		if err := def.Steps[i].Validate(); err != nil {
			slog.Warn("Server.saveFlowHandler: step validation failed", "flowID", def.Flow.ID, "step", i, "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(fmt.Sprintf("step %d: %s", i, err)))
			return
		}
	}

	if err := s.store.SaveFlow(def.Flow); err != nil {
		slog.Error("Server.saveFlowHandler: failed to save flow", "flowID", def.Flow.ID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save flow"))
		return
	}
	if err := s.store.SaveSteps(def.Flow.ID, def.Steps); err != nil {
		slog.Error("Server.saveFlowHandler: failed to save steps", "flowID", def.Flow.ID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save steps"))
		return
	}

	slog.Info("Server.saveFlowHandler: flow saved", "flowID", def.Flow.ID, "steps", len(def.Steps))
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flow saved", nil))
}

func (s *Server) getFlowHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.getFlowHandler: processing get flow request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/flows/")
	if id == "" || strings.Contains(id, "/") {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid flow ID"))
		return
	}

	f, err := s.store.GetFlow(id)
	if err != nil {
		slog.Error("Server.getFlowHandler: failed to get flow", "flowID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get flow"))
		return
	}
	if f == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
		return
	}
	steps, err := s.store.GetSteps(id)
	if err != nil {
		slog.Error("Server.getFlowHandler: failed to get steps", "flowID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get steps"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(flowDefinition{Flow: *f, Steps: steps}))
}

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.startHandler: processing start request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.startHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.FlowStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.startHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.startHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	result, err := s.engine.Start(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrFlowNotFound):
			writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
		case errors.Is(err, models.ErrFlowInactive):
			writeJSONResponse(w, http.StatusConflict, models.Error("Flow is not active"))
		default:
			slog.Error("Server.startHandler: failed to start session", "sessionID", req.SessionID, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start session"))
		}
		return
	}

	slog.Info("Server.startHandler: session started", "sessionID", req.SessionID, "flowID", req.FlowID, "updates", len(result.Updates))
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

func (s *Server) eventHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.eventHandler: processing event request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.eventHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.FlowEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.eventHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.eventHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	result, err := s.engine.HandleEvent(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrSessionNotFound):
			writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		case errors.Is(err, models.ErrStepNotInteractive):
			writeJSONResponse(w, http.StatusConflict, models.Error("Step does not accept events"))
		default:
			slog.Error("Server.eventHandler: failed to handle event", "sessionID", req.SessionID, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to handle event"))
		}
		return
	}

	// A stale event resolves to the current session with no updates; the
	// client treats the response as authoritative state.
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.sessionHandler: processing session request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid session ID"))
		return
	}

	sess, err := s.store.GetSession(id)
	if err != nil {
		slog.Error("Server.sessionHandler: failed to get session", "sessionID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get session"))
		return
	}
	if sess == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}

	switch sub {
	case "":
		writeJSONResponse(w, http.StatusOK, models.Success(sess))
	case "interactions":
		interactions, err := s.store.GetInteractions(id)
		if err != nil {
			slog.Error("Server.sessionHandler: failed to get interactions", "sessionID", id, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get interactions"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(interactions))
	default:
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown resource"))
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}
