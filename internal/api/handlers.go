package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/FlowPilot/internal/models"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	}))
}

// flowsHandler handles GET /flows.
func (s *Server) flowsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.engine.Catalog().Summaries()))
}

// statsHandler handles GET /stats.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.engine.Stats()))
}

// engineTurnHandler handles POST /engine/turn. Nothing is persisted; the
// caller stores the returned step and flowData itself.
func (s *Server) engineTurnHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	slog.Debug("Server.engineTurnHandler: processing turn", "method", r.Method, "path", r.URL.Path)

	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	var req models.EngineTurnRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		slog.Warn("Server.engineTurnHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := models.ValidateContextJSON([]byte(gjsonRaw(raw, "context"))); err != nil {
		slog.Warn("Server.engineTurnHandler: invalid context", "error", err)
		writeError(w, err)
		return
	}
	if req.Context.FlowData == nil {
		req.Context.FlowData = map[string]string{}
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.engineTurnHandler: validation failed", "error", err)
		writeError(w, err)
		return
	}

	resp, err := s.engine.HandleTurn(req.ConversationID, req.CurrentStep, req.UserInput, req.Context)
	if err != nil {
		slog.Error("Server.engineTurnHandler: turn failed", "error", err, "conversationID", req.ConversationID)
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}
