package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/BTreeMap/FlowPilot/internal/models"
)

// readBody reads a capped request body, writing the error response itself.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes))
	if err != nil {
		slog.Warn("readBody: failed to read request body", "error", err)
		writeJSONResponse(w, http.StatusRequestEntityTooLarge, models.Error("Request body too large"))
		return nil, false
	}
	return raw, true
}

// gjsonRaw returns the raw JSON at path, or "" when absent.
func gjsonRaw(raw []byte, path string) string {
	return gjson.GetBytes(raw, path).Raw
}

// createConversationHandler handles POST /conversations.
func (s *Server) createConversationHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	raw, ok := readBody(w, r)
	if !ok {
		return
	}

	var req models.CreateConversationRequest
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			slog.Warn("Server.createConversationHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
	}

	cctx := models.NewConversationContext(req.UserName)
	if len(req.Context) > 0 {
		parsed, err := models.ParseContextJSON(req.Context)
		if err != nil {
			slog.Warn("Server.createConversationHandler: invalid context", "error", err)
			writeError(w, err)
			return
		}
		cctx = parsed
	}

	address := strings.TrimSpace(req.Address)
	if address != "" && s.twilioSvc != nil {
		canonical, err := s.twilioSvc.ValidateAndCanonicalizeRecipient(address)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid address: "+err.Error()))
			return
		}
		address = canonical
	}

	rec, err := s.states.CreateConversation(r.Context(), s.newID(), address, cctx)
	if err != nil {
		slog.Error("Server.createConversationHandler: create failed", "error", err)
		writeError(w, err)
		return
	}
	slog.Info("Server.createConversationHandler: conversation created", "id", rec.ID)
	writeJSONResponse(w, http.StatusCreated, models.Success(rec))
}

// getConversationHandler handles GET /conversations/{id}.
func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.states.GetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}

// deleteConversationHandler handles DELETE /conversations/{id}.
func (s *Server) deleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.states.GetConversation(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if err := s.respHandler.Reset(r.Context(), id); err != nil {
		slog.Error("Server.deleteConversationHandler: delete failed", "error", err, "id", id)
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation deleted", nil))
}

// turnHandler handles POST /conversations/{id}/turns.
func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	id := r.PathValue("id")

	var req models.TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)).Decode(&req); err != nil {
		slog.Warn("Server.turnHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.respHandler.ProcessTurn(r.Context(), id, req.Input)
	if err != nil {
		slog.Warn("Server.turnHandler: turn failed", "error", err, "id", id)
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

// replaceContextHandler handles PUT /conversations/{id}/context.
func (s *Server) replaceContextHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	id := r.PathValue("id")
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	cctx, err := models.ParseContextJSON(raw)
	if err != nil {
		slog.Warn("Server.replaceContextHandler: invalid context", "error", err, "id", id)
		writeError(w, err)
		return
	}
	rec, err := s.respHandler.ReplaceContext(r.Context(), id, cctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}
