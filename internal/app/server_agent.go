package app

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"rikapay/apps/gateway/internal/domain"
	"rikapay/apps/gateway/internal/service/orchestrator"
)

func (s *Server) interact(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json", "invalid request body", nil)
		return
	}
	var req domain.InteractRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json", "invalid request body", nil)
		return
	}

	env, perr := s.orch.Handle(r.Context(), orchestrator.Inbound{
		Prompt:          req.PromptText,
		SessionID:       strings.TrimSpace(req.SessionID),
		EmployerAddress: strings.TrimSpace(req.EmployerAddress),
		Transport:       orchestrator.TransportHTTP,
	})
	if perr != nil {
		writeProcessErr(w, perr)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "session_id"))
	sess, ok, perr := s.orch.History(r.Context(), id)
	if perr != nil {
		writeProcessErr(w, perr)
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, "session_not_found", "session not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "session_id"))
	deleted, perr := s.orch.Close(r.Context(), id)
	if perr != nil {
		writeProcessErr(w, perr)
		return
	}
	if !deleted {
		writeErr(w, http.StatusNotFound, "session_not_found", "session not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
