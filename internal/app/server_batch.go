package app

import (
	"net/http"

	"rikapay/apps/gateway/internal/domain"
)

type batchStateResponse struct {
	State      domain.BatchState      `json:"state"`
	LastResult *domain.BatchRunResult `json:"last_result,omitempty"`
}

func (s *Server) triggerPayrollProcessing(w http.ResponseWriter, _ *http.Request) {
	if s.batch == nil {
		writeErr(w, http.StatusServiceUnavailable, "batch_disabled", "scheduled payroll processing is disabled", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.batch.Trigger())
}

func (s *Server) getBatchState(w http.ResponseWriter, _ *http.Request) {
	if s.batch == nil {
		writeErr(w, http.StatusServiceUnavailable, "batch_disabled", "scheduled payroll processing is disabled", nil)
		return
	}
	resp := batchStateResponse{State: s.batch.State()}
	if last, ok := s.batch.LastResult(); ok {
		resp.LastResult = &last
	}
	writeJSON(w, http.StatusOK, resp)
}
