package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	transport "rikapay/apps/gateway/internal/app/http"
	"rikapay/apps/gateway/internal/catalog"
	"rikapay/apps/gateway/internal/domain"
	"rikapay/apps/gateway/internal/service/batch"
	"rikapay/apps/gateway/internal/service/orchestrator"
)

const version = "0.1.0"

const maxRequestBytes = 1 << 20

var ErrMissingOrchestrator = errors.New("app: orchestrator is required")

type Options struct {
	APIKey       string
	Orchestrator *orchestrator.Service
	// Batch is nil when scheduled payroll processing is disabled.
	Batch  *batch.Service
	Logger *zap.Logger
}

type Server struct {
	apiKey string
	orch   *orchestrator.Service
	batch  *batch.Service
	logger *zap.Logger

	streamsMu     sync.Mutex
	streams       sync.WaitGroup
	conns         map[*websocket.Conn]context.CancelFunc
	streamsClosed bool
	closeOnce     sync.Once
}

func NewServer(opts Options) (*Server, error) {
	if opts.Orchestrator == nil {
		return nil, ErrMissingOrchestrator
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		apiKey: opts.APIKey,
		orch:   opts.Orchestrator,
		batch:  opts.Batch,
		logger: logger,
		conns:  map[*websocket.Conn]context.CancelFunc{},
	}, nil
}

// CloseStreams refuses new WebSocket streams and closes the open ones.
// http.Server.Shutdown leaves hijacked connections alone, so register it with
// RegisterOnShutdown.
func (s *Server) CloseStreams() {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	s.streamsClosed = true
	for conn, cancel := range s.conns {
		cancel()
		_ = conn.Close()
	}
}

// Close closes every open stream and waits for its session cleanup.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.CloseStreams()
		s.streams.Wait()
	})
}

// beginStream reserves a stream slot; it fails once streams are closed.
func (s *Server) beginStream() bool {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	if s.streamsClosed {
		return false
	}
	s.streams.Add(1)
	return true
}

// trackConn registers conn until the returned release is called. It reports
// false when the server closed streams in the meantime.
func (s *Server) trackConn(conn *websocket.Conn, cancel context.CancelFunc) (func(), bool) {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	if s.streamsClosed {
		return func() {}, false
	}
	s.conns[conn] = cancel
	return func() {
		s.streamsMu.Lock()
		delete(s.conns, conn)
		s.streamsMu.Unlock()
	}, true
}

func (s *Server) Handler() http.Handler {
	return transport.NewRouter(s.apiKey, transport.Handlers{
		System: transport.SystemHandlers{
			Version: s.handleVersion,
			Healthz: s.handleHealthz,
		},
		Agent: transport.AgentHandlers{
			Interact:       s.interact,
			Stream:         s.stream,
			GetSession:     s.getSession,
			DeleteSession:  s.deleteSession,
			ListOperations: s.listOperations,
		},
		Batch: transport.BatchHandlers{
			TriggerPayrollProcessing: s.triggerPayrollProcessing,
			GetState:                 s.getBatchState,
		},
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type operationsResponse struct {
	Version    int                     `json:"version"`
	Operations []catalog.OperationSpec `json:"operations"`
}

func (s *Server) listOperations(w http.ResponseWriter, _ *http.Request) {
	cat := s.orch.Catalog()
	writeJSON(w, http.StatusOK, operationsResponse{Version: cat.Version(), Operations: cat.Operations()})
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeErr(w http.ResponseWriter, code int, errCode, message string, details interface{}) {
	writeJSON(w, code, domain.APIErrorBody{Error: domain.APIError{Code: errCode, Message: message, Details: details}})
}

func writeProcessErr(w http.ResponseWriter, perr *orchestrator.ProcessError) {
	writeErr(w, perr.Status, perr.Code, perr.Message, perr.Details)
}
