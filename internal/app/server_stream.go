package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"rikapay/apps/gateway/internal/domain"
	"rikapay/apps/gateway/internal/observability"
	"rikapay/apps/gateway/internal/service/orchestrator"
)

const streamCloseTimeout = 5 * time.Second

// stream serves one conversation per WebSocket connection. Every text frame is
// a prompt; every reply is one envelope. The session is deleted when the
// client goes away.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	employer := strings.TrimSpace(chi.URLParam(r, "employer_address"))
	logger := observability.LoggerFromContext(r.Context()).With(zap.String("employer_address", employer))

	if !s.beginStream() {
		writeErr(w, http.StatusServiceUnavailable, "shutting_down", "server is shutting down", nil)
		return
	}
	defer s.streams.Done()
	websocket.Server{Handler: func(conn *websocket.Conn) {
		s.serveStream(conn, employer, logger)
	}}.ServeHTTP(w, r)
}

func (s *Server) serveStream(conn *websocket.Conn, employer string, logger *zap.Logger) {
	defer conn.Close()
	ctx, cancel := context.WithCancel(conn.Request().Context())
	defer cancel()
	release, ok := s.trackConn(conn, cancel)
	defer release()
	if !ok {
		return
	}

	sessionID, perr := s.orch.Open(ctx)
	if perr != nil {
		_ = websocket.JSON.Send(conn, processErrBody(perr))
		return
	}
	logger = logger.With(zap.String("session_id", sessionID))
	logger.Info("stream opened")
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), streamCloseTimeout)
		defer cancel()
		if _, perr := s.orch.Close(closeCtx, sessionID); perr != nil {
			logger.Warn("stream session cleanup failed", zap.String("error", perr.Message))
		}
		logger.Info("stream closed")
	}()

	for {
		var prompt string
		if err := websocket.Message.Receive(conn, &prompt); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("stream receive ended", zap.Error(err))
			}
			return
		}
		env, perr := s.orch.Handle(ctx, orchestrator.Inbound{
			Prompt:          prompt,
			SessionID:       sessionID,
			EmployerAddress: employer,
			Transport:       orchestrator.TransportWebSocket,
		})
		var sendErr error
		if perr != nil {
			sendErr = websocket.JSON.Send(conn, processErrBody(perr))
		} else {
			sendErr = websocket.JSON.Send(conn, env)
		}
		if sendErr != nil {
			logger.Debug("stream send failed", zap.Error(sendErr))
			return
		}
	}
}

func processErrBody(perr *orchestrator.ProcessError) domain.APIErrorBody {
	return domain.APIErrorBody{Error: domain.APIError{Code: perr.Code, Message: perr.Message, Details: perr.Details}}
}
