package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"rikapay/apps/gateway/internal/catalog"
	"rikapay/apps/gateway/internal/domain"
	"rikapay/apps/gateway/internal/repo"
	"rikapay/apps/gateway/internal/service/negotiate"
	"rikapay/apps/gateway/internal/service/ports"
)

const (
	DefaultResolveTimeout = 45 * time.Second

	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
	TransportCLI       = "cli"
)

type Validator interface {
	Validate(ctx context.Context, raw domain.RawDecision) domain.Decision
}

type Negotiator interface {
	Clarify(missing domain.MissingParameters) domain.ClarificationRequest
}

type Inbound struct {
	Prompt          string
	SessionID       string
	EmployerAddress string
	Transport       string
}

type ProcessError struct {
	Status  int
	Code    string
	Message string
	Details interface{}
}

func (e *ProcessError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

type Dependencies struct {
	Store      repo.SessionStore
	Resolver   ports.Resolver
	Validator  Validator
	Negotiator Negotiator
	Executor   ports.Executor
	Catalog    *catalog.Catalog
	Logger     *zap.Logger

	ResolveTimeout time.Duration
	// HistoryLimit caps the prior turns handed to the resolver.
	HistoryLimit int
	Now          func() time.Time
	NewID        func() string
}

// Service runs one conversation turn at a time per session. Turns for
// different sessions proceed independently.
type Service struct {
	deps Dependencies

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sem  *semaphore.Weighted
	refs int
}

func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.ResolveTimeout <= 0 {
		deps.ResolveTimeout = DefaultResolveTimeout
	}
	if deps.HistoryLimit == 0 {
		deps.HistoryLimit = domain.DefaultHistoryLimit
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Service{deps: deps, locks: map[string]*sessionLock{}}
}

func (s *Service) Catalog() *catalog.Catalog {
	if s == nil {
		return nil
	}
	return s.deps.Catalog
}

func (s *Service) Handle(ctx context.Context, in Inbound) (domain.Envelope, *ProcessError) {
	if s == nil {
		return domain.Envelope{}, &ProcessError{
			Status:  http.StatusInternalServerError,
			Code:    "orchestrator_unavailable",
			Message: "orchestrator is unavailable",
		}
	}
	if err := s.validateDependencies(); err != nil {
		return domain.Envelope{}, &ProcessError{
			Status:  http.StatusInternalServerError,
			Code:    "orchestrator_misconfigured",
			Message: err.Error(),
		}
	}
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return domain.Envelope{}, &ProcessError{
			Status:  http.StatusBadRequest,
			Code:    "invalid_request",
			Message: "prompt_text is required",
		}
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = s.deps.NewID()
	}
	log := s.deps.Logger.With(zap.String("session_id", sessionID), zap.String("transport", in.Transport))

	unlock, err := s.lockSession(ctx, sessionID)
	if err != nil {
		return domain.Envelope{}, canceledError(err)
	}
	defer unlock()

	sess, _, err := s.deps.Store.Get(ctx, sessionID)
	if err != nil {
		log.Error("session read failed", zap.Error(err))
		return domain.Envelope{}, storeError(err)
	}
	history := sess.RecentTurns(s.deps.HistoryLimit)

	// The employer address travels as an extra line of the recorded prompt so
	// later turns can still see it. It comes last, so it takes precedence over
	// an employer named in the prompt text.
	if employer := strings.TrimSpace(in.EmployerAddress); employer != "" {
		prompt += "\nEmployer Address: " + employer
	}

	decision, perr := s.resolve(ctx, log, history, prompt)
	if perr != nil {
		return domain.Envelope{}, perr
	}

	env, reply, state := s.apply(ctx, log, decision)
	env.SessionID = sessionID

	now := s.deps.Now()
	if _, err := s.deps.Store.Append(ctx, sessionID, state,
		domain.Turn{Role: domain.RoleUser, Text: prompt, At: now},
		domain.Turn{Role: domain.RoleAssistant, Text: reply, At: now, Pending: state.Status == domain.SessionAwaiting},
	); err != nil {
		log.Error("session append failed", zap.Error(err))
		return domain.Envelope{}, storeError(err)
	}
	return env, nil
}

func (s *Service) resolve(ctx context.Context, log *zap.Logger, history []domain.Turn, prompt string) (domain.Decision, *ProcessError) {
	rctx, cancel := context.WithTimeout(ctx, s.deps.ResolveTimeout)
	defer cancel()

	started := time.Now()
	raw, err := s.deps.Resolver.Resolve(rctx, history, prompt, s.deps.Catalog)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, canceledError(ctx.Err())
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(rctx.Err(), context.DeadlineExceeded):
			log.Warn("resolver timed out", zap.Duration("timeout", s.deps.ResolveTimeout))
			return nil, &ProcessError{
				Status:  http.StatusGatewayTimeout,
				Code:    "resolver_timeout",
				Message: fmt.Sprintf("intent resolver did not answer within %s", s.deps.ResolveTimeout),
			}
		default:
			log.Error("resolver failed", zap.Error(err))
			return nil, &ProcessError{
				Status:  http.StatusBadGateway,
				Code:    "resolver_failed",
				Message: err.Error(),
			}
		}
	}
	decision := s.deps.Validator.Validate(rctx, raw)
	log.Info("turn resolved", zap.String("decision", decisionName(decision)), zap.Duration("elapsed", time.Since(started)))
	return decision, nil
}

// apply turns a decision into the response envelope, the assistant reply to
// record and the next session state.
func (s *Service) apply(ctx context.Context, log *zap.Logger, decision domain.Decision) (domain.Envelope, string, domain.SessionState) {
	idle := domain.SessionState{Status: domain.SessionIdle}
	switch d := decision.(type) {
	case domain.Resolved:
		op, ok := s.deps.Catalog.Find(d.OperationID)
		if !ok {
			return unclearEnvelope(), negotiate.UnclearMessage, idle
		}
		route := op.ID
		env := domain.Envelope{
			APIRoute:    &route,
			Parameters:  d.Parameters,
			HelpButtons: []domain.HelpButton{},
		}
		result, err := s.deps.Executor.Execute(ctx, op, d.Parameters)
		if err != nil {
			log.Warn("operation failed", zap.String("api_route", op.ID), zap.Error(err))
			msg := err.Error()
			env.Error = &msg
			return env, fmt.Sprintf("Calling %s failed: %s", op.ID, msg), idle
		}
		env.APIResponse = result
		return env, executedReply(op.ID, d.Parameters), idle

	case domain.MissingParameters:
		req := s.deps.Negotiator.Clarify(d)
		msg := req.Message
		env := domain.Envelope{
			Parameters:       map[string]domain.Value{},
			Error:            &msg,
			ParameterRequest: negotiate.ParameterRequest(req),
			HelpButtons:      req.Buttons,
		}
		state := domain.SessionState{
			Status:        domain.SessionAwaiting,
			OperationHint: req.OperationHint,
			Missing:       append([]string(nil), req.Missing...),
		}
		return env, msg, state

	default:
		return unclearEnvelope(), negotiate.UnclearMessage, idle
	}
}

// Open creates an empty session for a streaming connection.
func (s *Service) Open(ctx context.Context) (string, *ProcessError) {
	id := s.deps.NewID()
	if _, err := s.deps.Store.Append(ctx, id, domain.SessionState{Status: domain.SessionIdle}); err != nil {
		return "", storeError(err)
	}
	return id, nil
}

func (s *Service) Close(ctx context.Context, id string) (bool, *ProcessError) {
	deleted, err := s.deps.Store.Delete(ctx, id)
	if err != nil {
		return false, storeError(err)
	}
	return deleted, nil
}

func (s *Service) History(ctx context.Context, id string) (domain.Session, bool, *ProcessError) {
	sess, ok, err := s.deps.Store.Get(ctx, id)
	if err != nil {
		return domain.Session{}, false, storeError(err)
	}
	return sess, ok, nil
}

func (s *Service) lockSession(ctx context.Context, id string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{sem: semaphore.NewWeighted(1)}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		s.releaseLock(id, l)
		return nil, err
	}
	return func() {
		l.sem.Release(1)
		s.releaseLock(id, l)
	}, nil
}

func (s *Service) releaseLock(id string, l *sessionLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
}

func (s *Service) validateDependencies() error {
	switch {
	case s.deps.Store == nil:
		return errors.New("missing session store dependency")
	case s.deps.Resolver == nil:
		return errors.New("missing intent resolver dependency")
	case s.deps.Validator == nil:
		return errors.New("missing output validator dependency")
	case s.deps.Negotiator == nil:
		return errors.New("missing negotiator dependency")
	case s.deps.Executor == nil:
		return errors.New("missing executor dependency")
	case s.deps.Catalog == nil:
		return errors.New("missing operation catalog dependency")
	default:
		return nil
	}
}

func unclearEnvelope() domain.Envelope {
	msg := negotiate.UnclearMessage
	return domain.Envelope{
		Parameters:  map[string]domain.Value{},
		Error:       &msg,
		HelpButtons: []domain.HelpButton{},
	}
}

func executedReply(route string, params map[string]domain.Value) string {
	b, err := json.Marshal(params)
	if err != nil {
		return "Called " + route + "."
	}
	return fmt.Sprintf("Called %s with %s.", route, b)
}

func decisionName(d domain.Decision) string {
	switch d.(type) {
	case domain.Resolved:
		return "resolved"
	case domain.MissingParameters:
		return "missing_parameters"
	default:
		return "unclear"
	}
}

func storeError(err error) *ProcessError {
	return &ProcessError{
		Status:  http.StatusServiceUnavailable,
		Code:    "store_unavailable",
		Message: err.Error(),
	}
}

func canceledError(err error) *ProcessError {
	return &ProcessError{
		Status:  http.StatusServiceUnavailable,
		Code:    "request_canceled",
		Message: err.Error(),
	}
}
