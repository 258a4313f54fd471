package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"rikapay/apps/gateway/internal/catalog"
	"rikapay/apps/gateway/internal/domain"
	"rikapay/apps/gateway/internal/service/ports"
)

const (
	statusRunning   = "running"
	statusSucceeded = "succeeded"
	statusFailed    = "failed"

	processRoute = "/payrolls/process"
	flightKey    = "payroll-batch"

	DefaultTickInterval = time.Second

	triggerStarted = "Payroll processing started."
	triggerRunning = "Payroll processing already running."
)

var ErrNotConfigured = errors.New("batch_not_configured")

type Dependencies struct {
	Chain    ports.PayrollChain
	Executor ports.Executor
	// Signer is optional; without it runs only build the transactions.
	Signer  ports.TransactionSigner
	Catalog *catalog.Catalog
	Logger  *zap.Logger

	Schedule     string
	Timezone     string
	MisfireGrace time.Duration
	TickInterval time.Duration

	Now   func() time.Time
	NewID func() string
}

// Service processes due payrolls for every registered contract, either on a
// schedule or on demand.
type Service struct {
	deps     Dependencies
	schedule *Schedule
	op       catalog.OperationSpec
	group    singleflight.Group

	mu         sync.Mutex
	state      domain.BatchState
	inflight   string
	lastResult *domain.BatchRunResult

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewService(deps Dependencies) (*Service, error) {
	if deps.Chain == nil || deps.Executor == nil {
		return nil, ErrNotConfigured
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	op, ok := deps.Catalog.Find(processRoute)
	if !ok {
		return nil, fmt.Errorf("catalog has no %s operation", processRoute)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.TickInterval <= 0 {
		deps.TickInterval = DefaultTickInterval
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}

	svc := &Service{deps: deps, op: op}
	if strings.TrimSpace(deps.Schedule) != "" {
		schedule, err := ParseSchedule(deps.Schedule, deps.Timezone)
		if err != nil {
			return nil, err
		}
		svc.schedule = &schedule
		svc.state.Schedule = schedule.Spec
	}
	svc.baseCtx, svc.cancel = context.WithCancel(context.Background())
	return svc, nil
}

// Run performs one batch. Calls made while a run is in progress wait for it
// and share its result.
func (s *Service) Run(ctx context.Context) (domain.BatchRunResult, error) {
	v, err, _ := s.group.Do(flightKey, func() (interface{}, error) {
		id := s.begin("")
		return s.run(ctx, id), nil
	})
	if err != nil {
		return domain.BatchRunResult{}, err
	}
	return v.(domain.BatchRunResult), nil
}

// Trigger starts a run in the background and returns its task id. When a run
// is already in progress its id is returned instead.
func (s *Service) Trigger() domain.BatchTriggerResponse {
	s.mu.Lock()
	if s.inflight != "" {
		id := s.inflight
		s.mu.Unlock()
		return domain.BatchTriggerResponse{TaskID: id, Status: triggerRunning}
	}
	id := s.deps.NewID()
	s.inflight = id
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// A flight that was already finishing does not pick up the reserved
		// id; run again until the reservation is consumed.
		for {
			v, _, _ := s.group.Do(flightKey, func() (interface{}, error) {
				return s.run(s.baseCtx, s.begin(id)), nil
			})
			if v.(domain.BatchRunResult).TaskID == id || !s.reserved(id) {
				return
			}
		}
	}()
	return domain.BatchTriggerResponse{TaskID: id, Status: triggerStarted}
}

// begin reserves the in-flight task id. reserved is the id handed out by
// Trigger, if any.
func (s *Service) begin(reserved string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reserved == "" {
		reserved = s.inflight
	}
	if reserved == "" {
		reserved = s.deps.NewID()
	}
	s.inflight = reserved
	running := statusRunning
	s.state.LastStatus = &running
	s.state.LastTaskID = &reserved
	return reserved
}

func (s *Service) reserved(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight == id
}

func (s *Service) run(ctx context.Context, taskID string) domain.BatchRunResult {
	logger := s.deps.Logger.With(zap.String("task_id", taskID))
	started := s.deps.Now().UTC()
	result := domain.BatchRunResult{
		TaskID:      taskID,
		StartedAt:   started.Format(time.RFC3339),
		Submissions: []domain.BatchSubmission{},
	}

	var runErr error
	contracts, err := s.deps.Chain.ListEmployerContracts(ctx)
	if err != nil {
		runErr = fmt.Errorf("list employer contracts: %w", err)
		logger.Error("payroll batch listing failed", zap.Error(err))
	}

	failures := 0
	for _, c := range contracts {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
		sub := s.submit(ctx, c)
		if sub.Error != "" {
			failures++
			logger.Warn("payroll batch submission failed",
				zap.String("employer_address", c.EmployerAddress),
				zap.Int64("contract_index", c.ContractIndex),
				zap.String("error", sub.Error),
			)
		}
		result.Submissions = append(result.Submissions, sub)
	}
	if runErr == nil && failures > 0 {
		runErr = fmt.Errorf("%d of %d submissions failed", failures, len(contracts))
	}

	finished := s.deps.Now().UTC()
	result.FinishedAt = finished.Format(time.RFC3339)

	s.mu.Lock()
	status := statusSucceeded
	s.state.LastError = nil
	if runErr != nil {
		status = statusFailed
		msg := runErr.Error()
		s.state.LastError = &msg
	}
	lastRun := started.Format(time.RFC3339)
	s.state.LastRunAt = &lastRun
	s.state.LastStatus = &status
	s.state.LastTaskID = &taskID
	s.inflight = ""
	stored := result
	s.lastResult = &stored
	s.mu.Unlock()

	logger.Info("payroll batch finished",
		zap.String("status", status),
		zap.Int("contracts", len(contracts)),
		zap.Int("failures", failures),
		zap.Duration("duration", finished.Sub(started)),
	)
	return result
}

func (s *Service) submit(ctx context.Context, c ports.EmployerContract) domain.BatchSubmission {
	sub := domain.BatchSubmission{EmployerAddress: c.EmployerAddress, ContractIndex: c.ContractIndex}
	params := map[string]domain.Value{
		"employer_address": domain.AddressValue(c.EmployerAddress),
		"contract_index":   domain.IntegerValue(c.ContractIndex),
	}
	res, err := s.deps.Executor.Execute(ctx, s.op, params)
	if err != nil {
		sub.Error = err.Error()
		return sub
	}
	tx := transactionOf(res)
	if tx == nil {
		sub.Error = "payroll api returned no transaction"
		return sub
	}
	if s.deps.Signer == nil {
		sub.Transaction = tx
		return sub
	}
	hash, err := s.deps.Signer.SignAndSend(ctx, tx)
	if err != nil {
		sub.Transaction = tx
		sub.Error = err.Error()
		return sub
	}
	sub.TxHash = hash
	return sub
}

func transactionOf(res map[string]interface{}) map[string]interface{} {
	if data, ok := res["data"].(map[string]interface{}); ok {
		if tx, ok := data["transaction"].(map[string]interface{}); ok {
			return tx
		}
	}
	if tx, ok := res["transaction"].(map[string]interface{}); ok {
		return tx
	}
	return nil
}

// Tick advances the schedule to now and runs the batch when it is due. It
// reports whether a run happened.
func (s *Service) Tick(ctx context.Context, now time.Time) bool {
	if s.schedule == nil {
		return false
	}
	s.mu.Lock()
	nextRunAt, dueAt := s.schedule.next(s.state.NextRunAt, now)
	nextRun := nextRunAt.Format(time.RFC3339)
	s.state.NextRunAt = &nextRun
	if dueAt != nil && misfireExceeded(dueAt, s.deps.MisfireGrace, now) {
		failed := statusFailed
		msg := fmt.Sprintf("misfire skipped: scheduled_at=%s", dueAt.Format(time.RFC3339))
		s.state.LastStatus = &failed
		s.state.LastError = &msg
		dueAt = nil
	}
	s.mu.Unlock()

	if dueAt == nil {
		return false
	}
	s.deps.Logger.Info("payroll batch due", zap.String("scheduled_at", dueAt.Format(time.RFC3339)))
	_, _ = s.Run(ctx)
	return true
}

// Start runs the scheduler loop until ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	if s.schedule == nil {
		<-mergeDone(ctx, s.baseCtx)
		return nil
	}
	ticker := time.NewTicker(s.deps.TickInterval)
	defer ticker.Stop()

	s.Tick(ctx, s.deps.Now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.baseCtx.Done():
			return nil
		case <-ticker.C:
			s.Tick(ctx, s.deps.Now())
		}
	}
}

// Stop cancels background runs and waits for them to return.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) State() domain.BatchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) LastResult() (domain.BatchRunResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastResult == nil {
		return domain.BatchRunResult{}, false
	}
	return *s.lastResult, true
}

func mergeDone(a, b context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-a.Done():
		case <-b.Done():
		}
	}()
	return done
}
