package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"rikapay/apps/gateway/internal/catalog"
	"rikapay/apps/gateway/internal/domain"
	"rikapay/apps/gateway/internal/service/ports"
)

const (
	payrollPrefix    = "/api/v1/payroll"
	contractsRoute   = "/payroll-contracts/all"
	maxResponseBytes = 4 * 1024 * 1024
	DefaultTimeout   = 30 * time.Second
)

// ExecutorError carries the upstream failure message untouched so it can be
// shown to the user as is.
type ExecutorError struct {
	Route   string
	Status  int
	Message string
	Err     error
}

func (e *ExecutorError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("payroll api call %s failed", e.Route)
}

func (e *ExecutorError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// baseResponse is the envelope every payroll API route answers with.
type baseResponse struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
	Detail  interface{}     `json:"detail"`
}

// HTTPExecutor calls the payroll API. Mutating operations are POSTed as JSON
// and answer with an unsigned transaction; read-only operations use GET with
// query parameters.
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPExecutor(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPExecutor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPExecutor{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, op catalog.OperationSpec, params map[string]domain.Value) (map[string]interface{}, error) {
	endpoint := e.baseURL + payrollPrefix + op.ID
	var req *http.Request
	var err error
	if op.Mutating() {
		body, merr := json.Marshal(domain.ValuesToMap(params))
		if merr != nil {
			return nil, &ExecutorError{Route: op.ID, Message: "failed to encode parameters", Err: merr}
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		query := url.Values{}
		for _, name := range op.ParamNames() {
			if v, ok := params[name]; ok {
				query.Set(name, v.String())
			}
		}
		if encoded := query.Encode(); encoded != "" {
			endpoint += "?" + encoded
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	}
	if err != nil {
		return nil, &ExecutorError{Route: op.ID, Message: "failed to create payroll api request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	raw, status, err := e.do(req)
	e.logger.Info("payroll api call",
		zap.String("api_route", op.ID),
		zap.String("method", req.Method),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(started)),
		zap.Bool("ok", err == nil),
	)
	if err != nil {
		return nil, withRoute(err, op.ID)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ExecutorError{Route: op.ID, Status: status, Message: "payroll api returned invalid json", Err: err}
	}
	return result, nil
}

// ListEmployerContracts walks the factory listing used by the payroll batch.
// The response pairs each employer with one contract; an employer that appears
// several times owns several contracts, indexed in listing order.
func (e *HTTPExecutor) ListEmployerContracts(ctx context.Context) ([]ports.EmployerContract, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+payrollPrefix+contractsRoute, nil)
	if err != nil {
		return nil, &ExecutorError{Route: contractsRoute, Message: "failed to create payroll api request", Err: err}
	}
	raw, _, err := e.do(req)
	if err != nil {
		return nil, withRoute(err, contractsRoute)
	}
	var listing struct {
		Data struct {
			Employers []string `json:"employers"`
			Contracts []string `json:"contracts"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &listing); err != nil {
		return nil, &ExecutorError{Route: contractsRoute, Message: "payroll api returned invalid json", Err: err}
	}
	seen := map[string]int64{}
	out := make([]ports.EmployerContract, 0, len(listing.Data.Employers))
	for _, employer := range listing.Data.Employers {
		employer = strings.TrimSpace(employer)
		if employer == "" {
			continue
		}
		key := strings.ToLower(employer)
		out = append(out, ports.EmployerContract{EmployerAddress: employer, ContractIndex: seen[key]})
		seen[key]++
	}
	return out, nil
}

// do performs req and returns the body of a successful payroll response.
func (e *HTTPExecutor) do(req *http.Request) ([]byte, int, error) {
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, &ExecutorError{Message: fmt.Sprintf("payroll api unreachable: %v", err), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, &ExecutorError{Status: resp.StatusCode, Message: "failed to read payroll api response", Err: err}
	}

	var envelope baseResponse
	decodeErr := json.Unmarshal(raw, &envelope)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := fmt.Sprintf("payroll api returned status %d", resp.StatusCode)
		if decodeErr == nil {
			if upstream := upstreamMessage(envelope); upstream != "" {
				msg = upstream
			}
		}
		return nil, resp.StatusCode, &ExecutorError{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, resp.StatusCode, &ExecutorError{Status: resp.StatusCode, Message: "payroll api returned invalid json", Err: decodeErr}
	}
	if msg := upstreamMessage(envelope); msg != "" || (envelope.Success != nil && !*envelope.Success) {
		if msg == "" {
			msg = envelope.Message
		}
		return nil, resp.StatusCode, &ExecutorError{Status: resp.StatusCode, Message: msg}
	}
	return raw, resp.StatusCode, nil
}

func upstreamMessage(envelope baseResponse) string {
	if envelope.Error != nil && strings.TrimSpace(*envelope.Error) != "" {
		return *envelope.Error
	}
	if len(envelope.Data) > 0 {
		var data struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(envelope.Data, &data) == nil && strings.TrimSpace(data.Error) != "" {
			return data.Error
		}
	}
	switch d := envelope.Detail.(type) {
	case string:
		return d
	case nil:
		return ""
	default:
		b, _ := json.Marshal(d)
		return string(b)
	}
}

func withRoute(err error, route string) error {
	if execErr, ok := err.(*ExecutorError); ok && execErr.Route == "" {
		execErr.Route = route
	}
	return err
}

var (
	_ ports.Executor     = (*HTTPExecutor)(nil)
	_ ports.PayrollChain = (*HTTPExecutor)(nil)
)
