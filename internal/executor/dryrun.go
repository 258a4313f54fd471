package executor

import (
	"context"
	"net/http"
	"sync"

	"rikapay/apps/gateway/internal/catalog"
	"rikapay/apps/gateway/internal/domain"
	"rikapay/apps/gateway/internal/service/ports"
)

// DryRunExecutor answers every call locally with the request it would have
// sent. Mutating operations get a placeholder unsigned transaction.
type DryRunExecutor struct {
	mu        sync.Mutex
	contracts []ports.EmployerContract
}

func NewDryRunExecutor(contracts ...ports.EmployerContract) *DryRunExecutor {
	return &DryRunExecutor{contracts: append([]ports.EmployerContract(nil), contracts...)}
}

func (d *DryRunExecutor) Execute(_ context.Context, op catalog.OperationSpec, params map[string]domain.Value) (map[string]interface{}, error) {
	method := http.MethodGet
	if op.Mutating() {
		method = http.MethodPost
	}
	data := map[string]interface{}{
		"api_route":  op.ID,
		"method":     method,
		"parameters": domain.ValuesToMap(params),
	}
	if op.Mutating() {
		data["transaction"] = map[string]interface{}{
			"to":   "",
			"data": "0x",
		}
	}

	// Creating a contract registers it so the batch job can see it.
	if op.ID == "/payroll-contracts" {
		if employer, ok := params["employer_address"]; ok {
			d.register(employer.String())
		}
	}
	return map[string]interface{}{
		"success": true,
		"message": "Dry run: no request was sent",
		"data":    data,
		"error":   nil,
	}, nil
}

func (d *DryRunExecutor) ListEmployerContracts(context.Context) ([]ports.EmployerContract, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ports.EmployerContract(nil), d.contracts...), nil
}

func (d *DryRunExecutor) register(employer string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var next int64
	for _, c := range d.contracts {
		if c.EmployerAddress == employer {
			next++
		}
	}
	d.contracts = append(d.contracts, ports.EmployerContract{EmployerAddress: employer, ContractIndex: next})
}

var (
	_ ports.Executor     = (*DryRunExecutor)(nil)
	_ ports.PayrollChain = (*DryRunExecutor)(nil)
)
