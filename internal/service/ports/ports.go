package ports

import (
	"context"

	"rikapay/apps/gateway/internal/catalog"
	"rikapay/apps/gateway/internal/domain"
)

// Resolver turns a prompt plus the turns strictly before it into raw decision
// text. It must not record anything; failures are infrastructure errors.
type Resolver interface {
	Resolve(ctx context.Context, history []domain.Turn, prompt string, cat *catalog.Catalog) (domain.RawDecision, error)
}

// Repairer is implemented by resolvers that can be asked once to rewrite
// malformed output into the decision schema.
type Repairer interface {
	Repair(ctx context.Context, malformed string, cat *catalog.Catalog) (domain.RawDecision, error)
}

// Completer is a single-shot text generation backend.
type Completer interface {
	Complete(ctx context.Context, system string, messages []domain.Turn) (string, error)
}

// Executor performs a resolved operation against the payroll backend. Mutating
// operations return an unsigned transaction, read-only ones decoded data.
type Executor interface {
	Execute(ctx context.Context, op catalog.OperationSpec, params map[string]domain.Value) (map[string]interface{}, error)
}

type EmployerContract struct {
	EmployerAddress string
	ContractIndex   int64
}

// PayrollChain lists the contracts the batch job walks.
type PayrollChain interface {
	ListEmployerContracts(ctx context.Context) ([]EmployerContract, error)
}

// TransactionSigner signs and submits an unsigned transaction on behalf of the
// operator wallet and returns the transaction hash.
type TransactionSigner interface {
	SignAndSend(ctx context.Context, tx map[string]interface{}) (string, error)
}
