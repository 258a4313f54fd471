package adapters

import (
	"context"
	"errors"

	"rikapay/apps/gateway/internal/catalog"
	"rikapay/apps/gateway/internal/domain"
	"rikapay/apps/gateway/internal/service/ports"
)

var errNotConfigured = errors.New("adapter function is not configured")

// Resolver adapts a function to ports.Resolver.
type Resolver struct {
	ResolveFunc func(ctx context.Context, history []domain.Turn, prompt string, cat *catalog.Catalog) (domain.RawDecision, error)
}

func (r Resolver) Resolve(ctx context.Context, history []domain.Turn, prompt string, cat *catalog.Catalog) (domain.RawDecision, error) {
	if r.ResolveFunc == nil {
		return domain.RawDecision{}, errNotConfigured
	}
	return r.ResolveFunc(ctx, history, prompt, cat)
}

type Completer struct {
	CompleteFunc func(ctx context.Context, system string, messages []domain.Turn) (string, error)
}

func (c Completer) Complete(ctx context.Context, system string, messages []domain.Turn) (string, error) {
	if c.CompleteFunc == nil {
		return "", errNotConfigured
	}
	return c.CompleteFunc(ctx, system, messages)
}

type Executor struct {
	ExecuteFunc func(ctx context.Context, op catalog.OperationSpec, params map[string]domain.Value) (map[string]interface{}, error)
}

func (e Executor) Execute(ctx context.Context, op catalog.OperationSpec, params map[string]domain.Value) (map[string]interface{}, error) {
	if e.ExecuteFunc == nil {
		return nil, errNotConfigured
	}
	return e.ExecuteFunc(ctx, op, params)
}

type PayrollChain struct {
	ListEmployerContractsFunc func(ctx context.Context) ([]ports.EmployerContract, error)
}

func (c PayrollChain) ListEmployerContracts(ctx context.Context) ([]ports.EmployerContract, error) {
	if c.ListEmployerContractsFunc == nil {
		return nil, errNotConfigured
	}
	return c.ListEmployerContractsFunc(ctx)
}

type TransactionSigner struct {
	SignAndSendFunc func(ctx context.Context, tx map[string]interface{}) (string, error)
}

func (s TransactionSigner) SignAndSend(ctx context.Context, tx map[string]interface{}) (string, error) {
	if s.SignAndSendFunc == nil {
		return "", errNotConfigured
	}
	return s.SignAndSendFunc(ctx, tx)
}

var (
	_ ports.Resolver          = Resolver{}
	_ ports.Completer         = Completer{}
	_ ports.Executor          = Executor{}
	_ ports.PayrollChain      = PayrollChain{}
	_ ports.TransactionSigner = TransactionSigner{}
)
