package intent

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"rikapay/apps/gateway/internal/catalog"
	"rikapay/apps/gateway/internal/domain"
	"rikapay/apps/gateway/internal/observability"
	"rikapay/apps/gateway/internal/service/ports"
)

// LLMResolver delegates resolution to a language model constrained by
// SystemPrompt. Its output is untrusted and must go through validation.
type LLMResolver struct {
	completer ports.Completer
}

func NewLLMResolver(completer ports.Completer) (*LLMResolver, error) {
	if completer == nil {
		return nil, errors.New("llm resolver requires a completer")
	}
	return &LLMResolver{completer: completer}, nil
}

func (r *LLMResolver) Resolve(ctx context.Context, history []domain.Turn, prompt string, cat *catalog.Catalog) (domain.RawDecision, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return domain.RawDecision{}, ErrEmptyPrompt
	}
	messages := make([]domain.Turn, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, domain.Turn{Role: domain.RoleUser, Text: prompt})

	text, err := r.completer.Complete(ctx, SystemPrompt(cat), messages)
	if err != nil {
		return domain.RawDecision{}, err
	}
	observability.LoggerFromContext(ctx).Debug("resolver reply", zap.Int("history_turns", len(history)), zap.Int("reply_bytes", len(text)))
	return domain.RawDecision{Text: text}, nil
}

func (r *LLMResolver) Repair(ctx context.Context, malformed string, cat *catalog.Catalog) (domain.RawDecision, error) {
	text, err := r.completer.Complete(ctx, RepairPrompt(cat), []domain.Turn{{Role: domain.RoleUser, Text: malformed}})
	if err != nil {
		return domain.RawDecision{}, err
	}
	return domain.RawDecision{Text: text}, nil
}

var (
	_ ports.Resolver = (*LLMResolver)(nil)
	_ ports.Repairer = (*LLMResolver)(nil)
	_ ports.Resolver = (*RuleResolver)(nil)
)
