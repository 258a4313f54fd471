package negotiate

import (
	"strings"

	"rikapay/apps/gateway/internal/catalog"
	"rikapay/apps/gateway/internal/domain"
)

const (
	clarifyIntro   = "To proceed, I'll need a bit more information. Could you please provide the following details?\n"
	clarifyOutro   = "\nOnce you provide these, I'll be able to assist you further!"
	buttonPrefix   = "Provide "
	UnclearMessage = "I'm sorry, I couldn't quite understand your request. Could you please clarify what you'd like to do with the payroll system?"
)

// Negotiator renders MissingParameters verdicts for the user. It is pure and
// safe for concurrent use.
type Negotiator struct {
	cat *catalog.Catalog
}

func New(cat *catalog.Catalog) *Negotiator {
	return &Negotiator{cat: cat}
}

// Clarify lists every missing parameter in catalog declaration order, with
// the catalog example and one help button each.
func (n *Negotiator) Clarify(missing domain.MissingParameters) domain.ClarificationRequest {
	names := n.cat.OrderParams(missing.OperationHint, missing.Missing)

	var b strings.Builder
	b.WriteString(clarifyIntro)
	buttons := make([]domain.HelpButton, 0, len(names))
	for _, name := range names {
		b.WriteString("- **")
		b.WriteString(name)
		b.WriteString("**: ")
		b.WriteString(n.cat.Example(missing.OperationHint, name))
		b.WriteString("\n")
		buttons = append(buttons, domain.HelpButton{Text: buttonPrefix + name, Value: name})
	}
	b.WriteString(clarifyOutro)

	return domain.ClarificationRequest{
		Message:       b.String(),
		Buttons:       buttons,
		OperationHint: missing.OperationHint,
		Missing:       names,
	}
}

// ParameterRequest is the envelope form of a clarification.
func ParameterRequest(req domain.ClarificationRequest) *domain.ParameterRequest {
	hint := req.OperationHint
	if hint == "" {
		hint = domain.UnknownRouteHint
	}
	return &domain.ParameterRequest{
		MissingParameters: append([]string(nil), req.Missing...),
		APIRouteHint:      hint,
		MessageToUser:     req.Message,
	}
}

