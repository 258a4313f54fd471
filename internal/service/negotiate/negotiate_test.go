package negotiate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rikapay/apps/gateway/internal/catalog"
	"rikapay/apps/gateway/internal/domain"
)

func TestClarifyListsEveryParameterInOrder(t *testing.T) {
	n := New(catalog.Default())
	req := n.Clarify(domain.MissingParameters{
		OperationHint: "/employees",
		Missing:       []string{"salary", "employer_address"},
	})

	want := "To proceed, I'll need a bit more information. Could you please provide the following details?\n" +
		"- **salary**: e.g., 5000 (in USD)\n" +
		"- **employer_address**: e.g., '0x123...' (a valid Ethereum address)\n" +
		"\nOnce you provide these, I'll be able to assist you further!"
	assert.Equal(t, want, req.Message)
	assert.Equal(t, []domain.HelpButton{
		{Text: "Provide salary", Value: "salary"},
		{Text: "Provide employer_address", Value: "employer_address"},
	}, req.Buttons)
	assert.Equal(t, "/employees", req.OperationHint)
}

func TestClarifyWithoutHintUsesGlobalExamples(t *testing.T) {
	req := New(catalog.Default()).Clarify(domain.MissingParameters{Missing: []string{"new_salary", "mystery"}})
	assert.Contains(t, req.Message, "- **new_salary**: e.g., 6000 (in USD)\n")
	assert.Contains(t, req.Message, "- **mystery**: "+catalog.DefaultExample+"\n")

	pr := ParameterRequest(req)
	assert.Equal(t, domain.UnknownRouteHint, pr.APIRouteHint)
	assert.Equal(t, []string{"new_salary", "mystery"}, pr.MissingParameters)
}

func TestButtonsRoundTripMissingList(t *testing.T) {
	n := New(catalog.Default())
	for _, op := range catalog.Default().Operations() {
		names := op.ParamNames()
		req := n.Clarify(domain.MissingParameters{OperationHint: op.ID, Missing: names})
		require.Len(t, req.Buttons, len(names), op.ID)
		assert.Equal(t, names, missingFromButtons(req.Buttons), op.ID)
		assert.Equal(t, len(names), strings.Count(req.Message, "- **"), op.ID)
	}
}

func TestClarifyRestoresDeclarationOrder(t *testing.T) {
	req := New(catalog.Default()).Clarify(domain.MissingParameters{
		OperationHint: "/employees",
		Missing:       []string{"contract_index", "salary", "name"},
	})
	assert.Equal(t, []string{"name", "salary", "contract_index"}, req.Missing)
	assert.Equal(t, []domain.HelpButton{
		{Text: "Provide name", Value: "name"},
		{Text: "Provide salary", Value: "salary"},
		{Text: "Provide contract_index", Value: "contract_index"},
	}, req.Buttons)
	assert.Less(t, strings.Index(req.Message, "**name**"), strings.Index(req.Message, "**contract_index**"))
}

func missingFromButtons(buttons []domain.HelpButton) []string {
	out := make([]string, 0, len(buttons))
	for _, b := range buttons {
		out = append(out, strings.TrimPrefix(b.Text, buttonPrefix))
	}
	return out
}

func TestClarifyDoesNotAliasInput(t *testing.T) {
	missing := []string{"amount"}
	req := New(catalog.Default()).Clarify(domain.MissingParameters{Missing: missing})
	missing[0] = "changed"
	assert.Equal(t, []string{"amount"}, req.Missing)
}
