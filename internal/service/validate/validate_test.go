package validate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rikapay/apps/gateway/internal/catalog"
	"rikapay/apps/gateway/internal/domain"
)

type stubRepairer struct {
	calls int
	reply string
	err   error
}

func (r *stubRepairer) Repair(_ context.Context, _ string, _ *catalog.Catalog) (domain.RawDecision, error) {
	r.calls++
	return domain.RawDecision{Text: r.reply}, r.err
}

func validate(t *testing.T, repairer *stubRepairer, text string) domain.Decision {
	t.Helper()
	v := NewValidator(catalog.Default(), nil)
	if repairer != nil {
		v = NewValidator(catalog.Default(), repairer)
	}
	return v.Validate(context.Background(), domain.RawDecision{Text: text})
}

func TestValidateResolvedOperation(t *testing.T) {
	got := validate(t, nil, `{"api_route":"/balance","parameters":{"employer_address":"0x123","contract_index":0},"error":null}`)
	assert.Equal(t, domain.Resolved{
		OperationID: "/balance",
		Parameters: map[string]domain.Value{
			"employer_address": domain.AddressValue("0x123"),
			"contract_index":   domain.IntegerValue(0),
		},
	}, got)
}

func TestValidateAcceptsFencedOutputWithoutRepair(t *testing.T) {
	repairer := &stubRepairer{}
	text := "Sure, here it is:\n```json\n{\"api_route\": \"balance\", \"parameters\": {\"employer_address\": \"0x1\", \"contract_index\": \"3\",},}\n```"
	got := validate(t, repairer, text)

	resolved, ok := got.(domain.Resolved)
	require.True(t, ok, "got %#v", got)
	assert.Equal(t, "/balance", resolved.OperationID)
	assert.Equal(t, domain.IntegerValue(3), resolved.Parameters["contract_index"])
	assert.Zero(t, repairer.calls)
}

func TestValidateRepairsMalformedOutputOnce(t *testing.T) {
	repairer := &stubRepairer{reply: `{"api_route":"/payroll-contracts","parameters":{"employer_address":"0xabc"},"error":null}`}
	got := validate(t, repairer, "api_route is /payroll-contracts for 0xabc")

	assert.Equal(t, 1, repairer.calls)
	assert.Equal(t, domain.Resolved{
		OperationID: "/payroll-contracts",
		Parameters:  map[string]domain.Value{"employer_address": domain.AddressValue("0xabc")},
	}, got)
}

func TestValidateFailedRepairIsUnclear(t *testing.T) {
	repairer := &stubRepairer{reply: "still not json"}
	assert.Equal(t, domain.Unclear{}, validate(t, repairer, "nope"))
	assert.Equal(t, 1, repairer.calls)

	broken := &stubRepairer{err: errors.New("backend down")}
	assert.Equal(t, domain.Unclear{}, validate(t, broken, "nope"))
	assert.Equal(t, 1, broken.calls)

	assert.Equal(t, domain.Unclear{}, validate(t, nil, "nope"))
}

func TestValidateRejectsWrongFieldTypes(t *testing.T) {
	assert.Equal(t, domain.Unclear{}, validate(t, nil, `{"api_route":42,"parameters":{},"error":null}`))
	assert.Equal(t, domain.Unclear{}, validate(t, nil, `{"api_route":"/balance","parameters":[1,2],"error":null}`))
	assert.Equal(t, domain.Unclear{}, validate(t, nil, `{"parameters":{}}`))
}

func TestValidateUnknownRouteIsUnclear(t *testing.T) {
	got := validate(t, nil, `{"api_route":"/transfer","parameters":{"amount":5},"error":null}`)
	assert.Equal(t, domain.Unclear{}, got)
}

func TestValidateUnclearErrorWithRouteIsUnclear(t *testing.T) {
	got := validate(t, nil, `{"api_route":"/balance","parameters":{},"error":"Could not understand your intent."}`)
	assert.Equal(t, domain.Unclear{}, got)
}

func TestValidateDropsUndeclaredParameters(t *testing.T) {
	got := validate(t, nil, `{"api_route":"/payroll-contracts","parameters":{"employer_address":"0x1","salary":900,"nonsense":"x"},"error":null}`)
	assert.Equal(t, domain.Resolved{
		OperationID: "/payroll-contracts",
		Parameters:  map[string]domain.Value{"employer_address": domain.AddressValue("0x1")},
	}, got)
}

func TestValidateInvalidKindCountsAsMissing(t *testing.T) {
	got := validate(t, nil, `{"api_route":"/funds","parameters":{"amount":"lots","employer_address":" ","contract_index":1},"error":null}`)
	assert.Equal(t, domain.MissingParameters{
		OperationHint: "/funds",
		Missing:       []string{"amount", "employer_address"},
	}, got)
}

func TestValidateKeepsAddressesOpaque(t *testing.T) {
	got := validate(t, nil, `{"api_route":"/balance","parameters":{"employer_address":"acme.eth","contract_index":0},"error":null}`)
	assert.Equal(t, domain.Resolved{
		OperationID: "/balance",
		Parameters: map[string]domain.Value{
			"employer_address": domain.AddressValue("acme.eth"),
			"contract_index":   domain.IntegerValue(0),
		},
	}, got)
}

func TestValidateUnionsReportedAndAbsentParameters(t *testing.T) {
	got := validate(t, nil, `{"api_route":"/employees","parameters":{"name":"John","salary":5000},"error":"Missing parameters: salary"}`)
	assert.Equal(t, domain.MissingParameters{
		OperationHint: "/employees",
		Missing:       []string{"employee_address", "salary", "employer_address", "contract_index"},
	}, got)
}

func TestValidateBestEffortMissingWithoutRoute(t *testing.T) {
	got := validate(t, nil, `{"api_route":null,"parameters":{},"error":"Missing parameters: contract_index, bogus, amount, amount"}`)
	assert.Equal(t, domain.MissingParameters{Missing: []string{"contract_index", "amount"}}, got)

	got = validate(t, nil, `{"api_route":"/transfer","parameters":{},"error":"Missing parameters: salary"}`)
	assert.Equal(t, domain.MissingParameters{Missing: []string{"salary"}}, got)
}

func TestValidateBestEffortWithOnlyUnknownNamesIsUnclear(t *testing.T) {
	got := validate(t, nil, `{"api_route":null,"parameters":{},"error":"Missing parameters: favourite_colour"}`)
	assert.Equal(t, domain.Unclear{}, got)
}

func TestExtractObjectSkipsBracesInsideStrings(t *testing.T) {
	obj, ok := extractObject(`note {not json} then {"api_route":"/balance","error":"a } b"} trailing`)
	require.True(t, ok)
	assert.Equal(t, `{"api_route":"/balance","error":"a } b"}`, obj)

	_, ok = extractObject("")
	assert.False(t, ok)
}
