package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rikapay/apps/gateway/internal/domain"
)

func TestDefaultCatalogDeclaresAllPayrollOperations(t *testing.T) {
	t.Parallel()

	c := Default()
	ids := make([]string, 0)
	for _, op := range c.Operations() {
		ids = append(ids, op.ID)
	}
	assert.Equal(t, []string{
		"/payroll-contracts",
		"/employees",
		"/funds",
		"/schedules",
		"/employees/deactivate",
		"/employees/reactivate",
		"/salaries/update",
		"/payrolls/process",
		"/employees/details",
		"/employees/all",
		"/balance",
		"/liability",
		"/payrolls/next-date",
	}, ids)

	op, ok := c.Find("employees")
	require.True(t, ok)
	assert.Equal(t, []string{"name", "employee_address", "salary", "employer_address", "contract_index"}, op.ParamNames())
	assert.True(t, op.Mutating())

	op, ok = c.Find("/balance")
	require.True(t, ok)
	assert.False(t, op.Mutating())
}

func TestParseRejectsDuplicateOperation(t *testing.T) {
	t.Parallel()

	content := []byte(`
operations:
  - id: /balance
    method: read_only
  - id: balance
    method: read_only
`)
	_, err := Parse(content)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCatalog))
}

func TestParseRejectsDuplicateParameter(t *testing.T) {
	t.Parallel()

	content := []byte(`
operations:
  - id: /funds
    method: mutating
    params:
      - {name: amount, kind: integer}
      - {name: amount, kind: integer}
`)
	_, err := Parse(content)
	require.ErrorIs(t, err, ErrInvalidCatalog)
}

func TestParseRejectsUnknownKindAndMethod(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`
operations:
  - id: /funds
    method: mutating
    params:
      - {name: amount, kind: currency}
`))
	require.ErrorIs(t, err, ErrInvalidCatalog)

	_, err = Parse([]byte(`
operations:
  - id: /funds
    method: delete
`))
	require.ErrorIs(t, err, ErrInvalidCatalog)

	_, err = Parse([]byte(`operations: []`))
	require.ErrorIs(t, err, ErrInvalidCatalog)
}

func TestOrderParamsFollowsDeclarationOrder(t *testing.T) {
	t.Parallel()

	c := Default()
	got := c.OrderParams("/employees", []string{"contract_index", "salary", "employee_address"})
	assert.Equal(t, []string{"employee_address", "salary", "contract_index"}, got)

	got = c.OrderParams("", []string{"new_salary", "employer_address", "name"})
	assert.Equal(t, []string{"employer_address", "name", "new_salary"}, got)
}

func TestExampleFallsBackToPlaceholder(t *testing.T) {
	t.Parallel()

	c := Default()
	assert.Equal(t, "e.g., 'John Doe'", c.Example("/employees", "name"))
	assert.Equal(t, "e.g., 6000 (in USD)", c.Example("", "new_salary"))
	assert.Equal(t, DefaultExample, c.Example("/employees", "favourite_colour"))
}

func TestCoerceByKind(t *testing.T) {
	t.Parallel()

	c := Default()
	schedules, ok := c.Find("/schedules")
	require.True(t, ok)
	interval, _ := schedules.Param("interval")
	start, _ := schedules.Param("start_date")
	employee, _ := schedules.Param("employee_address")

	v, err := Coerce(employee, "0x456")
	require.NoError(t, err)
	assert.Equal(t, domain.AddressValue("0x456"), v)

	v, err = Coerce(employee, " payroll.eth ")
	require.NoError(t, err)
	assert.Equal(t, domain.AddressValue("payroll.eth"), v)

	_, err = Coerce(employee, "  ")
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = Coerce(employee, 42)
	assert.ErrorIs(t, err, ErrInvalidValue)

	v, err = Coerce(start, float64(1672531200))
	require.NoError(t, err)
	assert.Equal(t, domain.TimestampValue(1672531200), v)

	v, err = Coerce(interval, "2")
	require.NoError(t, err)
	assert.Equal(t, domain.EnumValue(2), v)

	_, err = Coerce(interval, 7)
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = Coerce(start, 12.5)
	assert.ErrorIs(t, err, ErrInvalidValue)

	n, ok := EnumByLabel(interval, "Monthly")
	assert.True(t, ok)
	assert.Equal(t, int64(2), n)
}
