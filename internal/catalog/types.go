package catalog

import (
	"errors"

	"rikapay/apps/gateway/internal/domain"
)

type Method string

const (
	MethodMutating Method = "mutating"
	MethodReadOnly Method = "read_only"

	DefaultExample = "a valid value"
)

var ErrInvalidCatalog = errors.New("invalid operation catalog")
var ErrInvalidValue = errors.New("invalid parameter value")

type EnumOption struct {
	Value int64  `yaml:"value" json:"value"`
	Label string `yaml:"label" json:"label"`
}

type ParameterSpec struct {
	Name    string           `yaml:"name" json:"name"`
	Kind    domain.ParamKind `yaml:"kind" json:"kind"`
	Example string           `yaml:"example" json:"example"`
	Enum    []EnumOption     `yaml:"enum,omitempty" json:"enum,omitempty"`
}

type OperationSpec struct {
	ID      string          `yaml:"id" json:"id"`
	Method  Method          `yaml:"method" json:"method"`
	Summary string          `yaml:"summary" json:"summary"`
	Params  []ParameterSpec `yaml:"params" json:"params"`
}

// Param looks up a declared parameter by name.
func (op OperationSpec) Param(name string) (ParameterSpec, bool) {
	for _, p := range op.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

func (op OperationSpec) ParamNames() []string {
	out := make([]string, 0, len(op.Params))
	for _, p := range op.Params {
		out = append(out, p.Name)
	}
	return out
}

func (op OperationSpec) Mutating() bool {
	return op.Method == MethodMutating
}

type document struct {
	Version    int             `yaml:"version"`
	Operations []OperationSpec `yaml:"operations"`
}
