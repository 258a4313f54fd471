package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"rikapay/apps/gateway/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Catalog is the closed, immutable set of operations the agent may call.
type Catalog struct {
	version    int
	operations []OperationSpec
	byID       map[string]int
	paramOrder []string
	examples   map[string]string
}

// Default returns the embedded catalog. It panics only if the embedded file is broken.
func Default() *Catalog {
	c, err := Parse(defaultCatalogYAML)
	if err != nil {
		panic(err)
	}
	return c
}

func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

func Parse(content []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if len(doc.Operations) == 0 {
		return nil, fmt.Errorf("%w: empty operation list", ErrInvalidCatalog)
	}

	c := &Catalog{
		version:    doc.Version,
		operations: make([]OperationSpec, 0, len(doc.Operations)),
		byID:       make(map[string]int, len(doc.Operations)),
		examples:   map[string]string{},
	}
	seenParam := map[string]bool{}
	for _, item := range doc.Operations {
		op, err := normalizeOperation(item)
		if err != nil {
			return nil, err
		}
		if _, exists := c.byID[op.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate operation %q", ErrInvalidCatalog, op.ID)
		}
		c.byID[op.ID] = len(c.operations)
		c.operations = append(c.operations, op)

		for _, p := range op.Params {
			if !seenParam[p.Name] {
				seenParam[p.Name] = true
				c.paramOrder = append(c.paramOrder, p.Name)
			}
			if _, ok := c.examples[p.Name]; !ok && p.Example != "" {
				c.examples[p.Name] = p.Example
			}
		}
	}
	return c, nil
}

func normalizeOperation(op OperationSpec) (OperationSpec, error) {
	op.ID = NormalizeOperationID(op.ID)
	if op.ID == "" {
		return OperationSpec{}, fmt.Errorf("%w: operation id is required", ErrInvalidCatalog)
	}
	switch Method(strings.ToLower(strings.TrimSpace(string(op.Method)))) {
	case MethodMutating:
		op.Method = MethodMutating
	case MethodReadOnly, "read-only", "readonly":
		op.Method = MethodReadOnly
	default:
		return OperationSpec{}, fmt.Errorf("%w: unknown method %q for %q", ErrInvalidCatalog, op.Method, op.ID)
	}
	op.Summary = strings.TrimSpace(op.Summary)

	params := make([]ParameterSpec, 0, len(op.Params))
	names := map[string]bool{}
	for _, p := range op.Params {
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return OperationSpec{}, fmt.Errorf("%w: parameter name is required for %q", ErrInvalidCatalog, op.ID)
		}
		if names[p.Name] {
			return OperationSpec{}, fmt.Errorf("%w: duplicate parameter %q in %q", ErrInvalidCatalog, p.Name, op.ID)
		}
		names[p.Name] = true
		if p.Kind == "" {
			p.Kind = domain.KindText
		}
		if !p.Kind.Valid() {
			return OperationSpec{}, fmt.Errorf("%w: unknown kind %q for %s.%s", ErrInvalidCatalog, p.Kind, op.ID, p.Name)
		}
		if p.Kind == domain.KindEnum && len(p.Enum) == 0 {
			return OperationSpec{}, fmt.Errorf("%w: enum parameter %s.%s has no options", ErrInvalidCatalog, op.ID, p.Name)
		}
		p.Example = strings.TrimSpace(p.Example)
		params = append(params, p)
	}
	op.Params = params
	return op, nil
}

// NormalizeOperationID trims whitespace and guarantees a leading slash.
func NormalizeOperationID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" {
		return ""
	}
	if !strings.HasPrefix(id, "/") {
		id = "/" + id
	}
	return id
}

func (c *Catalog) Find(id string) (OperationSpec, bool) {
	if c == nil {
		return OperationSpec{}, false
	}
	idx, ok := c.byID[NormalizeOperationID(id)]
	if !ok {
		return OperationSpec{}, false
	}
	return c.operations[idx], true
}

// Operations returns the operations in declaration order.
func (c *Catalog) Operations() []OperationSpec {
	if c == nil {
		return nil
	}
	out := make([]OperationSpec, len(c.operations))
	copy(out, c.operations)
	return out
}

func (c *Catalog) Version() int {
	if c == nil {
		return 0
	}
	return c.version
}

// KnownParam reports whether any operation declares the parameter.
func (c *Catalog) KnownParam(name string) bool {
	if c == nil {
		return false
	}
	for _, p := range c.paramOrder {
		if p == name {
			return true
		}
	}
	return false
}

// Example returns the example declared by the hinted operation, falling back
// to the first declared example anywhere in the catalog, then DefaultExample.
func (c *Catalog) Example(hint, name string) string {
	if op, ok := c.Find(hint); ok {
		if p, ok := op.Param(name); ok && p.Example != "" {
			return p.Example
		}
	}
	if c != nil {
		if ex, ok := c.examples[name]; ok {
			return ex
		}
	}
	return DefaultExample
}

// OrderParams sorts names into catalog declaration order. When hint names a
// known operation its parameter order is used, otherwise the global first
// appearance order. Unknown names keep their relative order at the end.
func (c *Catalog) OrderParams(hint string, names []string) []string {
	if c == nil {
		return append([]string(nil), names...)
	}
	order := c.paramOrder
	if op, ok := c.Find(hint); ok {
		order = op.ParamNames()
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	out := make([]string, 0, len(names))
	placed := map[string]bool{}
	for _, n := range order {
		if wanted[n] && !placed[n] {
			out = append(out, n)
			placed[n] = true
		}
	}
	for _, n := range names {
		if !placed[n] {
			out = append(out, n)
			placed[n] = true
		}
	}
	return out
}
