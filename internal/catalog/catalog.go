// Package catalog holds the scalar type operator catalog: for every field kind
// the legal filter operators and, per operator, how to construct a filter from
// known values, how to decide whether a value matches it, and when an empty
// result is an expected outcome.
package catalog

import (
	"queryengine/internal/scalars"
)

// ValidatorFunc reports whether a row value matches the operator's operand.
type ValidatorFunc func(input, expected interface{}) bool

// EmptyAllowedFunc reports whether a filter built from expected may legitimately
// select no rows out of the given population.
type EmptyAllowedFunc func(expected interface{}, possibleValues []interface{}) bool

// GenerateFunc derives the operands to exercise from a population of known values.
type GenerateFunc func(possibleValues []interface{}) []interface{}

// Entry is the implementation of one operator for one kind. Generate is nil
// for operators that can be matched but not generated.
type Entry struct {
	Generate     GenerateFunc
	Validate     ValidatorFunc
	EmptyAllowed EmptyAllowedFunc
}

// GeneratedFilter is a canonical filter built from known values together with
// the predicates that verify rows selected by it.
type GeneratedFilter struct {
	Operator     Operator               `json:"operator"`
	Value        interface{}            `json:"value"`
	Filter       map[string]interface{} `json:"filter"`
	Validate     ValidatorFunc          `json:"-"`
	EmptyAllowed EmptyAllowedFunc       `json:"-"`
}

// OperatorTable lists the operators of one kind in catalog order.
type OperatorTable struct {
	Kind      scalars.Kind
	operators []Operator
	entries   map[Operator]Entry
}

// Operators returns the legal operators of the table's kind.
func (t *OperatorTable) Operators() []Operator {
	out := make([]Operator, len(t.operators))
	copy(out, t.operators)
	return out
}

// Entry returns the implementation of op, if op is legal for the kind.
func (t *OperatorTable) Entry(op Operator) (Entry, bool) {
	e, ok := t.entries[op]
	return e, ok
}

// Catalog maps every kind to its operator table. It is immutable once built
// and safe for concurrent use.
type Catalog struct {
	tables map[scalars.Kind]*OperatorTable
}

var builtin = New()

// Default returns the shared catalog.
func Default() *Catalog {
	return builtin
}

// New builds the catalog.
func New() *Catalog {
	c := &Catalog{tables: make(map[scalars.Kind]*OperatorTable, len(operatorLists))}
	for kind, ops := range operatorLists {
		table := &OperatorTable{
			Kind:      kind,
			operators: ops,
			entries:   make(map[Operator]Entry, len(ops)),
		}
		for _, op := range ops {
			table.entries[op] = newEntry(kind, op)
		}
		c.tables[kind] = table
	}
	return c
}

// Table returns the operator table of a kind.
func (c *Catalog) Table(kind scalars.Kind) (*OperatorTable, bool) {
	t, ok := c.tables[kind]
	return t, ok
}

// Operators returns the legal operators of a kind, or nil for unknown kinds.
func (c *Catalog) Operators(kind scalars.Kind) []Operator {
	t, ok := c.tables[kind]
	if !ok {
		return nil
	}
	return t.Operators()
}

// Lookup returns the implementation of op for kind.
func (c *Catalog) Lookup(kind scalars.Kind, op Operator) (Entry, error) {
	t, ok := c.tables[kind]
	if !ok {
		return Entry{}, &InvalidOperatorError{Kind: kind, Operator: op}
	}
	e, ok := t.Entry(op)
	if !ok {
		return Entry{}, &InvalidOperatorError{Kind: kind, Operator: op}
	}
	return e, nil
}

// GenerateFilter builds the canonical filters exercising op from one value or a
// slice of values. Range and membership operators sample the population
// deterministically: between takes [min, middle] of the sorted values, in and
// nin take the first half in input order.
func (c *Catalog) GenerateFilter(kind scalars.Kind, op Operator, possibleValues interface{}) ([]GeneratedFilter, error) {
	e, err := c.Lookup(kind, op)
	if err != nil {
		return nil, err
	}
	if e.Generate == nil {
		return nil, &UnimplementedOperatorError{Kind: kind, Operator: op, Stage: "generator"}
	}

	population := populationOf(possibleValues)
	operands := e.Generate(population)
	filters := make([]GeneratedFilter, 0, len(operands))
	for _, operand := range operands {
		filters = append(filters, GeneratedFilter{
			Operator:     op,
			Value:        operand,
			Filter:       map[string]interface{}{op.Key(): operand},
			Validate:     e.Validate,
			EmptyAllowed: e.EmptyAllowed,
		})
	}
	return filters, nil
}

// Match decides whether a row value satisfies op with the given operand.
func (c *Catalog) Match(kind scalars.Kind, op Operator, input, operand interface{}) (bool, error) {
	e, err := c.Lookup(kind, op)
	if err != nil {
		return false, err
	}
	if e.Validate == nil {
		return false, &UnimplementedOperatorError{Kind: kind, Operator: op, Stage: "match"}
	}
	return e.Validate(input, operand), nil
}

func populationOf(possibleValues interface{}) []interface{} {
	switch v := possibleValues.(type) {
	case nil:
		return nil
	case []interface{}:
		return v
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	default:
		return []interface{}{v}
	}
}
