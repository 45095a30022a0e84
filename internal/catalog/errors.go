package catalog

import (
	"fmt"

	"queryengine/internal/scalars"
)

// InvalidOperatorError reports an operator that is not legal for a field's kind.
type InvalidOperatorError struct {
	Kind     scalars.Kind
	Operator Operator
}

func (e *InvalidOperatorError) Error() string {
	return fmt.Sprintf("%q field type does not contain the %q filter operator", e.Kind.String(), e.Operator.Key())
}

// UnimplementedOperatorError reports an operator that is listed for a kind but
// has no implementation for the requested stage. It is a coverage gap in the
// catalog, not a user mistake.
type UnimplementedOperatorError struct {
	Kind     scalars.Kind
	Operator Operator
	Stage    string
}

func (e *UnimplementedOperatorError) Error() string {
	return fmt.Sprintf("filter operator %q on %q fields has no %s implementation", e.Operator.Key(), e.Kind.String(), e.Stage)
}
