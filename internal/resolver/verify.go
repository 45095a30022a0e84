package resolver

import (
	"context"
	"fmt"
	"strings"

	"queryengine/internal/planner"
)

// Mismatch is a row the plan's filter rejects.
type Mismatch struct {
	Index int         `json:"index"`
	Key   interface{} `json:"key,omitempty"`
	Err   string      `json:"error,omitempty"`
}

// MismatchError lists the rows that failed verification.
type MismatchError struct {
	Collection string
	Mismatches []Mismatch
}

func (e *MismatchError) Error() string {
	parts := make([]string, 0, len(e.Mismatches))
	for _, m := range e.Mismatches {
		part := fmt.Sprintf("#%d", m.Index)
		if m.Key != nil {
			part += fmt.Sprintf(" (%v)", m.Key)
		}
		if m.Err != "" {
			part += ": " + m.Err
		}
		parts = append(parts, part)
	}
	return fmt.Sprintf("%d %s rows do not match the filter: %s", len(e.Mismatches), e.Collection, strings.Join(parts, ", "))
}

// VerifyRows checks every row against plan's filter. Rows come in the same
// shape Project expects. A nil error means every row matched.
func VerifyRows(ctx context.Context, plan *planner.Plan, rows []map[string]interface{}, opts ...planner.EvalOption) error {
	if plan == nil {
		return fmt.Errorf("plan is required")
	}
	span := startRowSpan(ctx, "resolver.verify", plan, len(rows))

	var mismatches []Mismatch
	for i, row := range rows {
		ok, err := planner.Evaluate(plan.Filter, row, opts...)
		if err == nil && ok {
			continue
		}
		m := Mismatch{Index: i, Key: convertValue(row[plan.PrimaryKey])}
		if err != nil {
			m.Err = err.Error()
		}
		mismatches = append(mismatches, m)
	}

	if len(mismatches) == 0 {
		endRowSpan(span, nil)
		return nil
	}
	err := &MismatchError{Collection: plan.Collection, Mismatches: mismatches}
	endRowSpan(span, err)
	return err
}
