package planner

import (
	"encoding/json"
	"fmt"
	"sort"

	"queryengine/internal/scalars"
	"queryengine/internal/schema"
)

// AggregateFunc is an aggregate computed over the filtered rows.
type AggregateFunc string

const (
	AggCount         AggregateFunc = "count"
	AggCountDistinct AggregateFunc = "countDistinct"
	AggCountAll      AggregateFunc = "countAll"
	AggSum           AggregateFunc = "sum"
	AggSumDistinct   AggregateFunc = "sumDistinct"
	AggAvg           AggregateFunc = "avg"
	AggAvgDistinct   AggregateFunc = "avgDistinct"
	AggMin           AggregateFunc = "min"
	AggMax           AggregateFunc = "max"
)

// AggregateValueType indicates how an aggregate result should be read.
type AggregateValueType int

const (
	// AggregateInt is for the count family.
	AggregateInt AggregateValueType = iota
	// AggregateFloat is for sum and avg.
	AggregateFloat
	// AggregateAny is for min and max, which keep the field's kind.
	AggregateAny
)

// Aggregation is one aggregate column. Field is empty for count(*) and countAll.
type Aggregation struct {
	Function  AggregateFunc
	Field     string
	Kind      scalars.Kind
	ValueType AggregateValueType
}

// ResultKey is where the value lands in a result row: {"count": 3} for a
// whole-row count, {"sum": {"calories": 1200}} otherwise.
func (a Aggregation) ResultKey() (outer, inner string) {
	return string(a.Function), a.Field
}

func (a Aggregation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Function string `json:"function"`
		Field    string `json:"field,omitempty"`
		Kind     string `json:"kind,omitempty"`
	}{string(a.Function), a.Field, kindName(a.Kind)})
}

// GroupKey is one groupBy column: a stored field or a date function of one.
type GroupKey struct {
	Key      string       `json:"key"`
	Field    string       `json:"field"`
	Function Function     `json:"function,omitempty"`
	Kind     scalars.Kind `json:"-"`
}

func kindName(k scalars.Kind) string {
	if k == scalars.Unknown {
		return ""
	}
	return k.String()
}

// ParseAggregate resolves {"sum": ["calories"], "count": ["*"]} against a
// collection. Aggregates apply to the collection's own stored fields.
func ParseAggregate(coll *schema.Collection, aggregate map[string][]string) ([]Aggregation, error) {
	funcs := make([]string, 0, len(aggregate))
	for fn := range aggregate {
		funcs = append(funcs, fn)
	}
	sort.Strings(funcs)

	var out []Aggregation
	for _, name := range funcs {
		fn := AggregateFunc(name)
		valueType, known := aggregateTypes[fn]
		if !known {
			return nil, invalidQuery("unknown aggregate function %q", name)
		}
		for _, fieldName := range aggregate[name] {
			agg := Aggregation{Function: fn, ValueType: valueType}
			if fieldName == "*" {
				if fn != AggCount && fn != AggCountAll {
					return nil, invalidQuery("%s cannot aggregate \"*\"", name)
				}
				out = append(out, agg)
				continue
			}
			if fn == AggCountAll {
				return nil, invalidQuery("countAll does not take a field")
			}
			field, ok := coll.Field(fieldName)
			if !ok || !field.IsStored() {
				return nil, &SchemaResolutionError{
					Collection: coll.Name,
					Path:       fieldName,
					Err:        &schema.NotFoundError{Collection: coll.Name, Field: fieldName, What: "field"},
				}
			}
			if !aggregateAccepts(fn, field.Kind) {
				return nil, invalidQuery("%s cannot be applied to %q of type %q", name, field.Name, field.Kind.String())
			}
			agg.Field = field.Name
			agg.Kind = field.Kind
			out = append(out, agg)
		}
	}
	return out, nil
}

var aggregateTypes = map[AggregateFunc]AggregateValueType{
	AggCount:         AggregateInt,
	AggCountDistinct: AggregateInt,
	AggCountAll:      AggregateInt,
	AggSum:           AggregateFloat,
	AggSumDistinct:   AggregateFloat,
	AggAvg:           AggregateFloat,
	AggAvgDistinct:   AggregateFloat,
	AggMin:           AggregateAny,
	AggMax:           AggregateAny,
}

func aggregateAccepts(fn AggregateFunc, kind scalars.Kind) bool {
	switch fn {
	case AggSum, AggSumDistinct, AggAvg, AggAvgDistinct:
		return kind.IsNumeric()
	case AggMin, AggMax:
		return kind.IsNumeric() || kind.IsDateLike()
	default:
		return true
	}
}

// ParseGroupBy resolves groupBy entries: "category_id" or "year(created_at)".
func ParseGroupBy(coll *schema.Collection, groupBy []string) ([]GroupKey, error) {
	out := make([]GroupKey, 0, len(groupBy))
	for _, item := range groupBy {
		c, isCall, err := parseCall(item)
		if err != nil {
			return nil, &InvalidFieldExpressionError{Expression: item, Reason: err.Error()}
		}
		name := item
		key := GroupKey{Key: item}
		if isCall {
			fn := Function(c.Name)
			accepts, known := functionAccepts[fn]
			if !known || fn == FuncCount || len(c.Args) != 1 {
				return nil, &InvalidFieldExpressionError{Expression: item, Reason: "groupBy accepts fields and date functions"}
			}
			name = c.Args[0]
			field, ok := coll.Field(name)
			if !ok {
				return nil, &SchemaResolutionError{
					Collection: coll.Name,
					Path:       item,
					Err:        &schema.NotFoundError{Collection: coll.Name, Field: name, What: "field"},
				}
			}
			if !accepts(field.Kind) {
				return nil, &InvalidFieldExpressionError{
					Expression: item,
					Reason:     fmt.Sprintf("%s() cannot be applied to %q of type %q", fn, field.Name, field.Kind.String()),
				}
			}
			key.Field, key.Function, key.Kind = field.Name, fn, scalars.Integer
			out = append(out, key)
			continue
		}
		field, ok := coll.Field(name)
		if !ok || !field.IsStored() {
			return nil, &SchemaResolutionError{
				Collection: coll.Name,
				Path:       item,
				Err:        &schema.NotFoundError{Collection: coll.Name, Field: name, What: "field"},
			}
		}
		key.Field, key.Kind = field.Name, field.Kind
		out = append(out, key)
	}
	return out, nil
}
