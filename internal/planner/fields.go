package planner

import (
	"encoding/json"

	"queryengine/internal/jsonpath"
	"queryengine/internal/scalars"
	"queryengine/internal/schema"
)

// FieldNode is one node of a resolved field tree. The concrete types are
// *PlainField, *WildcardField, *RelationalField, *FunctionField and *JSONField.
type FieldNode interface {
	// OutputKey is the key the node's value is written under in a result row.
	OutputKey() string
	fieldNode()
}

// PlainField selects a stored field, possibly under an alias.
type PlainField struct {
	Key   string
	Field string
	Kind  scalars.Kind
}

// WildcardField selects every stored field of the collection it appears in.
// Fields selected by a sibling relational node are left out.
type WildcardField struct {
	Collection string
	Depth      int
	Fields     []string
}

// RelationalField descends into a related collection. To-one relations and
// to-many relations carry Children; polymorphic item pointers carry one Arm
// per collection instead.
type RelationalField struct {
	Key        string
	Field      string
	Kind       schema.RelationKind
	Collection string
	PrimaryKey string
	// Depth is the number of hops taken to reach the children.
	Depth int
	// KeysOnly marks a to-many alias selected without sub-fields; only the
	// related primary keys are returned.
	KeysOnly bool
	Children []FieldNode
	// Arms holds the per-collection selections of a polymorphic pointer.
	Arms map[string]*Arm
	// Scoped is true when the arms were named explicitly with field:collection.
	// Rows pointing at any other collection project to {__typename: <collection>}.
	Scoped        bool
	Discriminator string
	Deep          *DeepClause
}

// Arm is the selection for one target collection of a polymorphic pointer.
type Arm struct {
	Collection string
	PrimaryKey string
	Children   []FieldNode
	Deep       *DeepClause
}

// Function is a field function usable in fields, filters, sort and groupBy.
type Function string

const (
	FuncYear    Function = "year"
	FuncMonth   Function = "month"
	FuncWeek    Function = "week"
	FuncDay     Function = "day"
	FuncWeekday Function = "weekday"
	FuncHour    Function = "hour"
	FuncMinute  Function = "minute"
	FuncSecond  Function = "second"
	FuncCount   Function = "count"
)

// FunctionField selects a derived value such as year(created_at) or count(children).
type FunctionField struct {
	Key      string
	Function Function
	Field    string
	ArgKind  scalars.Kind
	// RelationKind and RelatedCollection are set when count() aggregates a
	// to-many relation.
	RelationKind      schema.RelationKind
	RelatedCollection string
}

// JSONField extracts a value from a json field. A missing path yields null.
type JSONField struct {
	Key   string
	Field string
	Path  jsonpath.Path
}

func (f *PlainField) OutputKey() string      { return f.Key }
func (f *WildcardField) OutputKey() string   { return "*" }
func (f *RelationalField) OutputKey() string { return f.Key }
func (f *FunctionField) OutputKey() string   { return f.Key }
func (f *JSONField) OutputKey() string       { return f.Key }

func (*PlainField) fieldNode()      {}
func (*WildcardField) fieldNode()   {}
func (*RelationalField) fieldNode() {}
func (*FunctionField) fieldNode()   {}
func (*JSONField) fieldNode()       {}

// IsPolymorphic reports whether the node selects through an item pointer.
func (f *RelationalField) IsPolymorphic() bool {
	return f.Kind == schema.AnyToOne
}

func (f *PlainField) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Key   string `json:"key"`
		Field string `json:"field"`
		Kind  string `json:"kind"`
	}{"field", f.Key, f.Field, f.Kind.String()})
}

func (f *WildcardField) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       string   `json:"type"`
		Collection string   `json:"collection"`
		Depth      int      `json:"depth"`
		Fields     []string `json:"fields"`
	}{"wildcard", f.Collection, f.Depth, f.Fields})
}

func (f *RelationalField) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type          string          `json:"type"`
		Key           string          `json:"key"`
		Field         string          `json:"field"`
		Relation      string          `json:"relation"`
		Collection    string          `json:"collection,omitempty"`
		Depth         int             `json:"depth"`
		KeysOnly      bool            `json:"keysOnly,omitempty"`
		Children      []FieldNode     `json:"children,omitempty"`
		Arms          map[string]*Arm `json:"arms,omitempty"`
		Scoped        bool            `json:"scoped,omitempty"`
		Discriminator string          `json:"discriminator,omitempty"`
		Deep          *DeepClause     `json:"deep,omitempty"`
	}{"relation", f.Key, f.Field, f.Kind.String(), f.Collection, f.Depth, f.KeysOnly,
		f.Children, f.Arms, f.Scoped, f.Discriminator, f.Deep})
}

func (a *Arm) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Collection string      `json:"collection"`
		Children   []FieldNode `json:"children"`
		Deep       *DeepClause `json:"deep,omitempty"`
	}{a.Collection, a.Children, a.Deep})
}

func (f *FunctionField) MarshalJSON() ([]byte, error) {
	var relation string
	if f.RelationKind != 0 {
		relation = f.RelationKind.String()
	}
	return json.Marshal(struct {
		Type       string `json:"type"`
		Key        string `json:"key"`
		Function   string `json:"function"`
		Field      string `json:"field"`
		Relation   string `json:"relation,omitempty"`
		Collection string `json:"collection,omitempty"`
	}{"function", f.Key, string(f.Function), f.Field, relation, f.RelatedCollection})
}

func (f *JSONField) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Key   string `json:"key"`
		Field string `json:"field"`
		Path  string `json:"path"`
	}{"json", f.Key, f.Field, f.Path.String()})
}

// functionAccepts lists the field kinds each function applies to. count also
// applies to to-many relations, which is checked separately.
var functionAccepts = map[Function]func(scalars.Kind) bool{
	FuncYear:    isDateKind,
	FuncMonth:   isDateKind,
	FuncWeek:    isDateKind,
	FuncDay:     isDateKind,
	FuncWeekday: isDateKind,
	FuncHour:    isClockKind,
	FuncMinute:  isClockKind,
	FuncSecond:  isClockKind,
	FuncCount: func(k scalars.Kind) bool {
		return k == scalars.JSON || k == scalars.CSV
	},
}

func isDateKind(k scalars.Kind) bool {
	return k == scalars.Date || k == scalars.DateTime || k == scalars.Timestamp
}

func isClockKind(k scalars.Kind) bool {
	return k == scalars.Time || k == scalars.DateTime || k == scalars.Timestamp
}
