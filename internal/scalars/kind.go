// Package scalars defines the closed set of field datatypes understood by the
// engine and the value coercions shared by the operator catalog, the filter
// evaluator and result projection.
package scalars

import "fmt"

// Kind is the scalar datatype of a collection field.
type Kind int

const (
	// Unknown is the zero value and never appears in a built schema.
	Unknown Kind = iota
	Integer
	BigInteger
	Decimal
	Float
	String
	Text
	CSV
	Hash
	Boolean
	Date
	Time
	DateTime
	Timestamp
	JSON
	UUID
	// Alias marks virtual, non-stored fields such as O2M, M2M and M2A relation fields.
	Alias
)

var kindNames = map[Kind]string{
	Integer:    "integer",
	BigInteger: "bigInteger",
	Decimal:    "decimal",
	Float:      "float",
	String:     "string",
	Text:       "text",
	CSV:        "csv",
	Hash:       "hash",
	Boolean:    "boolean",
	Date:       "date",
	Time:       "time",
	DateTime:   "dateTime",
	Timestamp:  "timestamp",
	JSON:       "json",
	UUID:       "uuid",
	Alias:      "alias",
}

// All returns every known kind in declaration order.
func All() []Kind {
	kinds := make([]Kind, 0, len(kindNames))
	for k := Integer; k <= Alias; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// String returns the schema name of the kind, e.g. "dateTime".
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a schema type name to its Kind.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return Unknown, fmt.Errorf("unknown field type %q", name)
}

// IsNumeric reports whether values of the kind compare as numbers.
func (k Kind) IsNumeric() bool {
	switch k {
	case Integer, BigInteger, Decimal, Float:
		return true
	default:
		return false
	}
}

// IsDateLike reports whether values of the kind go through datetime normalization.
func (k Kind) IsDateLike() bool {
	switch k {
	case Date, Time, DateTime, Timestamp:
		return true
	default:
		return false
	}
}

// IsStringLike reports whether values of the kind compare as text.
func (k Kind) IsStringLike() bool {
	switch k {
	case String, Text, CSV, Hash, JSON:
		return true
	default:
		return false
	}
}
