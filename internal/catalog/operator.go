package catalog

import (
	"strings"

	"queryengine/internal/scalars"
)

// Operator is a filter operator name without its leading underscore.
type Operator string

const (
	Eq           Operator = "eq"
	Neq          Operator = "neq"
	Lt           Operator = "lt"
	Lte          Operator = "lte"
	Gt           Operator = "gt"
	Gte          Operator = "gte"
	In           Operator = "in"
	Nin          Operator = "nin"
	Between      Operator = "between"
	Nbetween     Operator = "nbetween"
	Null         Operator = "null"
	Nnull        Operator = "nnull"
	Empty        Operator = "empty"
	Nempty       Operator = "nempty"
	Contains     Operator = "contains"
	Ncontains    Operator = "ncontains"
	Icontains    Operator = "icontains"
	Nicontains   Operator = "nicontains"
	StartsWith   Operator = "starts_with"
	NstartsWith  Operator = "nstarts_with"
	IstartsWith  Operator = "istarts_with"
	NistartsWith Operator = "nistarts_with"
	EndsWith     Operator = "ends_with"
	NendsWith    Operator = "nends_with"
	IendsWith    Operator = "iends_with"
	NiendsWith   Operator = "niends_with"
	Ieq          Operator = "ieq"
	Nieq         Operator = "nieq"
	Regex        Operator = "regex"
)

// Key returns the operator as it appears in a filter object, e.g. "_eq".
func (o Operator) Key() string {
	return "_" + string(o)
}

// ParseOperator reads a filter key such as "_eq". Keys without the leading
// underscore are not operators.
func ParseOperator(key string) (Operator, bool) {
	if !strings.HasPrefix(key, "_") || len(key) < 2 {
		return "", false
	}
	op := Operator(key[1:])
	if _, known := knownOperators[op]; !known {
		return "", false
	}
	return op, true
}

// IsKnown reports whether the name is an operator of any kind.
func IsKnown(op Operator) bool {
	_, ok := knownOperators[op]
	return ok
}

var knownOperators = map[Operator]struct{}{}

func init() {
	for _, ops := range operatorLists {
		for _, op := range ops {
			knownOperators[op] = struct{}{}
		}
	}
}

var (
	numberOperators = []Operator{Eq, Neq, Lt, Lte, Gt, Gte, Between, Nbetween, Null, Nnull, In, Nin}
	dateOperators   = []Operator{Eq, Neq, Null, Nnull, Lt, Lte, Gt, Gte, Between, Nbetween, In, Nin}
	textOperators   = []Operator{
		Contains, Ncontains, Icontains, Nicontains,
		StartsWith, NstartsWith, IstartsWith, NistartsWith,
		EndsWith, NendsWith, IendsWith, NiendsWith,
		Eq, Neq, Ieq, Nieq, Empty, Nempty, Null, Nnull, In, Nin, Regex,
	}
	keyOperators = []Operator{Eq, Neq, Null, Nnull, In, Nin}
)

// operatorLists is the legal operator set of every kind.
var operatorLists = map[scalars.Kind][]Operator{
	scalars.Boolean:    {Eq, Neq, Null, Nnull},
	scalars.Integer:    numberOperators,
	scalars.BigInteger: numberOperators,
	scalars.Decimal:    numberOperators,
	scalars.Float:      numberOperators,
	scalars.Date:       dateOperators,
	scalars.Time:       dateOperators,
	scalars.DateTime:   dateOperators,
	scalars.Timestamp:  dateOperators,
	scalars.String:     textOperators,
	scalars.Text:       textOperators,
	scalars.CSV:        textOperators,
	scalars.JSON:       textOperators,
	scalars.Hash:       textOperators,
	scalars.UUID:       keyOperators,
	scalars.Alias:      keyOperators,
}
