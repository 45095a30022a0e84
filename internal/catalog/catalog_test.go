package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryengine/internal/scalars"
)

var samplePopulations = map[scalars.Kind][]interface{}{
	scalars.Integer:    {1, 5, -3, 42},
	scalars.BigInteger: {"9007199254740993", "2", "-7"},
	scalars.Decimal:    {"1.50", "2.25", "-0.75"},
	scalars.Float:      {1.5, 2.25, -3.75},
	scalars.String:     {"Alpha", "beta", "Gamma"},
	scalars.Text:       {"lorem ipsum", "dolor sit amet"},
	scalars.CSV:        {"a,b", "c,d,e"},
	scalars.Hash:       {"$argon2id$v=19$abc", "$argon2id$v=19$def"},
	scalars.JSON:       {`{"a":1}`, `{"b":[1,2]}`},
	scalars.Boolean:    {true, false},
	scalars.Date:       {"2020-01-01", "2021-06-15", "2022-12-31"},
	scalars.Time:       {"08:00:00", "12:30:00", "23:59:59"},
	scalars.DateTime:   {"2020-01-01T00:00:00", "2020-06-01T00:00:00", "2020-12-01T00:00:00"},
	scalars.Timestamp:  {"2020-01-01T00:00:00Z", "2020-06-01T12:00:00+02:00", "2021-03-04T05:06:07.000Z"},
	scalars.UUID:       {"6b2b6bd3-52a9-4c64-9b4c-0f1f3f1c1a01", "0d3b6e7a-8e0c-4f0a-a1a7-7d9f1d6f2b02"},
	scalars.Alias:      {1, 2, 3},
}

func TestEveryKindHasOperators(t *testing.T) {
	c := New()
	for _, kind := range scalars.All() {
		assert.NotEmpty(t, c.Operators(kind), kind.String())
		_, ok := samplePopulations[kind]
		assert.True(t, ok, "missing sample population for %s", kind)
	}
}

func TestGeneratedFiltersRoundTrip(t *testing.T) {
	c := New()
	for _, kind := range scalars.All() {
		population := samplePopulations[kind]
		for _, op := range c.Operators(kind) {
			t.Run(kind.String()+"/"+string(op), func(t *testing.T) {
				filters, err := c.GenerateFilter(kind, op, population)
				if op == Regex {
					var unimplemented *UnimplementedOperatorError
					require.ErrorAs(t, err, &unimplemented)
					return
				}
				require.NoError(t, err)
				require.NotEmpty(t, filters)

				satisfied := false
				for _, f := range filters {
					assert.Equal(t, map[string]interface{}{op.Key(): f.Value}, f.Filter)
					if f.EmptyAllowed(f.Value, population) {
						satisfied = true
						continue
					}
					for _, v := range population {
						if f.Validate(v, f.Value) {
							satisfied = true
						}
					}
				}
				assert.True(t, satisfied, "no generated filter matched the population")
			})
		}
	}
}

func TestBooleanEqScenario(t *testing.T) {
	filters, err := Default().GenerateFilter(scalars.Boolean, Eq, true)
	require.NoError(t, err)
	require.Len(t, filters, 1)

	f := filters[0]
	assert.Equal(t, map[string]interface{}{"_eq": true}, f.Filter)
	assert.True(t, f.Validate(1, true))
	assert.True(t, f.Validate("1", true))
	assert.False(t, f.Validate(0, true))
	assert.True(t, f.Validate("0", false))
	assert.False(t, f.Validate(2, true))
	assert.False(t, f.Validate(2, false))
	assert.False(t, f.EmptyAllowed(true, []interface{}{true}))
}

func TestDateTimeBetweenScenario(t *testing.T) {
	population := []interface{}{"2020-12-01T00:00:00", "2020-01-01T00:00:00", "2020-06-01T00:00:00"}
	filters, err := Default().GenerateFilter(scalars.DateTime, Between, population)
	require.NoError(t, err)
	require.Len(t, filters, 1)

	f := filters[0]
	bounds := []interface{}{"2020-01-01T00:00:00", "2020-06-01T00:00:00"}
	assert.Equal(t, map[string]interface{}{"_between": bounds}, f.Filter)
	assert.True(t, f.Validate("2020-03-01T00:00:00", bounds))
	assert.False(t, f.Validate("2021-01-01T00:00:00", bounds))
}

func TestInSamplesFirstHalf(t *testing.T) {
	filters, err := Default().GenerateFilter(scalars.Integer, In, []interface{}{4, 3, 2, 1})
	require.NoError(t, err)
	require.Len(t, filters, 1)
	assert.Equal(t, []interface{}{4, 3}, filters[0].Value)
}

func TestEmptyAllowedBounds(t *testing.T) {
	population := []interface{}{10, 20, 30}
	lt, err := Default().Lookup(scalars.Integer, Lt)
	require.NoError(t, err)
	assert.True(t, lt.EmptyAllowed(10, population))
	assert.False(t, lt.EmptyAllowed(30, population))

	gt, err := Default().Lookup(scalars.Integer, Gt)
	require.NoError(t, err)
	assert.True(t, gt.EmptyAllowed(30, population))
	assert.False(t, gt.EmptyAllowed(10, population))

	nbetween, err := Default().Lookup(scalars.Integer, Nbetween)
	require.NoError(t, err)
	assert.True(t, nbetween.EmptyAllowed([]interface{}{10, 30}, population))
	assert.False(t, nbetween.EmptyAllowed([]interface{}{10, 20}, population))

	eq, err := Default().Lookup(scalars.Integer, Eq)
	require.NoError(t, err)
	assert.False(t, eq.EmptyAllowed(99, population))
}

func TestDatetimeNormalizationIsStable(t *testing.T) {
	inputs := map[scalars.Kind][2]string{
		scalars.Time:     {"13:45:00", "14:00:00"},
		scalars.Date:     {"2024-03-01", "2024-03-02"},
		scalars.DateTime: {"2024-03-01T10:00:00Z", "2024-03-01T10:00:01Z"},
	}
	c := Default()
	for kind, pair := range inputs {
		t.Run(kind.String(), func(t *testing.T) {
			a, b := pair[0], pair[1]
			eq, err := c.Match(kind, Eq, a, a)
			require.NoError(t, err)
			assert.True(t, eq)

			lt, _ := c.Match(kind, Lt, a, b)
			gt, _ := c.Match(kind, Gt, a, b)
			eqAB, _ := c.Match(kind, Eq, a, b)
			assert.True(t, lt)
			assert.False(t, gt)
			assert.False(t, eqAB)

			ltSelf, _ := c.Match(kind, Lt, a, a)
			assert.False(t, ltSelf)
		})
	}
}

func TestInvalidOperator(t *testing.T) {
	_, err := Default().GenerateFilter(scalars.Boolean, Contains, true)
	var invalid *InvalidOperatorError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, `"boolean" field type does not contain the "_contains" filter operator`, err.Error())

	var unimplemented *UnimplementedOperatorError
	assert.False(t, errors.As(err, &unimplemented))
}

func TestRegexMatchesButDoesNotGenerate(t *testing.T) {
	ok, err := Default().Match(scalars.String, Regex, "order-42", `^order-\d+$`)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = Default().GenerateFilter(scalars.String, Regex, "order-42")
	var unimplemented *UnimplementedOperatorError
	require.ErrorAs(t, err, &unimplemented)
	var invalid *InvalidOperatorError
	assert.False(t, errors.As(err, &invalid))
}

func TestCaseInsensitiveOperators(t *testing.T) {
	c := Default()
	tests := []struct {
		op      Operator
		input   string
		operand string
		want    bool
	}{
		{op: Icontains, input: "Hello World", operand: "WORLD", want: true},
		{op: Contains, input: "Hello World", operand: "WORLD", want: false},
		{op: IstartsWith, input: "Straße", operand: "STRASSE", want: true},
		{op: Ieq, input: "Go", operand: "gO", want: true},
		{op: Nieq, input: "Go", operand: "gO", want: false},
		{op: NiendsWith, input: "report.PDF", operand: ".pdf", want: false},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			got, err := c.Match(scalars.String, tt.op, tt.input, tt.operand)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNullFamily(t *testing.T) {
	c := Default()
	got, _ := c.Match(scalars.Integer, Null, nil, true)
	assert.True(t, got)
	got, _ = c.Match(scalars.Integer, Null, nil, false)
	assert.False(t, got)
	got, _ = c.Match(scalars.String, Empty, "", true)
	assert.True(t, got)
	got, _ = c.Match(scalars.String, Nempty, "", true)
	assert.False(t, got)
	got, _ = c.Match(scalars.String, Neq, nil, "x")
	assert.False(t, got)
}

func TestParseOperator(t *testing.T) {
	op, ok := ParseOperator("_starts_with")
	require.True(t, ok)
	assert.Equal(t, StartsWith, op)

	_, ok = ParseOperator("eq")
	assert.False(t, ok)
	_, ok = ParseOperator("_unknown")
	assert.False(t, ok)
}
