package scalars

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, kind := range All() {
		t.Run(kind.String(), func(t *testing.T) {
			parsed, err := ParseKind(kind.String())
			require.NoError(t, err)
			assert.Equal(t, kind, parsed)
		})
	}

	_, err := ParseKind("geometry")
	require.Error(t, err)
	assert.Len(t, All(), 16)
}

func TestKindCategories(t *testing.T) {
	assert.True(t, BigInteger.IsNumeric())
	assert.False(t, String.IsNumeric())
	assert.True(t, Time.IsDateLike())
	assert.False(t, UUID.IsDateLike())
	assert.True(t, CSV.IsStringLike())
	assert.False(t, Boolean.IsStringLike())
}

func TestToBool(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
		want  bool
		ok    bool
	}{
		{name: "bool true", input: true, want: true, ok: true},
		{name: "int one", input: 1, want: true, ok: true},
		{name: "string one", input: "1", want: true, ok: true},
		{name: "int zero", input: 0, want: false, ok: true},
		{name: "string zero", input: "0", want: false, ok: true},
		{name: "float one", input: 1.0, want: true, ok: true},
		{name: "int two", input: 2, ok: false},
		{name: "word", input: "yes", ok: false},
		{name: "nil", input: nil, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToBool(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestCompareNumbers(t *testing.T) {
	cmp, ok := CompareNumbers(BigInteger, "9007199254740993", "9007199254740992")
	require.True(t, ok)
	assert.Equal(t, 1, cmp)

	cmp, ok = CompareNumbers(Decimal, "1.10", 1.1)
	require.True(t, ok)
	assert.Equal(t, 0, cmp)

	cmp, ok = CompareNumbers(Integer, json.Number("3"), 4)
	require.True(t, ok)
	assert.Equal(t, -1, cmp)

	_, ok = CompareNumbers(Float, "abc", 1)
	assert.False(t, ok)
}

func TestParseDatetimeString(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{input: "13:45:00", want: time.Date(1970, 1, 1, 13, 45, 0, 0, time.UTC)},
		{input: "2024-03-01", want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{input: "2020-06-01T00:00:00", want: time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)},
		{input: "2020-06-01T10:00:00+02:00", want: time.Date(2020, 6, 1, 8, 0, 0, 0, time.UTC)},
		{input: "2020-06-01T00:00:00.250Z", want: time.Date(2020, 6, 1, 0, 0, 0, 250_000_000, time.UTC)},
		{input: "2020-06-01 12:30:00", want: time.Date(2020, 6, 1, 12, 30, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDatetimeString(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want.UnixMilli(), got)

			again, err := ParseDatetimeString(tt.input)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}

	_, err := ParseDatetimeString("not a date")
	require.Error(t, err)
	_, err = ParseDatetimeString("25:99:00")
	require.Error(t, err)
}

func TestToEpochMillis(t *testing.T) {
	ts := time.Date(2021, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	got, ok := ToEpochMillis(ts)
	require.True(t, ok)
	assert.Equal(t, ts.UnixMilli(), got)

	got, ok = ToEpochMillis(int64(1000))
	require.True(t, ok)
	assert.Equal(t, int64(1000), got)

	_, ok = ToEpochMillis(true)
	assert.False(t, ok)
}

func TestToList(t *testing.T) {
	list, ok := ToList("a, b,c")
	require.True(t, ok)
	assert.Equal(t, []interface{}{"a", "b", "c"}, list)

	list, ok = ToList([]interface{}{1, 2})
	require.True(t, ok)
	assert.Len(t, list, 2)

	_, ok = ToList(3)
	assert.False(t, ok)
}

func TestDecodeJSON(t *testing.T) {
	doc, err := DecodeJSON(`{"color":"red"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"color": "red"}, doc)

	already := map[string]interface{}{"a": 1}
	doc, err = DecodeJSON(already)
	require.NoError(t, err)
	assert.Equal(t, already, doc)

	_, err = DecodeJSON("{broken")
	require.Error(t, err)
}

func TestToString(t *testing.T) {
	s, ok := ToString(42)
	require.True(t, ok)
	assert.Equal(t, "42", s)

	s, ok = ToString(map[string]interface{}{"a": "b"})
	require.True(t, ok)
	assert.Equal(t, `{"a":"b"}`, s)

	_, ok = ToString(nil)
	assert.False(t, ok)
}
