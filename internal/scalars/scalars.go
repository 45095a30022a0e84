package scalars

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// ToFloat coerces a row or operand value to float64.
// Strings are parsed; booleans and composite values are rejected.
func ToFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		if math.IsNaN(v) {
			return 0, false
		}
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ToDecimal coerces a value to an arbitrary-precision decimal. It is used for
// bigInteger and decimal kinds, where drivers commonly return strings that do
// not survive a round trip through float64.
func ToDecimal(value interface{}) (*apd.Decimal, bool) {
	switch v := value.(type) {
	case string:
		d, _, err := apd.NewFromString(strings.TrimSpace(v))
		return d, err == nil
	case []byte:
		d, _, err := apd.NewFromString(strings.TrimSpace(string(v)))
		return d, err == nil
	case json.Number:
		d, _, err := apd.NewFromString(v.String())
		return d, err == nil
	case int:
		return apd.New(int64(v), 0), true
	case int32:
		return apd.New(int64(v), 0), true
	case int64:
		return apd.New(v, 0), true
	case uint32:
		return apd.New(int64(v), 0), true
	case float32, float64:
		f, _ := ToFloat(v)
		d, err := new(apd.Decimal).SetFloat64(f)
		return d, err == nil
	default:
		f, ok := ToFloat(v)
		if !ok {
			return nil, false
		}
		d, err := new(apd.Decimal).SetFloat64(f)
		return d, err == nil
	}
}

// CompareNumbers compares two values as numbers of the given kind.
// bigInteger and decimal compare exactly; integer and float go through float64.
func CompareNumbers(kind Kind, a, b interface{}) (int, bool) {
	if kind == BigInteger || kind == Decimal {
		da, okA := ToDecimal(a)
		db, okB := ToDecimal(b)
		if !okA || !okB {
			return 0, false
		}
		return da.Cmp(db), true
	}
	fa, okA := ToFloat(a)
	fb, okB := ToFloat(b)
	if !okA || !okB {
		return 0, false
	}
	switch {
	case fa < fb:
		return -1, true
	case fa > fb:
		return 1, true
	default:
		return 0, true
	}
}

// ToBool applies boolean coercion: true, 1, "1" and "true" are true;
// false, 0, "0" and "false" are false. Any other value is not a boolean,
// so 2 matches neither side.
func ToBool(value interface{}) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true":
			return true, true
		case "0", "false":
			return false, true
		}
		return false, false
	case []byte:
		return ToBool(string(v))
	default:
		f, ok := ToFloat(v)
		if !ok {
			return false, false
		}
		switch f {
		case 1:
			return true, true
		case 0:
			return false, true
		}
		return false, false
	}
}

// ToString renders a scalar value as text. Maps and slices are encoded as JSON.
func ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case []byte:
		return string(v), true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case json.Number:
		return v.String(), true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v), true
	case map[string]interface{}, []interface{}:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(encoded), true
	default:
		return fmt.Sprint(v), true
	}
}

// DecodeJSON returns the decoded document for a json field value. Raw text and
// bytes are unmarshalled; already-decoded values are returned unchanged.
func DecodeJSON(value interface{}) (interface{}, error) {
	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		return v, nil
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("invalid json value: %w", err)
	}
	return decoded, nil
}

// ToList normalizes a list-like operand: arrays are returned as-is and
// comma-separated strings are split.
func ToList(value interface{}) ([]interface{}, bool) {
	switch v := value.(type) {
	case []interface{}:
		return v, true
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case string:
		if v == "" {
			return []interface{}{}, true
		}
		parts := strings.Split(v, ",")
		out := make([]interface{}, len(parts))
		for i, p := range parts {
			out[i] = strings.TrimSpace(p)
		}
		return out, true
	default:
		return nil, false
	}
}
