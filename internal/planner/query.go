package planner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Query is the declarative request handed over by a transport.
type Query struct {
	Fields    []string               `json:"fields,omitempty"`
	Filter    map[string]interface{} `json:"filter,omitempty"`
	Sort      []string               `json:"sort,omitempty"`
	Limit     *int                   `json:"limit,omitempty"`
	Offset    *int                   `json:"offset,omitempty"`
	Page      *int                   `json:"page,omitempty"`
	Search    string                 `json:"search,omitempty"`
	Alias     map[string]string      `json:"alias,omitempty"`
	Deep      map[string]interface{} `json:"deep,omitempty"`
	Aggregate map[string][]string    `json:"aggregate,omitempty"`
	GroupBy   []string               `json:"groupBy,omitempty"`
}

// rawQuery accepts the loose shapes transports produce: lists as
// comma-separated strings, objects as JSON text, numbers as strings.
type rawQuery struct {
	Fields    json.RawMessage            `json:"fields"`
	Filter    json.RawMessage            `json:"filter"`
	Sort      json.RawMessage            `json:"sort"`
	Limit     json.RawMessage            `json:"limit"`
	Offset    json.RawMessage            `json:"offset"`
	Page      json.RawMessage            `json:"page"`
	Search    string                     `json:"search"`
	Alias     json.RawMessage            `json:"alias"`
	Deep      json.RawMessage            `json:"deep"`
	Aggregate map[string]json.RawMessage `json:"aggregate"`
	GroupBy   json.RawMessage            `json:"groupBy"`
}

// UnmarshalJSON decodes a query document.
func (q *Query) UnmarshalJSON(data []byte) error {
	var raw rawQuery
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Query
	var err error
	if out.Fields, err = decodeList("fields", raw.Fields, SplitFields); err != nil {
		return err
	}
	if out.Sort, err = decodeList("sort", raw.Sort, SplitFields); err != nil {
		return err
	}
	if out.GroupBy, err = decodeList("groupBy", raw.GroupBy, SplitFields); err != nil {
		return err
	}
	if out.Filter, err = decodeObject("filter", raw.Filter); err != nil {
		return err
	}
	if out.Deep, err = decodeObject("deep", raw.Deep); err != nil {
		return err
	}
	if out.Limit, err = decodeInt("limit", raw.Limit); err != nil {
		return err
	}
	if out.Offset, err = decodeInt("offset", raw.Offset); err != nil {
		return err
	}
	if out.Page, err = decodeInt("page", raw.Page); err != nil {
		return err
	}
	if alias, err := decodeObject("alias", raw.Alias); err != nil {
		return err
	} else if alias != nil {
		out.Alias = make(map[string]string, len(alias))
		for key, value := range alias {
			s, ok := value.(string)
			if !ok {
				return invalidQuery("alias %q must map to a string", key)
			}
			out.Alias[key] = s
		}
	}
	if len(raw.Aggregate) > 0 {
		out.Aggregate = make(map[string][]string, len(raw.Aggregate))
		for fn, fields := range raw.Aggregate {
			list, err := decodeList("aggregate."+fn, fields, splitComma)
			if err != nil {
				return err
			}
			out.Aggregate[fn] = list
		}
	}
	out.Search = raw.Search

	*q = out
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeList(name string, raw json.RawMessage, split func(string) []string) ([]string, error) {
	if isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return split(s), nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, invalidQuery("%s must be a string or an array of strings", name)
	}
	var out []string
	for _, item := range list {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

// decodeObject also accepts an object serialized as a JSON string, the way
// filters and deep clauses arrive in URL query parameters.
func decodeObject(name string, raw json.RawMessage) (map[string]interface{}, error) {
	if isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		raw = json.RawMessage(s)
	}
	var obj map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, invalidQuery("%s must be a JSON object", name)
	}
	return obj, nil
}

func decodeInt(name string, raw json.RawMessage) (*int, error) {
	if isNull(raw) {
		return nil, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, invalidQuery("%s must be an integer", name)
		}
		n = json.Number(strings.TrimSpace(s))
	}
	v, err := strconv.Atoi(n.String())
	if err != nil {
		return nil, invalidQuery("%s must be an integer", name)
	}
	return &v, nil
}

// SplitFields splits a comma-separated field list. Commas inside parentheses
// belong to function arguments and do not split.
func SplitFields(s string) []string {
	var out []string
	depth := 0
	start := 0
	flush := func(end int) {
		if item := strings.TrimSpace(s[start:end]); item != "" {
			out = append(out, item)
		}
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				flush(i)
				start = i + 1
			}
		}
	}
	flush(len(s))
	return out
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// splitPath splits a dotted path into segments, leaving dots inside function
// call parentheses alone.
func splitPath(path string) ([]string, error) {
	var segments []string
	depth := 0
	start := 0
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses")
			}
		case '.':
			if depth == 0 {
				segments = append(segments, path[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses")
	}
	segments = append(segments, path[start:])
	for _, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			return nil, fmt.Errorf("empty path segment")
		}
	}
	return segments, nil
}

// call is a parsed "name(arg, ...)" expression.
type call struct {
	Name string
	Args []string
}

// parseCall recognizes function call syntax. ok is false when s is not a call;
// err is set when it looks like one but is malformed.
func parseCall(s string) (c call, ok bool, err error) {
	open := strings.IndexByte(s, '(')
	if open <= 0 {
		if strings.ContainsAny(s, "()") {
			return call{}, false, fmt.Errorf("unbalanced parentheses")
		}
		return call{}, false, nil
	}
	name := strings.TrimSpace(s[:open])
	if !isIdentifier(name) && name != "$FOLLOW" {
		return call{}, false, nil
	}
	if !strings.HasSuffix(s, ")") {
		return call{}, true, fmt.Errorf("missing closing parenthesis")
	}
	inner := s[open+1 : len(s)-1]
	if strings.ContainsAny(inner, "()") {
		return call{}, true, fmt.Errorf("nested calls are not supported")
	}
	c.Name = name
	for _, arg := range strings.Split(inner, ",") {
		c.Args = append(c.Args, strings.TrimSpace(arg))
	}
	if len(c.Args) == 1 && c.Args[0] == "" {
		c.Args = nil
	}
	return c, true, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// splitScope separates "field:collection".
func splitScope(segment string) (field, scope string) {
	if i := strings.IndexByte(segment, ':'); i >= 0 {
		return segment[:i], segment[i+1:]
	}
	return segment, ""
}

func joinPath(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return prefix + "." + segment
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
