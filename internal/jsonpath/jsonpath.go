// Package jsonpath parses the small path language used by json() field
// expressions: dotted keys with optional bracketed array indexes, for example
// "color", "dimensions.width", "tags[0]" or "variants[1].sku".
//
// Parsing and lookup are delegated to ojg's jp package. Its grammar is a
// superset of what json() accepts, so a parsed expression is narrowed to
// child keys and non-negative indexes and must be written in canonical form.
package jsonpath

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// Path is a parsed JSON path. The zero value matches nothing.
type Path struct {
	expr jp.Expr
}

// SyntaxError reports a malformed path.
type SyntaxError struct {
	Path   string
	Offset int
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid json path %q at offset %d: %s", e.Path, e.Offset, e.Reason)
}

// Parse parses a path expression.
func Parse(expr string) (Path, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Path{}, &SyntaxError{Path: expr, Reason: "empty path"}
	}
	x, err := jp.ParseString(expr)
	if err != nil {
		return Path{}, &SyntaxError{Path: expr, Reason: err.Error()}
	}

	var steps jp.Expr
	for _, frag := range x {
		switch f := frag.(type) {
		case jp.Bracket:
			// notation marker only
		case jp.Child:
			if f == "" || strings.ContainsAny(string(f), ".[]") {
				return Path{}, &SyntaxError{Path: expr, Offset: offsetOf(expr, string(f)), Reason: fmt.Sprintf("invalid key %q", string(f))}
			}
			steps = append(steps, f)
		case jp.Nth:
			if f < 0 {
				return Path{}, &SyntaxError{Path: expr, Offset: strings.IndexByte(expr, '-'), Reason: fmt.Sprintf("index %d is not a non-negative integer", int(f))}
			}
			steps = append(steps, f)
		default:
			return Path{}, &SyntaxError{Path: expr, Reason: fmt.Sprintf("unsupported selector %q", jp.Expr{frag}.String())}
		}
	}
	if len(steps) == 0 {
		return Path{}, &SyntaxError{Path: expr, Reason: "no keys or indexes"}
	}

	p := Path{expr: steps}
	if canonical := p.String(); canonical != expr {
		return Path{}, &SyntaxError{Path: expr, Offset: divergence(canonical, expr), Reason: fmt.Sprintf("expected %q", canonical)}
	}
	return p, nil
}

// String renders the path in canonical form.
func (p Path) String() string {
	var b strings.Builder
	for i, frag := range p.expr {
		switch f := frag.(type) {
		case jp.Nth:
			fmt.Fprintf(&b, "[%d]", int(f))
		case jp.Child:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(string(f))
		}
	}
	return b.String()
}

// OutputKey joins the segments with underscores: "a[0].b" becomes "a_0_b".
func (p Path) OutputKey() string {
	parts := make([]string, 0, len(p.expr))
	for _, frag := range p.expr {
		switch f := frag.(type) {
		case jp.Nth:
			parts = append(parts, strconv.Itoa(int(f)))
		case jp.Child:
			parts = append(parts, string(f))
		}
	}
	return strings.Join(parts, "_")
}

// Extract looks the path up in a decoded JSON document. The second result is
// false when any step is missing or has the wrong shape; the value is then
// nil. A present null is (nil, true).
func (p Path) Extract(doc interface{}) (interface{}, bool) {
	if len(p.expr) == 0 {
		return nil, false
	}
	got := p.expr.Get(doc)
	if len(got) == 0 {
		return nil, false
	}
	return got[0], true
}

func offsetOf(expr, key string) int {
	if key == "" {
		return 0
	}
	return max(strings.Index(expr, key), 0)
}

// divergence is the first byte at which a and b differ.
func divergence(a, b string) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
