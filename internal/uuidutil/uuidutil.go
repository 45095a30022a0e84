// Package uuidutil reads UUID values from filter operands and driver rows so
// they compare by value rather than by spelling.
package uuidutil

import (
	"bytes"
	"strings"

	"github.com/google/uuid"
)

// Parse accepts a uuid.UUID, any text form uuid.Parse understands (with
// surrounding whitespace), or 16 raw bytes as stored in BINARY(16) columns.
func Parse(value any) (uuid.UUID, bool) {
	var (
		u   uuid.UUID
		err error
	)
	switch v := value.(type) {
	case uuid.UUID:
		return v, true
	case string:
		u, err = uuid.Parse(strings.TrimSpace(v))
	case []byte:
		if len(v) == 16 {
			u, err = uuid.FromBytes(v)
		} else {
			u, err = uuid.ParseBytes(bytes.TrimSpace(v))
		}
	default:
		return uuid.Nil, false
	}
	return u, err == nil
}

// Canonical returns the lower-case hyphenated form of value.
func Canonical(value any) (string, bool) {
	u, ok := Parse(value)
	if !ok {
		return "", false
	}
	return u.String(), true
}

// Compare orders two UUID values byte-wise, which matches the order of
// their canonical strings. ok is false when either side is not a UUID.
func Compare(a, b any) (int, bool) {
	ua, okA := Parse(a)
	ub, okB := Parse(b)
	if !okA || !okB {
		return 0, false
	}
	return bytes.Compare(ua[:], ub[:]), true
}
