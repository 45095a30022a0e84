package uuidutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

const want = "550e8400-e29b-41d4-a716-446655440000"

var raw = []byte{
	0x55, 0x0e, 0x84, 0x00,
	0xe2, 0x9b,
	0x41, 0xd4,
	0xa7, 0x16,
	0x44, 0x66, 0x55, 0x44, 0x00, 0x00,
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		name  string
		input any
		ok    bool
	}{
		{name: "upper-case text", input: "550E8400-E29B-41D4-A716-446655440000", ok: true},
		{name: "padded text", input: " " + want + "\n", ok: true},
		{name: "urn text", input: "urn:uuid:" + want, ok: true},
		{name: "braced text", input: "{" + want + "}", ok: true},
		{name: "binary", input: raw, ok: true},
		{name: "text bytes", input: []byte(want), ok: true},
		{name: "typed", input: uuid.MustParse(want), ok: true},
		{name: "garbage", input: "not-a-uuid", ok: false},
		{name: "short bytes", input: []byte{0x01, 0x02}, ok: false},
		{name: "number", input: 42, ok: false},
		{name: "nil", input: nil, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Canonical(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	c, ok := Compare(raw, "550E8400-E29B-41D4-A716-446655440000")
	assert.True(t, ok)
	assert.Zero(t, c)

	c, ok = Compare("00000000-0000-0000-0000-000000000001", want)
	assert.True(t, ok)
	assert.Equal(t, -1, c)

	_, ok = Compare(want, "nope")
	assert.False(t, ok)
}
