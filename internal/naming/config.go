// Package naming derives collection and alias field names from SQL names:
// pluralized inverse relations, reserved-name handling and per-collection
// collision resolution. Names stay snake_case, like the columns they sit next to.
package naming

import "strings"

// Config holds the inflection overrides applied when alias fields are named.
// Keys match case-insensitively.
type Config struct {
	PluralOverrides   map[string]string `mapstructure:"plural_overrides"`   // singular -> plural, e.g. person: people
	SingularOverrides map[string]string `mapstructure:"singular_overrides"` // plural -> singular
}

// DefaultConfig returns a Config with empty override maps.
func DefaultConfig() Config {
	return Config{
		PluralOverrides:   map[string]string{},
		SingularOverrides: map[string]string{},
	}
}

func lookupOverride(overrides map[string]string, word string) (string, bool) {
	if len(overrides) == 0 {
		return "", false
	}
	if v, ok := overrides[word]; ok {
		return v, true
	}
	lower := strings.ToLower(word)
	for k, v := range overrides {
		if strings.ToLower(k) == lower {
			return v, true
		}
	}
	return "", false
}
