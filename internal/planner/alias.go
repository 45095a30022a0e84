package planner

import (
	"sort"
	"strings"
)

// validateAliases checks an alias map. Keys are output names and may not
// contain a dot. Values name a direct field or a function call; a dotted
// relational path cannot be renamed.
func validateAliases(alias map[string]string) error {
	keys := make([]string, 0, len(alias))
	for k := range alias {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := strings.TrimSpace(alias[key])
		switch {
		case key == "":
			return &InvalidFieldExpressionError{Expression: value, Reason: "alias name cannot be empty"}
		case strings.Contains(key, "."):
			return &InvalidFieldExpressionError{Expression: key, Reason: "alias name cannot contain a dot"}
		case key == "*":
			return &InvalidFieldExpressionError{Expression: key, Reason: "alias name cannot be a wildcard"}
		case value == "":
			return &InvalidFieldExpressionError{Expression: key, Reason: "alias must point to a field"}
		}

		_, isCall, err := parseCall(value)
		if err != nil {
			return &InvalidFieldExpressionError{Expression: value, Reason: err.Error()}
		}
		if isCall {
			continue
		}
		if strings.ContainsAny(value, ".:*") {
			return &InvalidFieldExpressionError{
				Expression: value,
				Reason:     "an alias can only rename a direct field or a function call",
			}
		}
	}
	return nil
}
