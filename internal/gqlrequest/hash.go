package gqlrequest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/printer"
)

const anonymousOperationName = "<anonymous>"

// canonicalOperationAndHash reprints the selected operation followed by the
// fragments it reaches, in name order. Whitespace, comments and unrelated
// definitions in the document leave the hash unchanged.
func canonicalOperationAndHash(op *ast.OperationDefinition, fragments map[string]*ast.FragmentDefinition) (string, string, error) {
	if op == nil {
		return "", "", fmt.Errorf("operation is nil")
	}

	reached, err := reachableFragments(op.SelectionSet, fragments)
	if err != nil {
		return "", "", err
	}
	defs := []ast.Node{op}
	for _, name := range slices.Sorted(maps.Keys(reached)) {
		defs = append(defs, reached[name])
	}

	printed, ok := printer.Print(ast.NewDocument(&ast.Document{Definitions: defs})).(string)
	if !ok {
		return "", "", fmt.Errorf("printer returned a non-string document")
	}
	return printed, framedSHA256(printed, effectiveOperationName(op)), nil
}

// reachableFragments follows spreads transitively from root. A spread naming
// an undefined fragment is an error.
func reachableFragments(root *ast.SelectionSet, fragments map[string]*ast.FragmentDefinition) (map[string]*ast.FragmentDefinition, error) {
	reached := map[string]*ast.FragmentDefinition{}
	pending := []*ast.SelectionSet{root}
	for len(pending) > 0 {
		set := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if set == nil {
			continue
		}
		for _, selection := range set.Selections {
			switch sel := selection.(type) {
			case *ast.Field:
				pending = append(pending, sel.SelectionSet)
			case *ast.InlineFragment:
				pending = append(pending, sel.SelectionSet)
			case *ast.FragmentSpread:
				name := spreadName(sel)
				if name == "" {
					continue
				}
				if _, seen := reached[name]; seen {
					continue
				}
				fragment := fragments[name]
				if fragment == nil {
					return nil, fmt.Errorf("fragment %q not found", name)
				}
				reached[name] = fragment
				pending = append(pending, fragment.SelectionSet)
			}
		}
	}
	return reached, nil
}

func effectiveOperationName(op *ast.OperationDefinition) string {
	if op == nil || op.Name == nil || op.Name.Value == "" {
		return anonymousOperationName
	}
	return op.Name.Value
}

// framedSHA256 hashes parts with a length prefix on each, so ("ab", "c") and
// ("a", "bc") differ.
func framedSHA256(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(h, "%d:%s|", len(part), part)
	}
	return hex.EncodeToString(h.Sum(nil))
}
