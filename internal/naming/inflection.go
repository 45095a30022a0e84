package naming

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// Pluralize returns the plural of a snake_case name. Only the last token is
// inflected, so "food_ingredient" becomes "food_ingredients". An override for
// the whole name wins over one for its last token.
func (n *Namer) Pluralize(name string) string {
	return n.inflectLast(name, n.config.PluralOverrides, inflection.Plural)
}

// Singularize is the inverse of Pluralize.
func (n *Namer) Singularize(name string) string {
	return n.inflectLast(name, n.config.SingularOverrides, inflection.Singular)
}

func (n *Namer) inflectLast(name string, overrides map[string]string, inflect func(string) string) string {
	if v, ok := lookupOverride(overrides, name); ok {
		return v
	}
	i := strings.LastIndexByte(name, '_')
	if i < 0 || i == len(name)-1 {
		return inflect(name)
	}
	head, last := name[:i+1], name[i+1:]
	if v, ok := lookupOverride(overrides, last); ok {
		return head + v
	}
	return head + inflect(last)
}
