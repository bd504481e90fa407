//go:build libpostal

package normalize

import (
	"strings"

	expand "github.com/openvenues/gopostal/expand"
)

// postalExpander expands addresses with libpostal and keeps the first
// non-empty cleaned variant
type postalExpander struct{}

func (postalExpander) Expand(text string) string {
	variants := expand.ExpandAddress(text)
	if len(variants) == 0 {
		return defaultRules.Expand(text)
	}

	for _, v := range variants {
		if v = strings.TrimSpace(Clean(v)); v != "" {
			return v
		}
	}
	return defaultRules.Expand(text)
}

func addressExpander() Expander {
	return postalExpander{}
}
