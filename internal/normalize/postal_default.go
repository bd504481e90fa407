//go:build !libpostal

package normalize

func addressExpander() Expander {
	return defaultRules
}
