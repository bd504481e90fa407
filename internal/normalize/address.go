package normalize

import (
	"strings"
)

// AbbrevRules handles address abbreviation expansion
type AbbrevRules struct {
	rules map[string]string
}

// NewAbbrevRules creates the default abbreviation rules. Keys and values are
// already in cleaned (lower case ASCII) form.
func NewAbbrevRules() *AbbrevRules {
	rules := map[string]string{
		"rd":    "road",
		"st":    "street",
		"str":   "street",
		"ave":   "avenue",
		"av":    "avenue",
		"blvd":  "boulevard",
		"hwy":   "highway",
		"ln":    "lane",
		"dr":    "drive",
		"ct":    "court",
		"pl":    "place",
		"sq":    "square",
		"bldg":  "building",
		"blk":   "block",
		"flr":   "floor",
		"fl":    "floor",
		"apt":   "apartment",
		"rm":    "room",
		"ste":   "suite",
		"no":    "number",
		"nr":    "number",
		"ind":   "industrial",
		"indl":  "industrial",
		"indus": "industrial",
		"est":   "estate",
		"pk":    "park",
		"dist":  "district",
		"twp":   "township",
		"vill":  "village",
		"n":     "north",
		"s":     "south",
		"e":     "east",
		"w":     "west",
		"nth":   "north",
		"sth":   "south",
		"epz":   "export processing zone",
		"sez":   "special economic zone",
	}

	return &AbbrevRules{rules: rules}
}

// Expand applies abbreviation rules token by token
func (ar *AbbrevRules) Expand(text string) string {
	tokens := strings.Fields(text)
	for i, token := range tokens {
		if replacement, ok := ar.rules[token]; ok {
			tokens[i] = replacement
		}
	}
	return strings.Join(tokens, " ")
}

// Expander rewrites a cleaned address into a single canonical variant
type Expander interface {
	Expand(text string) string
}

var defaultRules = NewAbbrevRules()

// CleanAddress normalizes an address for matching, expanding abbreviations
// with the configured expander
func CleanAddress(raw string) string {
	s := Clean(raw)
	if s == "" {
		return ""
	}
	return collapse(addressExpander().Expand(s))
}
