package normalize

import (
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// joiners are dropped without leaving a gap so "Ho-Chi" and "O'Neil" keep one token
var joiners = map[rune]bool{
	'-':  true,
	'\'': true,
	'’':  true,
	'`':  true,
}

// nameStopWords are legal forms and filler words that carry no identity in a facility name
var nameStopWords = map[string]bool{
	"the":          true,
	"and":          true,
	"of":           true,
	"co":           true,
	"company":      true,
	"corp":         true,
	"corporation":  true,
	"inc":          true,
	"incorporated": true,
	"ltd":          true,
	"limited":      true,
	"llc":          true,
	"plc":          true,
	"pvt":          true,
	"private":      true,
	"pte":          true,
	"gmbh":         true,
	"sa":           true,
	"srl":          true,
	"bv":           true,
}

// Clean applies the shared normalization used for every matching field:
// ASCII transliteration, accent stripping, lower case, punctuation removal
// and whitespace collapse. Clean is idempotent.
func Clean(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	s, _, err := transform.String(stripMarks, raw)
	if err != nil {
		s = raw
	}
	s = strings.ToLower(unidecode.Unidecode(s))

	b := strings.Builder{}
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case joiners[r]:
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	return collapse(b.String())
}

// CleanName normalizes a facility name and drops legal forms and filler words.
// A name made only of stop words keeps them rather than becoming empty.
func CleanName(raw string) string {
	s := Clean(raw)
	if s == "" {
		return ""
	}

	tokens := strings.Fields(s)
	kept := tokens[:0:0]
	for _, token := range tokens {
		if !nameStopWords[token] {
			kept = append(kept, token)
		}
	}
	if len(kept) == 0 {
		return s
	}
	return strings.Join(kept, " ")
}

// Tokens splits a cleaned string into unique tokens in first-seen order
func Tokens(clean string) []string {
	fields := strings.Fields(clean)
	seen := make(map[string]bool, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		tokens = append(tokens, f)
	}
	return tokens
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
