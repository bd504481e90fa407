package gazetteer

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/xrash/smetrics"

	"github.com/opensupplyhub/dedupe-hub/internal/normalize"
)

// Feature names, in the order they appear in a Features vector
const (
	FeatureNameJaroWinkler    = "name_jaro_winkler"
	FeatureNameJaccard        = "name_jaccard"
	FeatureNameLevenshtein    = "name_levenshtein"
	FeatureAddressJaroWinkler = "address_jaro_winkler"
	FeatureAddressJaccard     = "address_jaccard"
	FeatureAddressLevenshtein = "address_levenshtein"
)

// FeatureNames lists the pair features in vector order
var FeatureNames = []string{
	FeatureNameJaroWinkler,
	FeatureNameJaccard,
	FeatureNameLevenshtein,
	FeatureAddressJaroWinkler,
	FeatureAddressJaccard,
	FeatureAddressLevenshtein,
}

const numFeatures = 6

// Features is the similarity vector of a record pair. Every value is in [0, 1].
type Features [numFeatures]float64

// prepared caches the tokenization of a record
type prepared struct {
	rec           Record
	nameTokens    []string
	addressTokens []string
}

func prepare(rec Record) prepared {
	return prepared{
		rec:           rec,
		nameTokens:    normalize.Tokens(rec.Name),
		addressTokens: normalize.Tokens(rec.Address),
	}
}

// ComputeFeatures calculates the similarity features for two records
func ComputeFeatures(a, b Record) Features {
	return computeFeatures(prepare(a), prepare(b))
}

func computeFeatures(a, b prepared) Features {
	var f Features

	f[0], f[1], f[2] = fieldSimilarity(a.rec.Name, b.rec.Name, a.nameTokens, b.nameTokens)
	f[3], f[4], f[5] = fieldSimilarity(a.rec.Address, b.rec.Address, a.addressTokens, b.addressTokens)

	return f
}

// fieldSimilarity returns Jaro-Winkler, token Jaccard and normalized
// Levenshtein similarity. A missing value on either side gives no evidence.
func fieldSimilarity(s1, s2 string, tokens1, tokens2 []string) (jw, jaccard, lev float64) {
	if s1 == "" || s2 == "" {
		return 0, 0, 0
	}
	if s1 == s2 {
		return 1, 1, 1
	}

	jw = smetrics.JaroWinkler(s1, s2, 0.7, 4)
	jaccard = tokenJaccard(tokens1, tokens2)
	lev = levenshteinSimilarity(s1, s2)

	return clamp01(jw), jaccard, lev
}

// tokenJaccard computes |A ∩ B| / |A ∪ B| over token sets
func tokenJaccard(tokens1, tokens2 []string) float64 {
	if len(tokens1) == 0 || len(tokens2) == 0 {
		return 0.0
	}

	set1 := make(map[string]bool, len(tokens1))
	for _, token := range tokens1 {
		set1[token] = true
	}

	union := len(set1)
	intersection := 0
	seen := make(map[string]bool, len(tokens2))
	for _, token := range tokens2 {
		if seen[token] {
			continue
		}
		seen[token] = true
		if set1[token] {
			intersection++
		} else {
			union++
		}
	}

	return float64(intersection) / float64(union)
}

// levenshteinSimilarity converts edit distance into a similarity in [0, 1]
func levenshteinSimilarity(s1, s2 string) float64 {
	maxLen := utf8.RuneCountInString(s1)
	if l := utf8.RuneCountInString(s2); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1.0
	}

	distance := levenshtein.ComputeDistance(s1, s2)
	return 1.0 - float64(distance)/float64(maxLen)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
