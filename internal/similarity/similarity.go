// Package similarity implements the pure scoring kernels for name, address,
// person, and phone fields (spec.md §4.2). Every kernel is a total function
// over its inputs: pathological or empty input yields 0.0 rather than an
// error, since a kernel score always feeds directly into a threshold
// comparison upstream.
package similarity

import (
	"math"
	"strings"

	"github.com/agnivade/levenshtein"

	"linkcore/internal/normalize"
)

// Round4 rounds a score to 4 decimal places. All stored similarity scores
// go through this so that strictly-less-than comparisons are stable across
// runs (spec.md §4.2 "Tie-break and numeric semantics").
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
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

// editDistanceSimilarity returns 1 - (levenshtein distance / max length),
// i.e. normalized edit-distance similarity, for two already-canonicalized
// strings.
func editDistanceSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 0
	}
	maxLen := len([]rune(a))
	if bl := len([]rune(b)); bl > maxLen {
		maxLen = bl
	}
	if maxLen == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return clamp01(1.0 - float64(dist)/float64(maxLen))
}

// tokenJaccard returns the Jaccard index of two token sets.
func tokenJaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}
	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// commonAffixRatio returns the ratio of (common-prefix length + common-
// suffix length) to the longer string's length, used as a cheap structural
// similarity between two name_core strings.
func commonAffixRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prefix := 0
	for prefix < len(ra) && prefix < len(rb) && ra[prefix] == rb[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(ra)-prefix && suffix < len(rb)-prefix && ra[len(ra)-1-suffix] == rb[len(rb)-1-suffix] {
		suffix++
	}
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	return clamp01(float64(prefix+suffix) / float64(maxLen))
}

// NameSimilarity computes the weighted name score (spec.md §4.2): 0.5
// edit-distance on name_canonical, 0.3 token Jaccard, 0.2 common-affix
// ratio on name_core.
func NameSimilarity(aCanonical, bCanonical string, aCore, bCore string) float64 {
	if aCanonical == "" || bCanonical == "" {
		return 0
	}
	editSim := editDistanceSimilarity(aCanonical, bCanonical)
	jaccard := tokenJaccard(normalize.Tokenize(aCanonical), normalize.Tokenize(bCanonical))
	affix := commonAffixRatio(aCore, bCore)
	return Round4(0.5*editSim + 0.3*jaccard + 0.2*affix)
}

// tokenOverlapRatio is the component-level address score: the fraction of
// the smaller token set's tokens that also appear in the larger set. Two
// empty sets score 0 (no corroborating evidence), matching the Normalizer's
// "absence is never treated as a match" convention.
func tokenOverlapRatio(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}
	overlap := 0
	for _, t := range a {
		if _, ok := setB[t]; ok {
			overlap++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return clamp01(float64(overlap) / float64(smaller))
}

// AddressSimilarity computes the component-weighted address score
// (spec.md §4.2): province 0.2, city 0.3, district 0.3, detail 0.2, each
// scored as token-overlap-ratio within that tagged component.
func AddressSimilarity(aTagged, bTagged map[normalize.AddressComponentTag][]string) float64 {
	weights := map[normalize.AddressComponentTag]float64{
		normalize.TagProvince: 0.2,
		normalize.TagCity:     0.3,
		normalize.TagDistrict: 0.3,
		normalize.TagDetail:   0.2,
	}
	var total float64
	for tag, w := range weights {
		total += w * tokenOverlapRatio(aTagged[tag], bTagged[tag])
	}
	return Round4(total)
}

// PersonSimilarity scores two person names (legal representative, safety
// manager) after uppercase/whitespace normalization: 1.0 on exact match,
// 0.5 when one is a proper prefix of the other and both have length >= 2,
// else 0.0 (spec.md §4.2).
func PersonSimilarity(a, b string) float64 {
	na := strings.ToUpper(strings.TrimSpace(a))
	nb := strings.ToUpper(strings.TrimSpace(b))
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1.0
	}
	ra, rb := []rune(na), []rune(nb)
	if len(ra) < 2 || len(rb) < 2 {
		return 0
	}
	shorter, longer := na, nb
	if len(rb) < len(ra) {
		shorter, longer = nb, na
	}
	if strings.HasPrefix(longer, shorter) {
		return 0.5
	}
	return 0
}

// stripNonDigits removes every non-digit rune.
func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// commonCountryCodes are leading-digit sequences stripped before phone
// comparison (spec.md §4.2 "after stripping non-digits and leading country
// code"). A domestic trunk prefix "0" (e.g. area code "021") is elided
// after country-code stripping so "+86 21 ..." and "021 ..." compare equal.
var commonCountryCodes = []string{"0086", "086", "86"}

func normalizePhoneDigits(raw string) string {
	d := stripNonDigits(raw)
	for _, cc := range commonCountryCodes {
		if strings.HasPrefix(d, cc) && len(d) > len(cc) {
			d = strings.TrimPrefix(d, cc)
			break
		}
	}
	return strings.TrimPrefix(d, "0")
}

// PhoneSimilarity returns 1.0 when two phone numbers are equal after
// stripping non-digit characters and an optional leading country code,
// else 0.0 (spec.md §4.2).
func PhoneSimilarity(a, b string) float64 {
	da := normalizePhoneDigits(a)
	db := normalizePhoneDigits(b)
	if da == "" || db == "" {
		return 0
	}
	if da == db {
		return 1.0
	}
	return 0
}
