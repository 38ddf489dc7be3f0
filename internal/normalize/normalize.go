// Package normalize implements deterministic normalization of names and
// addresses (spec.md §4.1) so that two textual references become
// comparable without losing discriminating signal. The Normalizer never
// fails: pathological input simply yields an empty NameCanonical, which
// downstream components treat as un-matchable.
package normalize

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"linkcore/internal/unit"
)

var (
	bracketPattern     = regexp.MustCompile(`[(（][^)）]*[)）]`)
	punctuationPattern = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// Normalizer holds the configured vocabularies used by the normalization
// pipeline: administrative-region prefixes, organizational suffixes,
// address stop-words, and the province/city/district tagging dictionary.
// These are configuration inputs, not hardcoded constants, so the same
// pipeline serves any jurisdiction's vocabulary.
type Normalizer struct {
	adminPrefixes []string // sorted longest-first
	orgSuffixes   []string // sorted longest-first
	stopWords     map[string]struct{}
	provinceTags  map[string]struct{}
	cityTags      map[string]struct{}
	districtTags  map[string]struct{}
}

// New builds a Normalizer from explicit vocabularies.
func New(adminPrefixes, orgSuffixes, stopWords, provinceTags, cityTags, districtTags []string) *Normalizer {
	n := &Normalizer{
		adminPrefixes: append([]string(nil), adminPrefixes...),
		orgSuffixes:   append([]string(nil), orgSuffixes...),
		stopWords:     toSet(stopWords),
		provinceTags:  toSet(provinceTags),
		cityTags:      toSet(cityTags),
		districtTags:  toSet(districtTags),
	}
	sortByLengthDesc(n.adminPrefixes)
	sortByLengthDesc(n.orgSuffixes)
	return n
}

// Default returns a Normalizer configured with a small, generic English
// administrative/organizational vocabulary, matching the worked examples
// in spec.md §8 (S1-S6 use "Shanghai ... Co., Ltd." style names).
func Default() *Normalizer {
	return New(
		[]string{"SHANGHAI", "BEIJING", "GUANGZHOU", "SHENZHEN", "NANJING", "HANGZHOU", "CHENGDU", "WUHAN"},
		[]string{"CO., LTD.", "CO.,LTD.", "CO., LTD", "CO LTD", "LIMITED LIABILITY COMPANY", "LIMITED", "INCORPORATED", "CORPORATION", "COMPANY LIMITED", "CO LIMITED", "CORP", "LTD", "LLC", "INC", "CO"},
		[]string{"THE", "AND", "OF", "FOR", "ROAD", "STREET", "NO", "BUILDING"},
		[]string{"SHANGHAI", "BEIJING", "GUANGDONG", "JIANGSU", "ZHEJIANG", "SICHUAN", "HUBEI"},
		[]string{"GUANGZHOU", "SHENZHEN", "NANJING", "HANGZHOU", "CHENGDU", "WUHAN"},
		[]string{"PUDONG", "HUANGPU", "MINHANG", "CHAOYANG", "HAIDIAN", "TIANHE"},
	)
}

func toSet(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[strings.ToUpper(strings.TrimSpace(it))] = struct{}{}
	}
	return m
}

func sortByLengthDesc(items []string) {
	sort.Slice(items, func(i, j int) bool { return len(items[i]) > len(items[j]) })
}

// foldWidth normalizes the Unicode form (decompose/recompose) and folds
// full-width digits/letters to their ASCII equivalents (spec.md §4.1
// steps 1-2), then uppercases.
func foldWidth(s string) string {
	s = norm.NFKC.String(s)
	s = width.Fold.String(s)
	return strings.ToUpper(s)
}

func stripBracketsAndPunctuation(s string) string {
	s = bracketPattern.ReplaceAllString(s, " ")
	s = punctuationPattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// stripPrefix removes the longest matching administrative-region prefix
// applied greedily from the left (spec.md §4.1 step 5).
func (n *Normalizer) stripPrefix(s string) string {
	for _, p := range n.adminPrefixes {
		if p == "" {
			continue
		}
		if strings.HasPrefix(s, p) {
			rest := strings.TrimSpace(strings.TrimPrefix(s, p))
			return rest
		}
	}
	return s
}

// stripSuffix removes the longest matching organizational-suffix token
// applied from the right (spec.md §4.1 step 6).
func (n *Normalizer) stripSuffix(s string) string {
	for _, suf := range n.orgSuffixes {
		if suf == "" {
			continue
		}
		if strings.HasSuffix(s, suf) {
			rest := strings.TrimSpace(strings.TrimSuffix(s, suf))
			return rest
		}
	}
	return s
}

// NameCanonical runs the width/unicode fold, bracket/punctuation strip,
// and whitespace collapse steps only (spec.md §4.1 steps 1-4), without
// removing prefix/suffix. Exact-match L2 compares the NameCore of this value.
func (n *Normalizer) NameCanonical(name string) string {
	if name == "" {
		return ""
	}
	s := foldWidth(name)
	s = stripBracketsAndPunctuation(s)
	return s
}

// NameCore removes the administrative prefix then the organizational
// suffix from a canonical name (spec.md §4.1 steps 5-6).
func (n *Normalizer) NameCore(nameCanonical string) string {
	if nameCanonical == "" {
		return ""
	}
	s := n.stripPrefix(nameCanonical)
	s = n.stripSuffix(s)
	return strings.TrimSpace(s)
}

// NameSlices returns the first k in {2,3,4} characters of nameCanonical
// as blocking keys (spec.md §4.1 step 7), skipping lengths the string is
// too short to provide.
func NameSlices(nameCanonical string) []string {
	runes := []rune(nameCanonical)
	var slices []string
	for _, k := range []int{2, 3, 4} {
		if len(runes) >= k {
			slices = append(slices, string(runes[:k]))
		}
	}
	return slices
}

// Tokenize splits normalized text on whitespace. Segmentation is
// intentionally simple (language-appropriate segmentation is left to a
// pluggable tokenizer in more specialized deployments); it operates on
// already width-folded, punctuation-stripped text.
func Tokenize(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

// NormalizeUnit runs the full pipeline for both name and address fields
// and returns the derived NormalizedUnit (spec.md §3).
func (n *Normalizer) NormalizeUnit(u unit.Unit) unit.NormalizedUnit {
	nameCanonical := n.NameCanonical(u.Name)
	nameCore := n.NameCore(nameCanonical)

	addrCanonical := n.NameCanonical(u.Address)
	addressTokens := Tokenize(addrCanonical)
	addressKeywords := n.addressKeywords(addressTokens)

	return unit.NormalizedUnit{
		NameCanonical:   nameCanonical,
		NameCore:        nameCore,
		NameSlices:      NameSlices(nameCanonical),
		AddressTokens:   addressTokens,
		AddressKeywords: addressKeywords,
	}
}

func (n *Normalizer) addressKeywords(tokens []string) []string {
	var keywords []string
	for _, t := range tokens {
		if len([]rune(t)) < 2 {
			continue
		}
		if _, stop := n.stopWords[strings.ToUpper(t)]; stop {
			continue
		}
		keywords = append(keywords, t)
	}
	return keywords
}

// AddressComponentTag classifies a single address token as province,
// city, district, or detail using the configured dictionary (spec.md
// §4.1 "mark tokens tagged as province / city / district / detail").
type AddressComponentTag string

const (
	TagProvince AddressComponentTag = "province"
	TagCity     AddressComponentTag = "city"
	TagDistrict AddressComponentTag = "district"
	TagDetail   AddressComponentTag = "detail"
)

// TagToken classifies one normalized address token.
func (n *Normalizer) TagToken(token string) AddressComponentTag {
	up := strings.ToUpper(token)
	if _, ok := n.provinceTags[up]; ok {
		return TagProvince
	}
	if _, ok := n.cityTags[up]; ok {
		return TagCity
	}
	if _, ok := n.districtTags[up]; ok {
		return TagDistrict
	}
	return TagDetail
}

// TagTokens classifies every token in order, for use by the address
// similarity kernel's component weighting.
func (n *Normalizer) TagTokens(tokens []string) map[AddressComponentTag][]string {
	out := map[AddressComponentTag][]string{}
	for _, t := range tokens {
		tag := n.TagToken(t)
		out[tag] = append(out[tag], t)
	}
	return out
}
