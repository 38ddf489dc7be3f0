// Package matcher implements the Layered Matcher (spec.md §4.4): four
// strategies applied in order, returning the first conclusive decision.
package matcher

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"linkcore/internal/linkresult"
	"linkcore/internal/logging"
	"linkcore/internal/matcher/graph"
	"linkcore/internal/normalize"
	"linkcore/internal/prefilter"
	"linkcore/internal/similarity"
	"linkcore/internal/source"
	"linkcore/internal/unit"
)

// Thresholds are the configuration inputs read once per task (spec.md §4.4
// "Thresholds θ₁, θ₂ are configuration inputs").
type Thresholds struct {
	Theta1           float64 // L3 acceptance threshold, default 0.75
	Theta2           float64 // L4 acceptance threshold, default 0.70
	NameCoreHardGate float64 // L3 hard gate, default 0.70
}

// DefaultThresholds returns the spec-default threshold values.
func DefaultThresholds() Thresholds {
	return Thresholds{Theta1: 0.75, Theta2: 0.70, NameCoreHardGate: 0.70}
}

// L4NameCoreHardGate is the fixed floor below which L4 MUST NOT promote a
// candidate, independent of Theta1/Theta2 (spec.md §4.4 L4 "it MUST NOT
// promote a candidate whose name_core similarity < 0.60").
const L4NameCoreHardGate = 0.60

// Decision is the outcome of matching one PRIMARY unit.
type Decision struct {
	MatchType       linkresult.MatchType
	Matched         unit.Unit
	SimilarityScore float64
	Explanation     linkresult.MatchExplanation
}

// Matcher applies L1-L4 against a Prefilter-backed SECONDARY source.
type Matcher struct {
	normalizer *normalize.Normalizer
	prefilter  *prefilter.Prefilter
	secondary  source.SecondarySource
	arena      *graph.Arena
	thresholds Thresholds
}

// New builds a Matcher. arena may be nil, in which case L4 is skipped and
// any weak L3 candidate simply falls through to match_type=none.
func New(n *normalize.Normalizer, pf *prefilter.Prefilter, secondary source.SecondarySource, arena *graph.Arena, thresholds Thresholds) *Matcher {
	return &Matcher{normalizer: n, prefilter: pf, secondary: secondary, arena: arena, thresholds: thresholds}
}

// Match runs the full L1-L4 pipeline for one PRIMARY unit.
func (m *Matcher) Match(ctx context.Context, primary unit.Unit) Decision {
	normalizedPrimary := m.normalizer.NormalizeUnit(primary)

	if primary.Name == "" && primary.CreditCode == "" {
		return Decision{
			MatchType: linkresult.MatchNone,
			Explanation: linkresult.MatchExplanation{
				Negative:    []string{"primary record has no identifying fields"},
				FieldScores: map[string]float64{},
			},
		}
	}

	candidates, ok := m.prefilter.Candidates(ctx, primary, normalizedPrimary)
	if !ok {
		return Decision{
			MatchType: linkresult.MatchNone,
			Explanation: linkresult.MatchExplanation{
				Negative:    []string{prefilter.Unavailable},
				FieldScores: map[string]float64{},
			},
		}
	}

	if d, done := m.tryL1(primary, candidates); done {
		return d
	}
	if d, done := m.tryL2(primary, normalizedPrimary, candidates); done {
		return d
	}

	l3Decision, l3Done, l3Reject := m.tryL3(primary, candidates)
	if l3Done {
		return l3Decision
	}

	if d, done := m.tryL4(primary, candidates); done {
		return d
	}

	negative := []string{"no candidate met any acceptance threshold"}
	fieldScores := map[string]float64{}
	if l3Reject != nil {
		negative = []string{l3Reject.reason}
		fieldScores = l3Reject.fields
	}
	return Decision{
		MatchType: linkresult.MatchNone,
		Explanation: linkresult.MatchExplanation{
			Negative:    negative,
			FieldScores: fieldScores,
		},
	}
}

func creditCodeCanonical(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// tryL1 is the deterministic credit-code layer.
func (m *Matcher) tryL1(primary unit.Unit, candidates []unit.Unit) (Decision, bool) {
	code := creditCodeCanonical(primary.CreditCode)
	if code == "" {
		return Decision{}, false
	}
	var matches []unit.Unit
	for _, c := range candidates {
		if creditCodeCanonical(c.CreditCode) == code {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return Decision{}, false
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return Decision{
		MatchType:       linkresult.MatchExactCreditCode,
		Matched:         matches[0],
		SimilarityScore: 1.0,
		Explanation: linkresult.MatchExplanation{
			Positive:    []string{"credit codes equal"},
			FieldScores: map[string]float64{"credit_code": 1.0},
		},
	}, true
}

// tryL2 is the deterministic canonical-name layer. Two names are equal here
// when their canonical forms agree once the administrative prefix and the
// organizational suffix are removed (NameCore).
func (m *Matcher) tryL2(primary unit.Unit, normalizedPrimary unit.NormalizedUnit, candidates []unit.Unit) (Decision, bool) {
	if normalizedPrimary.NameCore == "" {
		return Decision{}, false
	}
	var matches []unit.Unit
	for _, c := range candidates {
		if m.normalizer.NameCore(m.normalizer.NameCanonical(c.Name)) == normalizedPrimary.NameCore {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return Decision{}, false
	}
	best := matches[0]
	if len(matches) > 1 {
		bestAddr := m.addressSimilarity(primary, best)
		for _, c := range matches[1:] {
			addr := m.addressSimilarity(primary, c)
			if addr > bestAddr || (addr == bestAddr && c.ID < best.ID) {
				best, bestAddr = c, addr
			}
		}
	}
	return Decision{
		MatchType:       linkresult.MatchExactNameCanon,
		Matched:         best,
		SimilarityScore: 1.0,
		Explanation: linkresult.MatchExplanation{
			Positive:    []string{"name_canonical equal"},
			FieldScores: map[string]float64{"name_canonical": 1.0},
		},
	}, true
}

// compositeScore computes the L3 weighted composite and its field scores.
func (m *Matcher) compositeScore(primary, candidate unit.Unit) (score float64, fieldScores map[string]float64, nameCore float64) {
	normPrimary := m.normalizer.NormalizeUnit(primary)
	normCandidate := m.normalizer.NormalizeUnit(candidate)

	nameScore := similarity.NameSimilarity(normPrimary.NameCanonical, normCandidate.NameCanonical, normPrimary.NameCore, normCandidate.NameCore)
	addrScore := m.addressSimilarity(primary, candidate)
	legalScore := similarity.PersonSimilarity(primary.LegalRepresentative, candidate.LegalRepresentative)
	phoneScore := similarity.PhoneSimilarity(primary.ContactPhone, candidate.ContactPhone)

	composite := 0.55*nameScore + 0.25*addrScore + 0.10*legalScore + 0.10*phoneScore
	fieldScores = map[string]float64{
		"name":      nameScore,
		"address":   addrScore,
		"legal_rep": legalScore,
		"phone":     phoneScore,
	}
	nameCoreSim := similarity.Round4(1.0)
	if normPrimary.NameCore != normCandidate.NameCore {
		nameCoreSim = similarity.NameSimilarity(normPrimary.NameCore, normCandidate.NameCore, normPrimary.NameCore, normCandidate.NameCore)
	}
	return similarity.Round4(composite), fieldScores, nameCoreSim
}

func (m *Matcher) addressSimilarity(primary, candidate unit.Unit) float64 {
	pTagged := m.normalizer.TagTokens(normalize.Tokenize(m.normalizer.NameCanonical(primary.Address)))
	cTagged := m.normalizer.TagTokens(normalize.Tokenize(m.normalizer.NameCanonical(candidate.Address)))
	return similarity.AddressSimilarity(pTagged, cTagged)
}

// l3Rejection carries the best-candidate evidence found by tryL3 forward to
// the final fallback explanation when neither L3 nor L4 conclusively match.
type l3Rejection struct {
	reason string
	fields map[string]float64
}

// tryL3 is the prefiltered-fuzzy layer. A non-nil *l3Rejection is returned
// whenever the best candidate failed the hard gate, so the caller can still
// attach that reason to the eventual match_type=none explanation if L4 also
// fails to rescue the record.
func (m *Matcher) tryL3(primary unit.Unit, candidates []unit.Unit) (Decision, bool, *l3Rejection) {
	var best unit.Unit
	var bestScore float64
	var bestFields map[string]float64
	var bestNameCore float64
	found := false

	for _, c := range candidates {
		score, fields, nameCore := m.compositeScore(primary, c)
		if !found || score > bestScore {
			best, bestScore, bestFields, bestNameCore, found = c, score, fields, nameCore, true
		}
	}
	if !found {
		return Decision{}, false, nil
	}

	if bestNameCore < m.thresholds.NameCoreHardGate {
		return Decision{}, false, &l3Rejection{
			reason: fmt.Sprintf("name_core below hard gate %.2f", m.thresholds.NameCoreHardGate),
			fields: bestFields,
		}
	}

	if bestScore >= m.thresholds.Theta1 {
		return Decision{
			MatchType:       linkresult.MatchFuzzyPrefiltered,
			Matched:         best,
			SimilarityScore: bestScore,
			Explanation:     explainComposite(bestFields, bestNameCore),
		}, true, nil
	}

	return Decision{}, false, nil
}

// tryL4 is the graph-assisted rescue layer. It restricts scoring to
// candidates the Arena corroborates via a shared phone, legal
// representative, or normalized address (Arena.Neighbors) instead of
// rescanning every L3 candidate — a candidate with zero shared attributes
// cannot receive a graph boost anyway (GraphBoost(0) == 0.5, never >=
// Theta2's default 0.70), so restricting first is a pure narrowing, not a
// behavior change for any candidate that would otherwise have scored.
func (m *Matcher) tryL4(primary unit.Unit, candidates []unit.Unit) (Decision, bool) {
	if m.arena == nil {
		return Decision{}, false
	}

	neighbors := m.arena.Neighbors(primary, m.normalizer)
	if len(neighbors) == 0 {
		return Decision{}, false
	}
	neighborSet := make(map[string]struct{}, len(neighbors))
	for _, id := range neighbors {
		neighborSet[id] = struct{}{}
	}
	corroborated := candidates[:0:0]
	for _, c := range candidates {
		if _, ok := neighborSet[c.ID]; ok {
			corroborated = append(corroborated, c)
		}
	}

	var best unit.Unit
	var bestCombined float64
	var bestFields map[string]float64
	var bestNameCore float64
	found := false

	for _, c := range corroborated {
		l3Score, fields, nameCore := m.compositeScore(primary, c)
		if nameCore < L4NameCoreHardGate {
			continue
		}
		sharedAttrs := graph.SharedAttributeCount(primary, c, m.normalizer)
		boost := graph.GraphBoost(sharedAttrs)
		combined := l3Score
		if boost > combined {
			combined = boost
		}
		combined = similarity.Round4(combined)
		if !found || combined > bestCombined {
			best, bestCombined, bestFields, bestNameCore, found = c, combined, fields, nameCore, true
		}
	}

	if !found || bestCombined < m.thresholds.Theta2 {
		return Decision{}, false
	}

	explanation := explainComposite(bestFields, bestNameCore)
	explanation.Positive = append(explanation.Positive, "graph-assisted: corroborating shared attributes")
	return Decision{
		MatchType:       linkresult.MatchGraphAssisted,
		Matched:         best,
		SimilarityScore: bestCombined,
		Explanation:     explanation,
	}, true
}

func explainComposite(fields map[string]float64, nameCoreSim float64) linkresult.MatchExplanation {
	var positive, negative []string
	positive = append(positive, fmt.Sprintf("name_core similarity %.2f", nameCoreSim))
	if addr, ok := fields["address"]; ok && addr >= 0.7 {
		positive = append(positive, "address district exact")
	} else if ok {
		negative = append(negative, "address mismatch")
	}
	if legal, ok := fields["legal_rep"]; ok {
		if legal >= 0.5 {
			positive = append(positive, "legal representative match")
		} else {
			negative = append(negative, "legal representative differs")
		}
	}
	if phone, ok := fields["phone"]; ok {
		if phone == 1.0 {
			positive = append(positive, "phone match")
		} else {
			negative = append(negative, "phone mismatch")
		}
	}
	return linkresult.MatchExplanation{Positive: positive, Negative: negative, FieldScores: fields}
}

// BuildArena constructs the L4 attribute-sharing arena eagerly over up to
// maxVertices SECONDARY records, per spec.md §9 "Graph structure".
func BuildArena(ctx context.Context, secondary source.SecondarySource, n *normalize.Normalizer, maxVertices int) (*graph.Arena, error) {
	arena := graph.New(maxVertices)
	units, err := secondary.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range units {
		arena.AddUnit("secondary", u, n)
	}
	logging.Matcher("graph arena built: %d vertices", arena.VertexCount())
	return arena, nil
}
