// Package prefilter implements the Candidate Prefilter (spec.md §4.3): a
// pure, side-effect-free reader that produces a small, high-recall
// candidate set of SECONDARY units for one PRIMARY record.
package prefilter

import (
	"context"

	"linkcore/internal/logging"
	"linkcore/internal/normalize"
	"linkcore/internal/source"
	"linkcore/internal/unit"
)

// Unavailable is the negative-evidence string the Matcher attaches when the
// Prefilter could not reach the candidate store (spec.md §4.3 "Error
// conditions").
const Unavailable = "candidate store unavailable"

// Config carries the tunables read once per task (spec.md §6).
type Config struct {
	CandidateCapK    int // default 100
	TextSearchLimitT int // default 50
}

// DefaultConfig returns the spec-default Prefilter tunables.
func DefaultConfig() Config {
	return Config{CandidateCapK: 100, TextSearchLimitT: 50}
}

// Prefilter generates candidates from a SecondarySource using the ordered,
// short-circuiting query sequence in spec.md §4.3.
type Prefilter struct {
	secondary source.SecondarySource
	normalizer *normalize.Normalizer
	cfg       Config
}

// New builds a Prefilter over the given SECONDARY source.
func New(secondary source.SecondarySource, normalizer *normalize.Normalizer, cfg Config) *Prefilter {
	return &Prefilter{secondary: secondary, normalizer: normalizer, cfg: cfg}
}

// Candidates produces at most cfg.CandidateCapK SECONDARY units for the
// given PRIMARY unit, in descending-precision order, de-duplicated by id.
// It never returns an error to the caller: on a transient read failure it
// logs and returns (nil, false) so the Matcher can record the "candidate
// store unavailable" negative evidence.
func (p *Prefilter) Candidates(ctx context.Context, primary unit.Unit, normalized unit.NormalizedUnit) ([]unit.Unit, bool) {
	seen := map[string]struct{}{}
	var out []unit.Unit

	addAll := func(units []unit.Unit) {
		for _, u := range units {
			if _, ok := seen[u.ID]; ok {
				continue
			}
			seen[u.ID] = struct{}{}
			out = append(out, u)
		}
	}

	capK := p.cfg.CandidateCapK
	if capK <= 0 {
		capK = 100
	}

	// 1. Exact credit_code lookup.
	if primary.CreditCode != "" {
		units, err := p.secondary.ByCreditCode(ctx, primary.CreditCode)
		if err != nil {
			return p.fail(err)
		}
		addAll(units)
	}
	if len(out) >= capK {
		return out[:capK], true
	}

	// 2. Exact name_canonical lookup.
	if normalized.NameCanonical != "" {
		units, err := p.secondary.ByNameCanonical(ctx, normalized.NameCanonical)
		if err != nil {
			return p.fail(err)
		}
		addAll(units)
	}
	if len(out) >= capK {
		return out[:capK], true
	}

	// 3. Name prefix/slice lookup.
	if len(normalized.NameSlices) > 0 {
		units, err := p.secondary.BySlices(ctx, normalized.NameSlices)
		if err != nil {
			return p.fail(err)
		}
		addAll(units)
	}
	if len(out) >= capK {
		return out[:capK], true
	}

	// 4. Full-text search on name tokens, limited to T hits.
	tokens := normalize.Tokenize(normalized.NameCanonical)
	if len(tokens) > 0 {
		limit := p.cfg.TextSearchLimitT
		if limit <= 0 {
			limit = 50
		}
		units, err := p.secondary.ByNameTokens(ctx, tokens, limit)
		if err != nil {
			return p.fail(err)
		}
		addAll(units)
	}
	if len(out) >= capK {
		return out[:capK], true
	}

	// 5. Address-keyword intersection, only when name-based candidates are
	// fewer than K/2, limited to 30 hits.
	if len(out) < capK/2 && len(normalized.AddressKeywords) > 0 {
		units, err := p.secondary.ByAddressKeywords(ctx, normalized.AddressKeywords, 30)
		if err != nil {
			return p.fail(err)
		}
		addAll(units)
	}

	if len(out) > capK {
		out = out[:capK]
	}
	return out, true
}

func (p *Prefilter) fail(err error) ([]unit.Unit, bool) {
	logging.Prefilter("candidate store read failed: %v", err)
	return nil, false
}
