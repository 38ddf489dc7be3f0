package matcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkcore/internal/linkresult"
	"linkcore/internal/matcher/graph"
	"linkcore/internal/normalize"
	"linkcore/internal/prefilter"
	"linkcore/internal/unit"
)

type memSecondary struct {
	units []unit.Unit
}

func (m *memSecondary) ByCreditCode(ctx context.Context, code string) ([]unit.Unit, error) {
	var out []unit.Unit
	for _, u := range m.units {
		if u.CreditCode == code {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memSecondary) ByNameCanonical(ctx context.Context, name string) ([]unit.Unit, error) {
	n := normalize.Default()
	var out []unit.Unit
	for _, u := range m.units {
		if n.NameCanonical(u.Name) == name {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memSecondary) BySlices(ctx context.Context, slices []string) ([]unit.Unit, error) {
	n := normalize.Default()
	sliceSet := map[string]struct{}{}
	for _, s := range slices {
		sliceSet[s] = struct{}{}
	}
	var out []unit.Unit
	for _, u := range m.units {
		for _, s := range normalize.NameSlices(n.NameCanonical(u.Name)) {
			if _, ok := sliceSet[s]; ok {
				out = append(out, u)
				break
			}
		}
	}
	return out, nil
}

func (m *memSecondary) ByNameTokens(ctx context.Context, tokens []string, limit int) ([]unit.Unit, error) {
	return m.units, nil
}

func (m *memSecondary) ByAddressKeywords(ctx context.Context, keywords []string, limit int) ([]unit.Unit, error) {
	return m.units, nil
}

func (m *memSecondary) ByUnitID(ctx context.Context, id string) (unit.Unit, bool, error) {
	for _, u := range m.units {
		if u.ID == id {
			return u, true, nil
		}
	}
	return unit.Unit{}, false, nil
}

func (m *memSecondary) ByBuildingID(ctx context.Context, buildingID string) ([]unit.Unit, error) {
	var out []unit.Unit
	for _, u := range m.units {
		if u.BuildingID == buildingID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memSecondary) All(ctx context.Context) ([]unit.Unit, error) {
	return m.units, nil
}

func newMatcher(t *testing.T, units []unit.Unit, arena *graph.Arena) *Matcher {
	t.Helper()
	n := normalize.Default()
	sec := &memSecondary{units: units}
	pf := prefilter.New(sec, n, prefilter.DefaultConfig())
	return New(n, pf, sec, arena, DefaultThresholds())
}

func TestL1CreditCodeExact(t *testing.T) {
	secondary := unit.Unit{ID: "S7", Name: "FOO TRADING", CreditCode: "91000000MA1ABCDE0X"}
	m := newMatcher(t, []unit.Unit{secondary}, nil)

	primary := unit.Unit{ID: "P1", Name: "Foo Trading Co., Ltd.", CreditCode: "91000000MA1ABCDE0X"}
	d := m.Match(context.Background(), primary)

	assert.Equal(t, linkresult.MatchExactCreditCode, d.MatchType)
	assert.Equal(t, 1.0, d.SimilarityScore)
	assert.Equal(t, "S7", d.Matched.ID)
	assert.Contains(t, d.Explanation.Positive, "credit codes equal")
}

func TestL1PicksLexicographicallySmallestOnCollision(t *testing.T) {
	a := unit.Unit{ID: "S9", Name: "A", CreditCode: "CODE1"}
	b := unit.Unit{ID: "S2", Name: "B", CreditCode: "CODE1"}
	m := newMatcher(t, []unit.Unit{a, b}, nil)

	primary := unit.Unit{ID: "P1", Name: "X", CreditCode: "CODE1"}
	d := m.Match(context.Background(), primary)

	assert.Equal(t, "S2", d.Matched.ID)
}

func TestL2CanonicalNameExact(t *testing.T) {
	secondary := unit.Unit{ID: "S9", Name: "ACME TECHNOLOGY"}
	m := newMatcher(t, []unit.Unit{secondary}, nil)

	primary := unit.Unit{ID: "P2", Name: "Shanghai Acme Technology Co., Ltd."}
	d := m.Match(context.Background(), primary)

	require.Equal(t, linkresult.MatchExactNameCanon, d.MatchType)
	assert.Equal(t, 1.0, d.SimilarityScore)
}

func TestEmptyPrimaryIdentifyingFieldsYieldsNone(t *testing.T) {
	m := newMatcher(t, nil, nil)
	d := m.Match(context.Background(), unit.Unit{ID: "P0"})
	assert.Equal(t, linkresult.MatchNone, d.MatchType)
	assert.Contains(t, d.Explanation.Negative, "primary record has no identifying fields")
}

func TestL3RejectedByHardGate(t *testing.T) {
	secondary := unit.Unit{
		ID:                  "S4",
		Name:                "Completely Unrelated Entity Name",
		Address:             "Shanghai Pudong Main Road",
		ContactPhone:        "02155551234",
	}
	m := newMatcher(t, []unit.Unit{secondary}, nil)

	primary := unit.Unit{
		ID:                  "P4",
		Name:                "Totally Different Org",
		Address:             "Shanghai Pudong Main Road",
		ContactPhone:        "02155551234",
	}
	d := m.Match(context.Background(), primary)

	assert.Equal(t, linkresult.MatchNone, d.MatchType)
	assert.Equal(t, 0.0, d.SimilarityScore)
}

func TestL4GraphAssistedRescue(t *testing.T) {
	secondary := unit.Unit{
		ID:                  "S5",
		Name:                "Acme Safety Services",
		LegalRepresentative: "Li Wei",
		ContactPhone:        "02155551234",
	}
	n := normalize.Default()
	arena := graph.New(0)
	arena.AddUnit("secondary", secondary, n)

	m := newMatcher(t, []unit.Unit{secondary}, arena)
	primary := unit.Unit{
		ID:                  "P5",
		Name:                "Acme Safety Service Corp",
		LegalRepresentative: "Li Wei",
		ContactPhone:        "02155551234",
	}
	d := m.Match(context.Background(), primary)

	assert.Equal(t, linkresult.MatchGraphAssisted, d.MatchType)
	assert.GreaterOrEqual(t, d.SimilarityScore, 0.70)
}
