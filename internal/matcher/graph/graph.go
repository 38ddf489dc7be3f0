// Package graph implements the in-memory attribute-sharing arena used by
// the Layered Matcher's L4 graph-assisted rescue (spec.md §4.4). Vertices
// are units from either source; edges connect units sharing a phone, legal
// representative, or normalized address.
package graph

import (
	"strings"

	"linkcore/internal/normalize"
	"linkcore/internal/unit"
)

// Arena is an attribute-sharing graph represented as three bucket indexes
// (one per shared-attribute kind) rather than an explicit adjacency list,
// so construction is O(n) and a lookup is O(bucket size) instead of O(n^2).
type Arena struct {
	phoneBuckets    map[string][]string
	legalRepBuckets map[string][]string
	addressBuckets  map[string][]string

	vertexSide  map[string]string // vertex key -> "primary" | "secondary"
	maxVertices int
}

// New builds an empty Arena capped at maxVertices (spec.md §6
// graph_max_vertices configuration input); beyond the cap, AddUnit is a
// no-op so the graph degrades to "no rescue" rather than unbounded memory.
func New(maxVertices int) *Arena {
	return &Arena{
		phoneBuckets:    map[string][]string{},
		legalRepBuckets: map[string][]string{},
		addressBuckets:  map[string][]string{},
		vertexSide:      map[string]string{},
		maxVertices:     maxVertices,
	}
}

func vertexKey(side, id string) string { return side + ":" + id }

// AddUnit indexes one unit's shared attributes into the arena's buckets.
func (a *Arena) AddUnit(side string, u unit.Unit, n *normalize.Normalizer) {
	if a.maxVertices > 0 && len(a.vertexSide) >= a.maxVertices {
		return
	}
	key := vertexKey(side, u.ID)
	a.vertexSide[key] = side

	if phone := stripPhone(u.ContactPhone); phone != "" {
		a.phoneBuckets[phone] = append(a.phoneBuckets[phone], key)
	}
	if rep := normalizePerson(u.LegalRepresentative); rep != "" {
		a.legalRepBuckets[rep] = append(a.legalRepBuckets[rep], key)
	}
	if u.Address != "" {
		if addrCanonical := n.NameCanonical(u.Address); addrCanonical != "" {
			a.addressBuckets[addrCanonical] = append(a.addressBuckets[addrCanonical], key)
		}
	}
}

// SharedAttributeCount returns how many distinct attribute kinds (phone,
// legal representative, normalized address) connect the two units.
func SharedAttributeCount(primary, secondary unit.Unit, n *normalize.Normalizer) int {
	count := 0
	if p := stripPhone(primary.ContactPhone); p != "" && p == stripPhone(secondary.ContactPhone) {
		count++
	}
	if r := normalizePerson(primary.LegalRepresentative); r != "" && r == normalizePerson(secondary.LegalRepresentative) {
		count++
	}
	if primary.Address != "" && secondary.Address != "" {
		if n.NameCanonical(primary.Address) == n.NameCanonical(secondary.Address) {
			count++
		}
	}
	return count
}

// GraphBoost implements the L4 scoring formula (spec.md §4.4):
// min(1.0, 0.5 + 0.2*shared_attr_count).
func GraphBoost(sharedAttrCount int) float64 {
	boost := 0.5 + 0.2*float64(sharedAttrCount)
	if boost > 1.0 {
		return 1.0
	}
	return boost
}

// Neighbors returns every SECONDARY unit id sharing at least one attribute
// (phone, legal representative, or normalized address) with the given
// PRIMARY unit, restricting L4 scoring to corroborated candidates instead
// of scanning every SECONDARY vertex.
func (a *Arena) Neighbors(primary unit.Unit, n *normalize.Normalizer) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(keys []string) {
		for _, k := range keys {
			if a.vertexSide[k] != "secondary" {
				continue
			}
			id := k[len("secondary:"):]
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	if phone := stripPhone(primary.ContactPhone); phone != "" {
		add(a.phoneBuckets[phone])
	}
	if rep := normalizePerson(primary.LegalRepresentative); rep != "" {
		add(a.legalRepBuckets[rep])
	}
	if primary.Address != "" {
		if addrCanonical := n.NameCanonical(primary.Address); addrCanonical != "" {
			add(a.addressBuckets[addrCanonical])
		}
	}
	return out
}

// VertexCount reports how many units the arena currently indexes, used by
// the task engine to log graph construction size.
func (a *Arena) VertexCount() int { return len(a.vertexSide) }

func stripPhone(raw string) string {
	var b []byte
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b = append(b, byte(r))
		}
	}
	return string(b)
}

func normalizePerson(raw string) string {
	return strings.ToUpper(strings.Join(strings.Fields(raw), " "))
}
