// Package source declares the read-only collaborator interfaces the engine
// expects from the two administrative data sources (spec.md §1, §2). Both
// sources are "assumed to be a document database exposing indexed queries
// and bulk upserts" — concrete adapters live outside this module's scope;
// implementations used by tests are in-memory.
package source

import (
	"context"

	"linkcore/internal/unit"
)

// PrimaryPage is one page of PRIMARY records read in primary_id ascending
// order (spec.md §4.6 "PRIMARY records are read in a stable order").
type PrimaryPage struct {
	Records    []unit.Unit
	NextCursor string // last_processed_primary_id of this page; "" when exhausted
	HasMore    bool
}

// PrimarySource iterates the hazard-inspection registry.
type PrimarySource interface {
	// Count returns the total PRIMARY record count, or the unmatched count
	// when onlyUnmatched is true (incremental mode), per spec.md §4.6 step 1.
	Count(ctx context.Context, onlyUnmatched bool) (int, error)

	// Page returns up to pageSize records with primary_id strictly greater
	// than afterID (empty afterID starts from the beginning), ordered by
	// primary_id ascending.
	Page(ctx context.Context, afterID string, pageSize int, onlyUnmatched bool) (PrimaryPage, error)
}

// SecondarySource exposes the indexed lookups the Candidate Prefilter relies
// on (spec.md §4.3). Implementations MUST NOT raise on transient failure —
// they return an error, and the Prefilter treats any error identically
// (empty candidate list, "candidate store unavailable" evidence).
type SecondarySource interface {
	// ByCreditCode returns SECONDARY units with the given normalized,
	// uppercase credit code (spec.md §4.3 step 1).
	ByCreditCode(ctx context.Context, creditCode string) ([]unit.Unit, error)

	// ByNameCanonical returns SECONDARY units with an exact name_canonical
	// match (spec.md §4.3 step 2).
	ByNameCanonical(ctx context.Context, nameCanonical string) ([]unit.Unit, error)

	// BySlices returns the union of SECONDARY units whose name_slices
	// intersect any of the given slices (spec.md §4.3 step 3).
	BySlices(ctx context.Context, slices []string) ([]unit.Unit, error)

	// ByNameTokens runs a full-text search over name tokens, capped at limit
	// hits (spec.md §4.3 step 4, T=50 default).
	ByNameTokens(ctx context.Context, tokens []string, limit int) ([]unit.Unit, error)

	// ByAddressKeywords returns SECONDARY units whose address_keywords
	// intersect the given keywords, capped at limit hits (spec.md §4.3
	// step 5, limit=30).
	ByAddressKeywords(ctx context.Context, keywords []string, limit int) ([]unit.Unit, error)

	// ByUnitID looks a single SECONDARY unit up by id, used by the
	// Aggregator's unit_based strategy.
	ByUnitID(ctx context.Context, id string) (unit.Unit, bool, error)

	// ByBuildingID returns every SECONDARY unit sharing a building
	// identifier, used by the Aggregator's building_based strategy.
	ByBuildingID(ctx context.Context, buildingID string) ([]unit.Unit, error)

	// All returns every SECONDARY unit, used by the Graph Index to build
	// the attribute-sharing arena (spec.md §4.4 L4). Implementations may
	// cap or page internally; the Graph Index treats a short read as a
	// partial graph, never an error.
	All(ctx context.Context) ([]unit.Unit, error)
}
