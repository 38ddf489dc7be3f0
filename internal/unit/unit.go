// Package unit defines the logical business-unit shape shared by the
// PRIMARY (hazard-inspection) and SECONDARY (supervisory) sources, and its
// normalized derivative used throughout matching.
package unit

import "time"

// Unit is the logical record shape common to both sources (spec.md §3).
// Identifier-bearing fields are always strings: ingestion adapters must
// refuse to coerce a numeric-looking id or credit code to a float, since
// that silently loses leading zeros and precision (spec.md §9).
type Unit struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	CreditCode          string `json:"credit_code,omitempty"`
	Address             string `json:"address,omitempty"`
	LegalRepresentative string `json:"legal_representative,omitempty"`
	SafetyManager       string `json:"safety_manager,omitempty"`
	ContactPhone        string `json:"contact_phone,omitempty"`

	// InspectionTimestamp is used only as a tie-break in EnhancedAssociation
	// member ordering (spec.md §3 "tie-broken by most-recent inspection
	// timestamp"). It is meaningful on SECONDARY records; zero on PRIMARY.
	InspectionTimestamp time.Time `json:"inspection_timestamp,omitempty"`

	// BuildingID is an optional shared facility identifier used by the
	// building_based aggregation strategy (spec.md §4.7).
	BuildingID string `json:"building_id,omitempty"`
}

// LogicalFieldCount is the number of logical Unit fields used by
// data-quality scoring (spec.md §4.7 "7 logical Unit fields"): name,
// credit_code, address, legal_representative, safety_manager,
// contact_phone, and id.
const LogicalFieldCount = 7

// NonEmptyFieldCount returns how many of the 7 logical fields are non-empty.
func (u Unit) NonEmptyFieldCount() int {
	n := 0
	for _, v := range []string{u.ID, u.Name, u.CreditCode, u.Address, u.LegalRepresentative, u.SafetyManager, u.ContactPhone} {
		if v != "" {
			n++
		}
	}
	return n
}

// NormalizedUnit is the derived, cacheable normalization of a Unit
// (spec.md §3).
type NormalizedUnit struct {
	NameCanonical   string   `json:"name_canonical"`
	NameCore        string   `json:"name_core"`
	NameSlices      []string `json:"name_slices"`
	AddressTokens   []string `json:"address_tokens"`
	AddressKeywords []string `json:"address_keywords"`
}
