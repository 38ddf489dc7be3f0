// Package linkresult defines the LinkageResult and EnhancedAssociation
// record shapes (spec.md §3) and the match-confidence derivation shared by
// the Matcher, Store Adapter, and Aggregator.
package linkresult

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"linkcore/internal/unit"
)

// MatchType enumerates the strategy that produced a LinkageResult.
type MatchType string

const (
	MatchExactCreditCode   MatchType = "exact_credit_code"
	MatchExactNameCanon    MatchType = "exact_name_canonical"
	MatchFuzzyPrefiltered  MatchType = "fuzzy_prefiltered"
	MatchFuzzyGlobal       MatchType = "fuzzy_global"
	MatchGraphAssisted     MatchType = "graph_assisted"
	MatchNone              MatchType = "none"

	// MatchBuildingColocated marks an AssociatedRecord membership evidenced
	// purely by a shared building_id (spec.md §4.7 building_based
	// strategy); it never appears on a LinkageResult, only inside
	// AssociatedRecord.
	MatchBuildingColocated MatchType = "building_colocated"
)

// Confidence is the coarse bucket derived from MatchType + score.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// ReviewStatus is the human-review state of a LinkageResult (spec.md §3
// invariant 5).
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// IsValidTransition reports whether a review-status transition is allowed:
// pending -> approved|rejected, and either terminal state back to pending.
func IsValidTransition(from, to ReviewStatus) bool {
	switch to {
	case ReviewPending, ReviewApproved, ReviewRejected:
	default:
		return false
	}
	if from == to {
		return true
	}
	switch from {
	case ReviewPending:
		return to == ReviewApproved || to == ReviewRejected
	case ReviewApproved, ReviewRejected:
		return to == ReviewPending
	default:
		return false
	}
}

// MatchExplanation is the structured rationale attached to every DONE state
// (spec.md §4.4 "Explanation generation").
type MatchExplanation struct {
	Positive    []string           `json:"positive"`
	Negative    []string           `json:"negative"`
	FieldScores map[string]float64 `json:"field_scores"`
}

// LinkageResult is one record per PRIMARY unit, regardless of outcome
// (spec.md §3).
type LinkageResult struct {
	MatchID string `json:"match_id"`

	PrimaryID                  string `json:"primary_id"`
	PrimaryName                string `json:"primary_name"`
	PrimaryCreditCode          string `json:"primary_credit_code,omitempty"`
	PrimaryAddress             string `json:"primary_address,omitempty"`
	PrimaryLegalRepresentative string `json:"primary_legal_representative,omitempty"`
	PrimarySafetyManager       string `json:"primary_safety_manager,omitempty"`
	PrimaryContactPhone        string `json:"primary_contact_phone,omitempty"`
	// PrimaryBuildingID is snapshotted so the Aggregator's building_based
	// strategy can join on it without re-reading the PRIMARY source
	// (spec.md §4.7).
	PrimaryBuildingID string `json:"primary_building_id,omitempty"`

	MatchedID                  string `json:"matched_id,omitempty"`
	MatchedName                string `json:"matched_name,omitempty"`
	MatchedCreditCode          string `json:"matched_credit_code,omitempty"`
	MatchedAddress             string `json:"matched_address,omitempty"`
	MatchedLegalRepresentative string `json:"matched_legal_representative,omitempty"`
	MatchedSafetyManager       string `json:"matched_safety_manager,omitempty"`
	MatchedContactPhone        string `json:"matched_contact_phone,omitempty"`

	MatchType        MatchType        `json:"match_type"`
	SimilarityScore  float64          `json:"similarity_score"`
	MatchConfidence  Confidence       `json:"match_confidence"`
	MatchExplanation MatchExplanation `json:"match_explanation"`

	ReviewStatus    ReviewStatus `json:"review_status"`
	ReviewNotes     string       `json:"review_notes,omitempty"`
	Reviewer        string       `json:"reviewer,omitempty"`
	ReviewTimestamp time.Time    `json:"review_timestamp,omitempty"`

	CreatedTime time.Time `json:"created_time"`
	UpdatedTime time.Time `json:"updated_time"`
}

// ComputeMatchID derives the stable match_id: hash of primary_id +
// matched_id-or-NONE (spec.md §3).
func ComputeMatchID(primaryID, matchedID string) string {
	key := matchedID
	if key == "" {
		key = "NONE"
	}
	sum := sha256.Sum256([]byte(primaryID + "|" + key))
	return hex.EncodeToString(sum[:])
}

// DeriveConfidence maps a match type + score to the coarse confidence bucket.
func DeriveConfidence(matchType MatchType, score float64) Confidence {
	switch matchType {
	case MatchExactCreditCode, MatchExactNameCanon:
		return ConfidenceHigh
	case MatchNone:
		return ConfidenceNone
	}
	switch {
	case score >= 0.85:
		return ConfidenceHigh
	case score >= 0.70:
		return ConfidenceMedium
	case score > 0:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}

// SnapshotPrimary copies the PRIMARY-side snapshot fields from a Unit onto
// a LinkageResult being constructed.
func SnapshotPrimary(r *LinkageResult, u unit.Unit) {
	r.PrimaryID = u.ID
	r.PrimaryName = u.Name
	r.PrimaryCreditCode = u.CreditCode
	r.PrimaryAddress = u.Address
	r.PrimaryLegalRepresentative = u.LegalRepresentative
	r.PrimarySafetyManager = u.SafetyManager
	r.PrimaryContactPhone = u.ContactPhone
	r.PrimaryBuildingID = u.BuildingID
}

// SnapshotMatched copies the SECONDARY-side snapshot fields onto a
// LinkageResult being constructed.
func SnapshotMatched(r *LinkageResult, u unit.Unit) {
	r.MatchedID = u.ID
	r.MatchedName = u.Name
	r.MatchedCreditCode = u.CreditCode
	r.MatchedAddress = u.Address
	r.MatchedLegalRepresentative = u.LegalRepresentative
	r.MatchedSafetyManager = u.SafetyManager
	r.MatchedContactPhone = u.ContactPhone
}

// AssociatedRecord is one member of an EnhancedAssociation group (spec.md §3).
type AssociatedRecord struct {
	SecondaryID          string            `json:"secondary_id"`
	MatchType            MatchType         `json:"match_type"`
	SimilarityScore      float64           `json:"similarity_score"`
	InspectionTimestamp  time.Time         `json:"inspection_timestamp,omitempty"`
	SnapshotFields       map[string]string `json:"snapshot_fields"`
}

// AssociationStrategy enumerates the Aggregator's grouping strategies
// (spec.md §4.7).
type AssociationStrategy string

const (
	StrategyBuildingBased AssociationStrategy = "building_based"
	StrategyUnitBased     AssociationStrategy = "unit_based"
	StrategyHybrid        AssociationStrategy = "hybrid"
)

// EnhancedAssociation is one per PRIMARY unit with at least one plausible
// secondary (spec.md §3).
type EnhancedAssociation struct {
	AssociationID string `json:"association_id"`

	PrimaryID      string `json:"primary_id"`
	PrimaryName    string `json:"primary_name"`
	PrimarySnapshot unit.Unit `json:"primary_snapshot"`

	AssociatedRecords     []AssociatedRecord  `json:"associated_records"`
	AssociationStrategy   AssociationStrategy `json:"association_strategy"`
	AssociationConfidence float64             `json:"association_confidence"`
	DataQualityScore      float64             `json:"data_quality_score"`

	GeneratedTime time.Time `json:"generated_time"`
}

// ComputeAssociationID derives the stable association_id: hash of
// primary_id + strategy (spec.md §3).
func ComputeAssociationID(primaryID string, strategy AssociationStrategy) string {
	sum := sha256.Sum256([]byte(primaryID + "|" + string(strategy)))
	return hex.EncodeToString(sum[:])
}
