package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"linkcore/internal/normalize"
)

func TestNameSimilarityExactMatchIsOne(t *testing.T) {
	got := NameSimilarity("ACME TECHNOLOGY", "ACME TECHNOLOGY", "ACME TECHNOLOGY", "ACME TECHNOLOGY")
	assert.Equal(t, 1.0, got)
}

func TestNameSimilarityEmptyInputsAreZero(t *testing.T) {
	assert.Equal(t, 0.0, NameSimilarity("", "ACME", "", "ACME"))
	assert.Equal(t, 0.0, NameSimilarity("ACME", "", "ACME", ""))
	assert.Equal(t, 0.0, NameSimilarity("", "", "", ""))
}

func TestNameSimilarityIsSymmetric(t *testing.T) {
	a := NameSimilarity("ACME TECHNOLOGY", "ACME TECH", "ACME TECHNOLOGY", "ACME TECH")
	b := NameSimilarity("ACME TECH", "ACME TECHNOLOGY", "ACME TECH", "ACME TECHNOLOGY")
	assert.Equal(t, a, b)
}

func TestNameSimilarityScoresAreRounded(t *testing.T) {
	got := NameSimilarity("ACME TECHNOLOGY CO", "ACME TECH CORP", "ACME TECHNOLOGY", "ACME TECH")
	assert.Equal(t, Round4(got), got)
}

func TestAddressSimilarityComponentWeights(t *testing.T) {
	a := map[normalize.AddressComponentTag][]string{
		normalize.TagProvince: {"SHANGHAI"},
		normalize.TagCity:     {"SHANGHAI"},
		normalize.TagDistrict: {"PUDONG"},
		normalize.TagDetail:   {"CENTURY", "AVENUE"},
	}
	b := map[normalize.AddressComponentTag][]string{
		normalize.TagProvince: {"SHANGHAI"},
		normalize.TagCity:     {"SHANGHAI"},
		normalize.TagDistrict: {"PUDONG"},
		normalize.TagDetail:   {"CENTURY", "AVENUE"},
	}
	assert.Equal(t, 1.0, AddressSimilarity(a, b))
}

func TestAddressSimilarityNoOverlapScoresZero(t *testing.T) {
	a := map[normalize.AddressComponentTag][]string{
		normalize.TagDistrict: {"PUDONG"},
	}
	b := map[normalize.AddressComponentTag][]string{
		normalize.TagDistrict: {"HUANGPU"},
	}
	assert.Equal(t, 0.0, AddressSimilarity(a, b))
}

func TestAddressSimilarityEmptyBothComponentsScoresZero(t *testing.T) {
	a := map[normalize.AddressComponentTag][]string{}
	b := map[normalize.AddressComponentTag][]string{}
	assert.Equal(t, 0.0, AddressSimilarity(a, b))
}

func TestPersonSimilarityExactMatch(t *testing.T) {
	assert.Equal(t, 1.0, PersonSimilarity("Li Wei", "li wei"))
}

func TestPersonSimilarityProperPrefix(t *testing.T) {
	assert.Equal(t, 0.5, PersonSimilarity("Li Wei", "Li Wei Jr"))
}

func TestPersonSimilarityShortStringsNotPrefixed(t *testing.T) {
	assert.Equal(t, 0.0, PersonSimilarity("L", "Li Wei"))
}

func TestPersonSimilarityUnrelatedIsZero(t *testing.T) {
	assert.Equal(t, 0.0, PersonSimilarity("Li Wei", "Zhang San"))
}

func TestPersonSimilarityEmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, PersonSimilarity("", "Li Wei"))
}

func TestPhoneSimilarityEqualAfterStrip(t *testing.T) {
	assert.Equal(t, 1.0, PhoneSimilarity("021-5555-1234", "02155551234"))
}

func TestPhoneSimilarityStripsCountryCode(t *testing.T) {
	assert.Equal(t, 1.0, PhoneSimilarity("+86 21 5555 1234", "021 5555 1234"))
}

func TestPhoneSimilarityMismatchIsZero(t *testing.T) {
	assert.Equal(t, 0.0, PhoneSimilarity("02155551234", "02199998888"))
}

func TestPhoneSimilarityEmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, PhoneSimilarity("", "02155551234"))
}

func TestRound4RoundsToFourDecimals(t *testing.T) {
	assert.Equal(t, 0.1235, Round4(0.12345))
	assert.Equal(t, 0.1234, Round4(0.12344))
}
