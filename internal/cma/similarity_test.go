package cma

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelworks/cma-engine/internal/model"
)

func testRates() AdjustmentRates {
	return AdjustmentRates{
		BedroomCents:  1_500_000,
		BathroomCents: 750_000,
		AreaCents:     150_000,
		AgeCents:      50_000,
	}
}

func TestSimilarityScore_IdenticalProperty(t *testing.T) {
	scorer := NewSimilarityScorer(testRates())
	subject := testSubject()
	candidate := testCandidate("prop-2")
	// Same coordinates so the distance sub-score is 100 too.
	candidate.Latitude = subject.Latitude
	candidate.Longitude = subject.Longitude

	score, adjustments := scorer.Score(subject, candidate)

	assert.Equal(t, 100.0, score)
	assert.Empty(t, adjustments)
}

func TestSimilarityScore_Bounds(t *testing.T) {
	scorer := NewSimilarityScorer(testRates())
	subject := testSubject()

	// Wildly different candidate: wrong type, far away, huge diffs.
	candidate := testCandidate("prop-2")
	candidate.Type = model.PropertyTypeCommercial
	candidate.Latitude = 48.8566 // Paris, ~1000 km off
	candidate.Longitude = 2.3522
	candidate.Bedrooms = 12
	candidate.Bathrooms = 9
	candidate.AreaSqm = 2000
	candidate.YearBuilt = 1900

	score, _ := scorer.Score(subject, candidate)

	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 100.0)
}

func TestSimilarityScore_UndeclaredAttributesAreNeutral(t *testing.T) {
	scorer := NewSimilarityScorer(testRates())
	subject := testSubject()
	subject.AreaSqm = 0
	subject.YearBuilt = 0

	candidate := testCandidate("prop-2")
	candidate.Latitude = subject.Latitude
	candidate.Longitude = subject.Longitude
	candidate.AreaSqm = 500 // irrelevant: subject has no area
	candidate.YearBuilt = 1950

	score, adjustments := scorer.Score(subject, candidate)

	// Remaining declared factors all match, so the composite stays 100.
	assert.Equal(t, 100.0, score)
	assert.NotContains(t, adjustments, "size")
	assert.NotContains(t, adjustments, "age")
}

func TestSimilarityScore_BedroomAdjustmentDirection(t *testing.T) {
	scorer := NewSimilarityScorer(testRates())
	subject := testSubject() // 3 bedrooms

	candidate := testCandidate("prop-2")
	candidate.Bedrooms = 2 // candidate has fewer, adjust its price up

	_, adjustments := scorer.Score(subject, candidate)

	require.Contains(t, adjustments, "bedrooms")
	assert.Equal(t, 1.0, adjustments["bedrooms"].Difference)
	assert.Equal(t, int64(1_500_000), adjustments["bedrooms"].AdjustmentCents)
}

func TestSimilarityScore_AgeAdjustmentNegatesNewerCandidate(t *testing.T) {
	scorer := NewSimilarityScorer(testRates())
	subject := testSubject() // built 2010

	candidate := testCandidate("prop-2")
	candidate.YearBuilt = 2020 // newer candidate, adjust its price down

	_, adjustments := scorer.Score(subject, candidate)

	require.Contains(t, adjustments, "age")
	assert.Equal(t, 10.0, adjustments["age"].Difference)
	assert.Equal(t, int64(-500_000), adjustments["age"].AdjustmentCents)
}

func TestSimilarityScore_AdjustedPriceInvariant(t *testing.T) {
	scorer := NewSimilarityScorer(testRates())
	subject := testSubject()

	candidate := testCandidate("prop-2")
	candidate.Bedrooms = 4
	candidate.Bathrooms = 3
	candidate.AreaSqm = 150
	candidate.YearBuilt = 2000

	_, adjustments := scorer.Score(subject, candidate)

	var sum int64
	for _, adj := range adjustments {
		sum += adj.AdjustmentCents
	}
	assert.Equal(t, sum, adjustments.TotalCents())
}

func TestSimilarityScore_TypeMismatchLowersScore(t *testing.T) {
	scorer := NewSimilarityScorer(testRates())
	subject := testSubject()

	same := testCandidate("prop-2")
	other := testCandidate("prop-3")
	other.Type = model.PropertyTypeApartment

	sameScore, _ := scorer.Score(subject, same)
	otherScore, _ := scorer.Score(subject, other)

	assert.Greater(t, sameScore, otherScore)
}

func TestHaversineKm(t *testing.T) {
	// Madrid to Barcelona, roughly 505 km.
	d := HaversineKm(40.4168, -3.7038, 41.3874, 2.1686)
	assert.InDelta(t, 505, d, 10)

	assert.Equal(t, 0.0, HaversineKm(40.0, -3.0, 40.0, -3.0))
}
