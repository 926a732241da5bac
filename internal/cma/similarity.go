// Package cma implements the Comparative Market Analysis report engine:
// comparable discovery, similarity scoring, price statistics, and
// AI-assisted narrative generation.
package cma

import (
	"math"

	"github.com/parcelworks/cma-engine/internal/model"
)

// Composite similarity weights. Sub-scores are clamped into [0,100] before
// weighting so one extreme factor (a candidate 500 km away) cannot push the
// composite out of range.
const (
	weightType      = 0.20
	weightBedrooms  = 0.15
	weightBathrooms = 0.10
	weightArea      = 0.20
	weightAge       = 0.10
	weightDistance  = 0.25
)

// Per-unit sub-score penalties.
const (
	bedroomPenalty  = 20.0 // points per bedroom of difference
	bathroomPenalty = 15.0 // points per bathroom of difference
	agePenalty      = 2.0  // points per year-built difference
	distanceFalloff = 10.0 // km at which the distance sub-score reaches 0
)

// AdjustmentRates holds the cents-per-unit price correction rates.
type AdjustmentRates struct {
	BedroomCents  int64 // per bedroom of difference
	BathroomCents int64 // per bathroom of difference
	AreaCents     int64 // per sqm of difference
	AgeCents      int64 // per year-built of difference
}

// SimilarityScorer computes a 0-100 similarity score and a price adjustment
// breakdown between a subject and a candidate. Pure; safe for concurrent use.
type SimilarityScorer struct {
	rates AdjustmentRates
}

// NewSimilarityScorer creates a scorer with the given adjustment rates.
func NewSimilarityScorer(rates AdjustmentRates) *SimilarityScorer {
	return &SimilarityScorer{rates: rates}
}

// Score compares subject and candidate. Factors undeclared on either side
// (zero area, zero year built, zero bedrooms) are neutral: they are dropped
// from the weighted composite and contribute no adjustment. Adjustments are
// computed independently of similarity so the report can justify the adjusted
// price even for loosely similar candidates.
func (s *SimilarityScorer) Score(subject model.SubjectProperty, candidate model.CandidateProperty) (float64, model.Adjustments) {
	var weighted, weightSum float64
	add := func(weight, sub float64) {
		weighted += weight * clamp100(sub)
		weightSum += weight
	}

	// Property type: exact match or not.
	typeScore := 0.0
	if candidate.Type == subject.Type {
		typeScore = 100
	}
	add(weightType, typeScore)

	adjustments := model.Adjustments{}

	if subject.Bedrooms > 0 && candidate.Bedrooms > 0 {
		diff := float64(subject.Bedrooms - candidate.Bedrooms)
		add(weightBedrooms, 100-bedroomPenalty*math.Abs(diff))
		if diff != 0 {
			adjustments["bedrooms"] = model.Adjustment{
				Difference:      diff,
				AdjustmentCents: int64(diff) * s.rates.BedroomCents,
			}
		}
	}

	if subject.Bathrooms > 0 && candidate.Bathrooms > 0 {
		diff := subject.Bathrooms - candidate.Bathrooms
		add(weightBathrooms, 100-bathroomPenalty*math.Abs(diff))
		if diff != 0 {
			adjustments["bathrooms"] = model.Adjustment{
				Difference:      diff,
				AdjustmentCents: int64(math.Round(diff * float64(s.rates.BathroomCents))),
			}
		}
	}

	if subject.AreaSqm > 0 && candidate.AreaSqm > 0 {
		diff := subject.AreaSqm - candidate.AreaSqm
		add(weightArea, 100-100*math.Abs(diff)/subject.AreaSqm)
		if diff != 0 {
			adjustments["size"] = model.Adjustment{
				Difference:      diff,
				AdjustmentCents: int64(math.Round(diff * float64(s.rates.AreaCents))),
			}
		}
	}

	if subject.YearBuilt > 0 && candidate.YearBuilt > 0 {
		// A newer candidate is adjusted down toward the older subject.
		diff := float64(candidate.YearBuilt - subject.YearBuilt)
		add(weightAge, 100-agePenalty*math.Abs(diff))
		if diff != 0 {
			adjustments["age"] = model.Adjustment{
				Difference:      diff,
				AdjustmentCents: -int64(diff) * s.rates.AgeCents,
			}
		}
	}

	if hasCoordinates(subject.Latitude, subject.Longitude) && hasCoordinates(candidate.Latitude, candidate.Longitude) {
		distKm := HaversineKm(subject.Latitude, subject.Longitude, candidate.Latitude, candidate.Longitude)
		add(weightDistance, 100*(1-distKm/distanceFalloff))
	}

	if weightSum == 0 {
		return 0, adjustments
	}
	score := weighted / weightSum
	return math.Round(score*100) / 100, adjustments
}

// HaversineKm returns the great-circle distance between two coordinates.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func hasCoordinates(lat, lon float64) bool {
	return lat != 0 || lon != 0
}

func clamp100(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}
