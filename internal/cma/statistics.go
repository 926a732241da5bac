package cma

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/parcelworks/cma-engine/internal/model"
)

// CalculateStatistics aggregates a comparable set. Pure function; an empty
// input yields zero values with ComparableCount 0 rather than an error, since
// "nothing to aggregate" is a legitimate outcome for the caller to handle.
func CalculateStatistics(comparables []model.ComparableResult, currency string) model.Statistics {
	stats := model.Statistics{
		ComparableCount: len(comparables),
		Currency:        currency,
	}
	if len(comparables) == 0 {
		return stats
	}

	raw := make([]int64, 0, len(comparables))
	adjusted := make([]int64, 0, len(comparables))
	var similaritySum float64
	low, high := comparables[0].PriceCents, comparables[0].PriceCents

	// Price-per-area only counts candidates with a declared area; they stay
	// in the price averages regardless.
	perSqm := make([]decimal.Decimal, 0, len(comparables))

	for _, c := range comparables {
		raw = append(raw, c.PriceCents)
		adjusted = append(adjusted, c.AdjustedPriceCents)
		similaritySum += c.SimilarityScore
		if c.PriceCents < low {
			low = c.PriceCents
		}
		if c.PriceCents > high {
			high = c.PriceCents
		}
		if c.AreaSqm > 0 {
			perSqm = append(perSqm, decimal.NewFromInt(c.PriceCents).Div(decimal.NewFromFloat(c.AreaSqm)))
		}
	}

	stats.AveragePriceCents = meanCents(raw)
	stats.MedianPriceCents = medianCents(raw)
	stats.AverageAdjustedPriceCents = meanCents(adjusted)
	stats.MedianAdjustedPriceCents = medianCents(adjusted)
	stats.PriceRange = model.PriceRange{LowCents: low, HighCents: high}
	stats.AverageSimilarity = similaritySum / float64(len(comparables))

	if len(perSqm) > 0 {
		sum := decimal.Zero
		for _, v := range perSqm {
			sum = sum.Add(v)
		}
		stats.PricePerSqmCents = sum.Div(decimal.NewFromInt(int64(len(perSqm)))).Round(0).IntPart()
	}

	return stats
}

func meanCents(values []int64) int64 {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(decimal.NewFromInt(v))
	}
	return sum.Div(decimal.NewFromInt(int64(len(values)))).Round(0).IntPart()
}

func medianCents(values []int64) int64 {
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return decimal.NewFromInt(sorted[mid-1]).
		Add(decimal.NewFromInt(sorted[mid])).
		Div(decimal.NewFromInt(2)).
		Round(0).IntPart()
}
