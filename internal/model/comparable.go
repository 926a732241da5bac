package model

import "time"

// Adjustment is a signed price correction for one factor difference between
// the subject and a comparable. Difference is expressed in the factor's own
// unit (bedrooms, sqm, years); AdjustmentCents is the resulting price delta
// applied to the comparable's price.
type Adjustment struct {
	Difference      float64 `json:"difference"`
	AdjustmentCents int64   `json:"adjustment_cents"`
}

// Adjustments maps factor name (bedrooms, bathrooms, size, age) to its
// adjustment. Factors with undeclared attributes on either side are absent.
type Adjustments map[string]Adjustment

// TotalCents sums all adjustment deltas.
func (a Adjustments) TotalCents() int64 {
	var total int64
	for _, adj := range a {
		total += adj.AdjustmentCents
	}
	return total
}

// ComparableResult is one scored comparable. Invariant:
// AdjustedPriceCents == PriceCents + Adjustments.TotalCents().
type ComparableResult struct {
	PropertyID         string      `json:"property_id"`
	Address            string      `json:"address"`
	City               string      `json:"city"`
	PriceCents         int64       `json:"price_cents"`
	Currency           string      `json:"currency"`
	SimilarityScore    float64     `json:"similarity_score"`
	Adjustments        Adjustments `json:"adjustments"`
	AdjustedPriceCents int64       `json:"adjusted_price_cents"`
	DistanceKm         float64     `json:"distance_km"`
	Bedrooms           int         `json:"bedrooms"`
	Bathrooms          float64     `json:"bathrooms"`
	AreaSqm            float64     `json:"area_sqm"`
	YearBuilt          int         `json:"year_built,omitempty"`
	ListedAt           time.Time   `json:"listed_at"`
}

// PriceRange is the raw-price envelope over a comparable set.
type PriceRange struct {
	LowCents  int64 `json:"low_cents"`
	HighCents int64 `json:"high_cents"`
}

// Statistics aggregates a comparable set. Immutable once computed; all fields
// are zero values when ComparableCount is 0.
type Statistics struct {
	AveragePriceCents         int64      `json:"average_price_cents"`
	MedianPriceCents          int64      `json:"median_price_cents"`
	AverageAdjustedPriceCents int64      `json:"average_adjusted_price_cents"`
	MedianAdjustedPriceCents  int64      `json:"median_adjusted_price_cents"`
	PricePerSqmCents          int64      `json:"price_per_sqm_cents"`
	PriceRange                PriceRange `json:"price_range"`
	ComparableCount           int        `json:"comparable_count"`
	AverageSimilarity         float64    `json:"average_similarity"`
	Currency                  string     `json:"currency"`
}

// SearchCriteria records the post-defaulting parameters a comparable search
// actually ran with, so downstream consumers can verify them.
type SearchCriteria struct {
	RadiusKm       float64      `json:"radius_km"`
	MonthsBack     int          `json:"months_back"`
	PropertyType   PropertyType `json:"property_type"`
	MaxComparables int          `json:"max_comparables"`
}

// FindResult is the outcome of one comparable search. An empty Comparables
// slice with TotalFound 0 is a legitimate result, not an error.
type FindResult struct {
	Comparables []ComparableResult `json:"comparables"`
	TotalFound  int                `json:"total_found"`
	Criteria    SearchCriteria     `json:"search_criteria"`
}
