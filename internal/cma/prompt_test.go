package cma

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelworks/cma-engine/internal/model"
)

func TestBuildInsightsPrompt(t *testing.T) {
	subject := testSubject()
	comps := []model.ComparableResult{
		{
			PropertyID:         "c1",
			Address:            "Calle Mayor 2, Madrid 28013",
			PriceCents:         34_000_000,
			AdjustedPriceCents: 35_500_000,
			Currency:           "EUR",
			SimilarityScore:    92,
			DistanceKm:         0.4,
			Adjustments: model.Adjustments{
				"bedrooms": {Difference: 1, AdjustmentCents: 1_500_000},
			},
		},
	}
	stats := CalculateStatistics(comps, "EUR")

	prompt := BuildInsightsPrompt(subject, comps, stats)

	assert.Contains(t, prompt, "Calle Mayor 1, Madrid 28013")
	assert.Contains(t, prompt, "Calle Mayor 2, Madrid 28013")
	assert.Contains(t, prompt, "bedrooms adjustment")
	assert.Contains(t, prompt, "Comparables analyzed: 1")
	// Prices are grouped for readability.
	assert.Contains(t, prompt, "EUR 340,000.00")
}

func TestParseInsights_Valid(t *testing.T) {
	insights, err := parseInsights(validInsightsJSON)
	require.NoError(t, err)

	assert.Equal(t, "Well positioned property in a stable market.", insights.ExecutiveSummary)
	assert.Equal(t, int64(33_500_000), insights.SuggestedPriceLowCents)
	assert.Equal(t, int64(35_500_000), insights.SuggestedPriceHighCents)
	assert.Equal(t, "high", insights.ConfidenceLevel)
	assert.Len(t, insights.Strengths, 2)
}

func TestParseInsights_FencedJSON(t *testing.T) {
	fenced := "```json\n" + validInsightsJSON + "\n```"

	insights, err := parseInsights(fenced)
	require.NoError(t, err)
	assert.Equal(t, "high", insights.ConfidenceLevel)
}

func TestParseInsights_SurroundingProse(t *testing.T) {
	wrapped := "Here is the analysis you asked for:\n" + validInsightsJSON + "\nLet me know if you need anything else."

	insights, err := parseInsights(wrapped)
	require.NoError(t, err)
	assert.Equal(t, "high", insights.ConfidenceLevel)
}

func TestParseInsights_MissingRequiredField(t *testing.T) {
	missing := `{
		"executive_summary": "Summary.",
		"market_position": "Mid-range.",
		"pricing_rationale": "Because.",
		"suggested_price_low_cents": 1000,
		"suggested_price_high_cents": 2000,
		"confidence_level": "low"
	}`

	_, err := parseInsights(missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recommendation")
}

func TestParseInsights_MissingPriceRange(t *testing.T) {
	noPrices := `{
		"executive_summary": "Summary.",
		"market_position": "Mid-range.",
		"pricing_rationale": "Because.",
		"recommendation": "List it.",
		"confidence_level": "low"
	}`

	_, err := parseInsights(noPrices)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price range")
}

func TestParseInsights_InvertedPriceRange(t *testing.T) {
	inverted := `{
		"executive_summary": "Summary.",
		"market_position": "Mid-range.",
		"pricing_rationale": "Because.",
		"recommendation": "List it.",
		"suggested_price_low_cents": 5000,
		"suggested_price_high_cents": 1000,
		"confidence_level": "low"
	}`

	_, err := parseInsights(inverted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inverted")
}

func TestParseInsights_NotJSON(t *testing.T) {
	_, err := parseInsights("I cannot produce JSON right now.")
	require.Error(t, err)
}

func TestCleanJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"prefix {\"a\":1} suffix", `{"a":1}`},
	}
	for i, tc := range cases {
		assert.Equal(t, tc.want, cleanJSON(tc.in), fmt.Sprintf("case %d", i))
	}
}
