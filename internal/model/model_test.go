package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectProperty_Address(t *testing.T) {
	p := SubjectProperty{Street: "Calle Mayor 1", City: "Madrid", PostalCode: "28013"}
	assert.Equal(t, "Calle Mayor 1, Madrid 28013", p.Address())

	bare := SubjectProperty{Street: "Calle Mayor 1"}
	assert.Equal(t, "Calle Mayor 1", bare.Address())
}

func TestAdjustments_TotalCents(t *testing.T) {
	adj := Adjustments{
		"bedrooms": {Difference: 1, AdjustmentCents: 1_500_000},
		"age":      {Difference: 5, AdjustmentCents: -250_000},
	}
	assert.Equal(t, int64(1_250_000), adj.TotalCents())

	assert.Equal(t, int64(0), Adjustments{}.TotalCents())
}

func TestCmaInsights_JSONFieldNames(t *testing.T) {
	raw := `{
		"executive_summary": "S.",
		"market_position": "M.",
		"pricing_rationale": "P.",
		"recommendation": "R.",
		"suggested_price_low_cents": 100,
		"suggested_price_high_cents": 200,
		"confidence_level": "medium"
	}`

	var ins CmaInsights
	require.NoError(t, json.Unmarshal([]byte(raw), &ins))
	assert.Equal(t, "S.", ins.ExecutiveSummary)
	assert.Equal(t, int64(100), ins.SuggestedPriceLowCents)
	assert.Equal(t, "medium", ins.ConfidenceLevel)
}
