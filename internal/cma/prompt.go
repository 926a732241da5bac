package cma

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/parcelworks/cma-engine/internal/model"
)

// insightsSystemPrompt steers the provider toward the strict JSON schema the
// engine parses. Missing required fields fail the generation rather than
// publishing an incomplete report.
const insightsSystemPrompt = `You are an experienced real-estate market analyst writing a Comparative Market Analysis. Return a single valid JSON object with exactly these fields:
{"executive_summary": "<2-3 sentence summary>", "market_position": "<how the subject sits in its local market>", "pricing_rationale": "<reasoning behind the suggested range>", "strengths": ["..."], "considerations": ["..."], "recommendation": "<concrete pricing recommendation>", "estimated_time_to_sell": "<e.g. 30-45 days>", "suggested_price_low_cents": <integer>, "suggested_price_high_cents": <integer>, "confidence_level": "high|medium|low"}
All prices are integer cents. Do not wrap the JSON in markdown fences.`

var pricePrinter = message.NewPrinter(language.English)

// formatPrice renders integer cents as a human-readable amount for prompts.
func formatPrice(cents int64, currency string) string {
	return pricePrinter.Sprintf("%s %.2f", currency, float64(cents)/100)
}

// BuildInsightsPrompt assembles the user prompt from the subject, the ranked
// comparables with their adjustment breakdowns, and the computed statistics.
func BuildInsightsPrompt(subject model.SubjectProperty, comparables []model.ComparableResult, stats model.Statistics) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Subject property: %s\n", subject.Address())
	fmt.Fprintf(&b, "- Type: %s\n", subject.Type)
	if subject.Bedrooms > 0 {
		fmt.Fprintf(&b, "- Bedrooms: %d\n", subject.Bedrooms)
	}
	if subject.Bathrooms > 0 {
		fmt.Fprintf(&b, "- Bathrooms: %.1f\n", subject.Bathrooms)
	}
	if subject.AreaSqm > 0 {
		fmt.Fprintf(&b, "- Constructed area: %.0f sqm\n", subject.AreaSqm)
	}
	if subject.YearBuilt > 0 {
		fmt.Fprintf(&b, "- Year built: %d\n", subject.YearBuilt)
	}
	if subject.PriceCents > 0 {
		fmt.Fprintf(&b, "- Current listing price: %s\n", formatPrice(subject.PriceCents, subject.Currency))
	}

	b.WriteString("\nComparable properties:\n")
	for i, c := range comparables {
		fmt.Fprintf(&b, "%d. %s: %s, similarity %.0f/100, %.1f km away\n",
			i+1, c.Address, formatPrice(c.PriceCents, c.Currency), c.SimilarityScore, c.DistanceKm)
		for _, factor := range []string{"bedrooms", "bathrooms", "size", "age"} {
			adj, ok := c.Adjustments[factor]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "   - %s adjustment: %+.1f units, %s\n",
				factor, adj.Difference, formatPrice(adj.AdjustmentCents, c.Currency))
		}
		fmt.Fprintf(&b, "   - Adjusted price: %s\n", formatPrice(c.AdjustedPriceCents, c.Currency))
	}

	b.WriteString("\nMarket statistics:\n")
	fmt.Fprintf(&b, "- Comparables analyzed: %d (average similarity %.0f/100)\n", stats.ComparableCount, stats.AverageSimilarity)
	fmt.Fprintf(&b, "- Average price: %s (median %s)\n",
		formatPrice(stats.AveragePriceCents, stats.Currency), formatPrice(stats.MedianPriceCents, stats.Currency))
	fmt.Fprintf(&b, "- Average adjusted price: %s (median %s)\n",
		formatPrice(stats.AverageAdjustedPriceCents, stats.Currency), formatPrice(stats.MedianAdjustedPriceCents, stats.Currency))
	if stats.PricePerSqmCents > 0 {
		fmt.Fprintf(&b, "- Average price per sqm: %s\n", formatPrice(stats.PricePerSqmCents, stats.Currency))
	}
	fmt.Fprintf(&b, "- Price range: %s to %s\n",
		formatPrice(stats.PriceRange.LowCents, stats.Currency), formatPrice(stats.PriceRange.HighCents, stats.Currency))

	b.WriteString("\nWrite the analysis JSON now.")
	return b.String()
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// parseInsights parses and validates the provider's response. Well-formed
// JSON missing a required field is rejected so an incomplete narrative is
// never published on a completed report.
func parseInsights(text string) (*model.CmaInsights, error) {
	cleaned := cleanJSON(text)

	var insights model.CmaInsights
	if err := json.Unmarshal([]byte(cleaned), &insights); err != nil {
		return nil, eris.Wrap(err, "cma: parse insights JSON")
	}

	required := map[string]string{
		"executive_summary": insights.ExecutiveSummary,
		"market_position":   insights.MarketPosition,
		"pricing_rationale": insights.PricingRationale,
		"recommendation":    insights.Recommendation,
		"confidence_level":  insights.ConfidenceLevel,
	}
	for field, value := range required {
		if strings.TrimSpace(value) == "" {
			return nil, eris.Errorf("cma: insights missing required field %q", field)
		}
	}
	if insights.SuggestedPriceLowCents <= 0 || insights.SuggestedPriceHighCents <= 0 {
		return nil, eris.New("cma: insights missing suggested price range")
	}
	if insights.SuggestedPriceLowCents > insights.SuggestedPriceHighCents {
		return nil, eris.Errorf("cma: suggested price range inverted (%d > %d)",
			insights.SuggestedPriceLowCents, insights.SuggestedPriceHighCents)
	}

	return &insights, nil
}
