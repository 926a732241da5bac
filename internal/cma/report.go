package cma

import (
	"fmt"
	"strings"

	"github.com/parcelworks/cma-engine/internal/model"
)

// FormatReport generates a human-readable rendering of a generation result
// for CLI output.
func FormatReport(subject model.SubjectProperty, result *Result) string {
	var b strings.Builder

	title := ""
	if result.Report != nil {
		title = result.Report.Title
	}
	if title == "" {
		title = fmt.Sprintf("CMA Report: %s", subject.Address())
	}
	fmt.Fprintf(&b, "# %s\n", title)
	if result.Report != nil {
		fmt.Fprintf(&b, "Report ID: %s\n", result.Report.ID)
		fmt.Fprintf(&b, "Status: %s\n", result.Report.Status)
	}
	b.WriteString("\n")

	// Subject.
	b.WriteString("## Subject Property\n")
	fmt.Fprintf(&b, "- Address: %s\n", subject.Address())
	fmt.Fprintf(&b, "- Type: %s\n", subject.Type)
	if subject.Bedrooms > 0 {
		fmt.Fprintf(&b, "- Bedrooms: %d\n", subject.Bedrooms)
	}
	if subject.Bathrooms > 0 {
		fmt.Fprintf(&b, "- Bathrooms: %.1f\n", subject.Bathrooms)
	}
	if subject.AreaSqm > 0 {
		fmt.Fprintf(&b, "- Area: %.0f sqm\n", subject.AreaSqm)
	}
	if subject.YearBuilt > 0 {
		fmt.Fprintf(&b, "- Year built: %d\n", subject.YearBuilt)
	}
	if subject.PriceCents > 0 {
		fmt.Fprintf(&b, "- Listing price: %s\n", formatPrice(subject.PriceCents, subject.Currency))
	}
	b.WriteString("\n")

	if result.Error != "" && len(result.Comparables) == 0 {
		fmt.Fprintf(&b, "%s\n", result.Error)
		return b.String()
	}

	// Comparables.
	b.WriteString("## Comparables\n")
	for i, c := range result.Comparables {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Address)
		fmt.Fprintf(&b, "   Price: %s | Adjusted: %s | Similarity: %.0f/100 | %.1f km\n",
			formatPrice(c.PriceCents, c.Currency), formatPrice(c.AdjustedPriceCents, c.Currency),
			c.SimilarityScore, c.DistanceKm)
		if len(c.Adjustments) > 0 {
			fmt.Fprintf(&b, "   Adjustments: %s\n", formatAdjustments(c.Adjustments, c.Currency))
		}
	}
	b.WriteString("\n")

	// Statistics.
	stats := result.Statistics
	b.WriteString("## Market Statistics\n")
	fmt.Fprintf(&b, "- Comparables: %d (avg similarity %.0f/100)\n", stats.ComparableCount, stats.AverageSimilarity)
	fmt.Fprintf(&b, "- Average price: %s (median %s)\n",
		formatPrice(stats.AveragePriceCents, stats.Currency), formatPrice(stats.MedianPriceCents, stats.Currency))
	fmt.Fprintf(&b, "- Average adjusted: %s (median %s)\n",
		formatPrice(stats.AverageAdjustedPriceCents, stats.Currency), formatPrice(stats.MedianAdjustedPriceCents, stats.Currency))
	if stats.PricePerSqmCents > 0 {
		fmt.Fprintf(&b, "- Price per sqm: %s\n", formatPrice(stats.PricePerSqmCents, stats.Currency))
	}
	fmt.Fprintf(&b, "- Range: %s to %s\n\n",
		formatPrice(stats.PriceRange.LowCents, stats.Currency), formatPrice(stats.PriceRange.HighCents, stats.Currency))

	// Insights.
	if result.Insights != nil {
		ins := result.Insights
		b.WriteString("## Analysis\n")
		fmt.Fprintf(&b, "%s\n\n", ins.ExecutiveSummary)
		fmt.Fprintf(&b, "Market position: %s\n\n", ins.MarketPosition)
		fmt.Fprintf(&b, "Pricing rationale: %s\n\n", ins.PricingRationale)
		if len(ins.Strengths) > 0 {
			b.WriteString("Strengths:\n")
			for _, s := range ins.Strengths {
				fmt.Fprintf(&b, "- %s\n", s)
			}
			b.WriteString("\n")
		}
		if len(ins.Considerations) > 0 {
			b.WriteString("Considerations:\n")
			for _, c := range ins.Considerations {
				fmt.Fprintf(&b, "- %s\n", c)
			}
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Recommendation: %s\n", ins.Recommendation)
		fmt.Fprintf(&b, "Suggested range: %s to %s (confidence: %s)\n",
			formatPrice(ins.SuggestedPriceLowCents, stats.Currency),
			formatPrice(ins.SuggestedPriceHighCents, stats.Currency),
			ins.ConfidenceLevel)
		if ins.EstimatedTimeToSell != "" {
			fmt.Fprintf(&b, "Estimated time to sell: %s\n", ins.EstimatedTimeToSell)
		}
	} else if result.Error != "" {
		fmt.Fprintf(&b, "## Analysis\nInsight generation failed: %s\n", result.Error)
	}

	return b.String()
}

func formatAdjustments(adjustments model.Adjustments, currency string) string {
	parts := make([]string, 0, len(adjustments))
	for _, factor := range []string{"bedrooms", "bathrooms", "size", "age"} {
		adj, ok := adjustments[factor]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s", factor, formatPrice(adj.AdjustmentCents, currency)))
	}
	return strings.Join(parts, ", ")
}
