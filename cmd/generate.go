package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/parcelworks/cma-engine/internal/cma"
)

var generateFlags struct {
	title          string
	radiusKm       float64
	monthsBack     int
	maxComparables int
	agentName      string
	companyName    string
	pdf            bool
	jsonOut        bool
}

var generateCmd = &cobra.Command{
	Use:   "generate <website-id> <property-id>",
	Short: "Generate a CMA report for a subject property",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		websiteID, propertyID := args[0], args[1]

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Generator.Generate(ctx, websiteID, propertyID, cma.Options{
			Title:          generateFlags.title,
			RadiusKm:       generateFlags.radiusKm,
			MonthsBack:     generateFlags.monthsBack,
			MaxComparables: generateFlags.maxComparables,
			AgentName:      generateFlags.agentName,
			CompanyName:    generateFlags.companyName,
			GeneratePDF:    generateFlags.pdf,
		})
		if err != nil {
			return err
		}

		if generateFlags.jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		subject, err := env.Store.GetSubjectProperty(ctx, websiteID, propertyID)
		if err != nil {
			return err
		}
		fmt.Println(cma.FormatReport(*subject, result))

		if !result.Success {
			return fmt.Errorf("report %s left in draft: %s", result.Report.ID, result.Error)
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVar(&generateFlags.title, "title", "", "report title")
	generateCmd.Flags().Float64Var(&generateFlags.radiusKm, "radius-km", 0, "search radius in km (default from config)")
	generateCmd.Flags().IntVar(&generateFlags.monthsBack, "months-back", 0, "listing window in months (default from config)")
	generateCmd.Flags().IntVar(&generateFlags.maxComparables, "max-comparables", 0, "max comparables to include (default from config)")
	generateCmd.Flags().StringVar(&generateFlags.agentName, "agent", "", "agent name for report branding")
	generateCmd.Flags().StringVar(&generateFlags.companyName, "company", "", "company name for report branding")
	generateCmd.Flags().BoolVar(&generateFlags.pdf, "pdf", false, "enqueue a PDF render after generation")
	generateCmd.Flags().BoolVar(&generateFlags.jsonOut, "json", false, "emit the full result as JSON")
	rootCmd.AddCommand(generateCmd)
}
