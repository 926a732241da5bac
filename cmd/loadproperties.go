package main

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parcelworks/cma-engine/internal/db"
	"github.com/parcelworks/cma-engine/internal/model"
	"github.com/parcelworks/cma-engine/internal/store"
)

// propertySearchColumns matches the denormalized search table the candidate
// queries read from.
var propertySearchColumns = []string{
	"id", "website_id", "property_type", "status", "visible",
	"latitude", "longitude", "bedrooms", "bathrooms", "area_sqm", "year_built",
	"street", "city", "postal_code", "price_cents", "currency", "listed_at",
}

var loadPropertiesCmd = &cobra.Command{
	Use:   "load-properties <file.jsonl>",
	Short: "Bulk-load listings into the property search table",
	Long:  "Reads one listing JSON object per line and seeds the property search table. Dev tooling; production inventory is synced by the platform.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open properties file")
		}
		defer f.Close()

		var properties []model.CandidateProperty
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var p model.CandidateProperty
			if err := json.Unmarshal(line, &p); err != nil {
				return eris.Wrap(err, "parse property line")
			}
			properties = append(properties, p)
		}
		if err := scanner.Err(); err != nil {
			return eris.Wrap(err, "read properties file")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		loaded, err := loadProperties(cmd, st, properties)
		if err != nil {
			return err
		}

		zap.L().Info("properties loaded",
			zap.Int64("count", loaded),
			zap.String("driver", cfg.Store.Driver),
		)
		return nil
	},
}

func loadProperties(cmd *cobra.Command, st store.Store, properties []model.CandidateProperty) (int64, error) {
	ctx := cmd.Context()

	switch s := st.(type) {
	case *store.PostgresStore:
		rows := make([][]any, 0, len(properties))
		for _, p := range properties {
			rows = append(rows, []any{
				p.ID, p.WebsiteID, string(p.Type), "listed", true,
				p.Latitude, p.Longitude, p.Bedrooms, p.Bathrooms, p.AreaSqm, p.YearBuilt,
				p.Street, p.City, p.PostalCode, p.PriceCents, p.Currency, p.ListedAt,
			})
		}
		return db.CopyFrom(ctx, s.Pool(), "property_search", propertySearchColumns, rows)
	case *store.SQLiteStore:
		var n int64
		for _, p := range properties {
			if err := s.InsertProperty(ctx, p, "listed", true); err != nil {
				return n, err
			}
			n++
		}
		return n, nil
	default:
		return 0, eris.New("load-properties: unsupported store backend")
	}
}

func init() {
	rootCmd.AddCommand(loadPropertiesCmd)
}
