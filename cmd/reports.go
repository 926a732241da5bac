package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/parcelworks/cma-engine/internal/model"
	"github.com/parcelworks/cma-engine/internal/store"
)

var reportsFlags struct {
	status  string
	limit   int
	offset  int
	jsonOut bool
}

var reportsCmd = &cobra.Command{
	Use:   "reports <website-id>",
	Short: "List market reports for a website",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		reports, err := st.ListReports(ctx, store.ReportFilter{
			WebsiteID: args[0],
			Status:    model.ReportStatus(reportsFlags.status),
			Limit:     reportsFlags.limit,
			Offset:    reportsFlags.offset,
		})
		if err != nil {
			return err
		}

		if reportsFlags.jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(reports)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tTITLE\tCREATED")
		for _, r := range reports {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				r.ID, r.Status, r.Title, r.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func init() {
	reportsCmd.Flags().StringVar(&reportsFlags.status, "status", "", "filter by status (draft|completed)")
	reportsCmd.Flags().IntVar(&reportsFlags.limit, "limit", 50, "max reports to list")
	reportsCmd.Flags().IntVar(&reportsFlags.offset, "offset", 0, "listing offset")
	reportsCmd.Flags().BoolVar(&reportsFlags.jsonOut, "json", false, "emit JSON")
	rootCmd.AddCommand(reportsCmd)
}
