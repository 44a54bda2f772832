package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"go-media-download/internal/database"
	"go-media-download/internal/models"
)

var (
	statusFilter string
	statusLimit  int
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVarP(&statusFilter, "status", "s", "", "Filter by status (Pending/Processing/Completed/Failed)")
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 50, "Maximum rows to print (0 = all)")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show task records from the durable mirror",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Open(globalConfig.DatabasePath)
		if err != nil {
			return fmt.Errorf("error opening database: %w", err)
		}
		defer db.Close()

		filter := func(models.TaskRecord) bool { return true }
		if statusFilter != "" {
			want := models.TaskStatus(statusFilter)
			filter = func(r models.TaskRecord) bool { return r.Status == want }
		}

		records, err := db.ListTaskRecords(filter)
		if err != nil {
			return fmt.Errorf("error listing task records: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("No matching task records.")
			return nil
		}

		// Newest first.
		sort.Slice(records, func(i, j int) bool {
			return records[i].UpdatedAt.After(records[j].UpdatedAt)
		})
		if statusLimit > 0 && len(records) > statusLimit {
			records = records[:statusLimit]
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tTITLE\tURL\tDETAILS")
		for _, r := range records {
			title := r.Title
			if title == "" {
				title = "-"
			}
			details := r.ErrorDetails
			if r.Status == models.StatusCompleted {
				details = r.FilePath
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", shortID(r.Task.ID), r.Status, title, r.Task.Url, details)
		}
		return w.Flush()
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
