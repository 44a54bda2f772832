package cmd

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-media-download/internal/history"
)

func init() {
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <query>...",
	Short: "Search the download history",
	Long: `Searches the history index with bleve query-string syntax, e.g.
'+artist:someone midnight' or '+format:mp4'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")

		hist, err := history.Open(globalConfig.BleveIndexPath)
		if err != nil {
			return fmt.Errorf("error opening history index: %w", err)
		}
		defer hist.Close()

		log.Debugf("Performing history search with query: %s", query)
		results, err := hist.Search(query)
		if err != nil {
			return fmt.Errorf("error performing search: %w", err)
		}

		log.Infof("Search finished. Hits: %d, Total: %d, Took: %s",
			len(results.Hits), results.Total, results.Took)

		if results.Total == 0 {
			fmt.Println("No results found matching your query.")
			return nil
		}

		fmt.Println("--- Search Results ---")
		for i, hit := range results.Hits {
			fmt.Printf("[%d] ID: %s (Score: %.2f)\n", i+1, hit.ID, hit.Score)
			for field, value := range hit.Fields {
				fmt.Printf("  %s: %v\n", field, value)
			}
			fmt.Println("---")
		}
		return nil
	},
}
