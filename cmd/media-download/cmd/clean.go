package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-media-download/internal/database"
	"go-media-download/internal/models"
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().BoolP("torrents", "t", false, "Also remove *.torrent files")
	cleanCmd.Flags().Bool("failed", false, "Also delete Failed task records from the database")
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove partial download leftovers from the save directory",
	Long: `Recursively scans the configured SavePath and removes extraction-tool
leftovers (.part, .ytdl, .tmp files). Optionally removes *.torrent files and
Failed rows from the task database as well.`,
	Run: runClean,
}

// partialSuffixes are the intermediate files yt-dlp and the HTTP backend
// leave behind after a killed or failed attempt.
var partialSuffixes = []string{".part", ".ytdl", ".tmp", ".temp"}

func runClean(cmd *cobra.Command, args []string) {
	cfg := globalConfig
	savePath := cfg.SavePath

	cleanTorrents, _ := cmd.Flags().GetBool("torrents")
	cleanFailed, _ := cmd.Flags().GetBool("failed")

	if savePath == "" {
		if cfg.DatabasePath != "" {
			savePath = filepath.Dir(cfg.DatabasePath)
			log.Warnf("SavePath is empty, inferring base directory from DatabasePath: %s", savePath)
		} else {
			log.Error("SavePath is not configured (and cannot be inferred from DatabasePath). Cannot determine where to clean.")
			os.Exit(1)
		}
	}
	info, err := os.Stat(savePath)
	if os.IsNotExist(err) {
		log.Errorf("SavePath directory does not exist: %s", savePath)
		os.Exit(1)
	}
	if err != nil {
		log.Errorf("Error accessing SavePath %q: %v", savePath, err)
		os.Exit(1)
	}
	if !info.IsDir() {
		log.Errorf("SavePath is not a directory: %s", savePath)
		os.Exit(1)
	}

	logLine := fmt.Sprintf("Scanning for partial files in %s", savePath)
	if cleanTorrents {
		logLine += " (and *.torrent files)"
	}
	log.Info(logLine + "...")

	var partialRemoved, torrentRemoved, filesFailed int64

	walkErr := filepath.Walk(savePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warnf("Error accessing path %q during scan: %v", path, err)
			return nil
		}
		if info.IsDir() {
			return nil
		}

		lowerName := strings.ToLower(info.Name())
		shouldRemove := false
		fileType := ""

		for _, suffix := range partialSuffixes {
			if strings.HasSuffix(lowerName, suffix) || strings.Contains(lowerName, ".part-frag") {
				shouldRemove = true
				fileType = "partial"
				break
			}
		}
		if !shouldRemove && cleanTorrents && strings.HasSuffix(lowerName, ".torrent") {
			shouldRemove = true
			fileType = ".torrent"
		}

		if shouldRemove {
			if err := os.Remove(path); err != nil {
				if os.IsNotExist(err) {
					log.Warnf("Attempted to remove %s file %q, but it was already gone.", fileType, path)
				} else {
					log.Errorf("Failed to remove %s file %q: %v", fileType, path, err)
					filesFailed++
				}
			} else {
				log.Infof("Removed %s file: %s", fileType, path)
				if fileType == "partial" {
					partialRemoved++
				} else {
					torrentRemoved++
				}
			}
		}
		return nil
	})

	if walkErr != nil {
		log.Errorf("Error during directory walk of %q: %v", savePath, walkErr)
	}

	var recordsRemoved int
	if cleanFailed {
		recordsRemoved = cleanFailedRecords()
	}

	var summaryParts []string
	if partialRemoved > 0 {
		summaryParts = append(summaryParts, fmt.Sprintf("%d partial file(s)", partialRemoved))
	}
	if torrentRemoved > 0 {
		summaryParts = append(summaryParts, fmt.Sprintf("%d .torrent file(s)", torrentRemoved))
	}
	if recordsRemoved > 0 {
		summaryParts = append(summaryParts, fmt.Sprintf("%d failed record(s)", recordsRemoved))
	}

	summary := "Clean complete. Removed: "
	if len(summaryParts) > 0 {
		summary += strings.Join(summaryParts, ", ")
	} else {
		summary += "0 files"
	}
	if filesFailed > 0 {
		summary += fmt.Sprintf(". Failed to remove %d file(s).", filesFailed)
	}
	log.Info(summary)

	if filesFailed > 0 || walkErr != nil {
		os.Exit(1)
	}
}

func cleanFailedRecords() int {
	db, err := database.Open(globalConfig.DatabasePath)
	if err != nil {
		log.WithError(err).Error("Could not open database to delete failed records")
		return 0
	}
	defer db.Close()

	failed, err := db.ListTasksByStatus(models.StatusFailed)
	if err != nil {
		log.WithError(err).Error("Could not list failed records")
		return 0
	}
	removed := 0
	for _, record := range failed {
		if err := db.DeleteTaskRecord(record.Task.ID); err != nil {
			log.WithError(err).Warnf("Could not delete record %s", shortID(record.Task.ID))
			continue
		}
		removed++
	}
	return removed
}
