package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-media-download/internal/database"
	"go-media-download/internal/helpers"
	"go-media-download/internal/history"
	"go-media-download/internal/models"
)

var (
	shareAnnounceURLs []string
	shareOutputDir    string
	shareOverwrite    bool
	shareMagnet       bool
)

func init() {
	rootCmd.AddCommand(shareCmd)

	shareCmd.Flags().StringSliceVar(&shareAnnounceURLs, "announce", []string{}, "Tracker announce URL (repeatable)")
	shareCmd.Flags().StringVarP(&shareOutputDir, "output-dir", "o", "", "Directory to save generated .torrent files (default: next to the media file)")
	shareCmd.Flags().BoolVarP(&shareOverwrite, "overwrite", "f", false, "Overwrite existing .torrent files")
	shareCmd.Flags().BoolVar(&shareMagnet, "magnet", true, "Also record a magnet link")
}

var shareCmd = &cobra.Command{
	Use:   "share [task-id]...",
	Short: "Generate .torrent files for completed downloads",
	Long: `Generates BitTorrent metainfo (.torrent) files for downloads previously
completed by 'run' or 'get'. With no arguments every completed task is
shared; otherwise task IDs (or unique prefixes) select the targets. You must
specify tracker announce URLs.`,
	RunE: runShare,
}

func runShare(cmd *cobra.Command, args []string) error {
	if len(shareAnnounceURLs) == 0 {
		return errors.New("at least one --announce URL is required")
	}

	db, err := database.Open(globalConfig.DatabasePath)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	defer db.Close()

	completed, err := db.ListTasksByStatus(models.StatusCompleted)
	if err != nil {
		return fmt.Errorf("error listing completed tasks: %w", err)
	}

	targets := completed
	if len(args) > 0 {
		targets = nil
		for _, prefix := range args {
			match, err := matchTask(completed, prefix)
			if err != nil {
				return err
			}
			targets = append(targets, match)
		}
	}
	if len(targets) == 0 {
		log.Info("No completed downloads to share.")
		return nil
	}

	hist, err := history.Open(globalConfig.BleveIndexPath)
	if err != nil {
		log.WithError(err).Warn("History index unavailable, share artifacts will not be searchable")
		hist = nil
	} else {
		defer hist.Close()
	}

	failures := 0
	for _, record := range targets {
		torrentPath, magnetURI, err := generateTorrent(record)
		if err != nil {
			log.WithError(err).Errorf("Failed to share task %s", shortID(record.Task.ID))
			failures++
			continue
		}
		log.Infof("Shared %s: %s", shortID(record.Task.ID), torrentPath)
		if magnetURI != "" {
			fmt.Println(magnetURI)
		}
		if hist != nil {
			if err := hist.AttachTorrent(record, torrentPath, magnetURI); err != nil {
				log.WithError(err).Warnf("Could not attach torrent to history for %s", shortID(record.Task.ID))
			}
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d share job(s) failed", failures)
	}
	return nil
}

// matchTask resolves a task ID or unique prefix among completed records.
func matchTask(records []models.TaskRecord, prefix string) (models.TaskRecord, error) {
	var matches []models.TaskRecord
	for _, r := range records {
		if strings.HasPrefix(r.Task.ID, prefix) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return models.TaskRecord{}, fmt.Errorf("no completed task matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return models.TaskRecord{}, fmt.Errorf("task prefix %q is ambiguous (%d matches)", prefix, len(matches))
	}
}

// torrentBaseName picks the .torrent name: a slug of the recorded title
// when one exists, otherwise the media file's own name. Titles make the
// artifacts human-sortable; task-ID file names do not.
func torrentBaseName(record models.TaskRecord) string {
	if record.Title != "" {
		if slug := helpers.ConvertToSlug(record.Title); slug != "" {
			return slug + ".torrent"
		}
	}
	return filepath.Base(record.FilePath) + ".torrent"
}

// generateTorrent builds the metainfo for one downloaded file and writes it
// out. Returns the .torrent path and, when enabled, the magnet URI.
func generateTorrent(record models.TaskRecord) (string, string, error) {
	stat, err := os.Stat(record.FilePath)
	if err != nil {
		return "", "", fmt.Errorf("media file missing: %w", err)
	}

	torrentFileName := torrentBaseName(record)
	var outPath string
	if shareOutputDir != "" {
		if err := os.MkdirAll(shareOutputDir, 0755); err != nil {
			return "", "", fmt.Errorf("creating output directory %s: %w", shareOutputDir, err)
		}
		outPath = filepath.Join(shareOutputDir, torrentFileName)
	} else {
		outPath = filepath.Join(filepath.Dir(record.FilePath), torrentFileName)
	}

	if !shareOverwrite {
		if _, err := os.Stat(outPath); err == nil {
			log.WithField("path", outPath).Info("Skipping existing torrent file (use --overwrite to replace)")
			mi, loadErr := metainfo.LoadFromFile(outPath)
			if loadErr != nil {
				return outPath, "", nil
			}
			return outPath, magnetFor(mi, stat.Name()), nil
		}
	}

	mi := metainfo.MetaInfo{
		AnnounceList: make([][]string, len(shareAnnounceURLs)),
	}
	for i, tracker := range shareAnnounceURLs {
		mi.AnnounceList[i] = []string{tracker}
	}
	mi.Announce = shareAnnounceURLs[0]
	mi.CreatedBy = "media-download"

	const pieceLength = 512 * 1024
	info := metainfo.Info{PieceLength: pieceLength}
	if err := info.BuildFromFilePath(record.FilePath); err != nil {
		return "", "", fmt.Errorf("building torrent info from %s: %w", record.FilePath, err)
	}
	mi.InfoBytes, err = bencode.Marshal(info)
	if err != nil {
		return "", "", fmt.Errorf("marshaling torrent info: %w", err)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return "", "", fmt.Errorf("creating torrent file %s: %w", outPath, err)
	}
	defer f.Close()
	if err := mi.Write(f); err != nil {
		return "", "", fmt.Errorf("writing torrent file %s: %w", outPath, err)
	}

	var magnetURI string
	if shareMagnet {
		magnetURI = magnetFor(&mi, stat.Name())
	}
	return outPath, magnetURI, nil
}

func magnetFor(mi *metainfo.MetaInfo, displayName string) string {
	infoHash := mi.HashInfoBytes()
	parts := []string{
		fmt.Sprintf("magnet:?xt=urn:btih:%s", infoHash.HexString()),
		fmt.Sprintf("dn=%s", url.QueryEscape(displayName)),
	}
	for _, tracker := range shareAnnounceURLs {
		parts = append(parts, fmt.Sprintf("tr=%s", url.QueryEscape(tracker)))
	}
	return strings.Join(parts, "&")
}
