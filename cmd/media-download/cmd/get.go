package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-media-download/internal/database"
	"go-media-download/internal/helpers"
	"go-media-download/internal/history"
	"go-media-download/internal/models"
	"go-media-download/internal/source"
)

var (
	getVideo   bool
	getFormat  string
	getQuality string
	getBitrate string
	getStart   time.Duration
	getEnd     time.Duration
	getTitle   string
	getArtist  string
)

func init() {
	rootCmd.AddCommand(getCmd)

	getCmd.Flags().BoolVar(&getVideo, "video", false, "Download video instead of audio")
	getCmd.Flags().StringVar(&getFormat, "format", "", "Container format (default mp3, or mp4 with --video)")
	getCmd.Flags().StringVar(&getQuality, "quality", "", "Video quality cap, e.g. 720p")
	getCmd.Flags().StringVar(&getBitrate, "bitrate", "", "Audio bitrate, e.g. 320k")
	getCmd.Flags().DurationVar(&getStart, "start", 0, "Clip start offset, e.g. 1m30s")
	getCmd.Flags().DurationVar(&getEnd, "end", 0, "Clip end offset, e.g. 2m45s")
	getCmd.Flags().StringVar(&getTitle, "title", "", "Override the tagged title")
	getCmd.Flags().StringVar(&getArtist, "artist", "", "Override the tagged artist")
}

var getCmd = &cobra.Command{
	Use:   "get <url>",
	Short: "Download a single URL and exit",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	cfg := globalConfig
	if cfg.SavePath == "" {
		return errors.New("save path is not configured (--save-path or config file)")
	}
	if !helpers.CheckAndMakeDir(cfg.SavePath) {
		return fmt.Errorf("cannot create save path %s", cfg.SavePath)
	}

	format := getFormat
	if format == "" {
		if getVideo {
			format = "mp4"
		} else {
			format = "mp3"
		}
	}

	task := models.DownloadTask{
		ID:         uuid.NewString(),
		Url:        args[0],
		Format:     format,
		Video:      getVideo,
		Quality:    getQuality,
		Bitrate:    getBitrate,
		Hints:      models.MetadataHints{Title: getTitle, Artist: getArtist},
		EnqueuedAt: time.Now(),
	}
	if getEnd > 0 {
		if getEnd <= getStart {
			return errors.New("--end must be after --start")
		}
		task.TimeRange = &models.TimeRange{Start: getStart, End: getEnd}
	}

	registry := buildRegistry(cfg)
	src := registry.Resolve(task.Url)
	if src == nil {
		return fmt.Errorf("no backend supports %s", task.Url)
	}
	log.Infof("Using backend [%s] for %s", src.Name(), task.Url)

	ctx := context.Background()
	if cfg.DownloadTimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.DownloadTimeoutSec)*time.Second)
		defer cancel()
	}

	progress := make(chan source.Progress, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		writer := uilive.New()
		writer.Start()
		defer writer.Stop()
		for snap := range progress {
			fmt.Fprintf(writer, "Downloading: %.1f%% (%s)\n", snap.Percent,
				helpers.BytesToSize(uint64(max(snap.DownloadedBytes, 0))))
		}
	}()

	result, err := src.Download(ctx, source.Request{
		Task:      task,
		OutputDir: cfg.SavePath,
		Progress:  progress,
	})
	close(progress)
	<-done
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	hash, hashErr := helpers.FileHash(result.FilePath)
	if hashErr != nil {
		log.WithError(hashErr).Warn("Could not hash downloaded file")
	}
	recordCompleted(cfg, task, result, hash)

	log.Infof("Saved %s (%s)", result.FilePath, helpers.BytesToSize(uint64(result.SizeBytes)))
	return nil
}

// recordCompleted mirrors a one-shot download into the database and history
// so status/search/share can see it. Best effort.
func recordCompleted(cfg models.Config, task models.DownloadTask, result *source.Result, hash string) {
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Warn("Could not open database to record download")
		return
	}
	defer db.Close()

	record := models.TaskRecord{
		Task:         task,
		Status:       models.StatusCompleted,
		FilePath:     result.FilePath,
		ContentHash:  hash,
		Title:        result.Title,
		Artist:       result.Artist,
		SizeBytes:    result.SizeBytes,
		DurationSecs: int64(result.Duration.Seconds()),
	}
	if err := db.PutTaskRecord(record); err != nil {
		log.WithError(err).Warn("Could not record download in database")
		return
	}

	hist, err := history.Open(cfg.BleveIndexPath)
	if err != nil {
		log.WithError(err).Warn("Could not open history index")
		return
	}
	defer hist.Close()
	stored, err := db.GetTaskRecord(task.ID)
	if err != nil {
		stored = record
	}
	if err := hist.IndexDownload(stored); err != nil {
		log.WithError(err).Warn("Could not index download into history")
	}
}
