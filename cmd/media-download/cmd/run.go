package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-media-download/internal/cookies"
	"go-media-download/internal/database"
	"go-media-download/internal/helpers"
	"go-media-download/internal/history"
	"go-media-download/internal/metacache"
	"go-media-download/internal/models"
	"go-media-download/internal/queue"
	"go-media-download/internal/source"
	"go-media-download/internal/source/direct"
	"go-media-download/internal/source/instagram"
	"go-media-download/internal/source/ytdlp"
	"go-media-download/internal/worker"
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntP("concurrency", "c", 0, "Number of download workers (overrides config)")
	runCmd.Flags().String("plan", "", "Subscription plan for URLs passed on the command line (free/premium/vip)")
	viper.BindPFlag("concurrency", runCmd.Flags().Lookup("concurrency"))
}

var runCmd = &cobra.Command{
	Use:   "run [url]...",
	Short: "Run the download engine until interrupted",
	Long: `Starts the worker pool and drains the task queue. Tasks recovered from the
durable mirror are picked up first; any URLs passed as arguments are enqueued
at startup. Stops on SIGINT/SIGTERM after finishing in-flight downloads.`,
	RunE: runEngine,
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg := globalConfig
	if cfg.SavePath == "" {
		return errors.New("save path is not configured (--save-path or config file)")
	}
	if !helpers.CheckAndMakeDir(cfg.SavePath) {
		return fmt.Errorf("cannot create save path %s", cfg.SavePath)
	}
	if c, _ := cmd.Flags().GetInt("concurrency"); c > 0 {
		cfg.Concurrency = c
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	defer db.Close()

	hist, err := history.Open(cfg.BleveIndexPath)
	if err != nil {
		return fmt.Errorf("error opening history index: %w", err)
	}
	defer hist.Close()

	registry := buildRegistry(cfg)
	q := queue.New(cfg.QueueCapacity, db)

	if n, err := worker.Recover(q, db); err != nil {
		log.WithError(err).Warn("Mirror recovery failed, starting with an empty queue")
	} else if n > 0 {
		log.Infof("Resuming %d task(s) from a previous run", n)
	}

	plan, _ := cmd.Flags().GetString("plan")
	for _, rawURL := range args {
		task := models.DownloadTask{
			ID:         uuid.NewString(),
			Url:        rawURL,
			Format:     "mp3",
			Priority:   models.PriorityForPlan(plan),
			EnqueuedAt: time.Now(),
		}
		if err := q.Enqueue(task); err != nil {
			log.WithError(err).Warnf("Could not enqueue %s", rawURL)
		}
	}

	pool := worker.NewPool(&cfg, q, registry, db, hist)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progressCh := make(chan worker.TaskProgress, 64)
	pool.Progress = progressCh
	go renderProgress(ctx, progressCh)

	go evictionLoop(ctx, q, cfg.EvictAfterHours)

	log.Infof("Engine running: %d workers, queue capacity %d, %d proxies configured",
		cfg.Concurrency, cfg.QueueCapacity, len(cfg.Proxies))
	pool.Run(ctx)
	log.Info("Engine stopped")
	return nil
}

// buildRegistry assembles the backend chain: direct file links first, the
// site-specific Instagram API next, the extraction tool as the broad
// fallback. The Instagram backend also delegates to the extractor when its
// API fails, so its registration never loses a download.
func buildRegistry(cfg models.Config) *source.Registry {
	httpClient := &http.Client{Transport: globalHttpTransport, Timeout: 15 * time.Minute}

	var refresher ytdlp.Refresher
	if cfg.CookiesFile != "" {
		if err := cookies.Validate(cfg.CookiesFile); err != nil {
			log.WithError(err).Warn("Cookie file is not usable; authenticated attempts will fail until it is replaced")
		}
		refresher = &cookies.FileRefresher{Path: cfg.CookiesFile}
	}

	runner := &ytdlp.ExecRunner{Timeout: time.Duration(cfg.DownloadTimeoutSec) * time.Second}
	meta := metacache.New(metacache.DefaultTTL)
	extractor := ytdlp.New(cfg, runner, refresher, meta)

	return source.NewRegistry(
		direct.New(&cfg, httpClient),
		instagram.New(httpClient, extractor),
		extractor,
	)
}

// renderProgress repaints one status line per active task.
func renderProgress(ctx context.Context, updates <-chan worker.TaskProgress) {
	writer := uilive.New()
	writer.Start()
	defer writer.Stop()

	active := make(map[string]source.Progress)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case update := <-updates:
			if update.Snapshot.Percent >= 100 {
				delete(active, update.TaskID)
			} else {
				active[update.TaskID] = update.Snapshot
			}
		case <-ticker.C:
			for id, snap := range active {
				fmt.Fprintf(writer, "%s: %.1f%% (%s / %s)\n", id, snap.Percent,
					helpers.BytesToSize(uint64(max(snap.DownloadedBytes, 0))),
					helpers.BytesToSize(uint64(max(snap.TotalBytes, 0))))
			}
		}
	}
}

// evictionLoop drops tasks that sat in the queue longer than the configured
// age. Users who waited that long have moved on.
func evictionLoop(ctx context.Context, q *queue.Queue, afterHours int) {
	if afterHours <= 0 {
		return
	}
	maxAge := time.Duration(afterHours) * time.Hour
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := q.EvictOlderThan(maxAge); n > 0 {
				log.Infof("Evicted %d stale task(s) from the queue", n)
			}
		}
	}
}
