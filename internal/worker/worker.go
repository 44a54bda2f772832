// Package worker runs the bounded pool that drains the task queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-media-download/internal/helpers"
	"go-media-download/internal/models"
	"go-media-download/internal/queue"
	"go-media-download/internal/source"
	"go-media-download/internal/source/ytdlp"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const pollInterval = 200 * time.Millisecond

// Store is the durable mirror the pool reports terminal states to.
type Store interface {
	UpdateTaskRecord(id string, updateFn func(*models.TaskRecord)) error
	GetTaskRecord(id string) (models.TaskRecord, error)
}

// Historian records completed downloads for later status/search queries. May
// be nil when history is disabled.
type Historian interface {
	IndexDownload(record models.TaskRecord) error
}

// Pool owns a fixed set of workers that dequeue, resolve a backend, download
// and report terminal status.
type Pool struct {
	queue    *queue.Queue
	registry *source.Registry
	store    Store
	history  Historian

	concurrency int
	outputDir   string
	taskTimeout time.Duration
	maxBytes    int64

	// postprocess caps concurrent CPU-heavy work (hashing, conversion)
	// independently of the download slots.
	postprocess *semaphore.Weighted

	// Progress receives live snapshots from all workers; nil disables
	// progress delivery.
	Progress chan<- TaskProgress
}

// TaskProgress tags a progress snapshot with the task it belongs to.
type TaskProgress struct {
	TaskID   string
	Snapshot source.Progress
}

func NewPool(cfg *models.Config, q *queue.Queue, registry *source.Registry, store Store, history Historian) *Pool {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	slots := int64(cfg.PostprocessSlots)
	if slots <= 0 {
		slots = 1
	}
	var maxBytes int64
	if cfg.MaxFileSizeMB > 0 {
		maxBytes = int64(cfg.MaxFileSizeMB) * 1024 * 1024
	}
	return &Pool{
		queue:       q,
		registry:    registry,
		store:       store,
		history:     history,
		concurrency: concurrency,
		outputDir:   cfg.SavePath,
		taskTimeout: time.Duration(cfg.DownloadTimeoutSec) * time.Second,
		maxBytes:    maxBytes,
		postprocess: semaphore.NewWeighted(slots),
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight downloads to
// finish their current task.
func (p *Pool) Run(ctx context.Context) {
	log.Infof("Starting %d download workers", p.concurrency)
	done := make(chan struct{})
	for i := 0; i < p.concurrency; i++ {
		go func(id int) {
			defer func() { done <- struct{}{} }()
			p.workerLoop(ctx, id)
		}(i)
	}
	for i := 0; i < p.concurrency; i++ {
		<-done
	}
	log.Info("All workers stopped")
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task := p.queue.Dequeue()
			if task == nil {
				continue
			}
			log.WithFields(log.Fields{
				"worker":   id,
				"task":     task.ID,
				"priority": task.Priority.String(),
			}).Info("Picked up task")
			p.process(ctx, *task)
		}
	}
}

// process runs one task to a terminal state and releases its queue slot.
func (p *Pool) process(ctx context.Context, task models.DownloadTask) {
	defer p.queue.Release(task)

	src := p.registry.Resolve(task.Url)
	if src == nil {
		log.Warnf("No backend supports URL: %s", task.Url)
		p.markFailed(task, "This link is not supported.", "no registered backend supports this URL")
		return
	}

	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.taskTimeout)
		defer cancel()
	}

	if live, err := src.IsLivestream(ctx, task.Url); err == nil && live {
		log.Infof("Rejecting livestream URL: %s", task.Url)
		p.markFailed(task, "Livestreams cannot be downloaded.", "rejected live content before download")
		return
	}

	if p.maxBytes > 0 {
		if size, err := src.EstimateSize(ctx, task.Url, task.Format); err == nil && size > p.maxBytes {
			log.Infof("Rejecting oversized download: %s (%s)", task.Url, helpers.BytesToSize(uint64(size)))
			p.markFailed(task, fmt.Sprintf("File is too large (%s).", helpers.BytesToSize(uint64(size))),
				fmt.Sprintf("estimated size %d exceeds the %d byte cap", size, p.maxBytes))
			return
		}
	}

	progress := p.progressChannel(ctx, task.ID)
	result, err := src.Download(ctx, source.Request{
		Task:      task,
		OutputDir: p.outputDir,
		Progress:  progress,
	})
	if progress != nil {
		// Backends stop sending once Download returns; closing here lets the
		// forwarding goroutine exit instead of lingering until shutdown.
		close(progress)
	}
	if err != nil {
		message := "Download failed."
		var runErr *ytdlp.RunError
		if errors.As(err, &runErr) {
			message = ytdlp.Message(runErr.Kind)
			if ytdlp.ShouldNotifyAdmin(runErr.Kind) {
				log.WithFields(log.Fields{
					"task": task.ID,
					"kind": runErr.Kind.String(),
				}).Error("Download failed with a kind that needs operator attention")
			}
		}
		log.WithError(err).Errorf("Task %s failed", task.ID)
		p.markFailed(task, message, err.Error())
		return
	}

	hash := p.hashResult(ctx, result.FilePath)
	p.markCompleted(task, result, hash)
	log.WithFields(log.Fields{
		"task": task.ID,
		"file": result.FilePath,
		"size": helpers.BytesToSize(uint64(result.SizeBytes)),
	}).Info("Task completed")
}

// hashResult computes the content hash under the postprocess cap so hashing
// many large files cannot starve download workers of CPU.
func (p *Pool) hashResult(ctx context.Context, path string) string {
	if err := p.postprocess.Acquire(ctx, 1); err != nil {
		return ""
	}
	defer p.postprocess.Release(1)

	hash, err := helpers.FileHash(path)
	if err != nil {
		log.WithError(err).Warnf("Failed to hash %s", path)
		return ""
	}
	return hash
}

func (p *Pool) progressChannel(ctx context.Context, taskID string) chan<- source.Progress {
	if p.Progress == nil {
		return nil
	}
	ch := make(chan source.Progress, 16)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-ch:
				if !ok {
					return
				}
				select {
				case p.Progress <- TaskProgress{TaskID: taskID, Snapshot: snap}:
				default:
				}
			}
		}
	}()
	return ch
}

// markFailed writes the terminal failure row: the user-facing text, the raw
// diagnostic for operators, and a bumped retry counter.
func (p *Pool) markFailed(task models.DownloadTask, details, diagnostic string) {
	if err := p.store.UpdateTaskRecord(task.ID, func(r *models.TaskRecord) {
		r.Status = models.StatusFailed
		r.ErrorDetails = details
		r.Diagnostic = diagnostic
		r.Task.RetryCount++
	}); err != nil {
		log.WithError(err).Warnf("Failed to mirror terminal failure for task %s", task.ID)
	}
}

func (p *Pool) markCompleted(task models.DownloadTask, result *source.Result, hash string) {
	if err := p.store.UpdateTaskRecord(task.ID, func(r *models.TaskRecord) {
		r.Status = models.StatusCompleted
		r.FilePath = result.FilePath
		r.ContentHash = hash
		r.Title = result.Title
		r.Artist = result.Artist
		r.SizeBytes = result.SizeBytes
		r.DurationSecs = int64(result.Duration.Seconds())
	}); err != nil {
		log.WithError(err).Warnf("Failed to mirror completion for task %s", task.ID)
	}
	if p.history == nil {
		return
	}
	record, err := p.store.GetTaskRecord(task.ID)
	if err != nil {
		log.WithError(err).Warnf("Failed to load record %s for history indexing", task.ID)
		return
	}
	if err := p.history.IndexDownload(record); err != nil {
		log.WithError(err).Warnf("Failed to index task %s into history", task.ID)
	}
}

// Recover reloads the durable mirror into the queue after a restart. Rows
// still marked processing belonged to a crashed run and are re-queued with
// their retry count bumped.
func Recover(q *queue.Queue, store RecoveryStore) (int, error) {
	pending, err := store.ListTasksByStatus(models.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("loading pending tasks: %w", err)
	}
	interrupted, err := store.ListTasksByStatus(models.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("loading interrupted tasks: %w", err)
	}

	recovered := 0
	for _, rec := range pending {
		if err := q.Enqueue(rec.Task); err != nil {
			log.WithError(err).Warnf("Could not re-enqueue pending task %s", rec.Task.ID)
			continue
		}
		recovered++
	}
	for _, rec := range interrupted {
		task := rec.Task
		task.RetryCount++
		if err := q.Enqueue(task); err != nil {
			log.WithError(err).Warnf("Could not re-enqueue interrupted task %s", task.ID)
			continue
		}
		recovered++
	}
	if recovered > 0 {
		log.Infof("Recovered %d task(s) from the durable mirror", recovered)
	}
	return recovered, nil
}

// RecoveryStore is the read side of the mirror used at startup.
type RecoveryStore interface {
	ListTasksByStatus(status models.TaskStatus) ([]models.TaskRecord, error)
}
