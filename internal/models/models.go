package models

import (
	"fmt"
	"strings"
	"time"
)

type (
	Config struct {
		// Paths
		SavePath       string `toml:"SavePath"`
		DatabasePath   string `toml:"DatabasePath"`
		BleveIndexPath string `toml:"BleveIndexPath"`
		CookiesFile    string `toml:"CookiesFile"`
		YtdlpPath      string `toml:"YtdlpPath"` // Defaults to "yt-dlp" on PATH

		// Queue behavior
		QueueCapacity    int `toml:"QueueCapacity"`
		Concurrency      int `toml:"Concurrency"`
		PostprocessSlots int `toml:"PostprocessSlots"`

		// Downloader behavior
		DownloadTimeoutSec   int    `toml:"DownloadTimeoutSec"`
		CookieRefreshWaitSec int    `toml:"CookieRefreshWaitSec"`
		MaxFileSizeMB        int    `toml:"MaxFileSizeMB"`
		RateLimit            string `toml:"RateLimit"` // yt-dlp style, e.g. "5M"

		// Outer fallback chain. A direct (no proxy) hop is always appended.
		Proxies []ProxyConfig `toml:"Proxies"`

		// Maintenance
		EvictAfterHours int `toml:"EvictAfterHours"`

		// Other
		LogHttpRequests bool `toml:"LogHttpRequests"`
	}

	ProxyConfig struct {
		Name string `toml:"Name"`
		Url  string `toml:"Url"`
	}

	// TimeRange clips a download to a section of the media.
	TimeRange struct {
		Start time.Duration `json:"start"`
		End   time.Duration `json:"end"`
	}

	// MetadataHints carries caller-supplied overrides for tagging.
	MetadataHints struct {
		Title  string `json:"title,omitempty"`
		Artist string `json:"artist,omitempty"`
	}

	// DownloadTask is a single unit of work flowing through the queue.
	// Immutable once enqueued.
	DownloadTask struct {
		ID         string        `json:"id"`
		Url        string        `json:"url"`
		Requester  int64         `json:"requester"`
		MessageRef int64         `json:"message_ref,omitempty"`
		Format     string        `json:"format"`
		Video      bool          `json:"video"`
		Quality    string        `json:"quality,omitempty"` // e.g. "720p"
		Bitrate    string        `json:"bitrate,omitempty"` // e.g. "320k"
		TimeRange  *TimeRange    `json:"time_range,omitempty"`
		Hints      MetadataHints `json:"hints"`
		Priority   TaskPriority  `json:"priority"`
		RetryCount int           `json:"retry_count"`
		EnqueuedAt time.Time     `json:"enqueued_at"`
	}

	// TaskRecord is the durable row mirrored to the database for each task.
	// ErrorDetails is the user-facing failure text; Diagnostic keeps the raw
	// classified error for operators.
	TaskRecord struct {
		Task         DownloadTask `json:"task"`
		Status       TaskStatus   `json:"status"`
		ErrorDetails string       `json:"error_details,omitempty"`
		Diagnostic   string       `json:"diagnostic,omitempty"`
		FilePath     string       `json:"file_path,omitempty"`
		ContentHash  string       `json:"content_hash,omitempty"`
		Title        string       `json:"title,omitempty"`
		Artist       string       `json:"artist,omitempty"`
		SizeBytes    int64        `json:"size_bytes,omitempty"`
		DurationSecs int64        `json:"duration_secs,omitempty"`
		CreatedAt    time.Time    `json:"created_at"`
		UpdatedAt    time.Time    `json:"updated_at"`
	}
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "Pending"
	StatusProcessing TaskStatus = "Processing"
	StatusCompleted  TaskStatus = "Completed"
	StatusFailed     TaskStatus = "Failed"
)

type TaskPriority int

const (
	PriorityLow TaskPriority = iota
	PriorityMedium
	PriorityHigh
)

func (p TaskPriority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// PriorityForPlan maps a subscription plan name to a queue priority:
// free accounts wait behind premium, premium behind vip. Unknown plans get
// the lowest priority.
func PriorityForPlan(plan string) TaskPriority {
	switch strings.ToLower(plan) {
	case "vip":
		return PriorityHigh
	case "premium":
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// DedupKey identifies a task for duplicate suppression while it is queued
// or processing. Two requests for the same url+format from the same
// requester are considered the same task.
func (t DownloadTask) DedupKey() string {
	return fmt.Sprintf("%s|%d|%s", t.Url, t.Requester, t.Format)
}

// Section renders the range in yt-dlp --download-sections form, e.g.
// "*00:01:30-00:02:45".
func (r TimeRange) Section() string {
	return fmt.Sprintf("*%s-%s", formatTimestamp(r.Start), formatTimestamp(r.End))
}

func formatTimestamp(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
