// Package source defines the pluggable download backend contract and the
// registry that routes URLs to backends.
package source

import (
	"context"
	"time"

	"go-media-download/internal/models"
)

// Progress is a normalized snapshot of download progress.
type Progress struct {
	Percent         float64
	DownloadedBytes int64
	TotalBytes      int64
	SpeedBPS        float64
	ETA             time.Duration
}

// Notify delivers a progress snapshot without blocking. If the receiver is
// not keeping up the snapshot is dropped; a newer one will follow.
func Notify(ch chan<- Progress, p Progress) {
	if ch == nil {
		return
	}
	select {
	case ch <- p:
	default:
	}
}

// Metadata describes a remote media item before download.
type Metadata struct {
	Title    string
	Artist   string
	Duration time.Duration
}

// Request carries everything a backend needs to perform one download.
type Request struct {
	Task      models.DownloadTask
	OutputDir string
	Progress  chan<- Progress
}

// Result describes a completed download on disk. Duration is zero when the
// media length could not be determined. AdditionalFiles lists extra outputs
// for multi-item posts (e.g. the remaining items of a carousel).
type Result struct {
	FilePath        string
	Title           string
	Artist          string
	MimeType        string
	SizeBytes       int64
	Duration        time.Duration
	AdditionalFiles []string
}

// Source is a download backend. Supports must be pure and cheap; everything
// else may do network or process work and honors the passed context.
type Source interface {
	Name() string
	Supports(rawURL string) bool
	Metadata(ctx context.Context, rawURL string) (Metadata, error)
	EstimateSize(ctx context.Context, rawURL string, format string) (int64, error)
	IsLivestream(ctx context.Context, rawURL string) (bool, error)
	Download(ctx context.Context, req Request) (*Result, error)
}

// Registry routes URLs to the first registered backend that supports them.
// Register narrow backends before catch-all ones.
type Registry struct {
	sources []Source
}

func NewRegistry(sources ...Source) *Registry {
	return &Registry{sources: sources}
}

// Register appends a backend. Registration order is match precedence.
func (r *Registry) Register(s Source) {
	r.sources = append(r.sources, s)
}

// Resolve returns the first backend supporting rawURL, or nil when no
// backend matches. A nil result is a permanent routing failure, not a
// retryable one.
func (r *Registry) Resolve(rawURL string) Source {
	for _, s := range r.sources {
		if s.Supports(rawURL) {
			return s
		}
	}
	return nil
}

// Names lists registered backends in precedence order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for _, s := range r.sources {
		names = append(names, s.Name())
	}
	return names
}
