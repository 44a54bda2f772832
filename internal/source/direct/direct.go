// Package direct downloads plain media files over HTTP. It is the catch-all
// backend for links that are the file itself rather than a page about it.
package direct

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go-media-download/internal/helpers"
	"go-media-download/internal/models"
	"go-media-download/internal/source"

	log "github.com/sirupsen/logrus"
)

var (
	ErrHttpStatus    = errors.New("unexpected HTTP status code")
	ErrFileSystem    = errors.New("filesystem error")
	ErrHttpRequest   = errors.New("HTTP request creation/execution error")
	ErrFileTooLarge  = errors.New("file exceeds configured size limit")
	ErrNotDirectFile = errors.New("URL does not point at a direct file")
)

// fileExtensions are the media and archive types served as-is.
var fileExtensions = map[string]string{
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".m4a":  "audio/mp4",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".zip":  "application/zip",
	".rar":  "application/vnd.rar",
	".pdf":  "application/pdf",
}

// Backend fetches direct file URLs with progress reporting and a size cap.
type Backend struct {
	client   *http.Client
	maxBytes int64
}

// New builds the direct backend. A nil client gets a default with a long
// timeout; large files over slow links are the normal case here.
func New(cfg *models.Config, client *http.Client) *Backend {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Minute}
	}
	var maxBytes int64
	if cfg != nil && cfg.MaxFileSizeMB > 0 {
		maxBytes = int64(cfg.MaxFileSizeMB) * 1024 * 1024
	}
	return &Backend{client: client, maxBytes: maxBytes}
}

func (b *Backend) Name() string { return "direct" }

// Supports reports whether rawURL ends in a known file extension.
func (b *Backend) Supports(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	_, ok := fileExtensions[strings.ToLower(path.Ext(u.Path))]
	return ok
}

// Metadata derives a title from the URL's file name; there is nothing else
// to probe on a bare file.
func (b *Backend) Metadata(_ context.Context, rawURL string) (source.Metadata, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return source.Metadata{}, fmt.Errorf("parsing URL: %w", err)
	}
	base := path.Base(u.Path)
	title := strings.TrimSuffix(base, path.Ext(base))
	if title == "" || title == "." || title == "/" {
		title = "Unknown Track"
	}
	return source.Metadata{Title: title}, nil
}

// EstimateSize asks the server via HEAD. Zero means unknown, which callers
// treat as "no pre-check possible", not "empty".
func (b *Backend) EstimateSize(ctx context.Context, rawURL string, _ string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrHttpRequest, err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrHttpRequest, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, nil
	}
	if resp.ContentLength > 0 {
		return resp.ContentLength, nil
	}
	return 0, nil
}

func (b *Backend) IsLivestream(context.Context, string) (bool, error) {
	return false, nil
}

// Download fetches the file to a temporary name in the output directory and
// renames it into place once the transfer completes.
func (b *Backend) Download(ctx context.Context, req source.Request) (*source.Result, error) {
	if !b.Supports(req.Task.Url) {
		return nil, ErrNotDirectFile
	}
	if !helpers.CheckAndMakeDir(req.OutputDir) {
		return nil, fmt.Errorf("%w: failed to create output directory %s", ErrFileSystem, req.OutputDir)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.Task.Url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request for %s: %v", ErrHttpRequest, req.Task.Url, err)
	}
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: performing request for %s: %v", ErrHttpRequest, req.Task.Url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: received status %d from %s", ErrHttpStatus, resp.StatusCode, req.Task.Url)
	}

	total := resp.ContentLength
	if b.maxBytes > 0 && total > b.maxBytes {
		return nil, fmt.Errorf("%w: %s (%s > %s)", ErrFileTooLarge, req.Task.Url,
			helpers.BytesToSize(uint64(total)), helpers.BytesToSize(uint64(b.maxBytes)))
	}

	fileName := b.fileName(req.Task, resp)
	finalPath := filepath.Join(req.OutputDir, fileName)

	tempFile, err := os.CreateTemp(req.OutputDir, fileName+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("%w: creating temporary file: %v", ErrFileSystem, err)
	}
	keepTemp := false
	defer func() {
		if !keepTemp {
			if removeErr := os.Remove(tempFile.Name()); removeErr != nil && !os.IsNotExist(removeErr) {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s", tempFile.Name())
			}
		}
	}()

	log.Infof("Downloading %s to %s (Size: %s)", req.Task.Url, finalPath, helpers.BytesToSize(uint64(max(total, 0))))

	counter := &progressWriter{
		inner:    &helpers.CounterWriter{Writer: tempFile},
		total:    total,
		progress: req.Progress,
		maxBytes: b.maxBytes,
	}
	if _, err := io.Copy(counter, resp.Body); err != nil {
		tempFile.Close()
		if errors.Is(err, ErrFileTooLarge) {
			return nil, fmt.Errorf("%w: %s", ErrFileTooLarge, req.Task.Url)
		}
		return nil, fmt.Errorf("%w: writing %s: %v", ErrFileSystem, tempFile.Name(), err)
	}
	if err := tempFile.Close(); err != nil {
		return nil, fmt.Errorf("%w: closing %s: %v", ErrFileSystem, tempFile.Name(), err)
	}

	if err := os.Rename(tempFile.Name(), finalPath); err != nil {
		return nil, fmt.Errorf("%w: renaming %s to %s: %v", ErrFileSystem, tempFile.Name(), finalPath, err)
	}
	keepTemp = true

	st, err := os.Stat(finalPath)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrFileSystem, finalPath, err)
	}

	title := req.Task.Hints.Title
	if title == "" {
		meta, _ := b.Metadata(ctx, req.Task.Url)
		title = meta.Title
	}

	log.Infof("Successfully downloaded %s (%s)", finalPath, helpers.BytesToSize(uint64(st.Size())))
	return &source.Result{
		FilePath:  finalPath,
		Title:     title,
		Artist:    req.Task.Hints.Artist,
		MimeType:  mimeFor(finalPath),
		SizeBytes: st.Size(),
		Duration:  helpers.ProbeMediaDuration(ctx, finalPath),
	}, nil
}

// fileName picks the on-disk name: Content-Disposition when the server
// offers one, otherwise the task ID with the URL's extension. Task-ID naming
// keeps concurrent downloads from colliding.
func (b *Backend) fileName(task models.DownloadTask, resp *http.Response) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return task.ID + "_" + filepath.Base(params["filename"])
		}
	}
	u, err := url.Parse(task.Url)
	ext := ".bin"
	if err == nil {
		if e := strings.ToLower(path.Ext(u.Path)); e != "" {
			ext = e
		}
	}
	return task.ID + ext
}

func mimeFor(p string) string {
	if mt, ok := fileExtensions[strings.ToLower(filepath.Ext(p))]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(filepath.Ext(p)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

// progressWriter enforces the size cap while streaming and reports roughly
// every 5% (or every 5 MiB when the total is unknown).
type progressWriter struct {
	inner    *helpers.CounterWriter
	total    int64
	maxBytes int64
	progress chan<- source.Progress

	lastReport uint64
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.inner.Write(p)
	if err != nil {
		return n, err
	}
	if w.maxBytes > 0 && w.inner.Total > uint64(w.maxBytes) {
		return n, ErrFileTooLarge
	}

	step := uint64(5 * 1024 * 1024)
	if w.total > 0 {
		step = uint64(w.total) / 20
		if step == 0 {
			step = 1
		}
	}
	if w.inner.Total-w.lastReport >= step {
		w.lastReport = w.inner.Total
		snap := source.Progress{DownloadedBytes: int64(w.inner.Total), TotalBytes: w.total}
		if w.total > 0 {
			snap.Percent = float64(w.inner.Total) / float64(w.total) * 100
		}
		source.Notify(w.progress, snap)
	}
	return n, err
}
