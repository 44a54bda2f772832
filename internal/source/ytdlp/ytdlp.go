// Package ytdlp implements the extraction-tool download backend: URL
// routing, metadata probes, and the proxy-chain/tier fallback engine around
// yt-dlp subprocess runs.
package ytdlp

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go-media-download/internal/helpers"
	"go-media-download/internal/metacache"
	"go-media-download/internal/models"
	"go-media-download/internal/source"

	log "github.com/sirupsen/logrus"
)

// knownDomains is a non-exhaustive allowlist for fast routing; anything
// else that is http(s) and not a direct file link is still attempted since
// the tool supports over a thousand extractors.
var knownDomains = []string{
	"youtube.com",
	"youtu.be",
	"music.youtube.com",
	"soundcloud.com",
	"vimeo.com",
	"tiktok.com",
	"instagram.com",
	"twitter.com",
	"x.com",
	"facebook.com",
	"twitch.tv",
	"dailymotion.com",
	"bandcamp.com",
	"reddit.com",
	"bilibili.com",
	"nicovideo.jp",
	"rutube.ru",
	"ok.ru",
	"vk.com",
	"clips.twitch.tv",
}

// directFileExtensions are handled by the direct HTTP backend, never here.
var directFileExtensions = map[string]bool{
	"mp3": true, "mp4": true, "wav": true, "flac": true, "ogg": true,
	"m4a": true, "webm": true, "avi": true, "mkv": true, "zip": true,
	"rar": true, "pdf": true,
}

// Backend is the yt-dlp download source.
type Backend struct {
	bin    string
	runner Runner
	engine *Engine
	meta   *metacache.Cache

	cookiesFile string
	tokenURL    string
	rateLimit   string
}

// New builds the backend from config. runner and refresher may be swapped
// out in tests; meta is the injected metadata cache.
func New(cfg models.Config, runner Runner, refresher Refresher, meta *metacache.Cache) *Backend {
	engine := &Engine{
		Bin:           cfg.YtdlpPath,
		Runner:        runner,
		Chain:         BuildProxyChain(cfg.Proxies),
		Refresher:     refresher,
		RefreshWait:   time.Duration(cfg.CookieRefreshWaitSec) * time.Second,
		RefreshSettle: 3 * time.Second,
		Cleanup:       helpers.CleanupPartials,
	}
	return &Backend{
		bin:         cfg.YtdlpPath,
		runner:      runner,
		engine:      engine,
		meta:        meta,
		cookiesFile: cfg.CookiesFile,
		tokenURL:    os.Getenv("POT_PROVIDER_URL"),
		rateLimit:   cfg.RateLimit,
	}
}

func (b *Backend) Name() string { return "yt-dlp" }

// Supports accepts known media hosts plus any http(s) URL that does not
// look like a direct file link.
func (b *Backend) Supports(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if isKnownDomain(u) {
		return true
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(u.Path), "."))
	return !directFileExtensions[ext]
}

func isKnownDomain(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, d := range knownDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Metadata probes title and artist, consulting the injected cache first.
func (b *Backend) Metadata(ctx context.Context, rawURL string) (source.Metadata, error) {
	if b.meta != nil {
		if title, artist, ok := b.meta.Get(rawURL); ok {
			log.Debugf("Metadata cache hit for %s", rawURL)
			return source.Metadata{Title: title, Artist: artist}, nil
		}
	}

	out, runErr := b.runner.Capture(ctx, b.bin, b.probeArgs(
		"--print", "%(title)s",
		"--print", "%(artist,creator,uploader|NA)s",
		"--print", "%(duration|0)s",
		rawURL,
	))
	if runErr != nil {
		return source.Metadata{}, runErr
	}

	lines := strings.Split(out, "\n")
	meta := source.Metadata{Title: "Unknown Track"}
	if len(lines) > 0 && strings.TrimSpace(lines[0]) != "" && lines[0] != "NA" {
		meta.Title = strings.TrimSpace(lines[0])
	}
	if len(lines) > 1 {
		if artist := strings.TrimSpace(lines[1]); artist != "" && artist != "NA" {
			meta.Artist = artist
		}
	}
	if len(lines) > 2 {
		if secs, err := strconv.ParseFloat(strings.TrimSpace(lines[2]), 64); err == nil && secs > 0 {
			meta.Duration = time.Duration(secs * float64(time.Second))
		}
	}

	if b.meta != nil && meta.Artist != "" {
		b.meta.Put(rawURL, meta.Title, meta.Artist)
	}
	return meta, nil
}

// EstimateSize asks the tool for an approximate size. Best effort: zero
// with nil error when the site does not report one.
func (b *Backend) EstimateSize(ctx context.Context, rawURL string, format string) (int64, error) {
	out, runErr := b.runner.Capture(ctx, b.bin, b.probeArgs(
		"--print", "%(filesize_approx|0)s",
		rawURL,
	))
	if runErr != nil {
		return 0, runErr
	}
	out = strings.TrimSpace(out)
	if out == "" || out == "NA" || out == "None" {
		return 0, nil
	}
	size, err := strconv.ParseInt(out, 10, 64)
	if err != nil {
		return 0, nil
	}
	return size, nil
}

// IsLivestream reports whether the media is currently live. Probe failures
// are treated as "not live" so they do not block a normal download attempt.
func (b *Backend) IsLivestream(ctx context.Context, rawURL string) (bool, error) {
	out, runErr := b.runner.Capture(ctx, b.bin, b.probeArgs(
		"--print", "%(is_live|False)s",
		rawURL,
	))
	if runErr != nil {
		log.WithError(runErr).Debugf("Livestream probe failed for %s", rawURL)
		return false, nil
	}
	return strings.EqualFold(strings.TrimSpace(out), "true"), nil
}

// Download runs the full fallback chain and returns the completed file.
func (b *Backend) Download(ctx context.Context, req source.Request) (*source.Result, error) {
	task := req.Task

	ext := "mp3"
	mime := "audio/mpeg"
	if task.Video {
		ext = "mp4"
		mime = "video/mp4"
	}
	outputPath := filepath.Join(req.OutputDir, fmt.Sprintf("%s.%s", task.ID, ext))

	spec := ArgSpec{
		OutputPath:  outputPath,
		Url:         task.Url,
		Video:       task.Video,
		Bitrate:     task.Bitrate,
		RateLimit:   b.rateLimit,
		CookiesFile: b.cookiesFile,
		TokenURL:    b.tokenURL,
	}
	if task.Video {
		spec.FormatExpr = BuildFormatExpr(task.Quality)
	}
	if task.TimeRange != nil {
		spec.Section = task.TimeRange.Section()
	}

	if runErr := b.engine.Download(ctx, spec, req.Progress); runErr != nil {
		return nil, runErr
	}

	actualPath := findDownloadedFile(outputPath)
	info, err := os.Stat(actualPath)
	if err != nil {
		return nil, fmt.Errorf("download reported success but output missing at %s: %w", actualPath, err)
	}

	result := &source.Result{
		FilePath:  actualPath,
		MimeType:  mime,
		SizeBytes: info.Size(),
		Duration:  helpers.ProbeMediaDuration(ctx, actualPath),
		Title:     task.Hints.Title,
		Artist:    task.Hints.Artist,
	}
	if result.Title == "" && b.meta != nil {
		if title, artist, ok := b.meta.Get(task.Url); ok {
			result.Title = title
			if result.Artist == "" {
				result.Artist = artist
			}
		}
	}
	return result, nil
}

// probeArgs wraps a --print probe with the shared probe flags and cookies.
func (b *Backend) probeArgs(printArgs ...string) []string {
	args := []string{"--no-playlist", "--skip-download", "--no-check-certificate"}
	if b.cookiesFile != "" {
		args = append(args, "--cookies", b.cookiesFile)
	}
	return append(args, printArgs...)
}

// findDownloadedFile locates the real output. The tool can adjust the
// extension or add a numbered suffix when a name collides.
func findDownloadedFile(expectedPath string) string {
	if _, err := os.Stat(expectedPath); err == nil {
		return expectedPath
	}

	stem := strings.TrimSuffix(expectedPath, filepath.Ext(expectedPath))
	matches, err := filepath.Glob(stem + ".*")
	if err != nil {
		return expectedPath
	}
	for _, m := range matches {
		lower := strings.ToLower(m)
		if strings.Contains(lower, ".part") || strings.Contains(lower, ".ytdl") || strings.HasSuffix(lower, ".tmp") {
			continue
		}
		log.Debugf("Output landed at %s instead of %s", m, expectedPath)
		return m
	}
	return expectedPath
}
