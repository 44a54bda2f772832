// Package cookies validates Netscape-format cookie files and watches them
// for out-of-band refreshes.
package cookies

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Info summarizes a cookie file for diagnostics.
type Info struct {
	Path      string
	Entries   int
	Domains   int
	ModTime   time.Time
	SizeBytes int64
}

// Inspect parses a Netscape cookie file and reports what it holds. It does
// not care about expiry; yt-dlp handles stale cookies itself.
func Inspect(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening cookie file: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat cookie file: %w", err)
	}

	info := &Info{Path: path, ModTime: st.ModTime(), SizeBytes: st.Size()}
	domains := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			return nil, fmt.Errorf("cookie file %s is not in Netscape format (line with %d fields)", path, len(fields))
		}
		info.Entries++
		domains[strings.TrimPrefix(fields[0], ".")] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading cookie file: %w", err)
	}
	info.Domains = len(domains)
	return info, nil
}

// Validate checks that the file exists and is a usable Netscape cookie jar.
func Validate(path string) error {
	info, err := Inspect(path)
	if err != nil {
		return err
	}
	if info.Entries == 0 {
		return fmt.Errorf("cookie file %s contains no cookies", path)
	}
	log.WithFields(log.Fields{
		"path":    path,
		"entries": info.Entries,
		"domains": info.Domains,
	}).Debug("Cookie file validated")
	return nil
}

// FileRefresher waits for someone (an operator, a browser-export cron) to
// replace the cookie file on disk. RequestRefresh returns true once the
// file's modification time advances past the point of failure and the new
// file validates.
type FileRefresher struct {
	Path string
	// Poll is the mtime polling interval; defaults to 2s.
	Poll time.Duration
}

func (r *FileRefresher) RequestRefresh(ctx context.Context, reason, url string) bool {
	log.WithFields(log.Fields{
		"reason": reason,
		"url":    url,
		"path":   r.Path,
	}).Warn("Cookies rejected, waiting for refreshed cookie file")

	var baseline time.Time
	if st, err := os.Stat(r.Path); err == nil {
		baseline = st.ModTime()
	}

	poll := r.Poll
	if poll <= 0 {
		poll = 2 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			st, err := os.Stat(r.Path)
			if err != nil || !st.ModTime().After(baseline) {
				continue
			}
			if err := Validate(r.Path); err != nil {
				log.WithError(err).Warn("Refreshed cookie file failed validation, still waiting")
				baseline = st.ModTime()
				continue
			}
			log.Info("Refreshed cookie file accepted")
			return true
		}
	}
}
