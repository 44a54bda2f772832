package helpers

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// partialSuffixes are the temp-file extensions the extraction tool leaves
// behind after an interrupted attempt.
var partialSuffixes = []string{".part", ".part-Frag*", ".ytdl", ".temp", ".tmp"}

// FileHash returns the lowercase hex BLAKE3 hash of a file's contents.
func FileHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("error hashing %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// CleanupPartials removes the file at path plus any partial/temp artifacts
// the extraction tool produced for it, so a stale partial can never be
// mistaken for a fresh attempt's output.
func CleanupPartials(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)

	for _, suffix := range partialSuffixes {
		pattern := path + suffix
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if err := os.Remove(m); err == nil {
				log.Debugf("Removed partial file %s", m)
			}
		}
	}

	// Catch fragment leftovers like file.mp4.part-Frag3.part
	matches, err := filepath.Glob(path + ".*")
	if err != nil {
		return
	}
	for _, m := range matches {
		lower := strings.ToLower(m)
		if strings.Contains(lower, ".part") || strings.Contains(lower, ".ytdl") {
			if err := os.Remove(m); err == nil {
				log.Debugf("Removed partial file %s", m)
			}
		}
	}
}

// CounterWriter tracks the number of bytes written to the underlying writer.
// It's used to display download progress.
type CounterWriter struct {
	Total  uint64
	Writer io.Writer
}

// Write implements the io.Writer interface for CounterWriter.
func (cw *CounterWriter) Write(p []byte) (int, error) {
	n, err := cw.Writer.Write(p)
	cw.Total += uint64(n)
	return n, err
}

// BytesToSize converts a byte count into a human-readable string (KB, MB, GB, etc.).
func BytesToSize(bytes uint64) string {
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	if bytes == 0 {
		return "0B"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1 // Handle very large sizes
	}
	return fmt.Sprintf("%.2f%s", float64(bytes)/math.Pow(1024, float64(i)), sizes[i])
}

// ConvertToSlug converts a string into a filesystem-friendly slug.
func ConvertToSlug(str string) string {
	str = strings.ReplaceAll(str, " ", "_")
	str = strings.ReplaceAll(str, ":", "-")
	str = strings.ToLower(str)

	allowedChars := "0123456789abcdefghijklmnopqrstuvwxyz._-"

	var filteredDescription strings.Builder
	for _, ch := range str {
		if strings.ContainsRune(allowedChars, ch) {
			filteredDescription.WriteRune(ch)
		}
	}
	str = filteredDescription.String()

	// Simplify repeated separators
	for strings.Contains(str, "--") {
		str = strings.ReplaceAll(str, "--", "-")
	}
	for strings.Contains(str, "__") {
		str = strings.ReplaceAll(str, "__", "_")
	}
	str = strings.ReplaceAll(str, "-_", "-")
	str = strings.ReplaceAll(str, "_-", "-")

	// Remove leading/trailing separators
	str = strings.Trim(str, "_-")

	return str
}

// ProbeMediaDuration asks ffprobe for the media length of a downloaded file.
// Best effort: returns zero when ffprobe is missing, the file has no format
// duration, or the probe fails for any other reason.
func ProbeMediaDuration(ctx context.Context, path string) time.Duration {
	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		log.Debugf("Duration probe failed for %s: %v", path, err)
		return 0
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// CheckAndMakeDir ensures a directory exists, creating it if necessary.
// Uses standard directory permissions (0700).
func CheckAndMakeDir(dir string) bool {
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		log.WithError(err).Errorf("Error creating directory %s", dir)
		return false
	}
	return true
}
