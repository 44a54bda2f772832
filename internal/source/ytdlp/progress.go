package ytdlp

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"go-media-download/internal/source"
)

// progressLine matches yt-dlp --newline progress output, e.g.
//
//	[download]  45.2% of 10.00MiB at 500.00KiB/s ETA 00:10
//	[download] 100.0% of ~3.52MiB at Unknown B/s ETA Unknown
var progressLine = regexp.MustCompile(
	`\[download\]\s+([\d.]+)%\s+of\s+~?\s*([\d.]+)(B|KiB|MiB|GiB|TiB)(?:\s+at\s+([\d.]+|Unknown)\s*(B|KiB|MiB|GiB|TiB)?/s)?(?:\s+ETA\s+(\S+))?`,
)

// ParseProgress parses one stdout line into a progress snapshot. The second
// return value is false for any line that is not a download progress line.
func ParseProgress(line string) (source.Progress, bool) {
	m := progressLine.FindStringSubmatch(line)
	if m == nil {
		return source.Progress{}, false
	}

	percent, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return source.Progress{}, false
	}

	p := source.Progress{Percent: percent}

	if total := parseSize(m[2], m[3]); total > 0 {
		p.TotalBytes = total
		p.DownloadedBytes = int64(percent / 100 * float64(total))
	}
	if m[4] != "" && m[4] != "Unknown" {
		if speed, err := strconv.ParseFloat(m[4], 64); err == nil {
			p.SpeedBPS = speed * float64(unitMultiplier(m[5]))
		}
	}
	if m[6] != "" {
		p.ETA = parseETA(m[6])
	}
	return p, true
}

func unitMultiplier(unit string) int64 {
	switch unit {
	case "KiB":
		return 1 << 10
	case "MiB":
		return 1 << 20
	case "GiB":
		return 1 << 30
	case "TiB":
		return 1 << 40
	default:
		return 1
	}
}

func parseSize(value, unit string) int64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return int64(f * float64(unitMultiplier(unit)))
}

// parseETA handles MM:SS and HH:MM:SS; anything else (Unknown, --:--)
// yields zero.
func parseETA(raw string) time.Duration {
	parts := strings.Split(raw, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0
	}
	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second
}
