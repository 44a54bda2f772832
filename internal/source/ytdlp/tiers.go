package ytdlp

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// AuthMode selects how an attempt authenticates.
type AuthMode int

const (
	// AuthNone relies on the tool's modern default client selection, which
	// works for most public media without credentials.
	AuthNone AuthMode = iota
	// AuthCookies sends the stored session cookies plus the client-integrity
	// token provider.
	AuthCookies
)

// TierConfig describes one escalation tier as data. The three tiers differ
// only in base-arg profile, auth mode, and whether post-processing is
// disabled.
type TierConfig struct {
	Name          string
	Auth          AuthMode
	MinimalBase   bool
	FixupNever    bool
	ExtractorArgs string
}

// Tiers returns the escalation ladder in attempt order.
func Tiers() []TierConfig {
	return []TierConfig{
		{
			Name:          "no-cookies",
			Auth:          AuthNone,
			ExtractorArgs: "youtube:player_client=default;formats=missing_pot",
		},
		{
			Name:          "cookies",
			Auth:          AuthCookies,
			MinimalBase:   true,
			ExtractorArgs: "youtube:player_client=default",
		},
		{
			Name:          "fixup-never",
			Auth:          AuthCookies,
			MinimalBase:   true,
			FixupNever:    true,
			ExtractorArgs: "youtube:player_client=default",
		},
	}
}

// ArgSpec carries the per-task inputs for argument building. Built once per
// task; combined with a TierConfig and a Hop to produce the full command
// line for one attempt.
type ArgSpec struct {
	OutputPath  string
	Url         string
	Video       bool
	FormatExpr  string // video format selector
	Bitrate     string // audio bitrate, e.g. "320k"
	Section     string // --download-sections spec, empty for full media
	RateLimit   string
	CookiesFile string
	TokenURL    string // client-integrity token provider base URL
}

// BuildArgs assembles the complete yt-dlp argument list for one attempt.
func BuildArgs(tier TierConfig, spec ArgSpec, hop Hop) []string {
	var args []string
	if tier.MinimalBase {
		args = minimalBaseArgs(spec.OutputPath)
	} else {
		args = fullBaseArgs(spec.OutputPath, spec.RateLimit)
	}

	if tier.FixupNever {
		args = append(args, "--fixup", "never")
	}

	if spec.Video {
		args = append(args, "--format", spec.FormatExpr, "--merge-output-format", "mp4")
		if !tier.FixupNever {
			args = append(args, "--postprocessor-args", "Merger:-movflags +faststart")
		}
	} else {
		args = append(args,
			"--extract-audio",
			"--audio-format", "mp3",
			"--audio-quality", "0",
			"--add-metadata",
		)
		if !tier.FixupNever {
			bitrate := spec.Bitrate
			if bitrate == "" {
				bitrate = "320k"
			}
			args = append(args,
				"--embed-thumbnail",
				"--postprocessor-args", fmt.Sprintf("ffmpeg:-acodec libmp3lame -b:a %s", bitrate),
			)
		}
	}

	if !hop.Direct() {
		args = append(args, "--proxy", hop.Url)
	}

	if tier.Auth == AuthCookies {
		if spec.TokenURL != "" {
			args = append(args, "--extractor-args",
				fmt.Sprintf("youtubepot-bgutilhttp:base_url=%s", spec.TokenURL))
		}
		if spec.CookiesFile != "" {
			args = append(args, "--cookies", spec.CookiesFile)
		} else {
			log.Warn("No cookies file configured; authenticated attempts will likely fail")
		}
	}

	if tier.ExtractorArgs != "" {
		args = append(args, "--extractor-args", tier.ExtractorArgs)
	}
	args = append(args, "--js-runtimes", "deno", "--no-check-certificate")

	if spec.Section != "" {
		args = append(args, "--download-sections", spec.Section, "--force-keyframes-at-cuts")
	}

	return append(args, spec.Url)
}

// fullBaseArgs is the Tier 1 base profile: conservative pacing and rate
// limiting for a long self-throttled first attempt.
func fullBaseArgs(outputPath, rateLimit string) []string {
	if rateLimit == "" {
		rateLimit = "5M"
	}
	return []string{
		"-o", outputPath,
		"--newline",
		"--force-overwrites",
		"--no-playlist",
		"--concurrent-fragments", "1",
		"--fragment-retries", "10",
		"--socket-timeout", "30",
		"--http-chunk-size", "2097152",
		"--sleep-requests", "2",
		"--sleep-interval", "3",
		"--max-sleep-interval", "10",
		"--limit-rate", rateLimit,
		"--retry-sleep", "http:exp=1:30",
		"--retry-sleep", "fragment:exp=1:30",
		"--retries", "15",
	}
}

// minimalBaseArgs is the fallback-tier profile: same transfer settings
// without the pacing, since fallback attempts should finish fast.
func minimalBaseArgs(outputPath string) []string {
	return []string{
		"-o", outputPath,
		"--newline",
		"--force-overwrites",
		"--no-playlist",
		"--concurrent-fragments", "1",
		"--fragment-retries", "10",
		"--socket-timeout", "30",
		"--http-chunk-size", "2097152",
	}
}

// BuildFormatExpr builds a compatibility-first video format selector: H.264
// plus AAC at or below the requested height, walking down a height ladder,
// with generic fallbacks at the end. An empty quality uses the full ladder.
func BuildFormatExpr(quality string) string {
	heights := []int{1080, 720, 480, 360, 240}
	if h := parseQuality(quality); h > 0 {
		filtered := []int{h}
		for _, v := range heights {
			if v != h {
				filtered = append(filtered, v)
			}
		}
		heights = filtered
	}

	var parts []string
	for _, h := range heights {
		filter := fmt.Sprintf("[height<=%d]", h)
		parts = append(parts,
			fmt.Sprintf("bv*%s[vcodec^=avc1]+ba[acodec^=mp4a]", filter),
			fmt.Sprintf("bv*%s[vcodec^=avc1][ext=mp4]+ba[ext=m4a]", filter),
		)
	}
	parts = append(parts,
		"bestvideo[ext=mp4]+bestaudio[ext=m4a]",
		"best[ext=mp4]",
		"best",
	)
	return strings.Join(parts, "/")
}

// parseQuality extracts the height from hints like "720p" or "1080".
func parseQuality(quality string) int {
	q := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(quality)), "p")
	switch q {
	case "1080":
		return 1080
	case "720":
		return 720
	case "480":
		return 480
	case "360":
		return 360
	case "240":
		return 240
	}
	return 0
}
