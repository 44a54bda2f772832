package ytdlp

import (
	"fmt"
	"strings"
)

// ErrorKind is the closed classification of extraction-tool failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetworkError
	KindInvalidCookies
	KindBotDetection
	KindVideoUnavailable
	KindFragmentError
	KindPostprocessingError
	KindDiskSpaceError
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetworkError:
		return "NetworkError"
	case KindInvalidCookies:
		return "InvalidCookies"
	case KindBotDetection:
		return "BotDetection"
	case KindVideoUnavailable:
		return "VideoUnavailable"
	case KindFragmentError:
		return "FragmentError"
	case KindPostprocessingError:
		return "PostprocessingError"
	case KindDiskSpaceError:
		return "DiskSpaceError"
	default:
		return "Unknown"
	}
}

// RunError is a classified failure from one subprocess attempt. Stderr holds
// the captured tail of the tool's diagnostic output.
type RunError struct {
	Kind   ErrorKind
	Stderr string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("yt-dlp failed (%s): %s", e.Kind, truncate(e.Stderr, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Classify maps raw diagnostic text to an ErrorKind. It is total: any input
// yields a kind. Signature groups are checked in a fixed order because many
// diagnostics match more than one group (e.g. a fragment 403 must not be
// read as plain bot detection).
func Classify(stderr string) ErrorKind {
	s := strings.ToLower(stderr)

	// A bot challenge is an IP/fingerprint block, not a cookies problem.
	if strings.Contains(s, "sign in to confirm you're not a bot") ||
		strings.Contains(s, "sign in to confirm you’re not a bot") ||
		strings.Contains(s, "confirm you're not a bot") ||
		strings.Contains(s, "confirm you’re not a bot") {
		return KindBotDetection
	}

	if strings.Contains(s, "cookies are no longer valid") ||
		strings.Contains(s, "cookies have likely been rotated") ||
		strings.Contains(s, "please sign in") ||
		strings.Contains(s, "use --cookies-from-browser") ||
		strings.Contains(s, "use --cookies for the authentication") ||
		strings.Contains(s, "the provided youtube account cookies are no longer valid") {
		return KindInvalidCookies
	}

	if strings.Contains(s, "fragment") &&
		(strings.Contains(s, "http error 403") ||
			strings.Contains(s, "retrying fragment") ||
			strings.Contains(s, "fragment not found") ||
			strings.Contains(s, "skipping fragment")) {
		return KindFragmentError
	}

	if strings.Contains(s, "bot detection") ||
		strings.Contains(s, "http error 403") ||
		strings.Contains(s, "unable to extract") ||
		strings.Contains(s, "signature extraction failed") {
		return KindBotDetection
	}

	if strings.Contains(s, "private video") ||
		strings.Contains(s, "video unavailable") ||
		strings.Contains(s, "this video is not available") ||
		strings.Contains(s, "video is private") ||
		strings.Contains(s, "video has been removed") ||
		strings.Contains(s, "this video does not exist") ||
		strings.Contains(s, "video is not available") {
		return KindVideoUnavailable
	}

	if strings.Contains(s, "timeout") ||
		strings.Contains(s, "connection") ||
		strings.Contains(s, "network") ||
		strings.Contains(s, "socket") ||
		strings.Contains(s, "dns") ||
		strings.Contains(s, "failed to connect") {
		return KindNetworkError
	}

	if strings.Contains(s, "postprocessing") ||
		strings.Contains(s, "conversion failed") ||
		strings.Contains(s, "fixupm3u8") ||
		strings.Contains(s, "ffmpeg") ||
		strings.Contains(s, "merger") ||
		strings.Contains(s, "error fixing") {
		return KindPostprocessingError
	}

	if strings.Contains(s, "no space left") ||
		strings.Contains(s, "disk quota") ||
		strings.Contains(s, "not enough space") ||
		strings.Contains(s, "insufficient disk space") ||
		strings.Contains(s, "enospc") ||
		strings.Contains(s, "no free space") ||
		strings.Contains(s, "disk full") {
		return KindDiskSpaceError
	}

	return KindUnknown
}

// IsProxyRelated reports whether the diagnostic points at the network path
// or the proxy rather than the content or credentials. BotDetection counts
// as proxy-related here: a challenge is tied to the egress IP.
func IsProxyRelated(stderr string) bool {
	switch Classify(stderr) {
	case KindInvalidCookies:
		return false
	case KindBotDetection, KindNetworkError:
		return true
	}

	s := strings.ToLower(stderr)
	return strings.Contains(s, "proxy") ||
		strings.Contains(s, "tunnel") ||
		strings.Contains(s, "socks") ||
		strings.Contains(s, "407") ||
		strings.Contains(s, "forbidden") ||
		strings.Contains(s, "403") ||
		strings.Contains(s, "timed out") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "dns") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset")
}

// Message returns the caller-facing text for a failure kind. The raw stderr
// never reaches users.
func Message(kind ErrorKind) string {
	switch kind {
	case KindInvalidCookies:
		return "Temporary issue with the video service. Try a different video or retry later."
	case KindBotDetection:
		return "The video service blocked the request. Try a different video or retry later."
	case KindVideoUnavailable:
		return "Video unavailable. It may be private, deleted, or blocked in your region."
	case KindNetworkError:
		return "Network problem. Try again in a minute."
	case KindFragmentError:
		return "Temporary issue while downloading the video. Please retry."
	case KindPostprocessingError:
		return "Video processing error. Please retry."
	case KindDiskSpaceError:
		return "Server is overloaded. Try again later."
	default:
		return "Failed to download. Check that the link is correct."
	}
}

// ShouldNotifyAdmin reports whether a failure kind needs operator attention
// rather than being a routine per-video outcome.
func ShouldNotifyAdmin(kind ErrorKind) bool {
	switch kind {
	case KindInvalidCookies, KindBotDetection, KindDiskSpaceError, KindUnknown:
		return true
	}
	return false
}
