package ytdlp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		stderr   string
		expected ErrorKind
	}{
		// Bot challenges win over the cookie group even when both match.
		{"Sign in to confirm you're not a bot. Use --cookies-from-browser", KindBotDetection},
		{"confirm you're not a bot", KindBotDetection},
		{"bot detection triggered", KindBotDetection},
		{"ERROR: unable to download video data: HTTP Error 403: Forbidden", KindBotDetection},
		{"Unable to extract video data", KindBotDetection},
		{"Signature extraction failed", KindBotDetection},

		{"cookies are no longer valid", KindInvalidCookies},
		{"Cookies have likely been rotated", KindInvalidCookies},
		{"Please sign in", KindInvalidCookies},
		{"Use --cookies for the authentication", KindInvalidCookies},
		{"The provided YouTube account cookies are no longer valid", KindInvalidCookies},

		// A 403 inside fragment retries is a fragment error, not bot detection.
		{"fragment 3: HTTP Error 403: Forbidden", KindFragmentError},
		{"Retrying fragment 5 (attempt 2 of 10)", KindFragmentError},
		{"fragment not found; Skipping fragment 12", KindFragmentError},

		{"Private video. Sign in if you've been granted access", KindVideoUnavailable},
		{"Video unavailable", KindVideoUnavailable},
		{"This video is not available in your country", KindVideoUnavailable},
		{"Video has been removed", KindVideoUnavailable},

		{"Connection timeout", KindNetworkError},
		{"Connection refused", KindNetworkError},
		{"Network unreachable", KindNetworkError},
		{"Socket error", KindNetworkError},
		{"DNS resolution failed", KindNetworkError},
		{"Failed to connect to server", KindNetworkError},

		{"ERROR: Postprocessing: ffprobe not found", KindPostprocessingError},
		{"Conversion failed!", KindPostprocessingError},
		{"FixupM3u8 FFmpeg error", KindPostprocessingError},
		{"ffmpeg exited with code 1", KindPostprocessingError},
		{"ERROR: Merger: stream copy failed", KindPostprocessingError},

		{"OSError: [Errno 28] No space left on device", KindDiskSpaceError},
		{"Disk quota exceeded", KindDiskSpaceError},
		{"ENOSPC", KindDiskSpaceError},

		{"Some random error", KindUnknown},
		{"", KindUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.stderr, func(t *testing.T) {
			assert.Equal(t, tc.expected, Classify(tc.stderr), "stderr: %s", tc.stderr)
		})
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	assert.Equal(t, KindInvalidCookies, Classify("COOKIES ARE NO LONGER VALID"))
	assert.Equal(t, KindBotDetection, Classify("http error 403"))
	assert.Equal(t, KindVideoUnavailable, Classify("PRIVATE VIDEO"))
	assert.Equal(t, KindNetworkError, Classify("CONNECTION TIMEOUT"))
}

func TestIsProxyRelated(t *testing.T) {
	// Classified kinds decide first.
	assert.False(t, IsProxyRelated("cookies are no longer valid"))
	assert.True(t, IsProxyRelated("Sign in to confirm you're not a bot"))
	assert.True(t, IsProxyRelated("connection reset by peer"))

	// Signature fallback for text that classifies as Unknown.
	assert.True(t, IsProxyRelated("unable to connect to proxy server"))
	assert.True(t, IsProxyRelated("SOCKS5 handshake failed"))
	assert.True(t, IsProxyRelated("HTTP 407 Proxy Authentication Required"))
	assert.False(t, IsProxyRelated("some totally unrelated failure"))
}

func TestMessageNeverEmpty(t *testing.T) {
	kinds := []ErrorKind{
		KindUnknown, KindNetworkError, KindInvalidCookies, KindBotDetection,
		KindVideoUnavailable, KindFragmentError, KindPostprocessingError, KindDiskSpaceError,
	}
	for _, k := range kinds {
		assert.NotEmpty(t, Message(k), "kind %s", k)
		assert.NotEmpty(t, k.String())
	}
}

func TestShouldNotifyAdmin(t *testing.T) {
	assert.True(t, ShouldNotifyAdmin(KindInvalidCookies))
	assert.True(t, ShouldNotifyAdmin(KindBotDetection))
	assert.True(t, ShouldNotifyAdmin(KindDiskSpaceError))
	assert.True(t, ShouldNotifyAdmin(KindUnknown))

	assert.False(t, ShouldNotifyAdmin(KindVideoUnavailable))
	assert.False(t, ShouldNotifyAdmin(KindNetworkError))
	assert.False(t, ShouldNotifyAdmin(KindFragmentError))
	assert.False(t, ShouldNotifyAdmin(KindPostprocessingError))
}

func TestRunErrorMessage(t *testing.T) {
	err := &RunError{Kind: KindBotDetection, Stderr: "HTTP Error 403"}
	assert.Contains(t, err.Error(), "BotDetection")
	assert.Contains(t, err.Error(), "HTTP Error 403")
}
