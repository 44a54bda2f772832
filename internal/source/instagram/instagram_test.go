package instagram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go-media-download/internal/models"
	"go-media-download/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractShortcode(t *testing.T) {
	tests := []struct {
		rawURL string
		want   string
	}{
		{"https://www.instagram.com/reel/ABC123xyz/", "ABC123xyz"},
		{"https://www.instagram.com/p/XYZ789/", "XYZ789"},
		{"https://www.instagram.com/tv/TV456/", "TV456"},
		{"https://www.instagram.com/reels/R111/", "R111"},
		{"https://www.instagram.com/someuser/reel/DEF456/", "DEF456"},
		{"https://www.instagram.com/someuser/", ""},
		{"https://www.instagram.com/", ""},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.rawURL)
		require.NoError(t, err)
		assert.Equal(t, tt.want, extractShortcode(u), tt.rawURL)
	}
}

func TestSupports(t *testing.T) {
	b := New(nil, nil)

	assert.True(t, b.Supports("https://www.instagram.com/reel/ABC123/"))
	assert.True(t, b.Supports("https://instagram.com/p/XYZ/"))
	assert.False(t, b.Supports("https://www.instagram.com/someprofile/"), "profile pages are not content URLs")
	assert.False(t, b.Supports("https://youtube.com/watch?v=abc"))
	assert.False(t, b.Supports("not a url"))
}

func TestRateLimiterWindow(t *testing.T) {
	rl := &rateLimiter{limit: 3}
	for i := 0; i < 3; i++ {
		assert.True(t, rl.acquire())
	}
	assert.False(t, rl.acquire())

	// Entries older than the window free their slots.
	rl.timestamps[0] = time.Now().Add(-2 * time.Hour)
	assert.True(t, rl.acquire())
}

// newTestBackend points the backend at a test server for both the GraphQL
// endpoint and the media URLs it hands back.
func newTestBackend(ts *httptest.Server) *Backend {
	b := New(ts.Client(), nil)
	b.endpoint = ts.URL + "/api/graphql"
	return b
}

func graphqlBody(mediaJSON string) string {
	return fmt.Sprintf(`{"data":{"xdt_shortcode_media":%s}}`, mediaJSON)
}

func TestDownloadSingleVideo(t *testing.T) {
	videoBytes := []byte("not really an mp4 but long enough to stream")

	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/graphql":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, appID, r.Header.Get("X-IG-App-ID"))
			require.NoError(t, r.ParseForm())
			assert.Contains(t, r.PostForm.Get("variables"), "ABC123")
			fmt.Fprint(w, graphqlBody(fmt.Sprintf(`{
				"is_video": true,
				"video_url": %q,
				"video_duration": 12.5,
				"owner": {"username": "someone"},
				"edge_media_to_caption": {"edges": [{"node": {"text": "A sunset reel\nwith a second line"}}]}
			}`, ts.URL+"/media/video.mp4")))
		case "/media/video.mp4":
			w.Write(videoBytes)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	b := newTestBackend(ts)
	dir := t.TempDir()
	result, err := b.Download(context.Background(), source.Request{
		Task:      models.DownloadTask{ID: "t1", Url: "https://www.instagram.com/reel/ABC123/"},
		OutputDir: dir,
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "t1.mp4"), result.FilePath)
	assert.Equal(t, "video/mp4", result.MimeType)
	assert.Equal(t, int64(len(videoBytes)), result.SizeBytes)
	assert.Equal(t, 12500*time.Millisecond, result.Duration)
	assert.Equal(t, "A sunset reel", result.Title)
	assert.Equal(t, "someone", result.Artist)
	assert.Empty(t, result.AdditionalFiles)

	data, err := os.ReadFile(result.FilePath)
	require.NoError(t, err)
	assert.Equal(t, videoBytes, data)
}

func TestDownloadCarousel(t *testing.T) {
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/graphql":
			fmt.Fprint(w, graphqlBody(fmt.Sprintf(`{
				"is_video": false,
				"owner": {"username": "gallery"},
				"edge_sidecar_to_children": {"edges": [
					{"node": {"is_video": false, "display_url": %q}},
					{"node": {"is_video": false, "display_url": %q}},
					{"node": {"is_video": false, "display_url": %q}}
				]}
			}`, ts.URL+"/media/1.jpg", ts.URL+"/media/2.jpg", ts.URL+"/media/3.jpg")))
		case "/media/1.jpg", "/media/2.jpg", "/media/3.jpg":
			fmt.Fprint(w, "jpeg bytes")
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	b := newTestBackend(ts)
	dir := t.TempDir()
	result, err := b.Download(context.Background(), source.Request{
		Task:      models.DownloadTask{ID: "t2", Url: "https://www.instagram.com/p/GAL999/"},
		OutputDir: dir,
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "t2.jpg"), result.FilePath)
	assert.Equal(t, "image/jpeg", result.MimeType)
	require.Len(t, result.AdditionalFiles, 2)
	assert.Equal(t, filepath.Join(dir, "t2_carousel_2.jpg"), result.AdditionalFiles[0])
	assert.Equal(t, filepath.Join(dir, "t2_carousel_3.jpg"), result.AdditionalFiles[1])
	for _, p := range result.AdditionalFiles {
		_, err := os.Stat(p)
		assert.NoError(t, err)
	}
}

type stubDelegate struct {
	downloads int
	metadata  int
	result    *source.Result
}

func (s *stubDelegate) Name() string         { return "stub" }
func (s *stubDelegate) Supports(string) bool { return true }
func (s *stubDelegate) Metadata(context.Context, string) (source.Metadata, error) {
	s.metadata++
	return source.Metadata{Title: "from delegate"}, nil
}
func (s *stubDelegate) EstimateSize(context.Context, string, string) (int64, error) {
	return 0, nil
}
func (s *stubDelegate) IsLivestream(context.Context, string) (bool, error) {
	return false, nil
}
func (s *stubDelegate) Download(context.Context, source.Request) (*source.Result, error) {
	s.downloads++
	return s.result, nil
}

func TestGraphQLFailureDelegates(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"message": "login_required"}`)
	}))
	defer ts.Close()

	delegate := &stubDelegate{result: &source.Result{FilePath: "/media/out.mp4"}}
	b := newTestBackend(ts)
	b.delegate = delegate

	result, err := b.Download(context.Background(), source.Request{
		Task:      models.DownloadTask{ID: "t3", Url: "https://www.instagram.com/reel/PRIVATE/"},
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, "/media/out.mp4", result.FilePath)
	assert.Equal(t, 1, delegate.downloads)

	_, err = b.Metadata(context.Background(), "https://www.instagram.com/reel/PRIVATE/")
	require.NoError(t, err)
	assert.Equal(t, 1, delegate.metadata)
}

func TestGraphQLFailureWithoutDelegateErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"message": "checkpoint_required"}`)
	}))
	defer ts.Close()

	b := newTestBackend(ts)
	_, err := b.Download(context.Background(), source.Request{
		Task:      models.DownloadTask{ID: "t4", Url: "https://www.instagram.com/reel/PRIVATE/"},
		OutputDir: t.TempDir(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login required")
}
