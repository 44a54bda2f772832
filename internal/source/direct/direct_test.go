package direct

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go-media-download/internal/models"
	"go-media-download/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupports(t *testing.T) {
	b := New(nil, nil)
	assert.True(t, b.Supports("https://example.com/files/track.mp3"))
	assert.True(t, b.Supports("http://example.com/archive.ZIP"))
	assert.False(t, b.Supports("https://youtube.com/watch?v=abc"))
	assert.False(t, b.Supports("ftp://example.com/track.mp3"))
	assert.False(t, b.Supports("https://example.com/page.html"))
	assert.False(t, b.Supports("not a url"))
}

func TestMetadataFromFileName(t *testing.T) {
	b := New(nil, nil)
	meta, err := b.Metadata(context.Background(), "https://example.com/music/My%20Song.mp3")
	require.NoError(t, err)
	assert.Equal(t, "My Song", meta.Title)
}

func TestDownload(t *testing.T) {
	body := strings.Repeat("x", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	b := New(nil, srv.Client())
	progress := make(chan source.Progress, 64)
	res, err := b.Download(context.Background(), source.Request{
		Task:      models.DownloadTask{ID: "task1", Url: srv.URL + "/song.mp3"},
		OutputDir: t.TempDir(),
		Progress:  progress,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), res.SizeBytes)
	assert.Equal(t, "audio/mpeg", res.MimeType)
	assert.Equal(t, "song", res.Title)

	data, err := os.ReadFile(res.FilePath)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))

	// No temp leftovers.
	entries, err := os.ReadDir(filepath.Dir(res.FilePath))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDownloadUsesContentDisposition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="served name.mp3"`)
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	b := New(nil, srv.Client())
	res, err := b.Download(context.Background(), source.Request{
		Task:      models.DownloadTask{ID: "task2", Url: srv.URL + "/d.mp3"},
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, "task2_served name.mp3", filepath.Base(res.FilePath))
}

func TestDownloadHttpError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	b := New(nil, srv.Client())
	_, err := b.Download(context.Background(), source.Request{
		Task:      models.DownloadTask{ID: "task3", Url: srv.URL + "/gone.mp3"},
		OutputDir: t.TempDir(),
	})
	assert.ErrorIs(t, err, ErrHttpStatus)
}

func TestDownloadSizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 3*1024*1024))
	}))
	defer srv.Close()

	b := New(&models.Config{MaxFileSizeMB: 2}, srv.Client())
	dir := t.TempDir()
	_, err := b.Download(context.Background(), source.Request{
		Task:      models.DownloadTask{ID: "task4", Url: srv.URL + "/big.mp3"},
		OutputDir: dir,
	})
	require.ErrorIs(t, err, ErrFileTooLarge)

	// Partial content must not survive.
	entries, err2 := os.ReadDir(dir)
	require.NoError(t, err2)
	assert.Empty(t, entries)
}

func TestEstimateSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1234")
	}))
	defer srv.Close()

	b := New(nil, srv.Client())
	size, err := b.EstimateSize(context.Background(), srv.URL+"/f.mp3", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), size)
}
