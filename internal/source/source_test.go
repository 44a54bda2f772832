package source

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubSource struct {
	name    string
	matches func(string) bool
}

func (s *stubSource) Name() string                { return s.name }
func (s *stubSource) Supports(rawURL string) bool { return s.matches(rawURL) }
func (s *stubSource) Metadata(context.Context, string) (Metadata, error) {
	return Metadata{}, nil
}
func (s *stubSource) EstimateSize(context.Context, string, string) (int64, error) {
	return 0, nil
}
func (s *stubSource) IsLivestream(context.Context, string) (bool, error) {
	return false, nil
}
func (s *stubSource) Download(context.Context, Request) (*Result, error) {
	return &Result{}, nil
}

func TestRegistryFirstMatchWins(t *testing.T) {
	direct := &stubSource{name: "direct", matches: func(u string) bool {
		return strings.HasSuffix(u, ".mp3")
	}}
	catchAll := &stubSource{name: "ytdlp", matches: func(string) bool { return true }}

	r := NewRegistry(direct, catchAll)

	assert.Equal(t, "direct", r.Resolve("https://example.com/song.mp3").Name())
	assert.Equal(t, "ytdlp", r.Resolve("https://example.com/watch?v=1").Name())
}

func TestRegistryNoMatchReturnsNil(t *testing.T) {
	narrow := &stubSource{name: "direct", matches: func(u string) bool {
		return strings.HasSuffix(u, ".mp3")
	}}
	r := NewRegistry(narrow)

	assert.Nil(t, r.Resolve("ftp://example.com/file"))
}

func TestRegistryOrderIsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubSource{name: "a", matches: func(string) bool { return true }})
	r.Register(&stubSource{name: "b", matches: func(string) bool { return true }})

	assert.Equal(t, []string{"a", "b"}, r.Names())
	// Even though both match, the earlier registration wins.
	assert.Equal(t, "a", r.Resolve("anything").Name())
}

func TestNotifyNeverBlocks(t *testing.T) {
	ch := make(chan Progress, 1)
	Notify(ch, Progress{Percent: 10})
	// Buffer is now full; a second notify must drop instead of blocking.
	Notify(ch, Progress{Percent: 20})

	got := <-ch
	assert.Equal(t, 10.0, got.Percent)

	// Nil channel is tolerated.
	Notify(nil, Progress{Percent: 30})
}
