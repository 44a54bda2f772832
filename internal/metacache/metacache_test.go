package metacache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPutGet(t *testing.T) {
	c := New(time.Minute)
	c.Put("https://example.com/v/1", "Song", "Artist")

	title, artist, ok := c.Get("https://example.com/v/1")
	assert.True(t, ok)
	assert.Equal(t, "Song", title)
	assert.Equal(t, "Artist", artist)

	_, _, ok = c.Get("https://example.com/v/2")
	assert.False(t, ok)
}

func TestPlaceholderEntriesAreMisses(t *testing.T) {
	c := New(time.Minute)

	c.Put("a", "Unknown Track", "Artist")
	_, _, ok := c.Get("a")
	assert.False(t, ok, "placeholder title should not be served")

	c.Put("b", "Song", "NA")
	_, _, ok = c.Get("b")
	assert.False(t, ok, "NA artist should not be served")

	c.Put("c", "Song", "  ")
	_, _, ok = c.Get("c")
	assert.False(t, ok, "blank artist should not be served")
}

func TestExpiry(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.Put("a", "Song", "Artist")

	time.Sleep(25 * time.Millisecond)
	_, _, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry is dropped on read")
}
