// Package history keeps a searchable record of completed downloads.
package history

import (
	"fmt"
	"os"
	"time"

	"go-media-download/internal/models"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

const defaultIndexPath = "downloads.bleve"

// Entry is the indexed shape of one completed download. Fields are
// searchable under their lowercase JSON tag names (e.g. '+artist:someone').
type Entry struct {
	ID           string    `json:"id"`
	Url          string    `json:"url"`
	Title        string    `json:"title,omitempty"`
	Artist       string    `json:"artist,omitempty"`
	Format       string    `json:"format,omitempty"`
	FilePath     string    `json:"filePath,omitempty"`
	ContentHash  string    `json:"contentHash,omitempty"`
	Requester    int64     `json:"requester,omitempty"`
	SizeBytes    int64     `json:"sizeBytes,omitempty"`
	DurationSecs int64     `json:"durationSecs,omitempty"`
	CompletedAt  time.Time `json:"completedAt,omitempty"`

	// Populated by the share command.
	TorrentPath string `json:"torrentPath,omitempty"`
	MagnetLink  string `json:"magnetLink,omitempty"`
}

// History wraps a bleve index of completed downloads.
type History struct {
	index bleve.Index
}

// Open opens an existing index or creates a new one at indexPath.
func Open(indexPath string) (*History, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	index, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		log.Infof("Creating new history index at: %s", indexPath)
		mapping := bleve.NewIndexMapping()
		index, err = bleve.New(indexPath, mapping)
		if err != nil {
			return nil, fmt.Errorf("creating history index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("opening history index: %w", err)
	} else {
		log.Debugf("Opened existing history index at: %s", indexPath)
	}
	return &History{index: index}, nil
}

func (h *History) Close() error {
	return h.index.Close()
}

// IndexDownload records a completed task. Re-indexing the same task ID
// overwrites the previous entry.
func (h *History) IndexDownload(record models.TaskRecord) error {
	entry := Entry{
		ID:           record.Task.ID,
		Url:          record.Task.Url,
		Title:        record.Title,
		Artist:       record.Artist,
		Format:       record.Task.Format,
		FilePath:     record.FilePath,
		ContentHash:  record.ContentHash,
		Requester:    record.Task.Requester,
		SizeBytes:    record.SizeBytes,
		DurationSecs: record.DurationSecs,
		CompletedAt:  record.UpdatedAt,
	}
	return h.index.Index(entry.ID, entry)
}

// AttachTorrent adds share artifacts to an already indexed download.
func (h *History) AttachTorrent(record models.TaskRecord, torrentPath, magnetLink string) error {
	entry := Entry{
		ID:           record.Task.ID,
		Url:          record.Task.Url,
		Title:        record.Title,
		Artist:       record.Artist,
		Format:       record.Task.Format,
		FilePath:     record.FilePath,
		ContentHash:  record.ContentHash,
		Requester:    record.Task.Requester,
		SizeBytes:    record.SizeBytes,
		DurationSecs: record.DurationSecs,
		CompletedAt:  record.UpdatedAt,
		TorrentPath:  torrentPath,
		MagnetLink:   magnetLink,
	}
	return h.index.Index(entry.ID, entry)
}

// Search runs a bleve query-string query against the index.
func (h *History) Search(query string) (*bleve.SearchResult, error) {
	searchQuery := bleve.NewQueryStringQuery(query)
	searchRequest := bleve.NewSearchRequest(searchQuery)
	searchRequest.Fields = []string{"*"}
	return h.index.Search(searchRequest)
}

// Delete removes the index directory.
func Delete(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Warnf("Deleting history index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}
