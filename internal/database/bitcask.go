package database

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go-media-download/internal/models"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a key is not found in the database.
var ErrNotFound = errors.New("key not found")

// gzipMagicBytes are the first two bytes of a gzip file.
var gzipMagicBytes = []byte{0x1f, 0x8b}

// taskKeyPrefix namespaces durable task rows from any other state kept in
// the same store.
const taskKeyPrefix = "task_"

// DB wraps the bitcask database instance and provides helper methods.
type DB struct {
	db           *bitcask.Bitcask
	sync.RWMutex // Embed mutex for concurrent access control
}

// Open initializes and returns a DB instance.
func Open(path string) (*DB, error) {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	dbInstance, err := bitcask.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bitcask database at %s: %w", path, err)
	}
	log.Infof("Database opened successfully at %s", path)
	return &DB{db: dbInstance}, nil
}

// Close safely closes the database connection.
func (d *DB) Close() error {
	log.Info("Closing database...")
	d.Lock()
	defer d.Unlock()
	return d.db.Close()
}

// Has checks if a key exists in the database.
func (d *DB) Has(key []byte) bool {
	d.RLock()
	defer d.RUnlock()
	return d.db.Has(key)
}

// Get retrieves the value associated with a key and decompresses it if necessary.
func (d *DB) Get(key []byte) ([]byte, error) {
	d.RLock()
	value, err := d.db.Get(key)
	d.RUnlock()

	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting key %s: %w", string(key), err)
	}

	return decompressIfGzipped(value)
}

// Put compresses and stores a key-value pair in the database.
func (d *DB) Put(key []byte, value []byte) error {
	compressedValue, err := compressGzip(value, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("error compressing value for key %s: %w", string(key), err)
	}

	d.Lock()
	err = d.db.Put(key, compressedValue)
	d.Unlock()
	if err != nil {
		return fmt.Errorf("error putting compressed key %s: %w", string(key), err)
	}
	return nil
}

// Delete removes a key from the database.
func (d *DB) Delete(key []byte) error {
	d.Lock()
	err := d.db.Delete(key)
	d.Unlock()
	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("error deleting key %s: %w", string(key), err)
	}
	return nil
}

// Fold iterates over all key-value pairs, decompresses the value,
// and calls the provided function.
func (d *DB) Fold(fn func(key []byte, value []byte) error) error {
	d.RLock()
	defer d.RUnlock()

	err := d.db.Fold(func(key []byte) error {
		// Keep the main read lock for the duration of Fold
		rawValue, err := d.db.Get(key)
		if err != nil {
			log.WithError(err).Warnf("Fold: Error getting value for key %s", string(key))
			return nil
		}

		value, err := decompressIfGzipped(rawValue)
		if err != nil {
			log.WithError(err).Warnf("Fold: Error decompressing value for key %s", string(key))
			return nil
		}

		return fn(key, value)
	})

	return err
}

// --- Task Row Helpers ---

// taskKey builds the database key for a task ID.
func taskKey(id string) []byte {
	return []byte(taskKeyPrefix + id)
}

// PutTaskRecord serializes and stores a task row keyed by task ID.
func (d *DB) PutTaskRecord(record models.TaskRecord) error {
	if record.Task.ID == "" {
		return errors.New("cannot store task record: task ID is empty")
	}
	record.UpdatedAt = time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = record.UpdatedAt
	}

	dataBytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("error marshalling task record %s: %w", record.Task.ID, err)
	}

	log.Debugf("Storing task record with key %s%s", taskKeyPrefix, record.Task.ID)
	return d.Put(taskKey(record.Task.ID), dataBytes)
}

// GetTaskRecord loads the task row for the given ID.
func (d *DB) GetTaskRecord(id string) (models.TaskRecord, error) {
	raw, err := d.Get(taskKey(id))
	if err != nil {
		return models.TaskRecord{}, err
	}
	var record models.TaskRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return models.TaskRecord{}, fmt.Errorf("error unmarshalling task record %s: %w", id, err)
	}
	return record, nil
}

// UpdateTaskRecord loads the row for id, applies updateFn, and writes it back.
func (d *DB) UpdateTaskRecord(id string, updateFn func(*models.TaskRecord)) error {
	record, err := d.GetTaskRecord(id)
	if err != nil {
		return err
	}
	updateFn(&record)
	return d.PutTaskRecord(record)
}

// DeleteTaskRecord removes the task row for the given ID. Deleting a
// missing row is not an error.
func (d *DB) DeleteTaskRecord(id string) error {
	err := d.Delete(taskKey(id))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// ListTaskRecords returns all task rows matching the filter. A nil filter
// returns every row.
func (d *DB) ListTaskRecords(filter func(models.TaskRecord) bool) ([]models.TaskRecord, error) {
	var records []models.TaskRecord
	err := d.Fold(func(key []byte, value []byte) error {
		if !strings.HasPrefix(string(key), taskKeyPrefix) {
			return nil
		}
		var record models.TaskRecord
		if err := json.Unmarshal(value, &record); err != nil {
			log.WithError(err).Warnf("Skipping unreadable task record %s", string(key))
			return nil
		}
		if filter == nil || filter(record) {
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error listing task records: %w", err)
	}
	return records, nil
}

// ListTasksByStatus returns all task rows in the given status.
func (d *DB) ListTasksByStatus(status models.TaskStatus) ([]models.TaskRecord, error) {
	return d.ListTaskRecords(func(r models.TaskRecord) bool {
		return r.Status == status
	})
}

// --- Compression Helpers ---

// decompressIfGzipped decompresses the value if it is gzipped.
func decompressIfGzipped(value []byte) ([]byte, error) {
	if bytes.HasPrefix(value, gzipMagicBytes) {
		bReader := bytes.NewReader(value)
		gReader, err := gzip.NewReader(bReader)
		if err != nil {
			log.WithError(err).Warnf("Error creating gzip reader for value, returning raw data.")
			return value, nil
		}
		defer gReader.Close()

		decompressedValue, err := io.ReadAll(gReader)
		if err != nil {
			log.WithError(err).Warnf("Error decompressing value, returning raw data.")
			return value, nil
		}
		return decompressedValue, nil
	}

	return value, nil
}

// compressGzip compresses the value using gzip with the specified compression level.
func compressGzip(value []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	gWriter, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("error creating gzip writer for value: %w", err)
	}
	_, err = gWriter.Write(value)
	if err != nil {
		_ = gWriter.Close()
		return nil, fmt.Errorf("error writing compressed data for value: %w", err)
	}
	// Close must be called to flush buffers
	if err := gWriter.Close(); err != nil {
		return nil, fmt.Errorf("error closing gzip writer for value: %w", err)
	}

	return buf.Bytes(), nil
}
