package database

import (
	"path/filepath"
	"testing"
	"time"

	"go-media-download/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestTaskRecordRoundTrip(t *testing.T) {
	db := openTestDB(t)

	record := models.TaskRecord{
		Task: models.DownloadTask{
			ID:        "abc-123",
			Url:       "https://example.com/v/1",
			Requester: 42,
			Format:    "mp3",
			Priority:  models.PriorityHigh,
		},
		Status: models.StatusPending,
	}
	require.NoError(t, db.PutTaskRecord(record))

	got, err := db.GetTaskRecord("abc-123")
	require.NoError(t, err)
	assert.Equal(t, record.Task, got.Task)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.False(t, got.CreatedAt.IsZero(), "CreatedAt should be stamped on first put")
}

func TestPutTaskRecordRequiresID(t *testing.T) {
	db := openTestDB(t)
	err := db.PutTaskRecord(models.TaskRecord{Status: models.StatusPending})
	assert.Error(t, err)
}

func TestUpdateTaskRecord(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.PutTaskRecord(models.TaskRecord{
		Task:   models.DownloadTask{ID: "u-1", Url: "https://example.com"},
		Status: models.StatusPending,
	}))

	err := db.UpdateTaskRecord("u-1", func(r *models.TaskRecord) {
		r.Status = models.StatusFailed
		r.ErrorDetails = "bot detection"
		r.Task.RetryCount++
	})
	require.NoError(t, err)

	got, err := db.GetTaskRecord("u-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "bot detection", got.ErrorDetails)
	assert.Equal(t, 1, got.Task.RetryCount)
}

func TestGetTaskRecordNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetTaskRecord("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteTaskRecordIdempotent(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.PutTaskRecord(models.TaskRecord{
		Task:   models.DownloadTask{ID: "d-1", Url: "https://example.com"},
		Status: models.StatusCompleted,
	}))
	require.NoError(t, db.DeleteTaskRecord("d-1"))
	// Second delete of the same row is a no-op.
	require.NoError(t, db.DeleteTaskRecord("d-1"))
}

func TestListTasksByStatus(t *testing.T) {
	db := openTestDB(t)

	now := time.Now()
	for i, status := range []models.TaskStatus{
		models.StatusPending, models.StatusPending, models.StatusCompleted,
	} {
		require.NoError(t, db.PutTaskRecord(models.TaskRecord{
			Task: models.DownloadTask{
				ID:         string(rune('a' + i)),
				Url:        "https://example.com",
				EnqueuedAt: now,
			},
			Status: status,
		}))
	}

	pending, err := db.ListTasksByStatus(models.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	all, err := db.ListTaskRecords(nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
