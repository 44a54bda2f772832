package queue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"go-media-download/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func task(id string, priority models.TaskPriority) models.DownloadTask {
	return models.DownloadTask{
		ID:        id,
		Url:       "https://example.com/v/" + id,
		Requester: 1,
		Format:    "mp3",
		Priority:  priority,
	}
}

func TestDequeueOrder(t *testing.T) {
	q := New(10, nil)

	require.NoError(t, q.Enqueue(task("a", models.PriorityLow)))
	require.NoError(t, q.Enqueue(task("b", models.PriorityHigh)))
	require.NoError(t, q.Enqueue(task("c", models.PriorityMedium)))
	require.NoError(t, q.Enqueue(task("d", models.PriorityHigh)))

	var order []string
	for {
		next := q.Dequeue()
		if next == nil {
			break
		}
		order = append(order, next.ID)
	}
	assert.Equal(t, []string{"b", "d", "c", "a"}, order)
}

func TestPositionOf(t *testing.T) {
	q := New(10, nil)

	require.NoError(t, q.Enqueue(task("a", models.PriorityLow)))
	require.NoError(t, q.Enqueue(task("b", models.PriorityHigh)))
	require.NoError(t, q.Enqueue(task("c", models.PriorityLow)))

	assert.Equal(t, 1, q.PositionOf("b"))
	assert.Equal(t, 2, q.PositionOf("a"))
	assert.Equal(t, 3, q.PositionOf("c"))
	assert.Equal(t, 0, q.PositionOf("nope"))

	// Positions shift down once the head is taken.
	require.NotNil(t, q.Dequeue())
	assert.Equal(t, 1, q.PositionOf("a"))
	assert.Equal(t, 2, q.PositionOf("c"))
	assert.Equal(t, 0, q.PositionOf("b"), "processing task has no queue position")
}

func TestDuplicateSuppression(t *testing.T) {
	q := New(10, nil)

	first := task("a", models.PriorityLow)
	require.NoError(t, q.Enqueue(first))

	dup := task("a2", models.PriorityLow) // same url+requester+format
	dup.Url = first.Url
	assert.ErrorIs(t, q.Enqueue(dup), ErrDuplicateTask)

	// Still a duplicate while processing.
	got := q.Dequeue()
	require.NotNil(t, got)
	assert.ErrorIs(t, q.Enqueue(dup), ErrDuplicateTask)

	// Allowed again after release.
	q.Release(*got)
	assert.NoError(t, q.Enqueue(dup))
}

func TestCapacityBound(t *testing.T) {
	q := New(2, nil)

	require.NoError(t, q.Enqueue(task("a", models.PriorityLow)))
	require.NoError(t, q.Enqueue(task("b", models.PriorityLow)))
	assert.ErrorIs(t, q.Enqueue(task("c", models.PriorityLow)), ErrQueueFull)
}

func TestSnapshotFor(t *testing.T) {
	q := New(10, nil)

	mine := task("a", models.PriorityLow)
	mine.Requester = 7
	other := task("b", models.PriorityHigh)
	other.Requester = 8
	mineToo := task("c", models.PriorityHigh)
	mineToo.Requester = 7

	require.NoError(t, q.Enqueue(mine))
	require.NoError(t, q.Enqueue(other))
	require.NoError(t, q.Enqueue(mineToo))

	snap := q.SnapshotFor(7)
	require.Len(t, snap, 2)
	assert.Equal(t, "c", snap[0].ID)
	assert.Equal(t, 2, snap[0].Position)
	assert.Equal(t, "a", snap[1].ID)
	assert.Equal(t, 3, snap[1].Position)

	assert.Empty(t, q.SnapshotFor(99))
}

func TestEvictOlderThan(t *testing.T) {
	q := New(10, nil)

	stale := task("old", models.PriorityHigh)
	stale.EnqueuedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, q.Enqueue(stale))
	require.NoError(t, q.Enqueue(task("fresh", models.PriorityLow)))

	assert.Equal(t, 1, q.EvictOlderThan(time.Hour))
	// Idempotent: a second sweep with the same bound removes nothing.
	assert.Equal(t, 0, q.EvictOlderThan(time.Hour))

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1, q.PositionOf("fresh"))

	// The evicted slot is free for re-use.
	assert.NoError(t, q.Enqueue(task("old", models.PriorityHigh)))
}

func TestDepthGauges(t *testing.T) {
	q := New(10, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(task(fmt.Sprintf("h%d", i), models.PriorityHigh)))
	}
	require.NoError(t, q.Enqueue(task("l0", models.PriorityLow)))

	depths := q.Depths()
	assert.Equal(t, 3, depths[models.PriorityHigh])
	assert.Equal(t, 1, depths[models.PriorityLow])

	q.Dequeue()
	assert.Equal(t, 2, q.Depths()[models.PriorityHigh])
}

func TestDequeueEmpty(t *testing.T) {
	q := New(10, nil)
	assert.Nil(t, q.Dequeue())
}

// slowStore stalls Processing updates, the way a busy database would.
type slowStore struct {
	mu      sync.Mutex
	records map[string]models.TaskRecord
}

func newSlowStore() *slowStore {
	return &slowStore{records: make(map[string]models.TaskRecord)}
}

func (s *slowStore) PutTaskRecord(record models.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Task.ID] = record
	return nil
}

func (s *slowStore) UpdateTaskRecord(id string, updateFn func(*models.TaskRecord)) error {
	s.mu.Lock()
	rec := s.records[id]
	s.mu.Unlock()

	updateFn(&rec)
	if rec.Status == models.StatusProcessing {
		time.Sleep(50 * time.Millisecond)
	}

	s.mu.Lock()
	s.records[id] = rec
	s.mu.Unlock()
	return nil
}

func (s *slowStore) get(id string) models.TaskRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

// A worker can fail a task immediately after dequeuing it. The Processing
// mirror write must already be committed by then, so the terminal status is
// never overwritten by a stale in-flight update.
func TestMirrorWritesAreOrdered(t *testing.T) {
	store := newSlowStore()
	q := New(10, store)

	tk := task("a", models.PriorityHigh)
	require.NoError(t, q.Enqueue(tk))

	got := q.Dequeue()
	require.NotNil(t, got)
	assert.Equal(t, models.StatusProcessing, store.get("a").Status)

	require.NoError(t, store.UpdateTaskRecord("a", func(r *models.TaskRecord) {
		r.Status = models.StatusFailed
		r.ErrorDetails = "immediate rejection"
	}))

	// Give any stray goroutine a chance to do damage before checking.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, models.StatusFailed, store.get("a").Status)
}
