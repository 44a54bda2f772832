// Package queue implements the in-memory priority queue feeding the
// download workers, with best-effort mirroring to the durable task store.
package queue

import (
	"container/heap"
	"errors"
	"sort"
	"sync"
	"time"

	"go-media-download/internal/models"

	log "github.com/sirupsen/logrus"
)

var (
	ErrQueueFull     = errors.New("queue is full")
	ErrDuplicateTask = errors.New("task is already queued or processing")
)

// TaskStore is the durable mirror the queue writes through to. The
// in-memory queue is the source of truth for ordering; mirror writes happen
// synchronously outside the lock so a task's row transitions in the same
// order the task does. A worker may write a terminal status for a task
// microseconds after Dequeue returns it, and that write must land last.
type TaskStore interface {
	PutTaskRecord(record models.TaskRecord) error
	UpdateTaskRecord(id string, updateFn func(*models.TaskRecord)) error
}

// QueuedTask is a read-only view of a waiting task, used for snapshots.
type QueuedTask struct {
	ID       string
	Url      string
	Format   string
	Priority models.TaskPriority
	Position int
}

type item struct {
	task *models.DownloadTask
	seq  uint64
}

// taskHeap orders by priority (high first), then arrival sequence.
type taskHeap []*item

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is safe for concurrent use. All operations are short critical
// sections; no I/O happens while the lock is held.
type Queue struct {
	mu       sync.Mutex
	items    taskHeap
	active   map[string]struct{}
	depths   map[models.TaskPriority]int
	capacity int
	nextSeq  uint64
	store    TaskStore
}

// New creates a queue bounded at capacity. store may be nil to disable
// durable mirroring (tests mostly run this way).
func New(capacity int, store TaskStore) *Queue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Queue{
		active:   make(map[string]struct{}),
		depths:   make(map[models.TaskPriority]int),
		capacity: capacity,
		store:    store,
	}
}

// Enqueue admits a task, rejecting duplicates of anything already queued or
// processing and enforcing the capacity bound. The durable mirror row is
// written before Enqueue returns.
func (q *Queue) Enqueue(task models.DownloadTask) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}
	key := task.DedupKey()

	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	if _, exists := q.active[key]; exists {
		q.mu.Unlock()
		return ErrDuplicateTask
	}
	q.active[key] = struct{}{}
	q.nextSeq++
	t := task
	heap.Push(&q.items, &item{task: &t, seq: q.nextSeq})
	q.depths[task.Priority]++
	q.mu.Unlock()

	log.WithFields(log.Fields{
		"task_id":  task.ID,
		"priority": task.Priority.String(),
	}).Debug("Task enqueued")

	q.mirrorPut(models.TaskRecord{Task: task, Status: models.StatusPending})
	return nil
}

// Dequeue removes and returns the highest-priority oldest task, or nil when
// the queue is empty. The task stays in the duplicate-suppression set until
// Release is called for it.
func (q *Queue) Dequeue() *models.DownloadTask {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil
	}
	it := heap.Pop(&q.items).(*item)
	q.depths[it.task.Priority]--
	q.mu.Unlock()

	q.mirrorStatus(it.task.ID, models.StatusProcessing, "")
	return it.task
}

// Release drops the duplicate-suppression entry for a task that reached a
// terminal state, allowing the same url+requester+format to be requested
// again.
func (q *Queue) Release(task models.DownloadTask) {
	q.mu.Lock()
	delete(q.active, task.DedupKey())
	q.mu.Unlock()
}

// PositionOf returns the 1-based queue position of a task, or 0 when the
// task is not waiting (unknown, processing, or done).
func (q *Queue) PositionOf(taskID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, it := range q.sortedLocked() {
		if it.task.ID == taskID {
			return i + 1
		}
	}
	return 0
}

// SnapshotFor lists a requester's waiting tasks in dequeue order, with
// their current positions.
func (q *Queue) SnapshotFor(requester int64) []QueuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []QueuedTask
	for i, it := range q.sortedLocked() {
		if it.task.Requester != requester {
			continue
		}
		out = append(out, QueuedTask{
			ID:       it.task.ID,
			Url:      it.task.Url,
			Format:   it.task.Format,
			Priority: it.task.Priority,
			Position: i + 1,
		})
	}
	return out
}

// EvictOlderThan removes waiting tasks enqueued before now-maxAge and
// returns how many were evicted. Calling it again with the same bound is a
// no-op. Evicted mirror rows are marked failed.
func (q *Queue) EvictOlderThan(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	q.mu.Lock()
	var kept taskHeap
	var evicted []*models.DownloadTask
	for _, it := range q.items {
		if it.task.EnqueuedAt.Before(cutoff) {
			evicted = append(evicted, it.task)
			delete(q.active, it.task.DedupKey())
			q.depths[it.task.Priority]--
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept
	heap.Init(&q.items)
	q.mu.Unlock()

	for _, task := range evicted {
		log.WithFields(log.Fields{
			"task_id": task.ID,
			"age":     time.Since(task.EnqueuedAt).Round(time.Second),
		}).Warn("Evicting stale queued task")
		q.mirrorStatus(task.ID, models.StatusFailed, "expired while waiting in queue")
	}
	return len(evicted)
}

// Len returns the number of waiting tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Depths reports the per-priority depth gauges.
func (q *Queue) Depths() map[models.TaskPriority]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[models.TaskPriority]int, len(q.depths))
	for p, n := range q.depths {
		out[p] = n
	}
	return out
}

// sortedLocked returns the items in dequeue order. Caller holds q.mu.
func (q *Queue) sortedLocked() []*item {
	sorted := make([]*item, len(q.items))
	copy(sorted, q.items)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].task.Priority != sorted[j].task.Priority {
			return sorted[i].task.Priority > sorted[j].task.Priority
		}
		return sorted[i].seq < sorted[j].seq
	})
	return sorted
}

// mirrorPut writes a new mirror row. Called outside the lock.
func (q *Queue) mirrorPut(record models.TaskRecord) {
	if q.store == nil {
		return
	}
	if err := q.store.PutTaskRecord(record); err != nil {
		log.WithError(err).Warnf("Failed to mirror task %s to database", record.Task.ID)
	}
}

// mirrorStatus updates a mirror row's status. Called outside the lock, and
// always before the task can reach its next state transition.
func (q *Queue) mirrorStatus(taskID string, status models.TaskStatus, errDetails string) {
	if q.store == nil {
		return
	}
	err := q.store.UpdateTaskRecord(taskID, func(r *models.TaskRecord) {
		r.Status = status
		if errDetails != "" {
			r.ErrorDetails = errDetails
		}
	})
	if err != nil {
		log.WithError(err).Warnf("Failed to update mirrored task %s", taskID)
	}
}
