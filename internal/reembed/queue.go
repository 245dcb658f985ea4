package reembed

import (
	"container/heap"
	"sync"

	"github.com/google/uuid"
)

// Priority orders re-embed tasks. Higher values are served first; tasks
// of equal priority are served in enqueue order.
type Priority int

const (
	PriorityLow    Priority = 0 // background sweeps
	PriorityNormal Priority = 1 // model-change repairs
	PriorityHigh   Priority = 2 // chunks a user is actively waiting on
)

type task struct {
	chunkID  uuid.UUID
	priority Priority
	seq      uint64 // FIFO tiebreak within a priority
	index    int    // heap bookkeeping
}

type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Queue is a bounded priority queue of chunk IDs awaiting re-embedding,
// designed for many producers and one consumer.
//
// A chunk is queued at most once: re-enqueueing an already pending chunk
// only raises its priority. When the queue is full new tasks are dropped
// (the chunk stays on the stale list and a later sweep retries it).
type Queue struct {
	mu       sync.Mutex
	heap     taskHeap
	pending  map[uuid.UUID]*task
	capacity int
	seq      uint64
	closed   bool

	wake     chan struct{}
	closedCh chan struct{}
	once     sync.Once
}

// NewQueue creates a Queue holding at most capacity tasks.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		pending:  make(map[uuid.UUID]*task),
		capacity: capacity,
		wake:     make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
}

// Enqueue adds a chunk for re-embedding. It reports false when the task
// was dropped: the queue is closed or full.
func (q *Queue) Enqueue(chunkID uuid.UUID, p Priority) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}

	if existing, ok := q.pending[chunkID]; ok {
		if p > existing.priority {
			existing.priority = p
			heap.Fix(&q.heap, existing.index)
		}
		q.mu.Unlock()
		return true
	}

	if len(q.heap) >= q.capacity {
		q.mu.Unlock()
		return false
	}

	q.seq++
	t := &task{chunkID: chunkID, priority: p, seq: q.seq}
	q.pending[chunkID] = t
	heap.Push(&q.heap, t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Dequeue blocks until a task is available and returns its chunk ID. It
// returns false once the queue is closed and drained, or when done is
// closed.
func (q *Queue) Dequeue(done <-chan struct{}) (uuid.UUID, bool) {
	for {
		q.mu.Lock()
		if q.heap.Len() > 0 {
			t := heap.Pop(&q.heap).(*task)
			delete(q.pending, t.chunkID)
			q.mu.Unlock()
			return t.chunkID, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return uuid.Nil, false
		}

		select {
		case <-done:
			return uuid.Nil, false
		case <-q.closedCh:
			// Loop once more to drain anything racing with Close.
		case <-q.wake:
		}
	}
}

// Len reports the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Close rejects further enqueues. Pending tasks remain dequeueable until
// drained.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.once.Do(func() { close(q.closedCh) })
}
