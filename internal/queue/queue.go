// Package queue implements the bounded priority FIFO that couples stream
// producers to analysis workers: strict ordering by
// (-priority, created_at), admission-time eviction of the lowest priority
// class when full, and a non-blocking-under-contention push.
//
// All mutable state sits behind one mutex; the only blocking wait is the
// condition variable Pop parks on, and no operation holds the lock across
// any other wait.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/odsyjr2/detection-supervisor/internal/model"
	"github.com/odsyjr2/detection-supervisor/internal/telemetry"
)

// PushResult is the outcome of a push attempt.
type PushResult int

const (
	Accepted PushResult = iota
	DroppedLow
	Blocked
	Closed
)

func (r PushResult) String() string {
	switch r {
	case Accepted:
		return "ACCEPTED"
	case DroppedLow:
		return "DROPPED_LOW"
	case Blocked:
		return "BLOCKED"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// PopStatus distinguishes a timed-out pop from a drained, closed queue.
type PopStatus int

const (
	PopOK PopStatus = iota
	PopTimeout
	PopClosed
)

// item wraps a task with its heap-insertion sequence, used only to keep the
// container/heap implementation's Less stable; the queue's own ordering
// already derives (-priority, created_at) from the task itself.
type item struct {
	task AnalysisTask
	seq  uint64
}

// AnalysisTask aliases the model type to keep this package's signatures
// short.
type AnalysisTask = model.AnalysisTask

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].task.Less(h[j].task) != h[j].task.Less(h[i].task) {
		return h[i].task.Less(h[j].task)
	}
	// Equal (priority, created_at): preserve insertion order.
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// PushBlockTimeout is the maximum duration push will contend for the lock
// before giving up and reporting Blocked.
const PushBlockTimeout = 50 * time.Millisecond

// DroppedFunc is invoked with every task evicted or rejected by admission
// control, feeding the dropped-task metrics.
type DroppedFunc func(task AnalysisTask, reason string)

// Queue is a bounded, priority-ordered, concurrency-safe task queue.
type Queue struct {
	capacity int
	onDrop   DroppedFunc
	log      telemetry.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	items   itemHeap
	nextSeq uint64
	closed  bool
}

// New creates a queue with the given capacity.
// onDrop may be nil.
func New(capacity int, onDrop DroppedFunc, log telemetry.Logger) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	if log == nil {
		log = telemetry.New(nil)
	}
	q := &Queue{capacity: capacity, onDrop: onDrop, log: log}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.items)
	return q
}

// Push attempts to admit task. When full, a strictly higher priority than the queue's
// current minimum evicts the oldest task at that minimum; otherwise the new
// task is dropped.
//
// Push never blocks on contention: the mutex is acquired with TryLock in a
// short retry loop bounded by PushBlockTimeout, after which it reports
// Blocked so the caller (a producer) can apply its own drop-oldest-LOW
// retry policy.
func (q *Queue) Push(task AnalysisTask) PushResult {
	deadline := time.Now().Add(PushBlockTimeout)
	for !q.mu.TryLock() {
		if time.Now().After(deadline) {
			return Blocked
		}
		time.Sleep(time.Millisecond)
	}
	defer q.mu.Unlock()

	if q.closed {
		return Closed
	}

	if len(q.items) < q.capacity {
		q.push(task)
		q.cond.Signal()
		return Accepted
	}

	minIdx := q.minPriorityIndex()
	if minIdx < 0 {
		return DroppedLow
	}
	minItem := q.items[minIdx]
	if task.Priority <= minItem.task.Priority {
		q.log.WarnCtx(context.Background(), "queue full, rejecting task",
			"task_id", task.TaskID,
			"stream_id", task.ParkingEvent.StreamID,
			"priority", task.Priority.String())
		if q.onDrop != nil {
			q.onDrop(task, "rejected_low")
		}
		return DroppedLow
	}

	heap.Remove(&q.items, minIdx)
	q.log.WarnCtx(context.Background(), "queue full, evicting oldest low-priority task",
		"evicted_task_id", minItem.task.TaskID,
		"evicted_priority", minItem.task.Priority.String(),
		"admitted_task_id", task.TaskID,
		"admitted_priority", task.Priority.String())
	if q.onDrop != nil {
		q.onDrop(minItem.task, "dropped_low")
	}
	q.push(task)
	q.cond.Signal()
	return Accepted
}

func (q *Queue) push(task AnalysisTask) {
	heap.Push(&q.items, &item{task: task, seq: q.nextSeq})
	q.nextSeq++
}

// minPriorityIndex returns the heap index of the item holding the queue's
// lowest priority class, oldest first within that class. Returns -1 if
// empty. O(n); called only when the queue is already at capacity.
func (q *Queue) minPriorityIndex() int {
	if len(q.items) == 0 {
		return -1
	}
	worst := 0
	for i := 1; i < len(q.items); i++ {
		if q.items[i].task.Priority < q.items[worst].task.Priority ||
			(q.items[i].task.Priority == q.items[worst].task.Priority &&
				q.items[i].task.CreatedAt.Before(q.items[worst].task.CreatedAt)) {
			worst = i
		}
	}
	return worst
}

// Pop removes and returns the highest-priority, oldest-within-class task,
// blocking on the queue's condition variable until one is available, the
// deadline elapses, or the queue is closed and drained.
func (q *Queue) Pop(deadline time.Time) (AnalysisTask, PopStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()

	timedOut := false
	timer := time.AfterFunc(time.Until(deadline), func() {
		q.mu.Lock()
		timedOut = true
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	for len(q.items) == 0 && !q.closed && !timedOut {
		q.cond.Wait()
	}

	if len(q.items) > 0 {
		it := heap.Pop(&q.items).(*item)
		return it.task, PopOK
	}
	if q.closed {
		return AnalysisTask{}, PopClosed
	}
	return AnalysisTask{}, PopTimeout
}

// Close marks the queue closed: further Push calls return Closed, and Pop
// drains remaining items before returning PopClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// SizeByPriority reports the current depth of each priority class, for the
// health pulse.
func (q *Queue) SizeByPriority() map[model.Priority]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	sizes := map[model.Priority]int{}
	for _, it := range q.items {
		sizes[it.task.Priority]++
	}
	return sizes
}

// Len returns the total number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
