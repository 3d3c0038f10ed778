package healing

import (
	"container/heap"
	"sync"
	"time"
)

// resetTask is a deferred circuit-breaker reset probe.
type resetTask struct {
	dueAt    time.Time
	provider string
	attempt  int
}

// delayQueue is a min-heap of deferred tasks keyed by due time. The healer
// drains it on its own tick instead of scattering timers; entries referring
// to providers that have since been removed are discarded at pop time.
type delayQueue struct {
	mu    sync.Mutex
	tasks taskHeap
}

func newDelayQueue() *delayQueue {
	q := &delayQueue{}
	heap.Init(&q.tasks)
	return q
}

func (q *delayQueue) push(task resetTask) {
	q.mu.Lock()
	heap.Push(&q.tasks, task)
	q.mu.Unlock()
}

// popDue removes and returns all tasks due at or before now.
func (q *delayQueue) popDue(now time.Time) []resetTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []resetTask
	for q.tasks.Len() > 0 && !q.tasks[0].dueAt.After(now) {
		due = append(due, heap.Pop(&q.tasks).(resetTask))
	}
	return due
}

func (q *delayQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

type taskHeap []resetTask

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].dueAt.Before(h[j].dueAt) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(resetTask)) }
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	*h = old[:n-1]
	return task
}
