package messaging

import (
	"sync"

	"github.com/hivemesh/swarmcore/internal/shared"
)

// priorityTiers is the number of task priority levels.
const priorityTiers = 3

func tierOf(p shared.TaskPriority) int {
	switch p {
	case shared.PriorityHigh:
		return 0
	case shared.PriorityLow:
		return 2
	default:
		return 1
	}
}

// PendingQueue holds pending task ids in priority tiers, FIFO within a
// tier. Assignment passes iterate it in order; tasks without candidates
// stay queued and are retried on the next pass.
type PendingQueue struct {
	mu     sync.RWMutex
	queues [priorityTiers]*Deque[string]
	total  int
}

// NewPendingQueue creates an empty pending queue.
func NewPendingQueue() *PendingQueue {
	pq := &PendingQueue{}
	for i := 0; i < priorityTiers; i++ {
		pq.queues[i] = NewDeque[string](16)
	}
	return pq
}

// Len returns the total number of queued task ids.
func (pq *PendingQueue) Len() int {
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	return pq.total
}

// Push appends a task id to the back of its priority tier.
func (pq *PendingQueue) Push(taskID string, priority shared.TaskPriority) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	pq.queues[tierOf(priority)].PushBack(taskID)
	pq.total++
}

// PushFront prepends a task id to its priority tier. Used for forced
// reassignments so displaced work is retried ahead of newer submissions.
func (pq *PendingQueue) PushFront(taskID string, priority shared.TaskPriority) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	pq.queues[tierOf(priority)].PushFront(taskID)
	pq.total++
}

// Remove deletes a task id from whatever tier holds it.
func (pq *PendingQueue) Remove(taskID string) bool {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	for i := 0; i < priorityTiers; i++ {
		if _, ok := pq.queues[i].FindAndRemove(func(id string) bool { return id == taskID }); ok {
			pq.total--
			return true
		}
	}
	return false
}

// List returns all queued ids in assignment order: priority tier first,
// FIFO within the tier.
func (pq *PendingQueue) List() []string {
	pq.mu.RLock()
	defer pq.mu.RUnlock()

	out := make([]string, 0, pq.total)
	for i := 0; i < priorityTiers; i++ {
		out = append(out, pq.queues[i].ToSlice()...)
	}
	return out
}

// Clear removes every queued id.
func (pq *PendingQueue) Clear() {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	for i := 0; i < priorityTiers; i++ {
		pq.queues[i].Clear()
	}
	pq.total = 0
}
