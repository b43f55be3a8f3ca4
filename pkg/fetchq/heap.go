package fetchq

import (
	"container/heap"
	"slices"
)

// taskHeap implements container/heap.Interface for queued tasks, ordered by
// priority (lowest first) and then by insertion sequence so equal priorities
// keep their arrival order.
type taskHeap[V any] []*task[V]

func (h taskHeap[V]) Len() int { return len(h) }

func (h taskHeap[V]) Less(i, j int) bool { return before(h[i], h[j]) }

func (h taskHeap[V]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap[V]) Push(x any) {
	t := x.(*task[V])
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap[V]) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func before[V any](a, b *task[V]) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

// heapPush adds a task to the heap, maintaining the heap invariant.
func heapPush[V any](h *taskHeap[V], t *task[V]) {
	heap.Push(h, t)
}

// heapPop removes and returns the most urgent task.
// Panics if the heap is empty.
func heapPop[V any](h *taskHeap[V]) *task[V] {
	return heap.Pop(h).(*task[V])
}

// heapUpgrade lowers the priority of a queued task and restores ordering.
// Returns false when priority would not improve the task's position.
func heapUpgrade[V any](h *taskHeap[V], t *task[V], priority int) bool {
	if t.index < 0 || priority >= t.priority {
		return false
	}
	t.priority = priority
	heap.Fix(h, t.index)
	return true
}

// ordered returns the queued tasks in dispatch order without disturbing the heap.
func (h taskHeap[V]) ordered() []*task[V] {
	out := slices.Clone([]*task[V](h))
	slices.SortFunc(out, func(a, b *task[V]) int {
		switch {
		case before(a, b):
			return -1
		case before(b, a):
			return 1
		default:
			return 0
		}
	})
	return out
}
