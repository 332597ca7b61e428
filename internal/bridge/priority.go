// Package bridge implements the async callback bridge: a priority-queued
// work dispatcher that receives synchronous kernel callbacks on one side
// and drives them to completion on a worker pool with backpressure,
// timeouts, cancellation, and retry.
package bridge

import "container/heap"

// Priority orders tasks within the work queue; higher values run first.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

// taskHeap is a binary max-heap ordered by (Priority desc, seq asc) so
// tasks of equal priority run FIFO by submission order.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *taskHeap) Push(x interface{}) {
	t := x.(*Task)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

var _ heap.Interface = (*taskHeap)(nil)
