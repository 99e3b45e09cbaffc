package sequence

import "container/heap"

// PriorityQueue is a max-priority queue. Elements with equal priority dequeue
// in insertion order, so it degrades to a plain FIFO when every caller uses
// the same priority.
type PriorityQueue[T any] struct {
	pq priorityHeap[T]
}

func NewPriorityQueue[T any]() *PriorityQueue[T] {
	pq := &PriorityQueue[T]{}
	heap.Init(&pq.pq)
	return pq
}

func (pq *PriorityQueue[T]) Enqueue(value T, priority int) {
	pq.pq.seq++
	heap.Push(&pq.pq, priorityItem[T]{
		value:    value,
		priority: priority,
		seq:      pq.pq.seq,
	})
}

func (pq *PriorityQueue[T]) Dequeue() (T, bool) {
	if pq.pq.Len() == 0 {
		var zero T
		return zero, false
	}
	item := heap.Pop(&pq.pq).(priorityItem[T])
	return item.value, true
}

func (pq *PriorityQueue[T]) Peek() (T, bool) {
	if pq.pq.Len() == 0 {
		var zero T
		return zero, false
	}
	return pq.pq.items[0].value, true
}

func (pq *PriorityQueue[T]) Len() int {
	return pq.pq.Len()
}

func (pq *PriorityQueue[T]) IsEmpty() bool {
	return pq.pq.Len() == 0
}

type priorityItem[T any] struct {
	value    T
	priority int
	seq      uint64
}

type priorityHeap[T any] struct {
	items []priorityItem[T]
	seq   uint64
}

func (pq *priorityHeap[T]) Len() int {
	return len(pq.items)
}

func (pq *priorityHeap[T]) Less(i, j int) bool {
	if pq.items[i].priority != pq.items[j].priority {
		return pq.items[i].priority > pq.items[j].priority
	}
	return pq.items[i].seq < pq.items[j].seq
}

func (pq *priorityHeap[T]) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
}

func (pq *priorityHeap[T]) Push(x any) {
	pq.items = append(pq.items, x.(priorityItem[T]))
}

func (pq *priorityHeap[T]) Pop() any {
	old := pq.items
	n := len(old)
	item := old[n-1]
	pq.items = old[0 : n-1]
	return item
}
