package sequence

import "container/heap"

type PriorityItem[T any] struct {
	Value    T
	Priority float64
	index    int
}

type priorityQueue[T any] struct {
	items []*PriorityItem[T]
	max   bool
}

func (pq *priorityQueue[T]) Len() int {
	return len(pq.items)
}

func (pq *priorityQueue[T]) Less(i, j int) bool {
	if pq.max {
		return pq.items[i].Priority > pq.items[j].Priority
	}
	return pq.items[i].Priority < pq.items[j].Priority
}

func (pq *priorityQueue[T]) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
	pq.items[i].index = i
	pq.items[j].index = j
}

func (pq *priorityQueue[T]) Push(x any) {
	item := x.(*PriorityItem[T])
	item.index = len(pq.items)
	pq.items = append(pq.items, item)
}

func (pq *priorityQueue[T]) Pop() any {
	old := pq.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	pq.items = old[0 : n-1]
	return item
}

// PriorityQueue is a binary heap. A min queue dequeues the lowest priority
// first, a max queue the highest.
type PriorityQueue[T any] struct {
	pq priorityQueue[T]
}

func NewMinPriorityQueue[T any]() *PriorityQueue[T] {
	pq := &PriorityQueue[T]{}
	heap.Init(&pq.pq)
	return pq
}

func NewMaxPriorityQueue[T any]() *PriorityQueue[T] {
	pq := &PriorityQueue[T]{pq: priorityQueue[T]{max: true}}
	heap.Init(&pq.pq)
	return pq
}

func (pq *PriorityQueue[T]) Enqueue(value T, priority float64) *PriorityItem[T] {
	item := &PriorityItem[T]{
		Value:    value,
		Priority: priority,
	}
	heap.Push(&pq.pq, item)
	return item
}

func (pq *PriorityQueue[T]) Dequeue() (T, bool) {
	if pq.pq.Len() == 0 {
		var zero T
		return zero, false
	}
	item := heap.Pop(&pq.pq).(*PriorityItem[T])
	return item.Value, true
}

// Peek returns the head without removing it.
func (pq *PriorityQueue[T]) Peek() (T, float64, bool) {
	if pq.pq.Len() == 0 {
		var zero T
		return zero, 0, false
	}
	head := pq.pq.items[0]
	return head.Value, head.Priority, true
}

func (pq *PriorityQueue[T]) Update(item *PriorityItem[T], value T, priority float64) {
	item.Value = value
	item.Priority = priority
	heap.Fix(&pq.pq, item.index)
}

func (pq *PriorityQueue[T]) Len() int {
	return pq.pq.Len()
}

func (pq *PriorityQueue[T]) IsEmpty() bool {
	return pq.pq.Len() == 0
}

// Reset empties the queue and keeps its storage.
func (pq *PriorityQueue[T]) Reset() {
	clear(pq.pq.items)
	pq.pq.items = pq.pq.items[:0]
}

// SmallestN returns the n values with the lowest priority, in no particular
// order, using a bounded max heap: O(len(values) log n).
func SmallestN[T any](values []T, n int, priority func(T) float64) []T {
	if n <= 0 {
		return nil
	}
	if len(values) <= n {
		return values
	}
	pq := NewMaxPriorityQueue[T]()
	for _, v := range values {
		p := priority(v)
		if pq.Len() < n {
			pq.Enqueue(v, p)
			continue
		}
		if _, worst, _ := pq.Peek(); p < worst {
			pq.Dequeue()
			pq.Enqueue(v, p)
		}
	}
	out := make([]T, 0, n)
	for !pq.IsEmpty() {
		v, _ := pq.Dequeue()
		out = append(out, v)
	}
	return out
}
