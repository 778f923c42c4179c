package pathfinding

// HeapItem is an element of a Heap. CompareTo returns a positive value when
// the receiver outranks other; the top-ranked item sits at the root.
type HeapItem[T any] interface {
	comparable
	CompareTo(other T) int
	HeapIndex() int
	SetHeapIndex(i int)
}

// Heap is an array-backed binary heap that keeps each item's heap index in
// sync with its slot, so items can be re-sifted and tested for membership
// without searching.
type Heap[T HeapItem[T]] struct {
	items []T
	count int
}

// NewHeap creates a heap with room for capacity items before it grows.
func NewHeap[T HeapItem[T]](capacity int) *Heap[T] {
	return &Heap[T]{items: make([]T, 0, capacity)}
}

// Add inserts item and sifts it up.
func (h *Heap[T]) Add(item T) {
	item.SetHeapIndex(h.count)
	if h.count < len(h.items) {
		h.items[h.count] = item
	} else {
		h.items = append(h.items, item)
	}
	h.count++
	h.siftUp(item)
}

// RemoveFirst removes and returns the top-ranked item. It panics on an empty heap.
func (h *Heap[T]) RemoveFirst() T {
	if h.count == 0 {
		panic("pathfinding: RemoveFirst on empty heap")
	}

	first := h.items[0]
	h.count--
	if h.count > 0 {
		last := h.items[h.count]
		h.items[0] = last
		last.SetHeapIndex(0)
		h.siftDown(last)
	}

	var zero T
	h.items[h.count] = zero
	first.SetHeapIndex(-1)
	return first
}

// UpdateItem restores the heap order after item improved its rank.
func (h *Heap[T]) UpdateItem(item T) {
	h.siftUp(item)
}

// Contains reports whether item is live in the heap.
func (h *Heap[T]) Contains(item T) bool {
	i := item.HeapIndex()
	return i >= 0 && i < h.count && h.items[i] == item
}

// Count returns the number of live items.
func (h *Heap[T]) Count() int {
	return h.count
}

// Clear empties the heap but keeps its storage.
func (h *Heap[T]) Clear() {
	var zero T
	for i := 0; i < h.count; i++ {
		h.items[i].SetHeapIndex(-1)
		h.items[i] = zero
	}
	h.count = 0
}

func (h *Heap[T]) siftUp(item T) {
	for {
		i := item.HeapIndex()
		if i == 0 {
			return
		}
		parent := h.items[(i-1)/2]
		if item.CompareTo(parent) <= 0 {
			return
		}
		h.swap(item, parent)
	}
}

func (h *Heap[T]) siftDown(item T) {
	for {
		i := item.HeapIndex()
		left, right := 2*i+1, 2*i+2
		if left >= h.count {
			return
		}

		best := left
		if right < h.count && h.items[right].CompareTo(h.items[left]) > 0 {
			best = right
		}
		if h.items[best].CompareTo(item) <= 0 {
			return
		}
		h.swap(item, h.items[best])
	}
}

func (h *Heap[T]) swap(a, b T) {
	ia, ib := a.HeapIndex(), b.HeapIndex()
	h.items[ia], h.items[ib] = b, a
	a.SetHeapIndex(ib)
	b.SetHeapIndex(ia)
}
