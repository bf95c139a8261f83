// Package heap implements an indexed binary min-heap.
//
// Elements report their own position through a Record callback, so an owner
// can remove an arbitrary element in O(log n) without searching for it. The
// core uses one heap per tube for ready jobs, one per tube for delayed jobs
// and one global heap of connections ordered by wake time.
package heap

import "errors"

// ErrFull is returned by Insert when the heap is at its capacity bound.
var ErrFull = errors.New("heap: full")

// Heap is a min-heap of T ordered by Less. The zero value is not usable; build
// one with New.
type Heap[T any] struct {
	items  []T
	less   func(a, b T) bool
	record func(item T, index int)
	limit  int
}

// Option configures a Heap.
type Option[T any] func(*Heap[T])

// WithRecord installs the position callback. It is invoked with the item's
// new index after every move, and with -1 when the item leaves the heap.
func WithRecord[T any](fn func(item T, index int)) Option[T] {
	return func(h *Heap[T]) { h.record = fn }
}

// WithLimit bounds the number of elements; Insert past it fails with ErrFull.
// A limit <= 0 means unbounded.
func WithLimit[T any](n int) Option[T] {
	return func(h *Heap[T]) { h.limit = n }
}

// New returns an empty heap ordered by less.
func New[T any](less func(a, b T) bool, opts ...Option[T]) *Heap[T] {
	h := &Heap[T]{less: less}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Len returns the number of elements.
func (h *Heap[T]) Len() int { return len(h.items) }

// At returns the element at index i.
func (h *Heap[T]) At(i int) T { return h.items[i] }

// Peek returns the minimum element without removing it.
func (h *Heap[T]) Peek() (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}
	return h.items[0], true
}

// Insert adds item and returns its final index.
func (h *Heap[T]) Insert(item T) (int, error) {
	if h.limit > 0 && len(h.items) >= h.limit {
		return -1, ErrFull
	}
	h.items = append(h.items, item)
	i := len(h.items) - 1
	h.set(i, item)
	return h.up(i), nil
}

// Remove takes out the element at index i. The last element is moved into
// the hole and sifted in whichever direction restores the heap order.
func (h *Heap[T]) Remove(i int) T {
	n := len(h.items) - 1
	item := h.items[i]
	if i != n {
		h.set(i, h.items[n])
	}
	var zero T
	h.items[n] = zero
	h.items = h.items[:n]
	if i < n {
		if j := h.up(i); j == i {
			h.down(i)
		}
	}
	if h.record != nil {
		h.record(item, -1)
	}
	return item
}

// Pop removes and returns the minimum element.
func (h *Heap[T]) Pop() (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}
	return h.Remove(0), true
}

func (h *Heap[T]) set(i int, item T) {
	h.items[i] = item
	if h.record != nil {
		h.record(item, i)
	}
}

func (h *Heap[T]) swap(i, j int) {
	a, b := h.items[i], h.items[j]
	h.set(i, b)
	h.set(j, a)
}

func (h *Heap[T]) up(i int) int {
	for i > 0 {
		p := (i - 1) / 2
		if !h.less(h.items[i], h.items[p]) {
			break
		}
		h.swap(i, p)
		i = p
	}
	return i
}

func (h *Heap[T]) down(i int) {
	n := len(h.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		m := l
		if r := l + 1; r < n && h.less(h.items[r], h.items[l]) {
			m = r
		}
		if !h.less(h.items[m], h.items[i]) {
			return
		}
		h.swap(i, m)
		i = m
	}
}
