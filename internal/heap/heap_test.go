package heap

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

type node struct {
	key int
	pos int
}

func newNodeHeap(opts ...Option[*node]) *Heap[*node] {
	opts = append([]Option[*node]{WithRecord(func(n *node, i int) { n.pos = i })}, opts...)
	return New(func(a, b *node) bool { return a.key < b.key }, opts...)
}

func checkPositions(t *testing.T, h *Heap[*node]) {
	t.Helper()
	for i := 0; i < h.Len(); i++ {
		require.Equal(t, i, h.At(i).pos, "position callback out of sync at %d", i)
		if i > 0 {
			require.False(t, h.At(i).key < h.At((i-1)/2).key, "heap order broken at %d", i)
		}
	}
}

func TestPopInOrder(t *testing.T) {
	h := newNodeHeap()
	r := rand.New(rand.NewSource(7))
	var keys []int
	for i := 0; i < 200; i++ {
		k := r.Intn(1000)
		keys = append(keys, k)
		_, err := h.Insert(&node{key: k})
		require.NoError(t, err)
	}
	checkPositions(t, h)
	sort.Ints(keys)
	for _, want := range keys {
		n, ok := h.Pop()
		require.True(t, ok)
		require.Equal(t, want, n.key)
		require.Equal(t, -1, n.pos)
	}
	_, ok := h.Pop()
	require.False(t, ok)
}

func TestRemoveArbitrary(t *testing.T) {
	h := newNodeHeap()
	var nodes []*node
	for _, k := range []int{50, 10, 40, 20, 30, 5, 60, 1} {
		n := &node{key: k}
		nodes = append(nodes, n)
		_, err := h.Insert(n)
		require.NoError(t, err)
	}
	// removing an interior element whose replacement must sift up
	victim := nodes[6]
	got := h.Remove(victim.pos)
	require.Same(t, victim, got)
	require.Equal(t, -1, victim.pos)
	checkPositions(t, h)

	got = h.Remove(nodes[0].pos)
	require.Equal(t, 50, got.key)
	checkPositions(t, h)

	// last element
	last := h.At(h.Len() - 1)
	h.Remove(last.pos)
	checkPositions(t, h)

	top, ok := h.Peek()
	require.True(t, ok)
	require.Equal(t, 1, top.key)
}

func TestInsertReturnsIndex(t *testing.T) {
	h := newNodeHeap()
	i, err := h.Insert(&node{key: 3})
	require.NoError(t, err)
	require.Equal(t, 0, i)
	i, err = h.Insert(&node{key: 1})
	require.NoError(t, err)
	require.Equal(t, 0, i)
	i, err = h.Insert(&node{key: 9})
	require.NoError(t, err)
	require.Equal(t, 2, i)
}

func TestLimit(t *testing.T) {
	h := newNodeHeap(WithLimit[*node](2))
	_, err := h.Insert(&node{key: 1})
	require.NoError(t, err)
	_, err = h.Insert(&node{key: 2})
	require.NoError(t, err)
	n := &node{key: 0, pos: 99}
	_, err = h.Insert(n)
	require.True(t, errors.Is(err, ErrFull))
	require.Equal(t, 99, n.pos, "rejected item must not be recorded")
	require.Equal(t, 2, h.Len())
}

func TestRandomRemovals(t *testing.T) {
	h := newNodeHeap()
	r := rand.New(rand.NewSource(42))
	live := map[*node]bool{}
	for step := 0; step < 2000; step++ {
		if h.Len() == 0 || r.Intn(3) > 0 {
			n := &node{key: r.Intn(100)}
			_, err := h.Insert(n)
			require.NoError(t, err)
			live[n] = true
		} else {
			n := h.At(r.Intn(h.Len()))
			h.Remove(n.pos)
			delete(live, n)
		}
	}
	checkPositions(t, h)
	require.Equal(t, len(live), h.Len())
}
