package sequence

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPriorityQueue(t *testing.T) {
	t.Run("Min queue", func(t *testing.T) {
		pq := NewMinPriorityQueue[string]()
		pq.Enqueue("c", 3)
		pq.Enqueue("a", 1)
		item := pq.Enqueue("b", 5)
		pq.Update(item, "b", 2)

		var out []string
		for !pq.IsEmpty() {
			v, ok := pq.Dequeue()
			require.True(t, ok)
			out = append(out, v)
		}
		require.Equal(t, []string{"a", "b", "c"}, out)

		_, ok := pq.Dequeue()
		require.False(t, ok)
	})

	t.Run("Max queue", func(t *testing.T) {
		pq := NewMaxPriorityQueue[int]()
		for _, v := range []int{4, 9, 1} {
			pq.Enqueue(v, float64(v))
		}
		v, p, ok := pq.Peek()
		require.True(t, ok)
		require.Equal(t, 9, v)
		require.Equal(t, 9.0, p)
		pq.Reset()
		require.Zero(t, pq.Len())
	})
}

func TestSmallestN(t *testing.T) {
	values := []float64{9, 3, 7, 1, 8, 2}
	got := SmallestN(values, 3, func(v float64) float64 { return v })
	sort.Float64s(got)
	require.Equal(t, []float64{1, 2, 3}, got)

	require.Len(t, SmallestN(values, 10, func(v float64) float64 { return v }), 6)
	require.Nil(t, SmallestN(values, 0, func(v float64) float64 { return v }))
}
