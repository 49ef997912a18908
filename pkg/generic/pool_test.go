package generic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPool(t *testing.T) {
	t.Run("Put resets values", func(t *testing.T) {
		created := 0
		p := NewPool(func() *[]int {
			created++
			s := make([]int, 0, 4)
			return &s
		}, func(s *[]int) { *s = (*s)[:0] })

		v := p.Get()
		*v = append(*v, 1, 2, 3)
		p.Put(v)

		got := p.Get()
		require.Empty(t, *got)
		require.GreaterOrEqual(t, created, 1)
	})

	t.Run("Hot pool", func(t *testing.T) {
		created := 0
		p := NewHotPool(func() int { created++; return 7 }, nil, 3)
		require.Equal(t, 3, created)
		require.Equal(t, 7, p.Get())
	})
}
