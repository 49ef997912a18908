package actorlist

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/repgraph/internal/core/models"
)

func actors(n int) []*models.Actor {
	out := make([]*models.Actor, n)
	for i := range out {
		out[i] = &models.Actor{ID: models.ActorID(i + 1), Class: "pawn"}
	}
	return out
}

func TestList(t *testing.T) {
	t.Run("Add Remove Contains", func(t *testing.T) {
		a := actors(3)
		l := NewList(0)
		for _, actor := range a {
			require.True(t, l.Add(actor))
		}
		require.Equal(t, 3, l.Len())
		require.True(t, l.Contains(a[1]))

		require.True(t, l.Remove(a[0]))
		require.False(t, l.Contains(a[0]))
		require.Equal(t, 2, l.Len())
		// swap remove moved the last actor into slot 0
		require.Same(t, a[2], l.At(0))

		require.False(t, l.Remove(a[0]), "removing a missing actor is tolerated")
	})

	t.Run("Duplicate add is ignored", func(t *testing.T) {
		if debugChecks {
			t.Skip("debug builds panic on duplicate adds")
		}
		a := actors(1)
		l := NewList(1)
		require.True(t, l.Add(a[0]))
		require.False(t, l.Add(a[0]))
		require.Equal(t, 1, l.Len())
	})

	t.Run("Reset keeps capacity", func(t *testing.T) {
		l := NewList(0)
		for _, actor := range actors(16) {
			l.Add(actor)
		}
		c := cap(l.View())
		l.Reset()
		require.Zero(t, l.Len())
		require.Equal(t, c, cap(l.View()))
	})

	t.Run("CopyFrom", func(t *testing.T) {
		a := actors(2)
		src := NewList(2)
		src.Add(a[0])
		src.Add(a[1])
		dst := NewList(0)
		dst.Add(actors(1)[0])
		dst.CopyFrom(src)
		require.Equal(t, src.View(), dst.View())
		src.Remove(a[0])
		require.Equal(t, 2, dst.Len())
	})

	t.Run("Nil list is empty", func(t *testing.T) {
		var l *List
		require.Zero(t, l.Len())
		require.Nil(t, l.View())
	})
}

func TestStreamingLevelCollection(t *testing.T) {
	a := actors(3)
	a[0].Level = "dungeon"
	a[1].Level = "castle"
	a[2].Level = "dungeon"

	c := NewStreamingLevelCollection()
	for _, actor := range a {
		require.True(t, c.Add(actor))
	}
	require.Equal(t, 3, c.Len())

	t.Run("Gather filters by visibility", func(t *testing.T) {
		out := NewGatheredLists()
		c.Gather(func(level string) bool { return level == "dungeon" }, out, ListDefault)
		require.Equal(t, 2, out.Num(ListDefault))
		require.True(t, out.Contains(a[0], ListDefault))
		require.False(t, out.Contains(a[1], ListDefault))
	})

	t.Run("Remove survives a level change", func(t *testing.T) {
		cc := NewStreamingLevelCollection()
		cc.CopyFrom(c)
		moved := a[1]
		moved.Level = "elsewhere"
		require.True(t, cc.Remove(moved))
		require.False(t, cc.Contains(moved))
		require.True(t, c.Contains(moved), "copy is deep")
		moved.Level = "castle"
	})

	t.Run("ForEach is level ordered", func(t *testing.T) {
		var seen []models.ActorID
		c.ForEach(func(actor *models.Actor) { seen = append(seen, actor.ID) })
		require.Equal(t, []models.ActorID{2, 1, 3}, seen)
	})
}

func TestGatheredLists(t *testing.T) {
	a := actors(4)
	g := NewGatheredLists()

	g.Add(a[:2], ListDefault)
	g.Add(nil, ListDefault)
	g.AddActor(a[2], ListDefault)
	g.Add(a[3:], ListFastShared)

	require.Equal(t, 3, g.Num(ListDefault))
	require.Len(t, g.Lists(ListDefault), 2)
	require.Equal(t, 1, g.Num(ListFastShared))
	require.True(t, g.Contains(a[2], ListDefault))
	require.True(t, g.ContainsAny(a[3]))
	require.False(t, g.Contains(a[3], ListDefault))

	g.Reset()
	require.Zero(t, g.Num(ListDefault))
	require.Zero(t, g.Num(ListFastShared))
	require.Empty(t, g.Lists(ListDefault))
}

func TestPrioritizedList(t *testing.T) {
	a := actors(4)
	p := NewPrioritizedList(4)
	p.Push(PrioritizedItem{Priority: 0.5, DistanceSq: 10, Actor: a[0]})
	p.Push(PrioritizedItem{Priority: -10, DistanceSq: 50, Actor: a[1]})
	p.Push(PrioritizedItem{Priority: 0.5, DistanceSq: 1, Actor: a[2]})
	p.Push(PrioritizedItem{Priority: 2, Actor: a[3]})
	p.Sort()

	require.Equal(t, []*models.Actor{a[1], a[2], a[0], a[3]}, p.Actors())
	require.Equal(t, 4, p.Len())

	p.Reset()
	require.Zero(t, p.Len())
}
