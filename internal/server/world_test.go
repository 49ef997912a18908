package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/repgraph/internal/core/models"
)

func TestWorld(t *testing.T) {
	t.Run("Spawn assigns increasing ids", func(t *testing.T) {
		w := NewWorld()
		a := w.Spawn("crate", models.Vector{X: 1})
		b := w.Spawn("crate", models.Vector{X: 2})
		require.Equal(t, models.ActorID(1), a.ID)
		require.Equal(t, models.ActorID(2), b.ID)
		require.Equal(t, []*models.Actor{a, b}, w.ActorsOfType("crate"))
		require.Empty(t, w.ActorsOfType("pawn"))
		require.Equal(t, 2, w.Len())

		found, ok := w.Find(2)
		require.True(t, ok)
		require.Same(t, b, found)
	})

	t.Run("Destroy", func(t *testing.T) {
		w := NewWorld()
		a := w.Spawn("crate", models.Vector{})
		b := w.Spawn("crate", models.Vector{})

		require.True(t, w.Destroy(a))
		require.True(t, a.BeingDestroyed)
		require.False(t, models.IsValidActor(a))
		require.Equal(t, []*models.Actor{b}, w.ActorsOfType("crate"))
		require.False(t, w.Destroy(a))

		_, ok := w.Find(a.ID)
		require.False(t, ok)
	})

	t.Run("SharedPayload", func(t *testing.T) {
		w := NewWorld()
		a := w.Spawn("pawn", models.Vector{X: 3, Y: 4})
		payload, ok := w.SharedPayload(a)
		require.True(t, ok)

		var decoded sharedState
		require.NoError(t, json.Unmarshal(payload, &decoded))
		require.Equal(t, sharedState{ID: a.ID, X: 3, Y: 4}, decoded)
	})
}
