package server

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/repgraph/internal/core/config"
	"github.com/zeusync/repgraph/internal/core/models"
	"github.com/zeusync/repgraph/internal/core/observability/log"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Server.TickRate = 50
	cfg.Classes = append(cfg.Classes, config.ClassConfig{
		Name:                   "crate",
		Route:                  "grid_static",
		CullDistance:           1000,
		ReplicationPeriodFrame: 1,
	})
	cfg.Props = []config.PropConfig{{Class: "crate", X: 10, Y: 10}}
	return &cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(testConfig(), log.NewNop())
	require.NoError(t, err)
	return s
}

// drain decodes every queued message of client.
func drain(t *testing.T, client *Client) []map[string]json.RawMessage {
	t.Helper()
	var out []map[string]json.RawMessage
	for {
		select {
		case b := <-client.out:
			var msg map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(b, &msg))
			out = append(out, msg)
		default:
			return out
		}
	}
}

func lastFrame(t *testing.T, client *Client) FrameMessage {
	t.Helper()
	var frame FrameMessage
	found := false
	for {
		select {
		case b := <-client.out:
			var probe FrameMessage
			require.NoError(t, json.Unmarshal(b, &probe))
			if probe.Type == MessageFrame {
				frame, found = probe, true
			}
			continue
		default:
		}
		break
	}
	require.True(t, found, "no frame queued")
	return frame
}

func stateFor(frame FrameMessage, id models.ActorID) (ActorState, bool) {
	states, err := frame.States()
	if err != nil {
		return ActorState{}, false
	}
	for _, a := range states {
		if a.ID == id {
			return a, true
		}
	}
	return ActorState{}, false
}

func TestNewServer(t *testing.T) {
	t.Run("Spawns props", func(t *testing.T) {
		s := newTestServer(t)
		require.Equal(t, 1, s.world.Len())
		require.Len(t, s.world.ActorsOfType("crate"), 1)
	})

	t.Run("Rejects invalid configuration", func(t *testing.T) {
		cfg := testConfig()
		cfg.Server.TickRate = 0
		_, err := NewServer(cfg, log.NewNop())
		require.ErrorIs(t, err, config.ErrInvalidConfig)
	})
}

func TestServerTick(t *testing.T) {
	s := newTestServer(t)
	client := newTestClient("a")

	require.NoError(t, s.join(client))
	require.NotNil(t, client.pawn)
	require.Same(t, client, client.pawn.Owner)

	msgs := drain(t, client)
	require.Len(t, msgs, 1)
	require.JSONEq(t, `"welcome"`, string(msgs[0]["type"]))

	t.Run("First tick replicates the pawn and nearby props", func(t *testing.T) {
		s.tick(0.02)
		frame := lastFrame(t, client)
		require.Equal(t, uint32(1), frame.Frame)

		_, ok := stateFor(frame, client.pawn.ID)
		require.True(t, ok)
		crate := s.world.ActorsOfType("crate")[0]
		_, ok = stateFor(frame, crate.ID)
		require.True(t, ok)

		stats, ok := s.LastTickStats()
		require.True(t, ok)
		require.Equal(t, uint32(1), stats.Frame)
		require.Len(t, stats.Connections, 1)
	})

	t.Run("Move updates the pawn", func(t *testing.T) {
		cmd, err := s.commandFor(client, ClientMessage{Type: MessageMove, X: 500, Y: 20, Forward: &models.Vector{Y: 2}})
		require.NoError(t, err)
		cmd()
		require.Equal(t, models.Vector{X: 500, Y: 20}, client.pawn.Location)
		require.Equal(t, models.Vector{Y: 1}, client.pawn.Forward)

		s.tick(0.02)
		frame := lastFrame(t, client)
		state, ok := stateFor(frame, client.pawn.ID)
		require.True(t, ok)
		require.Equal(t, 500.0, state.X)
	})

	t.Run("Unknown message types are rejected", func(t *testing.T) {
		_, err := s.commandFor(client, ClientMessage{Type: "dance"})
		require.ErrorIs(t, err, ErrInvalidMessage)
	})

	t.Run("Poke", func(t *testing.T) {
		require.ErrorIs(t, s.poke(999), ErrActorNotFound)
		crate := s.world.ActorsOfType("crate")[0]
		require.NoError(t, s.poke(crate.ID))
	})

	t.Run("Leave removes the pawn and the connection", func(t *testing.T) {
		pawn := client.pawn
		client.closed.Store(true)
		s.leave(client)
		require.True(t, pawn.BeingDestroyed)
		require.Empty(t, s.clients)

		s.tick(0.02)
		require.Empty(t, s.driver.Connections())
	})
}

func TestServerLifecycle(t *testing.T) {
	s := newTestServer(t)
	require.ErrorIs(t, s.Stop(context.Background()), ErrServerNotRunning)

	require.NoError(t, s.Start(context.Background()))
	require.NotNil(t, s.Addr())
	require.ErrorIs(t, s.Start(context.Background()), ErrServerAlreadyRunning)

	require.NoError(t, s.Stop(context.Background()))
	require.ErrorIs(t, s.Start(context.Background()), ErrServerClosed)
}
