package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/repgraph/internal/core/models"
	"github.com/zeusync/repgraph/internal/core/replication/actorlist"
)

func TestLerpPeriod(t *testing.T) {
	zone := SpatializationZone{MinDistPct: 0.2, MaxDistPct: 0.6}
	require.Equal(t, uint32(2), lerpPeriod(2, 10, zone, 0.1))
	require.Equal(t, uint32(6), lerpPeriod(2, 10, zone, 0.4))
	require.Equal(t, uint32(10), lerpPeriod(2, 10, zone, 0.9))
	require.Equal(t, uint32(1), lerpPeriod(0, 0, zone, 0.5))
}

func TestDynamicFrequencyZones(t *testing.T) {
	cfg := testConfig()
	cfg.DynamicFrequency = DynamicFrequencySettings{
		Zones: []SpatializationZone{
			{MinDotProduct: 0.5, MinDistPct: 0, MaxDistPct: 1, MinRepPeriod: 1, MaxRepPeriod: 3},
			{MinDotProduct: -1, MinDistPct: 0, MaxDistPct: 1, MinRepPeriod: 2, MaxRepPeriod: 6},
		},
	}
	d := newTestDriver(cfg, newFakeWorld())

	pawn := newActor("pawn", 0, 0)
	conn, err := d.AddConnection(newFakeConn("c1", pawn))
	require.NoError(t, err)

	front := newActor("bullet", 50, 0)
	behind := newActor("bullet", -50, 0)
	far := newActor("bullet", 500, 0)
	for _, a := range []*models.Actor{front, behind, far} {
		require.NoError(t, d.AddNetworkActor(a))
	}

	d.Tick(0.016)

	ci, ok := conn.ActorInfoMap.Find(front)
	require.True(t, ok)
	require.Equal(t, uint32(2), ci.ReplicationPeriodFrame)
	ci, ok = conn.ActorInfoMap.Find(behind)
	require.True(t, ok)
	require.Equal(t, uint32(4), ci.ReplicationPeriodFrame)

	require.True(t, conn.Gathered().Contains(front, actorlist.ListDefault))
	require.True(t, conn.Gathered().Contains(behind, actorlist.ListDefault))
	require.False(t, conn.Gathered().Contains(far, actorlist.ListDefault))

	t.Run("Actors are gathered again only when due", func(t *testing.T) {
		d.Tick(0.016)
		require.False(t, conn.Gathered().Contains(front, actorlist.ListDefault))
		d.Tick(0.016)
		require.True(t, conn.Gathered().Contains(front, actorlist.ListDefault))
		require.False(t, conn.Gathered().Contains(behind, actorlist.ListDefault))
	})
}

func TestDynamicFrequencyNearest(t *testing.T) {
	cfg := testConfig()
	cfg.DynamicFrequency.MaxNearestActors = 2
	d := newTestDriver(cfg, newFakeWorld())

	pawn := newActor("pawn", 0, 0)
	conn, err := d.AddConnection(newFakeConn("c1", pawn))
	require.NoError(t, err)

	actors := []*models.Actor{
		newActor("bullet", 40, 0),
		newActor("bullet", 10, 0),
		newActor("bullet", 30, 0),
		newActor("bullet", 20, 0),
	}
	for _, a := range actors {
		require.NoError(t, d.AddNetworkActor(a))
	}

	d.Tick(0.016)
	gathered := conn.Gathered()
	require.True(t, gathered.Contains(actors[1], actorlist.ListDefault))
	require.True(t, gathered.Contains(actors[3], actorlist.ListDefault))
	require.False(t, gathered.Contains(actors[0], actorlist.ListDefault))
	require.False(t, gathered.Contains(actors[2], actorlist.ListDefault))
}

func TestDynamicFrequencyLoadBalance(t *testing.T) {
	d := newTestDriver(testConfig(), newFakeWorld())
	pawn := newActor("pawn", 0, 0)
	conn, err := d.AddConnection(newFakeConn("c1", pawn))
	require.NoError(t, err)

	node := d.DynamicFrequency()
	actors := []*models.Actor{newActor("bullet", 10, 0), newActor("bullet", 20, 0), newActor("bullet", 30, 0)}
	for _, a := range actors {
		node.NotifyAddNetworkActor(a)
	}
	node.lastCount[conn] = 1

	conn.buildViewers()
	out := actorlist.NewGatheredLists()
	node.GatherActorListsForConnection(&GatherParams{Connection: conn, Viewers: conn.Viewers(), FrameNum: 5, Out: out})

	require.Equal(t, 1, out.Num(actorlist.ListDefault))
	require.Equal(t, 1, node.LastCount(conn))
	deferred := 0
	for _, a := range actors {
		ci, ok := conn.ActorInfoMap.Find(a)
		require.True(t, ok)
		if ci.NextReplicationFrameNum == 6 {
			deferred++
		}
	}
	require.Equal(t, 2, deferred)
}
