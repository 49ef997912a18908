package graph

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/repgraph/internal/core/models"
	"github.com/zeusync/repgraph/internal/core/replication/actorlist"
	"github.com/zeusync/repgraph/internal/core/replication/info"
)

func TestDriverRoundTrip(t *testing.T) {
	world := newFakeWorld()
	d := newTestDriver(testConfig(), world)
	pawn := newActor("pawn", 5, 5)
	net := newFakeConn("c1", pawn)
	conn, err := d.AddConnection(net)
	require.NoError(t, err)

	actor := newActor("pawn", 20, 20)
	require.NoError(t, d.AddNetworkActor(actor))

	require.Equal(t, 1, d.Tick(0.016))
	require.True(t, conn.Gathered().Contains(actor, actorlist.ListDefault))
	require.Equal(t, 1, net.replications(actor))
	require.Equal(t, 1, net.channel(actor).opened)
	require.Equal(t, 1, world.preReplicate[actor])

	require.True(t, d.RemoveNetworkActor(actor))
	require.Equal(t, []models.CloseReason{models.CloseDestroyed}, net.channel(actor).closed)
	_, ok := conn.ActorInfoMap.Find(actor)
	require.False(t, ok)
	_, ok = d.GlobalInfo().Find(actor)
	require.False(t, ok)

	d.Tick(0.016)
	require.False(t, conn.Gathered().ContainsAny(actor))
	require.False(t, d.RemoveNetworkActor(actor))
}

func TestDriverRegistration(t *testing.T) {
	t.Run("Unregistered class panics", func(t *testing.T) {
		d := newTestDriver(testConfig(), newFakeWorld())
		require.Panics(t, func() {
			_ = d.AddNetworkActor(newActor("ghost", 0, 0))
		})
	})

	t.Run("Invalid actors are rejected", func(t *testing.T) {
		d := newTestDriver(testConfig(), newFakeWorld())
		require.ErrorIs(t, d.AddNetworkActor(nil), ErrInvalidActor)

		dying := newActor("pawn", 0, 0)
		dying.BeingDestroyed = true
		require.False(t, models.IsValidActor(dying))
		require.ErrorIs(t, d.AddNetworkActor(dying), ErrInvalidActor)
	})

	t.Run("Double add is an error", func(t *testing.T) {
		d := newTestDriver(testConfig(), newFakeWorld())
		a := newActor("pawn", 0, 0)
		require.NoError(t, d.AddNetworkActor(a))
		require.ErrorIs(t, d.AddNetworkActor(a), ErrActorAlreadyAdded)
	})

	t.Run("Connections", func(t *testing.T) {
		d := newTestDriver(testConfig(), newFakeWorld())
		_, err := d.AddConnection(nil)
		require.ErrorIs(t, err, ErrNilConnection)

		net := newFakeConn("c1", nil)
		_, err = d.AddConnection(net)
		require.NoError(t, err)
		_, err = d.AddConnection(net)
		require.ErrorIs(t, err, ErrConnectionExists)

		require.ErrorIs(t, d.RemoveConnection("nope"), ErrUnknownConnection)
		require.NoError(t, d.RemoveConnection("c1"))
		_, ok := d.Connection("c1")
		require.False(t, ok)
	})

	t.Run("Owner only actor waits for its connection", func(t *testing.T) {
		d := newTestDriver(testConfig(), newFakeWorld())
		net := newFakeConn("c1", nil)
		weapon := newActor("pawn", 0, 0)
		weapon.OnlyRelevantToOwner = true
		weapon.Owner = net
		require.NoError(t, d.AddNetworkActor(weapon))

		conn, err := d.AddConnection(net)
		require.NoError(t, err)
		require.True(t, conn.AlwaysRelevant().Contains(weapon))

		other, err := d.AddConnection(newFakeConn("c2", nil))
		require.NoError(t, err)
		d.Tick(0.016)
		require.True(t, conn.Gathered().ContainsAny(weapon))
		require.False(t, other.Gathered().ContainsAny(weapon))

		require.True(t, d.RemoveNetworkActor(weapon))
		require.False(t, conn.AlwaysRelevant().Contains(weapon))
	})
}

func TestDriverDormancy(t *testing.T) {
	d := newTestDriver(testConfig(), newFakeWorld())
	pawn := newActor("pawn", 5, 5)
	net := newFakeConn("c1", pawn)
	net.dormant = true
	conn, err := d.AddConnection(net)
	require.NoError(t, err)

	crate := newActor("crate", 5, 5)
	crate.Dormancy = models.DormancyDormantAll
	require.NoError(t, d.AddNetworkActor(crate))

	d.Tick(0.016)
	require.Equal(t, 1, net.replications(crate))
	ci, ok := conn.ActorInfoMap.Find(crate)
	require.True(t, ok)
	require.True(t, ci.DormantOnConnection)

	for i := 0; i < 3; i++ {
		d.Tick(0.016)
		require.False(t, conn.Gathered().ContainsAny(crate))
	}
	require.Equal(t, 1, net.replications(crate))

	d.FlushDormancy(crate)
	require.False(t, ci.DormantOnConnection)
	d.Tick(0.016)
	require.True(t, conn.Gathered().ContainsAny(crate))
	require.Equal(t, 2, net.replications(crate))
	require.True(t, ci.DormantOnConnection)
}

func TestDriverDormancyTrickle(t *testing.T) {
	cfg := testConfig()
	cfg.Dormancy = DormancySettings{TrickleEnabled: true}
	d := newTestDriver(cfg, newFakeWorld())
	pawn := newActor("pawn", 5, 5)
	conn, err := d.AddConnection(newFakeConn("c1", pawn))
	require.NoError(t, err)

	crates := []*models.Actor{newActor("crate", 5, 5), newActor("crate", 6, 6), newActor("crate", 7, 7)}
	for _, c := range crates {
		c.Dormancy = models.DormancyDormantAll
		require.NoError(t, d.AddNetworkActor(c))
	}

	forced := func() int {
		n := 0
		for _, c := range crates {
			if ci, ok := conn.ActorInfoMap.Find(c); ok && ci.ForceCullDistanceToZero {
				n++
			}
		}
		return n
	}

	d.Tick(0.016)
	require.Equal(t, 0, forced())
	d.Tick(0.016)
	require.Equal(t, 1, forced())
	d.Tick(0.016)
	require.Equal(t, 2, forced())
}

func TestDriverAlwaysRelevant(t *testing.T) {
	t.Run("Class instances are re-queried every tick", func(t *testing.T) {
		world := newFakeWorld()
		d := newTestDriver(testConfig(), world)
		d.AddAlwaysRelevantClass("flag")
		conn, err := d.AddConnection(newFakeConn("c1", nil))
		require.NoError(t, err)

		flag := newActor("flag", 1e6, 1e6)
		world.byClass["flag"] = []*models.Actor{flag}
		d.Tick(0.016)
		require.True(t, conn.Gathered().ContainsAny(flag))

		world.byClass["flag"] = nil
		d.Tick(0.016)
		require.False(t, conn.Gathered().ContainsAny(flag))
	})

	t.Run("Far actors with a cull distance still replicate", func(t *testing.T) {
		world := newFakeWorld()
		d := newTestDriver(testConfig(), world)
		d.AddAlwaysRelevantClass("prop")
		viewer := newActor("pawn", 5, 5)
		net := newFakeConn("c1", viewer)
		_, err := d.AddConnection(net)
		require.NoError(t, err)

		flagged := newActor("pawn", 5000, 5)
		flagged.AlwaysRelevant = true
		require.NoError(t, d.AddNetworkActor(flagged))

		weapon := newActor("pawn", -5000, 5)
		weapon.OnlyRelevantToOwner = true
		weapon.Owner = net
		require.NoError(t, d.AddNetworkActor(weapon))

		prop := newActor("prop", 5, 5000)
		world.byClass["prop"] = []*models.Actor{prop}

		for i := 0; i < 3; i++ {
			d.Tick(0.016)
		}
		require.Positive(t, net.replications(flagged))
		require.Positive(t, net.replications(weapon))
		require.Positive(t, net.replications(prop))
	})

	t.Run("Viewer swap resets the previous cull override", func(t *testing.T) {
		d := newTestDriver(testConfig(), newFakeWorld())
		first := newActor("pawn", 0, 0)
		second := newActor("pawn", 50, 50)
		net := newFakeConn("c1", first)
		conn, err := d.AddConnection(net)
		require.NoError(t, err)

		d.Tick(0.016)
		ci1, ok := conn.ActorInfoMap.Find(first)
		require.True(t, ok)
		require.True(t, ci1.ForceCullDistanceToZero)

		net.owner = second
		d.Tick(0.016)
		ci2, ok := conn.ActorInfoMap.Find(second)
		require.True(t, ok)
		require.True(t, ci2.ForceCullDistanceToZero)
		require.False(t, ci1.ForceCullDistanceToZero)
		require.True(t, conn.Gathered().ContainsAny(second))
	})
}

func TestDriverTearOff(t *testing.T) {
	d := newTestDriver(testConfig(), newFakeWorld())
	pawn := newActor("pawn", 5, 5)
	net := newFakeConn("c1", pawn)
	conn, err := d.AddConnection(net)
	require.NoError(t, err)

	actors := make([]*models.Actor, 5)
	for i := range actors {
		actors[i] = newActor("pawn", float64(10+i), 5)
		require.NoError(t, d.AddNetworkActor(actors[i]))
	}
	d.Tick(0.016)
	for _, a := range actors {
		require.Equal(t, 1, net.replications(a))
	}

	// Each replicate costs 8 bits, so only one actor fits per tick.
	d.cfg.MaxBitsPerConnectionPerTick = 8
	victim := actors[4]
	d.TearOffActor(victim)
	require.True(t, conn.TearOff().Tracks(victim))

	d.Tick(0.016)
	require.True(t, conn.LastTickStats().BudgetExhausted)
	require.Equal(t, 2, net.replications(victim))
	require.Equal(t, []models.CloseReason{models.CloseTearOff}, net.channel(victim).closed)
	ci, ok := conn.ActorInfoMap.Find(victim)
	require.True(t, ok)
	require.True(t, ci.TearOff)

	d.Tick(0.016)
	require.False(t, conn.TearOff().Tracks(victim))
	require.Equal(t, 2, net.replications(victim))
}

func TestDriverTearOffWithoutChannel(t *testing.T) {
	t.Run("Saturated actor still gets its final replication", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxBitsPerConnectionPerTick = 8
		d := newTestDriver(cfg, newFakeWorld())
		pawn := newActor("pawn", 5, 5)
		net := newFakeConn("c1", pawn)
		conn, err := d.AddConnection(net)
		require.NoError(t, err)

		victim := newActor("pawn", 10, 5)
		require.NoError(t, d.AddNetworkActor(victim))
		d.Tick(0.016)
		require.True(t, conn.LastTickStats().BudgetExhausted)
		require.Zero(t, net.replications(victim))
		ci, ok := conn.ActorInfoMap.Find(victim)
		require.True(t, ok)
		require.Nil(t, ci.Channel)

		d.TearOffActor(victim)
		require.True(t, conn.TearOff().Tracks(victim))
		require.False(t, ci.TearOff)

		d.cfg.MaxBitsPerConnectionPerTick = 0
		for i := 0; i < 3; i++ {
			d.Tick(0.016)
		}
		require.Equal(t, 1, net.replications(victim))
		require.Equal(t, []models.CloseReason{models.CloseTearOff}, net.channel(victim).closed)
		require.True(t, ci.TearOff)
		require.False(t, conn.TearOff().Tracks(victim))
	})

	t.Run("Unseen connection never replicates it", func(t *testing.T) {
		d := newTestDriver(testConfig(), newFakeWorld())
		victim := newActor("pawn", 10, 5)
		require.NoError(t, d.AddNetworkActor(victim))
		d.TearOffActor(victim)

		net := newFakeConn("c1", newActor("pawn", 5, 5))
		conn, err := d.AddConnection(net)
		require.NoError(t, err)
		d.Tick(0.016)
		require.False(t, conn.TearOff().Tracks(victim))
		require.Zero(t, net.replications(victim))
	})
}

func TestTearOffNodeKeepsUntilReplicated(t *testing.T) {
	d := newTestDriver(testConfig(), newFakeWorld())
	conn, err := d.AddConnection(newFakeConn("c1", nil))
	require.NoError(t, err)
	actor := newActor("pawn", 0, 0)
	gi := d.GlobalInfo().Get(actor)
	ci := conn.ActorInfoMap.FindOrAdd(actor, gi)

	node := conn.TearOff()
	node.NotifyTearOffActor(actor, 5)
	out := actorlist.NewGatheredLists()
	for frame := uint32(6); frame < 10; frame++ {
		out.Reset()
		node.GatherActorListsForConnection(&GatherParams{Connection: conn, FrameNum: frame, Out: out})
		require.True(t, out.Contains(actor, actorlist.ListDefault), "frame %d", frame)
	}

	ci.TearOff = true
	ci.LastRepFrameNum = 10
	out.Reset()
	node.GatherActorListsForConnection(&GatherParams{Connection: conn, FrameNum: 11, Out: out})
	require.False(t, out.ContainsAny(actor))
	require.Equal(t, 0, node.Len())
}

func TestPriorityMonotonicity(t *testing.T) {
	d := newTestDriver(testConfig(), newFakeWorld())
	d.cfg.Priority.MaxDistanceScaling = 100 * 100
	conn, err := d.AddConnection(newFakeConn("c1", nil))
	require.NoError(t, err)
	viewers := []Viewer{{Location: models.Vector{}}}

	score := func(x float64) float64 {
		a := newActor("pawn", x, 0)
		gi := d.GlobalInfo().Get(a)
		ci := conn.ActorInfoMap.FindOrAdd(a, gi)
		p, _, ok := d.score(a, gi, ci, viewers, 1)
		require.True(t, ok)
		return p
	}

	prev := math.Inf(-1)
	for _, x := range []float64{0, 10, 20, 50, 99} {
		p := score(x)
		require.Greater(t, p, prev, "x=%v", x)
		prev = p
	}

	list := actorlist.NewPrioritizedList(4)
	far := newActor("pawn", 80, 0)
	near := newActor("pawn", 60, 0)
	for _, a := range []*models.Actor{far, near} {
		gi := d.GlobalInfo().Get(a)
		ci := conn.ActorInfoMap.FindOrAdd(a, gi)
		p, distSq, ok := d.score(a, gi, ci, viewers, 1)
		require.True(t, ok)
		list.Push(actorlist.PrioritizedItem{Priority: p, DistanceSq: distSq, Actor: a, Global: gi, Connection: ci})
	}
	list.Sort()
	require.Equal(t, []*models.Actor{near, far}, list.Actors())

	t.Run("Out of cull distance is skipped", func(t *testing.T) {
		a := newActor("pawn", 500, 0)
		gi := d.GlobalInfo().Get(a)
		ci := conn.ActorInfoMap.FindOrAdd(a, gi)
		_, _, ok := d.score(a, gi, ci, viewers, 1)
		require.False(t, ok)
	})
}

func TestDriverFastShared(t *testing.T) {
	cfg := testConfig()
	cfg.Buckets = FrequencyBucketSettings{NumBuckets: 3, EnableFastPath: true, FastPathFrameModulo: 1}
	cfg.FastSharedBitsPerTick = 1 << 20
	d := newTestDriver(cfg, newFakeWorld())

	builds := make(map[*models.Actor]int)
	boat := classSettings(info.RouteFrequencyBuckets, 0)
	boat.FastShared = func(a *models.Actor) ([]byte, bool) {
		builds[a]++
		return []byte{1, 2, 3}, true
	}
	d.RegisterActorType("boat", boat)

	pawn := newActor("pawn", 0, 0)
	net1 := newFakeConn("c1", pawn)
	net2 := newFakeConn("c2", pawn)
	conn1, err := d.AddConnection(net1)
	require.NoError(t, err)
	_, err = d.AddConnection(net2)
	require.NoError(t, err)

	boats := []*models.Actor{newActor("boat", 10, 0), newActor("boat", 20, 0), newActor("boat", 30, 0)}
	for _, b := range boats {
		require.NoError(t, d.AddNetworkActor(b))
	}

	// Frames 1 and 2 open channels for the buckets up on those frames.
	d.Tick(0.016)
	d.Tick(0.016)
	builds[boats[1]] = 0

	d.Tick(0.016)
	require.Equal(t, 1, builds[boats[1]])
	require.Len(t, net1.channel(boats[1]).sharedPayload, 2)
	require.Len(t, net2.channel(boats[1]).sharedPayload, 2)
	require.Equal(t, 2, conn1.LastTickStats().FastShared)

	t.Run("Budget stops the fast path", func(t *testing.T) {
		d.cfg.FastSharedBitsPerTick = 24
		d.Tick(0.016)
		stats := conn1.LastTickStats()
		require.Equal(t, 1, stats.FastShared)
		require.True(t, stats.FastSharedStopped)
	})
}

func TestDriverChannelTimeout(t *testing.T) {
	d := newTestDriver(testConfig(), newFakeWorld())
	ghost := classSettings(info.RouteGridDynamic, 10)
	ghost.ActorChannelFrameTimeout = 2
	d.RegisterActorType("ghost", ghost)

	pawn := newActor("pawn", 5, 5)
	net := newFakeConn("c1", pawn)
	conn, err := d.AddConnection(net)
	require.NoError(t, err)
	actor := newActor("ghost", 5, 5)
	require.NoError(t, d.AddNetworkActor(actor))

	d.Tick(0.016)
	ci, ok := conn.ActorInfoMap.Find(actor)
	require.True(t, ok)
	require.Equal(t, uint32(4), ci.ActorChannelCloseFrameNum)

	actor.Location = models.Vector{X: 500, Y: 500}
	for i := 0; i < 3; i++ {
		d.Tick(0.016)
		require.Empty(t, net.channel(actor).closed)
	}
	d.Tick(0.016)
	require.Equal(t, []models.CloseReason{models.CloseTimeout}, net.channel(actor).closed)
	require.Nil(t, ci.Channel)
	require.Equal(t, 1, conn.LastTickStats().ChannelsTimedOut)
}

func TestDriverDependents(t *testing.T) {
	d := newTestDriver(testConfig(), newFakeWorld())
	d.RegisterActorType("attachment", classSettings(info.RouteNone, 0))
	pawn := newActor("pawn", 5, 5)
	net := newFakeConn("c1", pawn)
	_, err := d.AddConnection(net)
	require.NoError(t, err)

	parent := newActor("pawn", 10, 10)
	child := newActor("attachment", 10, 10)
	require.ErrorIs(t, d.AddDependentActor(parent, child), ErrUnregisteredParent)
	require.NoError(t, d.AddNetworkActor(parent))
	require.NoError(t, d.AddNetworkActor(child))
	require.NoError(t, d.AddDependentActor(parent, child))

	d.Tick(0.016)
	require.Equal(t, 1, net.replications(parent))
	require.Equal(t, 1, net.replications(child))

	require.True(t, d.RemoveDependentActor(parent, child))
	d.Tick(0.016)
	require.Equal(t, 1, net.replications(child))
}

func TestDriverClosedConnections(t *testing.T) {
	var observed []TickStats
	d := newTestDriver(testConfig(), newFakeWorld(), WithTickObserver(TickObserverFunc(func(s TickStats) {
		observed = append(observed, s)
	})))
	net1 := newFakeConn("c1", nil)
	net2 := newFakeConn("c2", nil)
	_, err := d.AddConnection(net1)
	require.NoError(t, err)
	_, err = d.AddConnection(net2)
	require.NoError(t, err)

	require.Equal(t, 2, d.Tick(0.016))
	net1.closed = true
	require.Equal(t, 1, d.Tick(0.016))
	_, ok := d.Connection("c1")
	require.False(t, ok)
	require.Len(t, d.Connections(), 1)

	require.Len(t, observed, 2)
	require.Equal(t, uint32(2), observed[1].Frame)
	require.Equal(t, 1, observed[1].Removed)
	require.Equal(t, d.LastTickStats().Frame, d.FrameNum())
}
