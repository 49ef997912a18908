package graph

import (
	"math"

	"github.com/zeusync/repgraph/internal/core/models"
	"github.com/zeusync/repgraph/internal/core/replication/actorlist"
	"github.com/zeusync/repgraph/internal/core/replication/info"
	"github.com/zeusync/repgraph/pkg/sequence"
)

// SpatializationZone maps a view cone and a distance range to replication
// periods. Distances are fractions of the actor's cull distance.
type SpatializationZone struct {
	MinDotProduct float64
	MinDistPct    float64
	MaxDistPct    float64

	MinRepPeriod uint32
	MaxRepPeriod uint32

	FastPathMinRepPeriod uint32
	FastPathMaxRepPeriod uint32
}

type DynamicFrequencySettings struct {
	// Zones are tried in order; the first whose MinDotProduct is met wins.
	Zones []SpatializationZone
	// MaxNearestActors limits the pass to the nearest actors when positive.
	MaxNearestActors int
	EnableFastPath   bool
}

func DefaultDynamicFrequencySettings() DynamicFrequencySettings {
	return DynamicFrequencySettings{
		Zones: []SpatializationZone{
			{MinDotProduct: 0.707, MinDistPct: 0, MaxDistPct: 1, MinRepPeriod: 1, MaxRepPeriod: 3, FastPathMinRepPeriod: 1, FastPathMaxRepPeriod: 2},
			{MinDotProduct: -1, MinDistPct: 0, MaxDistPct: 1, MinRepPeriod: 2, MaxRepPeriod: 6, FastPathMinRepPeriod: 2, FastPathMaxRepPeriod: 4},
		},
	}
}

type frequencyCandidate struct {
	actor  *models.Actor
	global *info.GlobalActorInfo
	distSq float64
	dot    float64
}

var _ Node = (*DynamicSpatialFrequencyNode)(nil)

// DynamicSpatialFrequencyNode gathers only the actors that are due this frame
// for a connection. The period of each actor follows where it sits relative to
// the closest viewer.
type DynamicSpatialFrequencyNode struct {
	ActorListNode
	settings DynamicFrequencySettings

	lastCount  map[*ConnectionManager]int
	candidates []frequencyCandidate
	queue      *sequence.PriorityQueue[frequencyCandidate]
}

func NewDynamicSpatialFrequencyNode(d *Driver, settings DynamicFrequencySettings) *DynamicSpatialFrequencyNode {
	if len(settings.Zones) == 0 {
		settings.Zones = DefaultDynamicFrequencySettings().Zones
	}
	return &DynamicSpatialFrequencyNode{
		ActorListNode: *newActorListNode(d, "dynamic_frequency"),
		settings:      settings,
		lastCount:     make(map[*ConnectionManager]int),
		queue:         sequence.NewMinPriorityQueue[frequencyCandidate](),
	}
}

// LastCount is the number of actors emitted for conn on its last gather.
func (n *DynamicSpatialFrequencyNode) LastCount(conn *ConnectionManager) int {
	return n.lastCount[conn]
}

func (n *DynamicSpatialFrequencyNode) GatherActorListsForConnection(params *GatherParams) {
	n.collect(params)
	if n.settings.MaxNearestActors > 0 && len(n.candidates) > n.settings.MaxNearestActors {
		n.candidates = sequence.SmallestN(n.candidates, n.settings.MaxNearestActors, func(c frequencyCandidate) float64 {
			return c.distSq
		})
	}

	frame := params.FrameNum
	conn := params.Connection
	n.queue.Reset()
	for _, c := range n.candidates {
		ci := conn.ActorInfoMap.FindOrAdd(c.actor, c.global)
		if ci.DormantOnConnection {
			continue
		}
		zone, pct, ok := n.zoneFor(c, ci)
		if !ok {
			continue
		}
		ci.ReplicationPeriodFrame = lerpPeriod(zone.MinRepPeriod, zone.MaxRepPeriod, zone, pct)

		next := ci.LastRepFrameNum + ci.ReplicationPeriodFrame
		if ci.LastRepFrameNum == 0 || c.global.ForceNetUpdateFrame > ci.LastRepFrameNum {
			next = frame
		}
		ci.NextReplicationFrameNum = next
		if next > frame {
			n.fastPath(params, c, ci, zone, pct)
			continue
		}
		// Overdue actors sort ahead of the ones that are exactly on time.
		n.queue.Enqueue(c, -float64(frame-next))
	}

	prev := n.lastCount[conn]
	count := 0
	for !n.queue.IsEmpty() {
		_, priority, _ := n.queue.Peek()
		c, _ := n.queue.Dequeue()
		if priority == 0 && prev > 0 && count >= prev {
			if ci, ok := conn.ActorInfoMap.Find(c.actor); ok {
				ci.NextReplicationFrameNum = frame + 1
			}
			continue
		}
		params.Out.AddActor(c.actor, actorlist.ListDefault)
		count++
	}
	n.lastCount[conn] = count

	clear(n.candidates)
	n.candidates = n.candidates[:0]
	n.gatherChildren(params)
}

// collect measures every valid, visible actor against the nearest viewer.
func (n *DynamicSpatialFrequencyNode) collect(params *GatherParams) {
	add := func(actor *models.Actor) {
		if !models.IsValidActor(actor) || len(params.Viewers) == 0 {
			return
		}
		if actor.Level != "" && !params.LevelVisible(actor.Level) {
			return
		}
		gi := n.driver.globalInfo.Get(actor)
		gi.RefreshLocation(actor, params.FrameNum)

		best := frequencyCandidate{actor: actor, global: gi, distSq: math.MaxFloat64}
		for _, viewer := range params.Viewers {
			delta := gi.WorldLocation.Sub(viewer.Location)
			distSq := delta.SizeSquared()
			if distSq < best.distSq {
				best.distSq = distSq
				best.dot = 1
				if distSq > 0 && !viewer.Forward.IsZero() {
					best.dot = viewer.Forward.Normal().Dot(delta.Normal())
				}
			}
		}
		n.candidates = append(n.candidates, best)
	}
	for _, actor := range n.list.View() {
		add(actor)
	}
	n.streaming.ForEach(add)
}

// zoneFor returns the zone and the distance fraction of the candidate. Actors
// beyond their cull distance are not replicated.
func (n *DynamicSpatialFrequencyNode) zoneFor(c frequencyCandidate, ci *info.ConnectionActorInfo) (SpatializationZone, float64, bool) {
	pct := 0.0
	if cull := ci.EffectiveCullDistanceSquared(); cull > 0 {
		if c.distSq > cull {
			return SpatializationZone{}, 0, false
		}
		pct = math.Sqrt(c.distSq / cull)
	}
	for _, zone := range n.settings.Zones {
		if c.dot >= zone.MinDotProduct {
			return zone, pct, true
		}
	}
	return n.settings.Zones[len(n.settings.Zones)-1], pct, true
}

func (n *DynamicSpatialFrequencyNode) fastPath(params *GatherParams, c frequencyCandidate, ci *info.ConnectionActorInfo, zone SpatializationZone, pct float64) {
	if !n.settings.EnableFastPath || c.global.Settings.FastShared == nil {
		return
	}
	ci.FastPathReplicationPeriodFrame = lerpPeriod(zone.FastPathMinRepPeriod, zone.FastPathMaxRepPeriod, zone, pct)
	ci.FastPathNextReplicationFrameNum = ci.FastPathLastRepFrameNum + ci.FastPathReplicationPeriodFrame
	if ci.FastPathNextReplicationFrameNum <= params.FrameNum {
		params.Out.AddActor(c.actor, actorlist.ListFastShared)
	}
}

// lerpPeriod interpolates between lo and hi by the position of pct inside the
// zone's distance range. The result is never below one frame.
func lerpPeriod(lo, hi uint32, zone SpatializationZone, pct float64) uint32 {
	t := 0.0
	if span := zone.MaxDistPct - zone.MinDistPct; span > 0 {
		t = math.Min(math.Max((pct-zone.MinDistPct)/span, 0), 1)
	}
	period := uint32(math.Round(float64(lo) + (float64(hi)-float64(lo))*t))
	if period == 0 {
		return 1
	}
	return period
}

func (n *DynamicSpatialFrequencyNode) NotifyConnectionRemoved(conn *ConnectionManager) {
	delete(n.lastCount, conn)
	n.ActorListNode.NotifyConnectionRemoved(conn)
}
