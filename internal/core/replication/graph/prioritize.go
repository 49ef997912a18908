package graph

import (
	"math"

	"github.com/zeusync/repgraph/internal/core/models"
	"github.com/zeusync/repgraph/internal/core/observability/log"
	"github.com/zeusync/repgraph/internal/core/replication/actorlist"
	"github.com/zeusync/repgraph/internal/core/replication/info"
)

// prioritize scores every ready actor of the default lists and sorts them,
// most urgent first.
func (d *Driver) prioritize(conn *ConnectionManager, params *GatherParams, out *actorlist.PrioritizedList) {
	frame := params.FrameNum
	for _, view := range conn.gathered.Lists(actorlist.ListDefault) {
		for _, actor := range view {
			if !models.IsValidActor(actor) {
				d.logger.Warn("skipping invalid gathered actor",
					log.String("connection", string(conn.ID())),
					log.String("actor", actor.String()),
				)
				continue
			}
			gi := d.globalInfo.Get(actor)
			_, known := conn.ActorInfoMap.Find(actor)
			ci := conn.ActorInfoMap.FindOrAdd(actor, gi)
			if ci.TearOff {
				continue
			}
			if actor.TornOff {
				// A connection meeting the actor for the first time after tear-off never sees it.
				if !known {
					ci.TearOff = true
					continue
				}
				out.Push(actorlist.PrioritizedItem{Priority: -math.MaxFloat64, Actor: actor, Global: gi, Connection: ci})
				continue
			}
			if ci.DormantOnConnection {
				continue
			}
			if !ci.IsReady(gi, frame) {
				continue
			}
			// The timeout moves forward before any culling so a slow actor keeps its channel.
			ci.AdvanceChannelCloseFrame(frame, gi.Settings.ActorChannelFrameTimeout)

			priority, distSq, ok := d.score(actor, gi, ci, params.Viewers, frame)
			if !ok {
				continue
			}
			out.Push(actorlist.PrioritizedItem{
				Priority:   priority,
				DistanceSq: distSq,
				Actor:      actor,
				Global:     gi,
				Connection: ci,
			})
		}
	}
	out.Sort()
	conn.stats.Prioritized = out.Len()
}

// score sums the priority terms of one actor. It reports false when the
// actor is beyond its cull distance from every viewer.
func (d *Driver) score(actor *models.Actor, gi *info.GlobalActorInfo, ci *info.ConnectionActorInfo, viewers []Viewer, frame uint32) (float64, float64, bool) {
	pc := d.cfg.Priority
	gi.RefreshLocation(actor, frame)

	smallest := math.MaxFloat64
	isViewer := false
	for _, viewer := range viewers {
		if viewer.IsViewerActor(actor) {
			isViewer = true
		}
		if distSq := gi.WorldLocation.DistSquared(viewer.Location); distSq < smallest {
			smallest = distSq
		}
	}
	if len(viewers) == 0 {
		smallest = 0
	}
	if cull := ci.EffectiveCullDistanceSquared(); cull > 0 && smallest > cull && !isViewer && !gi.AlwaysRelevant {
		return 0, 0, false
	}

	var priority float64
	if pc.MaxDistanceScaling > 0 {
		priority += math.Min(smallest, pc.MaxDistanceScaling) / pc.MaxDistanceScaling * gi.Settings.DistancePriorityScale
	}
	if pc.MaxFramesBeforeStarvation > 0 {
		waited := float64(frame - ci.LastRepFrameNum)
		if ci.LastRepFrameNum == 0 {
			waited = float64(pc.MaxFramesBeforeStarvation)
		}
		starved := math.Min(waited/float64(pc.MaxFramesBeforeStarvation), 1)
		priority += (1 - starved) * gi.Settings.StarvationPriorityScale
	}
	if gi.WantsToBeDormant && ci.LastRepFrameNum > 0 {
		priority -= pc.PendingDormancyBonus
	}
	if gi.ForceNetUpdateFrame > ci.LastRepFrameNum {
		priority -= pc.ForceNetUpdateBonus
	}
	if isViewer {
		priority -= pc.ViewerBonus
	}
	return priority, smallest, true
}
