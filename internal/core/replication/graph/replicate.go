package graph

import (
	"github.com/zeusync/repgraph/internal/core/models"
	"github.com/zeusync/repgraph/internal/core/observability/log"
	"github.com/zeusync/repgraph/internal/core/replication/actorlist"
	"github.com/zeusync/repgraph/internal/core/replication/info"
)

// replicate walks the sorted list until the bit budget runs out. Actors left
// over simply wait for a later tick.
func (d *Driver) replicate(conn *ConnectionManager, frame uint32, list *actorlist.PrioritizedList) {
	budget := d.cfg.MaxBitsPerConnectionPerTick
	for _, item := range list.Items() {
		if budget > 0 && conn.stats.Bits >= budget {
			conn.stats.BudgetExhausted = true
			return
		}
		if item.Connection.LastRepFrameNum == frame {
			continue
		}
		if d.replicateActor(conn, item.Actor, item.Global, item.Connection, frame) {
			d.replicateDependents(conn, item.Global, frame)
		}
	}
}

// replicateDependents follows the dependent actor links of a replicated
// parent. Each dependent still has to be ready on its own.
func (d *Driver) replicateDependents(conn *ConnectionManager, gi *info.GlobalActorInfo, frame uint32) {
	for _, dep := range gi.DependentActors {
		if !models.IsValidActor(dep) {
			continue
		}
		if _, ok := d.placements[dep]; !ok {
			continue
		}
		dgi := d.globalInfo.Get(dep)
		dci := conn.ActorInfoMap.FindOrAdd(dep, dgi)
		if dci.LastRepFrameNum == frame || dci.DormantOnConnection || dci.TearOff {
			continue
		}
		if !dci.IsReady(dgi, frame) && !dep.TornOff {
			continue
		}
		if d.replicateActor(conn, dep, dgi, dci, frame) {
			d.replicateDependents(conn, dgi, frame)
		}
	}
}

// replicateActor reports false when the connection refused a channel.
func (d *Driver) replicateActor(conn *ConnectionManager, actor *models.Actor, gi *info.GlobalActorInfo, ci *info.ConnectionActorInfo, frame uint32) bool {
	if gi.LastPreReplicationFrame != frame {
		gi.LastPreReplicationFrame = frame
		if pr, ok := d.world.(models.PreReplicator); ok {
			pr.PreReplication(actor)
		}
	}

	if ci.Channel == nil {
		ci.Channel = conn.Net.CreateChannel(actor)
		if ci.Channel == nil {
			d.logger.Warn("connection refused actor channel",
				log.String("connection", string(conn.ID())),
				log.String("actor", actor.String()),
			)
			return false
		}
		ci.Channel.Open()
		conn.stats.ChannelsOpened++
	}

	if gi.WantsToBeDormant && !ci.BecomingDormant && !actor.TornOff {
		ci.Channel.StartBecomingDormant()
		ci.BecomingDormant = true
	}

	bits := ci.Channel.Replicate()
	conn.stats.Bits += bits
	conn.stats.Replicated++
	ci.LastRepFrameNum = frame
	ci.NextReplicationFrameNum = frame + max(ci.ReplicationPeriodFrame, 1)

	if ci.BecomingDormant && ci.Channel.Dormant() {
		ci.BecomingDormant = false
		ci.DormantOnConnection = true
	}
	if actor.TornOff {
		d.closeChannel(conn, actor, ci, models.CloseTearOff)
		ci.TearOff = true
	}
	return true
}

// replicateFastShared sends the cached shared payload of fast path actors
// until the fast path budget runs out.
func (d *Driver) replicateFastShared(conn *ConnectionManager, params *GatherParams) {
	budget := d.cfg.FastSharedBitsPerTick
	if budget <= 0 {
		return
	}
	frame := params.FrameNum
	for _, view := range conn.gathered.Lists(actorlist.ListFastShared) {
		for _, actor := range view {
			if conn.stats.FastSharedBits >= budget {
				conn.stats.FastSharedStopped = true
				return
			}
			if !models.IsValidActor(actor) || actor.TornOff {
				continue
			}
			gi, ok := d.globalInfo.Find(actor)
			if !ok || gi.Settings.FastShared == nil {
				continue
			}
			ci, ok := conn.ActorInfoMap.Find(actor)
			if !ok || ci.Channel == nil || ci.TearOff || ci.DormantOnConnection {
				continue
			}
			if ci.LastRepFrameNum == frame || ci.FastPathLastRepFrameNum == frame || ci.FastPathNextReplicationFrameNum > frame {
				continue
			}
			if !d.fastSharedRelevant(gi, ci, params.Viewers) {
				continue
			}
			payload, ok := d.fastSharedPayload(actor, gi, frame)
			if !ok {
				continue
			}
			bits := ci.Channel.SendSharedPayload(payload)
			conn.stats.FastSharedBits += bits
			conn.stats.FastShared++
			ci.FastPathLastRepFrameNum = frame
			ci.FastPathNextReplicationFrameNum = frame + max(ci.FastPathReplicationPeriodFrame, 1)
		}
	}
}

// fastSharedRelevant accepts actors in front of a viewer or within a fraction
// of the cull distance.
func (d *Driver) fastSharedRelevant(gi *info.GlobalActorInfo, ci *info.ConnectionActorInfo, viewers []Viewer) bool {
	cull := ci.EffectiveCullDistanceSquared()
	if cull <= 0 || gi.AlwaysRelevant {
		return true
	}
	near := cull * d.cfg.FastSharedCullDistPct * d.cfg.FastSharedCullDistPct
	for _, viewer := range viewers {
		delta := gi.WorldLocation.Sub(viewer.Location)
		distSq := delta.SizeSquared()
		if distSq > cull {
			continue
		}
		if distSq <= near || viewer.Forward.Dot(delta) > 0 {
			return true
		}
	}
	return false
}

// fastSharedPayload builds the payload at most once per frame for all connections.
func (d *Driver) fastSharedPayload(actor *models.Actor, gi *info.GlobalActorInfo, frame uint32) ([]byte, bool) {
	cache := &gi.FastShared
	if cache.LastAttemptBuildFrame != frame {
		cache.LastAttemptBuildFrame = frame
		payload, ok := gi.Settings.FastShared(actor)
		if ok {
			cache.Payload = payload
			cache.LastBuiltFrame = frame
		} else {
			cache.Payload = nil
		}
	}
	if cache.LastBuiltFrame != frame {
		return nil, false
	}
	return cache.Payload, true
}

// sweepChannels times out channels that stopped being replicated and repairs
// dormancy flags left without a channel.
func (d *Driver) sweepChannels(conn *ConnectionManager, frame uint32) {
	conn.ActorInfoMap.Range(func(actor *models.Actor, ci *info.ConnectionActorInfo) bool {
		if ci.Channel == nil {
			if ci.DormantOnConnection || ci.BecomingDormant {
				d.logger.Warn("dormant actor without channel",
					log.String("connection", string(conn.ID())),
					log.String("actor", actor.String()),
				)
				ci.DormantOnConnection = false
				ci.BecomingDormant = false
				conn.wake(actor)
			}
			return true
		}
		if ci.DormantOnConnection {
			return true
		}
		if ci.ActorChannelCloseFrameNum > 0 && frame > ci.ActorChannelCloseFrameNum {
			d.closeChannel(conn, actor, ci, models.CloseTimeout)
			conn.stats.ChannelsTimedOut++
		}
		return true
	})
}
