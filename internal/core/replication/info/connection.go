package info

import "github.com/zeusync/repgraph/internal/core/models"

// ConnectionActorInfo is the replication state of one actor on one connection.
type ConnectionActorInfo struct {
	// Channel is nil until the actor first replicates to the connection.
	Channel models.Channel

	CullDistanceSquared float64

	NextReplicationFrameNum uint32
	LastRepFrameNum         uint32

	FastPathNextReplicationFrameNum uint32
	FastPathLastRepFrameNum         uint32

	ReplicationPeriodFrame         uint32
	FastPathReplicationPeriodFrame uint32

	// ActorChannelCloseFrameNum only ever moves forward; the channel times out
	// once the frame counter passes it. Zero disables the timeout.
	ActorChannelCloseFrameNum uint32

	DormantOnConnection     bool
	BecomingDormant         bool
	TearOff                 bool
	ForceCullDistanceToZero bool
}

// EffectiveCullDistanceSquared is zero (never culled) while the cull distance is forced off.
func (c *ConnectionActorInfo) EffectiveCullDistanceSquared() float64 {
	if c.ForceCullDistanceToZero {
		return 0
	}
	return c.CullDistanceSquared
}

// IsReady reports whether the default path may replicate the actor on frame.
func (c *ConnectionActorInfo) IsReady(global *GlobalActorInfo, frame uint32) bool {
	return c.NextReplicationFrameNum <= frame || global.ForceNetUpdateFrame > c.LastRepFrameNum
}

// AdvanceChannelCloseFrame pushes the timeout frame forward, never back.
func (c *ConnectionActorInfo) AdvanceChannelCloseFrame(frame uint32, timeout uint32) {
	if timeout == 0 {
		c.ActorChannelCloseFrameNum = 0
		return
	}
	next := frame + c.ReplicationPeriodFrame + timeout
	if next > c.ActorChannelCloseFrameNum {
		c.ActorChannelCloseFrameNum = next
	}
}

// ConnectionActorInfoMap owns the per actor records of a single connection.
type ConnectionActorInfoMap struct {
	infos map[*models.Actor]*ConnectionActorInfo
}

func NewConnectionActorInfoMap() *ConnectionActorInfoMap {
	return &ConnectionActorInfoMap{
		infos: make(map[*models.Actor]*ConnectionActorInfo),
	}
}

// FindOrAdd returns the record for actor, seeding a new one from the actor's
// global settings.
func (m *ConnectionActorInfoMap) FindOrAdd(actor *models.Actor, global *GlobalActorInfo) *ConnectionActorInfo {
	if ci, ok := m.infos[actor]; ok {
		return ci
	}
	ci := &ConnectionActorInfo{
		CullDistanceSquared:            global.CullDistanceSquared,
		ReplicationPeriodFrame:         global.Settings.ReplicationPeriodFrame,
		FastPathReplicationPeriodFrame: global.Settings.FastPathReplicationPeriodFrame,
	}
	m.infos[actor] = ci
	return ci
}

func (m *ConnectionActorInfoMap) Find(actor *models.Actor) (*ConnectionActorInfo, bool) {
	ci, ok := m.infos[actor]
	return ci, ok
}

func (m *ConnectionActorInfoMap) Remove(actor *models.Actor) (*ConnectionActorInfo, bool) {
	ci, ok := m.infos[actor]
	if ok {
		delete(m.infos, actor)
	}
	return ci, ok
}

// Range visits every record until fn returns false. fn may remove the visited entry.
func (m *ConnectionActorInfoMap) Range(fn func(actor *models.Actor, ci *ConnectionActorInfo) bool) {
	for actor, ci := range m.infos {
		if !fn(actor, ci) {
			return
		}
	}
}

func (m *ConnectionActorInfoMap) Len() int {
	return len(m.infos)
}
