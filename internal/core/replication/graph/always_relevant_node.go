package graph

import (
	"github.com/zeusync/repgraph/internal/core/models"
	"github.com/zeusync/repgraph/internal/core/observability/log"
	"github.com/zeusync/repgraph/internal/core/replication/actorlist"
)

var _ Node = (*AlwaysRelevantNode)(nil)

// AlwaysRelevantNode is gathered for every connection. Besides actors added
// directly it re-queries the world each tick for the live instances of the
// always relevant classes, so destroyed instances drop out on their own.
type AlwaysRelevantNode struct {
	ActorListNode
	classes     []models.ClassTag
	classActors *actorlist.List
}

func NewAlwaysRelevantNode(d *Driver) *AlwaysRelevantNode {
	return &AlwaysRelevantNode{
		ActorListNode: *newActorListNode(d, "always_relevant"),
		classActors:   actorlist.NewList(16),
	}
}

// AddAlwaysRelevantClass registers tag; duplicates are ignored.
func (n *AlwaysRelevantNode) AddAlwaysRelevantClass(tag models.ClassTag) {
	for _, c := range n.classes {
		if c == tag {
			return
		}
	}
	n.classes = append(n.classes, tag)
}

func (n *AlwaysRelevantNode) Classes() []models.ClassTag {
	return n.classes
}

func (n *AlwaysRelevantNode) RequiresPrepare() bool { return true }

func (n *AlwaysRelevantNode) PrepareForReplication() {
	n.classActors.Reset()
	if n.driver.world == nil {
		return
	}
	for _, tag := range n.classes {
		for _, actor := range n.driver.world.ActorsOfType(tag) {
			if !models.IsValidActor(actor) {
				continue
			}
			if n.ActorListNode.Contains(actor) {
				continue
			}
			n.driver.globalInfo.Get(actor).AlwaysRelevant = true
			n.classActors.Add(actor)
		}
	}
}

func (n *AlwaysRelevantNode) GatherActorListsForConnection(params *GatherParams) {
	params.Out.Add(n.classActors.View(), actorlist.ListDefault)
	n.ActorListNode.GatherActorListsForConnection(params)
}

// ClassActors is the list built by the last prepare pass.
func (n *AlwaysRelevantNode) ClassActors() []*models.Actor {
	return n.classActors.View()
}

var _ Node = (*AlwaysRelevantForConnectionNode)(nil)

type pastRelevant struct {
	inViewer   *models.Actor
	viewTarget *models.Actor
}

// AlwaysRelevantForConnectionNode gathers the connection's own pawn and view
// target every tick, regardless of distance, plus actors relevant only to
// this connection (owner-only actors).
type AlwaysRelevantForConnectionNode struct {
	ActorListNode
	conn    *ConnectionManager
	past    []pastRelevant
	viewers *actorlist.List
}

func NewAlwaysRelevantForConnectionNode(d *Driver, conn *ConnectionManager) *AlwaysRelevantForConnectionNode {
	return &AlwaysRelevantForConnectionNode{
		ActorListNode: *newActorListNode(d, "always_relevant_for_connection"),
		conn:          conn,
		viewers:       actorlist.NewList(4),
	}
}

func (n *AlwaysRelevantForConnectionNode) GatherActorListsForConnection(params *GatherParams) {
	n.viewers.Reset()
	for i, viewer := range params.Viewers {
		if i >= len(n.past) {
			n.past = append(n.past, pastRelevant{})
		}
		p := &n.past[i]
		n.swapRelevant(&p.inViewer, viewer.InViewer)
		n.swapRelevant(&p.viewTarget, viewer.ViewTarget)
		if models.IsValidActor(p.inViewer) && !n.viewers.Contains(p.inViewer) {
			n.viewers.Add(p.inViewer)
		}
		if models.IsValidActor(p.viewTarget) && !n.viewers.Contains(p.viewTarget) {
			n.viewers.Add(p.viewTarget)
		}
	}
	for i := len(params.Viewers); i < len(n.past); i++ {
		n.swapRelevant(&n.past[i].inViewer, nil)
		n.swapRelevant(&n.past[i].viewTarget, nil)
	}
	n.past = n.past[:len(params.Viewers)]

	params.Out.Add(n.viewers.View(), actorlist.ListDefault)
	n.ActorListNode.GatherActorListsForConnection(params)
}

// swapRelevant restores the cull distance of the previous actor and forces
// the new one to never be distance culled.
func (n *AlwaysRelevantForConnectionNode) swapRelevant(prev **models.Actor, next *models.Actor) {
	if *prev == next {
		return
	}
	old := *prev
	*prev = next
	if old != nil && !n.isStillViewer(old) {
		if ci, ok := n.conn.ActorInfoMap.Find(old); ok {
			ci.ForceCullDistanceToZero = false
		}
	}
	if !models.IsValidActor(next) {
		return
	}
	if _, ok := n.driver.classes.Find(next.Class); !ok {
		n.logger.Warn("viewer actor class is not registered", log.String("actor", next.String()))
		return
	}
	gi := n.driver.globalInfo.Get(next)
	ci := n.conn.ActorInfoMap.FindOrAdd(next, gi)
	ci.ForceCullDistanceToZero = true
}

func (n *AlwaysRelevantForConnectionNode) isStillViewer(actor *models.Actor) bool {
	for _, p := range n.past {
		if p.inViewer == actor || p.viewTarget == actor {
			return true
		}
	}
	return false
}

func (n *AlwaysRelevantForConnectionNode) NotifyRemoveNetworkActor(actor *models.Actor, warnIfNotFound bool) bool {
	for i := range n.past {
		if n.past[i].inViewer == actor {
			n.past[i].inViewer = nil
		}
		if n.past[i].viewTarget == actor {
			n.past[i].viewTarget = nil
		}
	}
	return n.ActorListNode.NotifyRemoveNetworkActor(actor, warnIfNotFound)
}

var _ Node = (*TearOffForConnectionNode)(nil)

type tearOffEntry struct {
	actor *models.Actor
	frame uint32
}

// TearOffForConnectionNode keeps torn off actors in the gather output until
// they have replicated to the connection once after being marked.
type TearOffForConnectionNode struct {
	nodeBase
	conn    *ConnectionManager
	entries []tearOffEntry
	scratch *actorlist.List
}

func NewTearOffForConnectionNode(d *Driver, conn *ConnectionManager) *TearOffForConnectionNode {
	return &TearOffForConnectionNode{
		nodeBase: newNodeBase(d, "tear_off_for_connection"),
		conn:     conn,
		scratch:  actorlist.NewList(4),
	}
}

// NotifyTearOffActor starts tracking actor, marked on frame.
func (n *TearOffForConnectionNode) NotifyTearOffActor(actor *models.Actor, frame uint32) {
	for _, e := range n.entries {
		if e.actor == actor {
			return
		}
	}
	n.entries = append(n.entries, tearOffEntry{actor: actor, frame: frame})
}

// NotifyAddNetworkActor tracks the actor from the current frame.
func (n *TearOffForConnectionNode) NotifyAddNetworkActor(actor *models.Actor) {
	n.NotifyTearOffActor(actor, n.driver.frameNum)
}

func (n *TearOffForConnectionNode) NotifyRemoveNetworkActor(actor *models.Actor, warnIfNotFound bool) bool {
	for i, e := range n.entries {
		if e.actor == actor {
			n.removeAt(i)
			return true
		}
	}
	n.warnNotFound(actor, warnIfNotFound)
	return false
}

func (n *TearOffForConnectionNode) removeAt(i int) {
	last := len(n.entries) - 1
	n.entries[i] = n.entries[last]
	n.entries[last] = tearOffEntry{}
	n.entries = n.entries[:last]
}

func (n *TearOffForConnectionNode) GatherActorListsForConnection(params *GatherParams) {
	n.scratch.Reset()
	for i := len(n.entries) - 1; i >= 0; i-- {
		e := n.entries[i]
		if e.actor == nil {
			n.removeAt(i)
			continue
		}
		ci, ok := n.conn.ActorInfoMap.Find(e.actor)
		if ok && ci.TearOff && ci.LastRepFrameNum > e.frame {
			n.removeAt(i)
			continue
		}
		n.scratch.Add(e.actor)
	}
	params.Out.Add(n.scratch.View(), actorlist.ListDefault)
	n.gatherChildren(params)
}

func (n *TearOffForConnectionNode) Len() int {
	return len(n.entries)
}

func (n *TearOffForConnectionNode) Tracks(actor *models.Actor) bool {
	for _, e := range n.entries {
		if e.actor == actor {
			return true
		}
	}
	return false
}
