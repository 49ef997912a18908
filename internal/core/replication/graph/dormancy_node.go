package graph

import (
	"github.com/zeusync/repgraph/internal/core/models"
	"github.com/zeusync/repgraph/internal/core/replication/actorlist"
	"github.com/zeusync/repgraph/internal/core/replication/info"
)

// DormancySettings tunes the per-connection dormancy nodes.
type DormancySettings struct {
	// TrickleEnabled lets a connection dormancy node force one live actor per
	// tick to a zero cull distance so actors reach dormancy one at a time.
	TrickleEnabled     bool
	TrickleStartFrames uint32
}

var _ Node = (*DormancyNode)(nil)

// DormancyNode holds every actor that wants to be dormant. Each connection
// gets its own ConnectionDormancyNode copy, created on first gather, which
// tracks which of those actors already went dormant on that connection.
type DormancyNode struct {
	ActorListNode
	connNodes map[*ConnectionManager]*ConnectionDormancyNode
}

func NewDormancyNode(d *Driver) *DormancyNode {
	return &DormancyNode{
		ActorListNode: *newActorListNode(d, "dormancy"),
		connNodes:     make(map[*ConnectionManager]*ConnectionDormancyNode),
	}
}

func (n *DormancyNode) NotifyAddNetworkActor(actor *models.Actor) {
	n.ActorListNode.NotifyAddNetworkActor(actor)
	for _, cn := range n.connNodes {
		cn.NotifyAddNetworkActor(actor)
	}
}

func (n *DormancyNode) NotifyRemoveNetworkActor(actor *models.Actor, warnIfNotFound bool) bool {
	removed := n.ActorListNode.NotifyRemoveNetworkActor(actor, warnIfNotFound)
	for _, cn := range n.connNodes {
		cn.NotifyRemoveNetworkActor(actor, false)
	}
	return removed
}

func (n *DormancyNode) GatherActorListsForConnection(params *GatherParams) {
	n.ConnectionNode(params.Connection).GatherActorListsForConnection(params)
	n.gatherChildren(params)
}

// ConnectionNode returns the connection's copy, creating it from the current
// actor set on first use.
func (n *DormancyNode) ConnectionNode(conn *ConnectionManager) *ConnectionDormancyNode {
	if cn, ok := n.connNodes[conn]; ok {
		return cn
	}
	cn := newConnectionDormancyNode(n.driver, conn)
	cn.list.CopyFrom(n.list)
	cn.streaming.CopyFrom(n.streaming)
	n.connNodes[conn] = cn
	conn.dormancyNodes = append(conn.dormancyNodes, cn)
	return cn
}

// FindConnectionNode does not create.
func (n *DormancyNode) FindConnectionNode(conn *ConnectionManager) (*ConnectionDormancyNode, bool) {
	cn, ok := n.connNodes[conn]
	return cn, ok
}

func (n *DormancyNode) NotifyConnectionRemoved(conn *ConnectionManager) {
	if cn, ok := n.connNodes[conn]; ok {
		cn.tearDown()
		delete(n.connNodes, conn)
	}
	n.nodeBase.NotifyConnectionRemoved(conn)
}

func (n *DormancyNode) tearDown() {
	for conn, cn := range n.connNodes {
		cn.tearDown()
		delete(n.connNodes, conn)
	}
}

var _ Node = (*ConnectionDormancyNode)(nil)

// ConnectionDormancyNode gathers the actors of its parent that are not yet
// dormant on its connection. Actors that went dormant move to the removed
// lists until a dormancy flush wakes them.
type ConnectionDormancyNode struct {
	ActorListNode
	conn             *ConnectionManager
	removed          *actorlist.List
	removedStreaming *actorlist.StreamingLevelCollection
	trickleCounter   uint32
}

func newConnectionDormancyNode(d *Driver, conn *ConnectionManager) *ConnectionDormancyNode {
	return &ConnectionDormancyNode{
		ActorListNode:    *newActorListNode(d, "connection_dormancy"),
		conn:             conn,
		removed:          actorlist.NewList(8),
		removedStreaming: actorlist.NewStreamingLevelCollection(),
		trickleCounter:   d.cfg.Dormancy.TrickleStartFrames,
	}
}

func (n *ConnectionDormancyNode) NotifyRemoveNetworkActor(actor *models.Actor, warnIfNotFound bool) bool {
	removed := n.ActorListNode.NotifyRemoveNetworkActor(actor, false)
	if n.removed.Remove(actor) || n.removedStreaming.Remove(actor) {
		removed = true
		if gi, ok := n.driver.globalInfo.Find(actor); ok {
			gi.Events.RemoveDormancyFlush(n)
		}
	}
	if !removed {
		n.warnNotFound(actor, warnIfNotFound)
	}
	return removed
}

func (n *ConnectionDormancyNode) GatherActorListsForConnection(params *GatherParams) {
	n.conditionalGather(n.list, n.removed)
	n.streaming.ForEachList(func(level string, list *actorlist.List) {
		n.conditionalGather(list, nil)
	})

	n.trickle(params)

	params.Out.Add(n.list.View(), actorlist.ListDefault)
	n.streaming.Gather(params.LevelVisible, params.Out, actorlist.ListDefault)
	n.gatherChildren(params)
}

// conditionalGather moves actors that are dormant on the connection out of
// the live list; a flush moves them back.
func (n *ConnectionDormancyNode) conditionalGather(list *actorlist.List, removedList *actorlist.List) {
	infos := n.conn.ActorInfoMap
	for i := list.Len() - 1; i >= 0; i-- {
		actor := list.At(i)
		ci, ok := infos.Find(actor)
		if !ok || !ci.DormantOnConnection {
			continue
		}
		list.RemoveAt(i)
		if removedList != nil {
			removedList.Add(actor)
		} else {
			n.removedStreaming.Add(actor)
		}
		gi := n.driver.globalInfo.Get(actor)
		gi.Events.OnDormancyFlush(n, n.onDormancyFlush)
	}
}

func (n *ConnectionDormancyNode) trickle(params *GatherParams) {
	if !n.driver.cfg.Dormancy.TrickleEnabled {
		return
	}
	if n.trickleCounter > 0 {
		n.trickleCounter--
		return
	}
	if n.conn.lastTrickleFrame == params.FrameNum {
		return
	}
	for _, actor := range n.list.View() {
		ci, ok := n.conn.ActorInfoMap.Find(actor)
		if !ok || ci.ForceCullDistanceToZero || ci.CullDistanceSquared <= 0 {
			continue
		}
		ci.ForceCullDistanceToZero = true
		n.conn.lastTrickleFrame = params.FrameNum
		return
	}
}

func (n *ConnectionDormancyNode) onDormancyFlush(actor *models.Actor, _ *info.GlobalActorInfo) {
	n.wake(actor)
}

// wake moves actor from the dormant bookkeeping back into the live list.
func (n *ConnectionDormancyNode) wake(actor *models.Actor) bool {
	if !n.removed.Remove(actor) && !n.removedStreaming.Remove(actor) {
		return false
	}
	if gi, ok := n.driver.globalInfo.Find(actor); ok {
		gi.Events.RemoveDormancyFlush(n)
	}
	n.ActorListNode.NotifyAddNetworkActor(actor)
	return true
}

// IsDormant reports whether actor sits in the dormant bookkeeping.
func (n *ConnectionDormancyNode) IsDormant(actor *models.Actor) bool {
	return n.removed.Contains(actor) || n.removedStreaming.Contains(actor)
}

func (n *ConnectionDormancyNode) NumDormant() int {
	return n.removed.Len() + n.removedStreaming.Len()
}

func (n *ConnectionDormancyNode) tearDown() {
	n.conn.forgetDormancyNode(n)
	unsubscribe := func(actor *models.Actor) {
		if gi, ok := n.driver.globalInfo.Find(actor); ok {
			gi.Events.RemoveDormancyFlush(n)
		}
	}
	for _, actor := range n.removed.View() {
		unsubscribe(actor)
	}
	n.removedStreaming.ForEach(unsubscribe)
	n.removed.Reset()
	n.removedStreaming.Reset()
	n.Reset()
}
