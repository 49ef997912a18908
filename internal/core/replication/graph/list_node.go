package graph

import (
	"github.com/zeusync/repgraph/internal/core/models"
	"github.com/zeusync/repgraph/internal/core/replication/actorlist"
)

var _ Node = (*ActorListNode)(nil)

// ActorListNode stores actors directly. Actors in streaming levels are kept
// per level and only gathered for connections that see the level.
type ActorListNode struct {
	nodeBase
	list      *actorlist.List
	streaming *actorlist.StreamingLevelCollection
}

func NewActorListNode(d *Driver) *ActorListNode {
	return newActorListNode(d, "actor_list")
}

func newActorListNode(d *Driver, name string) *ActorListNode {
	return &ActorListNode{
		nodeBase:  newNodeBase(d, name),
		list:      actorlist.NewList(16),
		streaming: actorlist.NewStreamingLevelCollection(),
	}
}

func (n *ActorListNode) NotifyAddNetworkActor(actor *models.Actor) {
	if actor.Level == "" {
		n.list.Add(actor)
		return
	}
	n.streaming.Add(actor)
}

func (n *ActorListNode) NotifyRemoveNetworkActor(actor *models.Actor, warnIfNotFound bool) bool {
	var removed bool
	if actor.Level == "" {
		removed = n.list.Remove(actor) || n.streaming.Remove(actor)
	} else {
		removed = n.streaming.Remove(actor) || n.list.Remove(actor)
	}
	if !removed {
		n.warnNotFound(actor, warnIfNotFound)
	}
	return removed
}

func (n *ActorListNode) GatherActorListsForConnection(params *GatherParams) {
	params.Out.Add(n.list.View(), actorlist.ListDefault)
	n.streaming.Gather(params.LevelVisible, params.Out, actorlist.ListDefault)
	n.gatherChildren(params)
}

func (n *ActorListNode) Contains(actor *models.Actor) bool {
	return n.list.Contains(actor) || n.streaming.Contains(actor)
}

func (n *ActorListNode) Len() int {
	return n.list.Len() + n.streaming.Len()
}

// ForEachActor visits the persistent list, then every streaming level.
func (n *ActorListNode) ForEachActor(fn func(actor *models.Actor)) {
	for _, actor := range n.list.View() {
		fn(actor)
	}
	n.streaming.ForEach(fn)
}

// Reset drops every actor the node holds.
func (n *ActorListNode) Reset() {
	n.list.Reset()
	n.streaming.Reset()
}
