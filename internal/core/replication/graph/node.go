package graph

import (
	"github.com/zeusync/repgraph/internal/core/models"
	"github.com/zeusync/repgraph/internal/core/observability/log"
	"github.com/zeusync/repgraph/internal/core/replication/actorlist"
)

// Viewer is one point of view of a connection: the actor the client controls
// and the actor its camera follows.
type Viewer struct {
	Connection models.NetConnection
	InViewer   *models.Actor
	ViewTarget *models.Actor
	Location   models.Vector
	Forward    models.Vector
}

// IsViewerActor reports whether actor is the viewer's pawn or view target.
func (v Viewer) IsViewerActor(actor *models.Actor) bool {
	return actor != nil && (actor == v.InViewer || actor == v.ViewTarget)
}

// GatherParams is what a node needs to add actors for one connection.
type GatherParams struct {
	Connection *ConnectionManager
	Viewers    []Viewer
	FrameNum   uint32
	Out        *actorlist.GatheredLists
}

// LevelVisible reports whether the connection sees a streaming level. The
// persistent level is always visible.
func (p *GatherParams) LevelVisible(level string) bool {
	if level == "" {
		return true
	}
	return p.Connection.Net.IsLevelVisible(level)
}

// Node is a vertex of the replication graph. Global nodes are shared by every
// connection; connection nodes belong to a single ConnectionManager.
type Node interface {
	NotifyAddNetworkActor(actor *models.Actor)
	// NotifyRemoveNetworkActor returns false when the actor was not found.
	NotifyRemoveNetworkActor(actor *models.Actor, warnIfNotFound bool) bool
	GatherActorListsForConnection(params *GatherParams)

	// RequiresPrepare marks nodes the driver calls PrepareForReplication on
	// once per tick, before any gathering.
	RequiresPrepare() bool
	PrepareForReplication()

	NotifyConnectionRemoved(conn *ConnectionManager)
	Children() []Node
}

// nodeBase carries what every node shares: the driver and child nodes.
type nodeBase struct {
	driver   *Driver
	logger   log.Log
	children []Node
}

func newNodeBase(d *Driver, name string) nodeBase {
	return nodeBase{
		driver: d,
		logger: d.logger.With(log.String("node", name)),
	}
}

func (n *nodeBase) Children() []Node {
	return n.children
}

// AddChild appends a child node; children are gathered after the parent's own lists.
func (n *nodeBase) AddChild(child Node) {
	n.children = append(n.children, child)
}

func (n *nodeBase) RemoveChild(child Node) bool {
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return true
		}
	}
	return false
}

func (n *nodeBase) RequiresPrepare() bool { return false }

func (n *nodeBase) PrepareForReplication() {}

func (n *nodeBase) gatherChildren(params *GatherParams) {
	for _, child := range n.children {
		child.GatherActorListsForConnection(params)
	}
}

func (n *nodeBase) NotifyConnectionRemoved(conn *ConnectionManager) {
	for _, child := range n.children {
		child.NotifyConnectionRemoved(conn)
	}
}

func (n *nodeBase) warnNotFound(actor *models.Actor, warn bool) {
	if warn {
		n.logger.Warn("actor not found on remove", log.String("actor", actor.String()))
	}
}
