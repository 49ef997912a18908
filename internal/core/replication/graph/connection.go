package graph

import (
	"github.com/zeusync/repgraph/internal/core/models"
	"github.com/zeusync/repgraph/internal/core/replication/actorlist"
	"github.com/zeusync/repgraph/internal/core/replication/info"
)

// ConnectionManager is the driver side of one client connection: its actor
// records, its own nodes and the scratch state reused every tick.
type ConnectionManager struct {
	Net          models.NetConnection
	ActorInfoMap *info.ConnectionActorInfoMap

	nodes          []Node
	alwaysRelevant *AlwaysRelevantForConnectionNode
	tearOff        *TearOffForConnectionNode
	dormancyNodes  []*ConnectionDormancyNode

	viewers  []Viewer
	gathered *actorlist.GatheredLists

	cellHistory      map[*GridSpatialization2DNode]*gridCellHistory
	lastTrickleFrame uint32
	stats            ConnectionTickStats
}

func newConnectionManager(d *Driver, net models.NetConnection) *ConnectionManager {
	conn := &ConnectionManager{
		Net:          net,
		ActorInfoMap: info.NewConnectionActorInfoMap(),
		gathered:     actorlist.NewGatheredLists(),
		cellHistory:  make(map[*GridSpatialization2DNode]*gridCellHistory),
	}
	conn.alwaysRelevant = NewAlwaysRelevantForConnectionNode(d, conn)
	conn.tearOff = NewTearOffForConnectionNode(d, conn)
	conn.nodes = append(conn.nodes, conn.alwaysRelevant, conn.tearOff)
	return conn
}

func (c *ConnectionManager) ID() models.ConnectionID {
	return c.Net.ID()
}

// AddConnectionNode appends a node gathered only for this connection.
func (c *ConnectionManager) AddConnectionNode(node Node) {
	c.nodes = append(c.nodes, node)
}

func (c *ConnectionManager) Nodes() []Node {
	return c.nodes
}

func (c *ConnectionManager) AlwaysRelevant() *AlwaysRelevantForConnectionNode {
	return c.alwaysRelevant
}

func (c *ConnectionManager) TearOff() *TearOffForConnectionNode {
	return c.tearOff
}

// Viewers returns the viewers built for the last tick.
func (c *ConnectionManager) Viewers() []Viewer {
	return c.viewers
}

// Gathered returns the lists gathered for the last tick. They alias node
// storage and are only meaningful until the graph changes.
func (c *ConnectionManager) Gathered() *actorlist.GatheredLists {
	return c.gathered
}

func (c *ConnectionManager) LastTickStats() ConnectionTickStats {
	return c.stats
}

// buildViewers derives the viewer from the owning actor and the view target.
// The view target falls back to the owning actor.
func (c *ConnectionManager) buildViewers() {
	clear(c.viewers)
	c.viewers = c.viewers[:0]

	owner := c.Net.OwningActor()
	target := c.Net.ViewTarget()
	if target == nil {
		target = owner
	}
	if target == nil {
		return
	}
	c.viewers = append(c.viewers, Viewer{
		Connection: c.Net,
		InViewer:   owner,
		ViewTarget: target,
		Location:   target.Location,
		Forward:    target.Forward,
	})
}

// wake puts actor back into the live list of every dormancy node of the connection.
func (c *ConnectionManager) wake(actor *models.Actor) {
	for _, cn := range c.dormancyNodes {
		cn.wake(actor)
	}
}

func (c *ConnectionManager) forgetDormancyNode(cn *ConnectionDormancyNode) {
	for i, node := range c.dormancyNodes {
		if node == cn {
			last := len(c.dormancyNodes) - 1
			c.dormancyNodes[i] = c.dormancyNodes[last]
			c.dormancyNodes[last] = nil
			c.dormancyNodes = c.dormancyNodes[:last]
			return
		}
	}
}
