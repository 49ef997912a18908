package graph

import (
	"github.com/zeusync/repgraph/internal/core/models"
)

// cellCoord addresses a grid cell; x and y are never negative.
type cellCoord struct {
	X, Y int
}

// cellRect is an inclusive range of cells.
type cellRect struct {
	StartX, StartY, EndX, EndY int
}

func (r cellRect) contains(c cellCoord) bool {
	return c.X >= r.StartX && c.X <= r.EndX && c.Y >= r.StartY && c.Y <= r.EndY
}

func (r cellRect) overlaps(o cellRect) bool {
	return r.StartX <= o.EndX && o.StartX <= r.EndX && r.StartY <= o.EndY && o.StartY <= r.EndY
}

func (r cellRect) forEach(fn func(x, y int)) {
	for x := r.StartX; x <= r.EndX; x++ {
		for y := r.StartY; y <= r.EndY; y++ {
			fn(x, y)
		}
	}
}

// forEachNotIn visits the cells of r outside o, one dropped column or row
// strip at a time, without walking the overlap.
func (r cellRect) forEachNotIn(o cellRect, fn func(x, y int)) {
	for x := r.StartX; x <= r.EndX; x++ {
		if x < o.StartX || x > o.EndX {
			for y := r.StartY; y <= r.EndY; y++ {
				fn(x, y)
			}
			continue
		}
		for y := r.StartY; y <= r.EndY; y++ {
			if y < o.StartY || y > o.EndY {
				fn(x, y)
			}
		}
	}
}

var _ Node = (*GridCellNode)(nil)

// GridCellNode is one cell of the spatial grid. Static actors that never go
// dormant live in the cell's own list, dynamic actors in a frequency bucket
// child and dormant static actors in a dormancy child. Children are created
// on first use.
type GridCellNode struct {
	ActorListNode
	coord    cellCoord
	buckets  FrequencyBucketSettings
	dynamic  *FrequencyBucketsNode
	dormancy *DormancyNode
}

func newGridCellNode(d *Driver, coord cellCoord, buckets FrequencyBucketSettings) *GridCellNode {
	return &GridCellNode{
		ActorListNode: *newActorListNode(d, "grid_cell"),
		coord:         coord,
		buckets:       buckets,
	}
}

func (n *GridCellNode) dynamicNode() *FrequencyBucketsNode {
	if n.dynamic == nil {
		n.dynamic = NewFrequencyBucketsNode(n.driver, n.buckets)
		n.AddChild(n.dynamic)
	}
	return n.dynamic
}

func (n *GridCellNode) dormancyNode() *DormancyNode {
	if n.dormancy == nil {
		n.dormancy = NewDormancyNode(n.driver)
		n.AddChild(n.dormancy)
	}
	return n.dormancy
}

// AddStaticActor places actor in the dormancy child when it wants to be
// dormant and in the cell list otherwise.
func (n *GridCellNode) AddStaticActor(actor *models.Actor, dormant bool) {
	if dormant {
		n.dormancyNode().NotifyAddNetworkActor(actor)
		return
	}
	n.ActorListNode.NotifyAddNetworkActor(actor)
}

func (n *GridCellNode) RemoveStaticActor(actor *models.Actor, dormant bool) bool {
	if dormant {
		return n.dormancy != nil && n.dormancy.NotifyRemoveNetworkActor(actor, false)
	}
	return n.ActorListNode.NotifyRemoveNetworkActor(actor, false)
}

func (n *GridCellNode) AddDynamicActor(actor *models.Actor) {
	n.dynamicNode().NotifyAddNetworkActor(actor)
}

func (n *GridCellNode) RemoveDynamicActor(actor *models.Actor) bool {
	return n.dynamic != nil && n.dynamic.NotifyRemoveNetworkActor(actor, false)
}

// Contains reports whether actor is held anywhere in the cell.
func (n *GridCellNode) Contains(actor *models.Actor) bool {
	if n.ActorListNode.Contains(actor) {
		return true
	}
	if n.dynamic != nil && n.dynamic.Contains(actor) {
		return true
	}
	return n.dormancy != nil && n.dormancy.Contains(actor)
}

// ContainsDynamic reports whether actor is held in the dynamic child.
func (n *GridCellNode) ContainsDynamic(actor *models.Actor) bool {
	return n.dynamic != nil && n.dynamic.Contains(actor)
}

func (n *GridCellNode) Dormancy() *DormancyNode {
	return n.dormancy
}

func (n *GridCellNode) tearDown() {
	if n.dormancy != nil {
		n.dormancy.tearDown()
	}
}
