package actorlist

import "github.com/zeusync/repgraph/internal/core/models"

// ListType partitions gathered actors by the replication path that consumes them.
type ListType uint8

const (
	ListDefault ListType = iota
	ListFastShared
	numListTypes
)

// GatheredLists collects views of node lists for one connection and one tick.
// Views alias node storage; they are only valid until the graph is mutated.
type GatheredLists struct {
	lists [numListTypes][][]*models.Actor
	// owned backs single-actor additions so they do not allocate per tick.
	owned [numListTypes][]*models.Actor
}

func NewGatheredLists() *GatheredLists {
	return &GatheredLists{}
}

// Add appends a view; empty views are dropped.
func (g *GatheredLists) Add(view []*models.Actor, listType ListType) {
	if len(view) == 0 {
		return
	}
	g.lists[listType] = append(g.lists[listType], view)
}

// AddActor gathers a single actor without a backing node list.
func (g *GatheredLists) AddActor(actor *models.Actor, listType ListType) {
	g.owned[listType] = append(g.owned[listType], actor)
}

// Lists returns every view of listType, single-actor additions last.
func (g *GatheredLists) Lists(listType ListType) [][]*models.Actor {
	if len(g.owned[listType]) == 0 {
		return g.lists[listType]
	}
	return append(g.lists[listType], g.owned[listType])
}

func (g *GatheredLists) Num(listType ListType) int {
	n := len(g.owned[listType])
	for _, view := range g.lists[listType] {
		n += len(view)
	}
	return n
}

func (g *GatheredLists) Contains(actor *models.Actor, listType ListType) bool {
	for _, view := range g.Lists(listType) {
		for _, a := range view {
			if a == actor {
				return true
			}
		}
	}
	return false
}

// ContainsAny checks every list type.
func (g *GatheredLists) ContainsAny(actor *models.Actor) bool {
	for t := ListType(0); t < numListTypes; t++ {
		if g.Contains(actor, t) {
			return true
		}
	}
	return false
}

// Reset drops every view but keeps the backing arrays for the next tick.
func (g *GatheredLists) Reset() {
	for t := range g.lists {
		clear(g.lists[t])
		g.lists[t] = g.lists[t][:0]
		clear(g.owned[t])
		g.owned[t] = g.owned[t][:0]
	}
}
