package actorlist

import (
	"slices"

	"github.com/zeusync/repgraph/internal/core/models"
	"github.com/zeusync/repgraph/internal/core/replication/info"
)

// PrioritizedItem is one actor queued for replication. Lower Priority sorts first.
type PrioritizedItem struct {
	Priority   float64
	DistanceSq float64
	Actor      *models.Actor
	Global     *info.GlobalActorInfo
	Connection *info.ConnectionActorInfo
}

// PrioritizedList is rebuilt every tick for every connection and consumed once.
type PrioritizedList struct {
	items []PrioritizedItem
}

func NewPrioritizedList(capacity int) *PrioritizedList {
	return &PrioritizedList{items: make([]PrioritizedItem, 0, capacity)}
}

func (p *PrioritizedList) Push(item PrioritizedItem) {
	p.items = append(p.items, item)
}

// Sort orders by priority, then by distance so that of two equally scored
// actors the closer one goes first.
func (p *PrioritizedList) Sort() {
	slices.SortStableFunc(p.items, func(a, b PrioritizedItem) int {
		switch {
		case a.Priority < b.Priority:
			return -1
		case a.Priority > b.Priority:
			return 1
		case a.DistanceSq < b.DistanceSq:
			return -1
		case a.DistanceSq > b.DistanceSq:
			return 1
		default:
			return 0
		}
	})
}

func (p *PrioritizedList) Items() []PrioritizedItem {
	return p.items
}

func (p *PrioritizedList) Len() int {
	return len(p.items)
}

// Actors returns the actors in current order; tests and journaling use it.
func (p *PrioritizedList) Actors() []*models.Actor {
	out := make([]*models.Actor, len(p.items))
	for i := range p.items {
		out[i] = p.items[i].Actor
	}
	return out
}

func (p *PrioritizedList) Reset() {
	clear(p.items)
	p.items = p.items[:0]
}
