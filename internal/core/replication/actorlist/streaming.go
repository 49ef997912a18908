package actorlist

import (
	"sort"

	"github.com/zeusync/repgraph/internal/core/models"
)

// StreamingLevelCollection keeps actors that live in streaming levels apart
// from the persistent list, so they are only gathered for connections that
// have the level visible.
type StreamingLevelCollection struct {
	levels map[string]*List
	// order keeps gather deterministic.
	order []string
}

func NewStreamingLevelCollection() *StreamingLevelCollection {
	return &StreamingLevelCollection{levels: make(map[string]*List)}
}

func (c *StreamingLevelCollection) Add(actor *models.Actor) bool {
	list, ok := c.levels[actor.Level]
	if !ok {
		list = NewList(8)
		c.levels[actor.Level] = list
		idx := sort.SearchStrings(c.order, actor.Level)
		c.order = append(c.order, "")
		copy(c.order[idx+1:], c.order[idx:])
		c.order[idx] = actor.Level
	}
	return list.Add(actor)
}

// Remove looks in the actor's level first and falls back to every level, so an
// actor whose Level changed after it was added can still be found.
func (c *StreamingLevelCollection) Remove(actor *models.Actor) bool {
	if list, ok := c.levels[actor.Level]; ok && list.Remove(actor) {
		return true
	}
	for _, name := range c.order {
		if c.levels[name].Remove(actor) {
			return true
		}
	}
	return false
}

func (c *StreamingLevelCollection) Contains(actor *models.Actor) bool {
	for _, list := range c.levels {
		if list.Contains(actor) {
			return true
		}
	}
	return false
}

func (c *StreamingLevelCollection) Len() int {
	n := 0
	for _, list := range c.levels {
		n += list.Len()
	}
	return n
}

func (c *StreamingLevelCollection) Reset() {
	for _, list := range c.levels {
		list.Reset()
	}
}

// Gather adds the list of every level visible to the connection.
func (c *StreamingLevelCollection) Gather(visible func(level string) bool, out *GatheredLists, listType ListType) {
	for _, name := range c.order {
		list := c.levels[name]
		if list.Len() == 0 || !visible(name) {
			continue
		}
		out.Add(list.View(), listType)
	}
}

// ForEach visits every actor in level order.
func (c *StreamingLevelCollection) ForEach(fn func(actor *models.Actor)) {
	for _, name := range c.order {
		for _, actor := range c.levels[name].View() {
			fn(actor)
		}
	}
}

// ForEachList visits every level list in level order. fn may mutate the list.
func (c *StreamingLevelCollection) ForEachList(fn func(level string, list *List)) {
	for _, name := range c.order {
		fn(name, c.levels[name])
	}
}

// CopyFrom deep copies other into c.
func (c *StreamingLevelCollection) CopyFrom(other *StreamingLevelCollection) {
	c.Reset()
	for _, name := range other.order {
		for _, actor := range other.levels[name].View() {
			c.Add(actor)
		}
	}
}
