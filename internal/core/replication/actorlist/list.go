package actorlist

import (
	"fmt"

	"github.com/zeusync/repgraph/internal/core/models"
)

// List is a flat, unordered list of actors. Removal swaps the last element into
// the hole, so positions are not stable across removals.
type List struct {
	actors []*models.Actor
}

func NewList(capacity int) *List {
	return &List{actors: make([]*models.Actor, 0, capacity)}
}

// Add appends actor. A duplicate add is a bug in the caller: debug builds
// panic, release builds ignore it so the list never holds an actor twice.
func (l *List) Add(actor *models.Actor) bool {
	if l.Contains(actor) {
		if debugChecks {
			panic(fmt.Sprintf("actorlist: duplicate add of %s", actor))
		}
		return false
	}
	l.actors = append(l.actors, actor)
	return true
}

// Remove swap-removes actor and reports whether it was present.
func (l *List) Remove(actor *models.Actor) bool {
	for i, a := range l.actors {
		if a == actor {
			l.RemoveAt(i)
			return true
		}
	}
	return false
}

// RemoveAt swap-removes the element at idx.
func (l *List) RemoveAt(idx int) *models.Actor {
	actor := l.actors[idx]
	last := len(l.actors) - 1
	l.actors[idx] = l.actors[last]
	l.actors[last] = nil
	l.actors = l.actors[:last]
	return actor
}

func (l *List) Contains(actor *models.Actor) bool {
	for _, a := range l.actors {
		if a == actor {
			return true
		}
	}
	return false
}

func (l *List) At(idx int) *models.Actor {
	return l.actors[idx]
}

func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.actors)
}

// View exposes the backing slice. It is valid until the next mutation.
func (l *List) View() []*models.Actor {
	if l == nil {
		return nil
	}
	return l.actors
}

// Reset empties the list but keeps its storage.
func (l *List) Reset() {
	clear(l.actors)
	l.actors = l.actors[:0]
}

// CopyFrom replaces the contents with other's.
func (l *List) CopyFrom(other *List) {
	l.Reset()
	l.actors = append(l.actors, other.actors...)
}

// AppendView appends the actors of view without duplicate checks.
func (l *List) AppendView(view []*models.Actor) {
	l.actors = append(l.actors, view...)
}
