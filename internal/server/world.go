package server

import (
	"encoding/json"

	"github.com/zeusync/repgraph/internal/core/models"
)

var _ models.World = (*World)(nil)

// World is the in-memory actor registry of the server. Only the tick
// goroutine touches it.
type World struct {
	nextID  models.ActorID
	byID    map[models.ActorID]*models.Actor
	byClass map[models.ClassTag][]*models.Actor
}

func NewWorld() *World {
	return &World{
		byID:    make(map[models.ActorID]*models.Actor),
		byClass: make(map[models.ClassTag][]*models.Actor),
	}
}

// Spawn creates an actor of class at location. Ids start at 1.
func (w *World) Spawn(class models.ClassTag, location models.Vector) *models.Actor {
	w.nextID++
	actor := &models.Actor{
		ID:       w.nextID,
		Class:    class,
		Location: location,
		Forward:  models.Vector{X: 1},
	}
	w.byID[actor.ID] = actor
	w.byClass[class] = append(w.byClass[class], actor)
	return actor
}

// Destroy marks the actor as being destroyed and forgets it.
func (w *World) Destroy(actor *models.Actor) bool {
	if _, ok := w.byID[actor.ID]; !ok {
		return false
	}
	actor.BeingDestroyed = true
	delete(w.byID, actor.ID)

	list := w.byClass[actor.Class]
	for i, a := range list {
		if a == actor {
			last := len(list) - 1
			list[i] = list[last]
			list[last] = nil
			w.byClass[actor.Class] = list[:last]
			break
		}
	}
	return true
}

func (w *World) Find(id models.ActorID) (*models.Actor, bool) {
	actor, ok := w.byID[id]
	return actor, ok
}

func (w *World) ActorsOfType(tag models.ClassTag) []*models.Actor {
	return w.byClass[tag]
}

func (w *World) Len() int {
	return len(w.byID)
}

type sharedState struct {
	ID models.ActorID `json:"id"`
	X  float64        `json:"x"`
	Y  float64        `json:"y"`
	Z  float64        `json:"z,omitempty"`
}

// SharedPayload is the position-only payload of the fast shared path.
func (w *World) SharedPayload(actor *models.Actor) ([]byte, bool) {
	b, err := json.Marshal(sharedState{ID: actor.ID, X: actor.Location.X, Y: actor.Location.Y, Z: actor.Location.Z})
	if err != nil {
		return nil, false
	}
	return b, true
}
