package info

import (
	"github.com/zeusync/repgraph/internal/core/models"
)

// FastSharedCache holds the payload built for the fast shared path. It is
// rebuilt at most once per frame and reused for every connection.
type FastSharedCache struct {
	LastAttemptBuildFrame uint32
	LastBuiltFrame        uint32
	Payload               []byte
}

// GlobalActorInfo is the connection independent replication state of an actor.
type GlobalActorInfo struct {
	Settings            ClassSettings
	CullDistanceSquared float64

	WorldLocation Vector
	LocationFrame uint32

	LastPreReplicationFrame uint32
	ForceNetUpdateFrame     uint32
	WantsToBeDormant        bool
	// AlwaysRelevant actors are never distance culled.
	AlwaysRelevant bool

	Events          Events
	DependentActors []*models.Actor
	parents         []*models.Actor

	FastShared FastSharedCache
}

// Vector is re-exported so callers of this package rarely need models.
type Vector = models.Vector

// RefreshLocation caches the actor position once per frame.
func (g *GlobalActorInfo) RefreshLocation(actor *models.Actor, frame uint32) {
	if g.LocationFrame == frame && frame != 0 {
		return
	}
	g.WorldLocation = actor.Location
	g.LocationFrame = frame
}

// SetWantsToBeDormant updates the flag and notifies change subscribers when it flips.
func (g *GlobalActorInfo) SetWantsToBeDormant(actor *models.Actor, wants bool) bool {
	if g.WantsToBeDormant == wants {
		return false
	}
	g.WantsToBeDormant = wants
	g.Events.fireChange(actor, g, wants)
	return true
}

// FireDormancyFlush runs and clears every queued flush handler.
func (g *GlobalActorInfo) FireDormancyFlush(actor *models.Actor) {
	g.Events.fireFlush(actor, g)
}

func (g *GlobalActorInfo) Parents() []*models.Actor {
	return g.parents
}

func (g *GlobalActorInfo) HasDependent(actor *models.Actor) bool {
	for _, dep := range g.DependentActors {
		if dep == actor {
			return true
		}
	}
	return false
}

func removeActor(list []*models.Actor, actor *models.Actor) ([]*models.Actor, bool) {
	for i, a := range list {
		if a == actor {
			last := len(list) - 1
			list[i] = list[last]
			list[last] = nil
			return list[:last], true
		}
	}
	return list, false
}

// GlobalActorInfoMap owns one GlobalActorInfo per live actor.
type GlobalActorInfoMap struct {
	classes *ClassSettingsTable
	infos   map[*models.Actor]*GlobalActorInfo
}

func NewGlobalActorInfoMap(classes *ClassSettingsTable) *GlobalActorInfoMap {
	return &GlobalActorInfoMap{
		classes: classes,
		infos:   make(map[*models.Actor]*GlobalActorInfo),
	}
}

// Get returns the record for actor, creating it from the class settings on
// first access. It panics when the actor's class was never registered.
func (m *GlobalActorInfoMap) Get(actor *models.Actor) *GlobalActorInfo {
	if gi, ok := m.infos[actor]; ok {
		return gi
	}
	settings := m.classes.Get(actor.Class)
	gi := &GlobalActorInfo{
		Settings:            settings,
		CullDistanceSquared: settings.CullDistanceSquared,
		WorldLocation:       actor.Location,
		WantsToBeDormant:    actor.Dormancy.WantsDormant(),
	}
	if actor.CullDistanceSquared > 0 {
		gi.CullDistanceSquared = actor.CullDistanceSquared
	}
	m.infos[actor] = gi
	return gi
}

func (m *GlobalActorInfoMap) Find(actor *models.Actor) (*GlobalActorInfo, bool) {
	gi, ok := m.infos[actor]
	return gi, ok
}

// Remove drops the record and unlinks it from every dependency relation.
func (m *GlobalActorInfoMap) Remove(actor *models.Actor) bool {
	gi, ok := m.infos[actor]
	if !ok {
		return false
	}
	for _, parent := range gi.parents {
		if pgi, ok := m.infos[parent]; ok {
			pgi.DependentActors, _ = removeActor(pgi.DependentActors, actor)
		}
	}
	for _, child := range gi.DependentActors {
		if cgi, ok := m.infos[child]; ok {
			cgi.parents, _ = removeActor(cgi.parents, actor)
		}
	}
	delete(m.infos, actor)
	return true
}

func (m *GlobalActorInfoMap) Len() int {
	return len(m.infos)
}

// AddDependentActor makes child replicate alongside parent.
func (m *GlobalActorInfoMap) AddDependentActor(parent, child *models.Actor) bool {
	if parent == child {
		return false
	}
	pgi := m.Get(parent)
	if pgi.HasDependent(child) {
		return false
	}
	cgi := m.Get(child)
	pgi.DependentActors = append(pgi.DependentActors, child)
	cgi.parents = append(cgi.parents, parent)
	return true
}

func (m *GlobalActorInfoMap) RemoveDependentActor(parent, child *models.Actor) bool {
	pgi, ok := m.infos[parent]
	if !ok {
		return false
	}
	var removed bool
	pgi.DependentActors, removed = removeActor(pgi.DependentActors, child)
	if cgi, ok := m.infos[child]; ok {
		cgi.parents, _ = removeActor(cgi.parents, parent)
	}
	return removed
}
