package info

import (
	"fmt"
	"sync"

	"github.com/zeusync/repgraph/internal/core/models"
)

// Route says which graph node AddNetworkActor places an actor of a class into.
type Route uint8

const (
	RouteNone Route = iota
	RouteGridDynamic
	RouteGridStatic
	RouteGridDormancy
	RouteAlwaysRelevant
	RouteFrequencyBuckets
	RouteDynamicFrequency
)

var routeNames = map[Route]string{
	RouteNone:             "none",
	RouteGridDynamic:      "grid_dynamic",
	RouteGridStatic:       "grid_static",
	RouteGridDormancy:     "grid_dormancy",
	RouteAlwaysRelevant:   "always_relevant",
	RouteFrequencyBuckets: "frequency_buckets",
	RouteDynamicFrequency: "dynamic_frequency",
}

func (r Route) String() string {
	if name, ok := routeNames[r]; ok {
		return name
	}
	return fmt.Sprintf("route(%d)", uint8(r))
}

// ParseRoute is the inverse of Route.String.
func ParseRoute(s string) (Route, error) {
	for route, name := range routeNames {
		if name == s {
			return route, nil
		}
	}
	return RouteNone, fmt.Errorf("unknown route %q", s)
}

// FastSharedFunc builds the broadcast payload for the fast shared path. It
// returns false when the actor has nothing to send this frame.
type FastSharedFunc func(actor *models.Actor) ([]byte, bool)

// ClassSettings is the replication policy of one actor type.
type ClassSettings struct {
	ReplicationPeriodFrame         uint32
	FastPathReplicationPeriodFrame uint32
	CullDistanceSquared            float64
	DistancePriorityScale          float64
	StarvationPriorityScale        float64
	// ActorChannelFrameTimeout is how many frames past its replication period a
	// gathered-then-forgotten actor keeps its channel. Zero never times out.
	ActorChannelFrameTimeout uint32

	FastShared FastSharedFunc
	Route      Route
}

// DefaultClassSettings mirrors the engine defaults for a plain dynamic actor.
func DefaultClassSettings() ClassSettings {
	return ClassSettings{
		ReplicationPeriodFrame:         1,
		FastPathReplicationPeriodFrame: 1,
		CullDistanceSquared:            15000 * 15000,
		DistancePriorityScale:          1,
		StarvationPriorityScale:        1,
		ActorChannelFrameTimeout:       4,
		Route:                          RouteGridDynamic,
	}
}

// SetCullDistance stores the distance squared.
func (s *ClassSettings) SetCullDistance(distance float64) {
	s.CullDistanceSquared = distance * distance
}

// ClassSettingsTable holds the per-type policy registered at startup.
type ClassSettingsTable struct {
	mu       sync.RWMutex
	settings map[models.ClassTag]ClassSettings
}

func NewClassSettingsTable() *ClassSettingsTable {
	return &ClassSettingsTable{
		settings: make(map[models.ClassTag]ClassSettings),
	}
}

// Register stores settings for tag and reports whether a previous entry was replaced.
func (t *ClassSettingsTable) Register(tag models.ClassTag, settings ClassSettings) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if settings.ReplicationPeriodFrame == 0 {
		settings.ReplicationPeriodFrame = 1
	}
	if settings.FastPathReplicationPeriodFrame == 0 {
		settings.FastPathReplicationPeriodFrame = 1
	}
	_, replaced := t.settings[tag]
	t.settings[tag] = settings
	return replaced
}

func (t *ClassSettingsTable) Find(tag models.ClassTag) (ClassSettings, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.settings[tag]
	return s, ok
}

// Get returns the settings of tag and panics when the tag was never
// registered: that is a startup ordering bug, not a runtime condition.
func (t *ClassSettingsTable) Get(tag models.ClassTag) ClassSettings {
	s, ok := t.Find(tag)
	if !ok {
		panic(fmt.Sprintf("replication: class %q has no registered settings", tag))
	}
	return s
}

func (t *ClassSettingsTable) Tags() []models.ClassTag {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tags := make([]models.ClassTag, 0, len(t.settings))
	for tag := range t.settings {
		tags = append(tags, tag)
	}
	return tags
}
