package graph

import (
	"github.com/zeusync/repgraph/internal/core/models"
	"github.com/zeusync/repgraph/internal/core/observability/log"
	"github.com/zeusync/repgraph/internal/core/replication/info"
)

type fakeWorld struct {
	byClass      map[models.ClassTag][]*models.Actor
	preReplicate map[*models.Actor]int
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		byClass:      make(map[models.ClassTag][]*models.Actor),
		preReplicate: make(map[*models.Actor]int),
	}
}

func (w *fakeWorld) ActorsOfType(tag models.ClassTag) []*models.Actor {
	return w.byClass[tag]
}

func (w *fakeWorld) PreReplication(actor *models.Actor) {
	w.preReplicate[actor]++
}

type fakeChannel struct {
	actor         *models.Actor
	bits          int64
	opened        int
	replicated    int
	closed        []models.CloseReason
	dormantCalls  int
	goDormant     bool
	sharedPayload [][]byte
}

func (c *fakeChannel) Open() { c.opened++ }

func (c *fakeChannel) Replicate() int64 {
	c.replicated++
	return c.bits
}

func (c *fakeChannel) Close(reason models.CloseReason) int64 {
	c.closed = append(c.closed, reason)
	return 0
}

func (c *fakeChannel) StartBecomingDormant() { c.dormantCalls++ }

func (c *fakeChannel) Dormant() bool { return c.goDormant && c.dormantCalls > 0 }

func (c *fakeChannel) SendSharedPayload(payload []byte) int64 {
	c.sharedPayload = append(c.sharedPayload, payload)
	return int64(len(payload) * 8)
}

type fakeConn struct {
	id       models.ConnectionID
	closed   bool
	owner    *models.Actor
	target   *models.Actor
	levels   map[string]bool
	bits     int64
	dormant  bool
	channels map[*models.Actor][]*fakeChannel
}

func newFakeConn(id string, owner *models.Actor) *fakeConn {
	return &fakeConn{
		id:       models.ConnectionID(id),
		owner:    owner,
		levels:   make(map[string]bool),
		bits:     8,
		channels: make(map[*models.Actor][]*fakeChannel),
	}
}

func (c *fakeConn) ID() models.ConnectionID      { return c.id }
func (c *fakeConn) IsClosed() bool               { return c.closed }
func (c *fakeConn) OwningActor() *models.Actor   { return c.owner }
func (c *fakeConn) ViewTarget() *models.Actor    { return c.target }
func (c *fakeConn) IsLevelVisible(l string) bool { return c.levels[l] }

func (c *fakeConn) CreateChannel(actor *models.Actor) models.Channel {
	ch := &fakeChannel{actor: actor, bits: c.bits, goDormant: c.dormant}
	c.channels[actor] = append(c.channels[actor], ch)
	return ch
}

// channel returns the latest channel opened for actor.
func (c *fakeConn) channel(actor *models.Actor) *fakeChannel {
	chs := c.channels[actor]
	if len(chs) == 0 {
		return nil
	}
	return chs[len(chs)-1]
}

func (c *fakeConn) replications(actor *models.Actor) int {
	n := 0
	for _, ch := range c.channels[actor] {
		n += ch.replicated
	}
	return n
}

var nextActorID models.ActorID

func newActor(class models.ClassTag, x, y float64) *models.Actor {
	nextActorID++
	return &models.Actor{
		ID:       nextActorID,
		Class:    class,
		Location: models.Vector{X: x, Y: y},
		Forward:  models.Vector{X: 1},
	}
}

func classSettings(route info.Route, cull float64) info.ClassSettings {
	s := info.DefaultClassSettings()
	s.Route = route
	s.SetCullDistance(cull)
	return s
}

// testConfig returns a config with a small grid at the origin and no budgets.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxBitsPerConnectionPerTick = 0
	cfg.Grid.CellSize = 10
	cfg.Grid.SpatialBiasX = 0
	cfg.Grid.SpatialBiasY = 0
	cfg.Dormancy.TrickleEnabled = false
	return cfg
}

func newTestDriver(cfg Config, world models.World, opts ...Option) *Driver {
	d := New(cfg, world, log.NewNop(), opts...)
	d.RegisterActorType("pawn", classSettings(info.RouteGridDynamic, 100))
	d.RegisterActorType("prop", classSettings(info.RouteGridStatic, 12))
	d.RegisterActorType("crate", classSettings(info.RouteGridDormancy, 50))
	d.RegisterActorType("flag", classSettings(info.RouteAlwaysRelevant, 0))
	d.RegisterActorType("bird", classSettings(info.RouteFrequencyBuckets, 0))
	d.RegisterActorType("bullet", classSettings(info.RouteDynamicFrequency, 100))
	return d
}
