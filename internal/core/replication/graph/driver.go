package graph

import (
	"fmt"
	"time"

	"github.com/zeusync/repgraph/internal/core/models"
	"github.com/zeusync/repgraph/internal/core/observability/log"
	"github.com/zeusync/repgraph/internal/core/replication/actorlist"
	"github.com/zeusync/repgraph/internal/core/replication/info"
	"github.com/zeusync/repgraph/pkg/generic"
)

// Option customises a Driver.
type Option func(*Driver)

// WithTickObserver registers an observer called after every tick.
func WithTickObserver(o TickObserver) Option {
	return func(d *Driver) {
		d.observers = append(d.observers, o)
	}
}

// WithClassSettings shares an existing class table instead of creating one.
func WithClassSettings(table *info.ClassSettingsTable) Option {
	return func(d *Driver) {
		d.classes = table
	}
}

// placement records where AddNetworkActor put an actor.
type placement struct {
	route          info.Route
	alwaysRelevant bool
	ownerOnly      bool
	owner          *ConnectionManager
}

// Driver owns the replication graph and runs it once per Tick. It is not safe
// for concurrent use; every call must come from the tick goroutine.
type Driver struct {
	cfg    Config
	world  models.World
	logger log.Log

	classes    *info.ClassSettingsTable
	globalInfo *info.GlobalActorInfoMap
	frameNum   uint32

	grid             *GridSpatialization2DNode
	alwaysRelevant   *AlwaysRelevantNode
	buckets          *FrequencyBucketsNode
	dynamicFrequency *DynamicSpatialFrequencyNode
	globalNodes      []Node
	customNodes      []Node

	connections []*ConnectionManager
	byID        map[models.ConnectionID]*ConnectionManager

	placements   map[*models.Actor]*placement
	pendingOwner []*models.Actor

	prioritized *generic.Pool[*actorlist.PrioritizedList]
	observers   []TickObserver
	lastStats   TickStats
}

func New(cfg Config, world models.World, logger log.Log, opts ...Option) *Driver {
	if logger == nil {
		logger = log.NewNop()
	}
	d := &Driver{
		cfg:        cfg,
		world:      world,
		logger:     logger.With(log.String("component", "replication_graph")),
		byID:       make(map[models.ConnectionID]*ConnectionManager),
		placements: make(map[*models.Actor]*placement),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.classes == nil {
		d.classes = info.NewClassSettingsTable()
	}
	d.globalInfo = info.NewGlobalActorInfoMap(d.classes)
	d.prioritized = generic.NewHotPool(
		func() *actorlist.PrioritizedList { return actorlist.NewPrioritizedList(64) },
		func(l *actorlist.PrioritizedList) { l.Reset() },
		4,
	)

	d.grid = NewGridSpatialization2DNode(d, cfg.Grid)
	d.alwaysRelevant = NewAlwaysRelevantNode(d)
	for _, tag := range cfg.AlwaysRelevantClasses {
		d.alwaysRelevant.AddAlwaysRelevantClass(tag)
	}
	d.buckets = NewFrequencyBucketsNode(d, cfg.Buckets)
	d.dynamicFrequency = NewDynamicSpatialFrequencyNode(d, cfg.DynamicFrequency)
	d.globalNodes = []Node{d.grid, d.alwaysRelevant, d.buckets, d.dynamicFrequency}
	return d
}

func (d *Driver) Config() Config { return d.cfg }

// FrameNum is the frame of the last tick; zero before the first tick.
func (d *Driver) FrameNum() uint32 { return d.frameNum }

func (d *Driver) LastTickStats() TickStats { return d.lastStats }

func (d *Driver) Classes() *info.ClassSettingsTable { return d.classes }

func (d *Driver) GlobalInfo() *info.GlobalActorInfoMap { return d.globalInfo }

func (d *Driver) Grid() *GridSpatialization2DNode { return d.grid }

func (d *Driver) AlwaysRelevant() *AlwaysRelevantNode { return d.alwaysRelevant }

func (d *Driver) FrequencyBuckets() *FrequencyBucketsNode { return d.buckets }

func (d *Driver) DynamicFrequency() *DynamicSpatialFrequencyNode { return d.dynamicFrequency }

// RegisterActorType sets the replication policy of a class. Registering a
// class twice replaces its settings for actors added afterwards.
func (d *Driver) RegisterActorType(tag models.ClassTag, settings info.ClassSettings) {
	if d.classes.Register(tag, settings) {
		d.logger.Warn("class settings replaced", log.String("class", string(tag)))
	}
}

// AddAlwaysRelevantClass makes every live instance of tag relevant to all connections.
func (d *Driver) AddAlwaysRelevantClass(tag models.ClassTag) {
	d.alwaysRelevant.AddAlwaysRelevantClass(tag)
}

// AddGlobalNode appends a node gathered for every connection. Actors are not
// routed to it; the caller adds them directly.
func (d *Driver) AddGlobalNode(node Node) {
	d.globalNodes = append(d.globalNodes, node)
	d.customNodes = append(d.customNodes, node)
}

// AddNetworkActor registers actor and places it in the graph according to its
// flags and its class route. It panics when the class was never registered.
func (d *Driver) AddNetworkActor(actor *models.Actor) error {
	if !models.IsValidActor(actor) {
		d.logger.Warn("rejecting invalid actor", log.String("actor", actor.String()))
		return ErrInvalidActor
	}
	if _, ok := d.placements[actor]; ok {
		return fmt.Errorf("%w: %s", ErrActorAlreadyAdded, actor)
	}
	settings := d.classes.Get(actor.Class)
	gi := d.globalInfo.Get(actor)
	gi.RefreshLocation(actor, d.frameNum)

	p := &placement{route: settings.Route}
	d.placements[actor] = p
	gi.AlwaysRelevant = actor.OnlyRelevantToOwner || actor.AlwaysRelevant || settings.Route == info.RouteAlwaysRelevant

	switch {
	case actor.OnlyRelevantToOwner:
		p.ownerOnly = true
		d.placeOwnerOnly(actor, p)
	case actor.AlwaysRelevant:
		p.alwaysRelevant = true
		d.alwaysRelevant.NotifyAddNetworkActor(actor)
	default:
		d.route(actor, settings.Route)
	}

	d.logger.Debug("actor added",
		log.String("actor", actor.String()),
		log.String("route", settings.Route.String()),
	)
	return nil
}

func (d *Driver) route(actor *models.Actor, route info.Route) {
	switch route {
	case info.RouteGridDynamic:
		d.grid.AddActorDynamic(actor)
	case info.RouteGridStatic:
		d.grid.AddActorStatic(actor)
	case info.RouteGridDormancy:
		d.grid.AddActorDormancy(actor)
	case info.RouteAlwaysRelevant:
		d.alwaysRelevant.NotifyAddNetworkActor(actor)
	case info.RouteFrequencyBuckets:
		d.buckets.NotifyAddNetworkActor(actor)
	case info.RouteDynamicFrequency:
		d.dynamicFrequency.NotifyAddNetworkActor(actor)
	case info.RouteNone:
	}
}

func (d *Driver) unroute(actor *models.Actor, route info.Route) {
	switch route {
	case info.RouteGridDynamic, info.RouteGridStatic, info.RouteGridDormancy:
		d.grid.NotifyRemoveNetworkActor(actor, true)
	case info.RouteAlwaysRelevant:
		d.alwaysRelevant.NotifyRemoveNetworkActor(actor, true)
	case info.RouteFrequencyBuckets:
		d.buckets.NotifyRemoveNetworkActor(actor, true)
	case info.RouteDynamicFrequency:
		d.dynamicFrequency.NotifyRemoveNetworkActor(actor, true)
	case info.RouteNone:
	}
}

// placeOwnerOnly puts the actor in its owner's connection node, or parks it
// until the owner connection is added.
func (d *Driver) placeOwnerOnly(actor *models.Actor, p *placement) {
	conn := d.connectionFor(actor.Owner)
	if conn == nil {
		d.pendingOwner = append(d.pendingOwner, actor)
		return
	}
	p.owner = conn
	conn.alwaysRelevant.NotifyAddNetworkActor(actor)
}

func (d *Driver) connectionFor(net models.NetConnection) *ConnectionManager {
	if net == nil {
		return nil
	}
	conn, ok := d.byID[net.ID()]
	if !ok || conn.Net != net {
		return nil
	}
	return conn
}

func (d *Driver) dropPending(actor *models.Actor) {
	for i, a := range d.pendingOwner {
		if a == actor {
			d.pendingOwner = append(d.pendingOwner[:i], d.pendingOwner[i+1:]...)
			return
		}
	}
}

// RemoveNetworkActor unlinks actor from every node and map. Open channels are
// closed as destroyed.
func (d *Driver) RemoveNetworkActor(actor *models.Actor) bool {
	if actor == nil {
		return false
	}
	p, ok := d.placements[actor]
	if !ok {
		d.logger.Warn("removing unknown actor", log.String("actor", actor.String()))
		return false
	}
	delete(d.placements, actor)

	switch {
	case p.ownerOnly && p.owner != nil:
		p.owner.alwaysRelevant.NotifyRemoveNetworkActor(actor, true)
	case p.ownerOnly:
		d.dropPending(actor)
	case p.alwaysRelevant:
		d.alwaysRelevant.NotifyRemoveNetworkActor(actor, true)
	default:
		d.unroute(actor, p.route)
	}
	for _, node := range d.customNodes {
		node.NotifyRemoveNetworkActor(actor, false)
	}

	for _, conn := range d.connections {
		conn.tearOff.NotifyRemoveNetworkActor(actor, false)
		conn.alwaysRelevant.NotifyRemoveNetworkActor(actor, false)
		for _, cn := range conn.dormancyNodes {
			cn.NotifyRemoveNetworkActor(actor, false)
		}
		if ci, ok := conn.ActorInfoMap.Remove(actor); ok && ci.Channel != nil {
			ci.Channel.Close(models.CloseDestroyed)
			ci.Channel = nil
		}
	}
	d.globalInfo.Remove(actor)

	d.logger.Debug("actor removed", log.String("actor", actor.String()))
	return true
}

// AddConnection registers a client connection. Connections are processed in
// the order they were added.
func (d *Driver) AddConnection(net models.NetConnection) (*ConnectionManager, error) {
	if net == nil {
		return nil, ErrNilConnection
	}
	if _, ok := d.byID[net.ID()]; ok {
		return nil, fmt.Errorf("%w: %s", ErrConnectionExists, net.ID())
	}
	conn := newConnectionManager(d, net)
	d.connections = append(d.connections, conn)
	d.byID[net.ID()] = conn

	kept := d.pendingOwner[:0]
	for _, actor := range d.pendingOwner {
		if actor.Owner == net {
			d.placements[actor].owner = conn
			conn.alwaysRelevant.NotifyAddNetworkActor(actor)
			continue
		}
		kept = append(kept, actor)
	}
	clear(d.pendingOwner[len(kept):])
	d.pendingOwner = kept

	d.logger.Info("connection added",
		log.String("connection", string(net.ID())),
		log.Int("connections", len(d.connections)),
	)
	return conn, nil
}

// Connection returns the manager registered under id.
func (d *Driver) Connection(id models.ConnectionID) (*ConnectionManager, bool) {
	conn, ok := d.byID[id]
	return conn, ok
}

func (d *Driver) Connections() []*ConnectionManager {
	return d.connections
}

// RemoveConnection drops the connection and every per connection structure.
// Channels are closed unless the transport is already closed.
func (d *Driver) RemoveConnection(id models.ConnectionID) error {
	conn, ok := d.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	for i, c := range d.connections {
		if c == conn {
			d.connections = append(d.connections[:i], d.connections[i+1:]...)
			break
		}
	}
	delete(d.byID, id)

	for _, node := range d.globalNodes {
		node.NotifyConnectionRemoved(conn)
	}
	for _, node := range conn.nodes {
		node.NotifyConnectionRemoved(conn)
	}

	closed := conn.Net.IsClosed()
	conn.ActorInfoMap.Range(func(actor *models.Actor, ci *info.ConnectionActorInfo) bool {
		if ci.Channel != nil && !closed {
			ci.Channel.Close(models.CloseNormal)
		}
		ci.Channel = nil
		return true
	})

	conn.alwaysRelevant.ForEachActor(func(actor *models.Actor) {
		if p, ok := d.placements[actor]; ok && p.ownerOnly {
			p.owner = nil
			d.pendingOwner = append(d.pendingOwner, actor)
		}
	})

	d.logger.Info("connection removed",
		log.String("connection", string(id)),
		log.Int("connections", len(d.connections)),
	)
	return nil
}

// SetWantsDormant changes whether actor should go dormant. Waking an actor
// also flushes it so every connection replicates it again.
func (d *Driver) SetWantsDormant(actor *models.Actor, wants bool) {
	if !models.IsValidActor(actor) {
		return
	}
	if wants {
		if !actor.Dormancy.WantsDormant() {
			actor.Dormancy = models.DormancyDormantAll
		}
	} else if actor.Dormancy != models.DormancyNever {
		actor.Dormancy = models.DormancyAwake
	}
	gi := d.globalInfo.Get(actor)
	if gi.SetWantsToBeDormant(actor, wants) && !wants {
		d.FlushDormancy(actor)
	}
}

// FlushDormancy wakes actor on every connection and forces one replication.
// If it still wants to be dormant it goes dormant again afterwards.
func (d *Driver) FlushDormancy(actor *models.Actor) {
	gi, ok := d.globalInfo.Find(actor)
	if !ok {
		return
	}
	gi.ForceNetUpdateFrame = d.frameNum + 1
	for _, conn := range d.connections {
		if ci, ok := conn.ActorInfoMap.Find(actor); ok {
			ci.DormantOnConnection = false
			ci.BecomingDormant = false
		}
	}
	gi.FireDormancyFlush(actor)
}

// ForceNetUpdate makes actor ready on the next tick regardless of its period.
func (d *Driver) ForceNetUpdate(actor *models.Actor) {
	if gi, ok := d.globalInfo.Find(actor); ok {
		gi.ForceNetUpdateFrame = d.frameNum + 1
	}
}

// TearOffActor marks actor for one final replication. Every connection that
// already gathered it keeps it until that replication happens, opening a
// channel if none exists yet; connections that never gathered it are left alone.
func (d *Driver) TearOffActor(actor *models.Actor) {
	if !models.IsValidActor(actor) || actor.TornOff {
		return
	}
	actor.TornOff = true
	for _, conn := range d.connections {
		ci, ok := conn.ActorInfoMap.Find(actor)
		if !ok {
			continue
		}
		if ci.TearOff {
			continue
		}
		conn.tearOff.NotifyTearOffActor(actor, d.frameNum)
	}
}

// AddDependentActor replicates child right after parent on every connection.
func (d *Driver) AddDependentActor(parent, child *models.Actor) error {
	if !models.IsValidActor(parent) || !models.IsValidActor(child) {
		return ErrInvalidActor
	}
	if _, ok := d.placements[parent]; !ok {
		return ErrUnregisteredParent
	}
	d.globalInfo.AddDependentActor(parent, child)
	return nil
}

func (d *Driver) RemoveDependentActor(parent, child *models.Actor) bool {
	return d.globalInfo.RemoveDependentActor(parent, child)
}

// Tick runs one replication frame and returns the number of connections processed.
func (d *Driver) Tick(deltaSeconds float64) int {
	start := time.Now()
	d.frameNum++
	frame := d.frameNum
	stats := TickStats{Frame: frame, DeltaSeconds: deltaSeconds}

	for _, node := range d.globalNodes {
		prepare(node)
	}

	for _, conn := range d.connections {
		if conn.Net.IsClosed() {
			continue
		}
		d.replicateConnection(conn, frame)
		stats.add(conn.stats)
		stats.Processed++
	}

	for i := len(d.connections) - 1; i >= 0; i-- {
		conn := d.connections[i]
		if !conn.Net.IsClosed() {
			continue
		}
		if err := d.RemoveConnection(conn.ID()); err == nil {
			stats.Removed++
		}
	}

	stats.Duration = time.Since(start)
	d.lastStats = stats
	for _, o := range d.observers {
		o.OnTick(stats)
	}
	return stats.Processed
}

func prepare(node Node) {
	if node.RequiresPrepare() {
		node.PrepareForReplication()
	}
	for _, child := range node.Children() {
		prepare(child)
	}
}

func (d *Driver) replicateConnection(conn *ConnectionManager, frame uint32) {
	conn.stats = ConnectionTickStats{Connection: conn.ID()}
	conn.buildViewers()
	conn.gathered.Reset()

	params := &GatherParams{
		Connection: conn,
		Viewers:    conn.viewers,
		FrameNum:   frame,
		Out:        conn.gathered,
	}
	for _, node := range d.globalNodes {
		node.GatherActorListsForConnection(params)
	}
	for _, node := range conn.nodes {
		node.GatherActorListsForConnection(params)
	}
	conn.stats.Gathered = conn.gathered.Num(actorlist.ListDefault)

	list := d.prioritized.Get()
	d.prioritize(conn, params, list)
	d.replicate(conn, frame, list)
	d.prioritized.Put(list)

	d.replicateFastShared(conn, params)
	d.sweepChannels(conn, frame)
}

// closeChannel closes the actor channel on conn and accounts for it.
func (d *Driver) closeChannel(conn *ConnectionManager, actor *models.Actor, ci *info.ConnectionActorInfo, reason models.CloseReason) int64 {
	if ci.Channel == nil {
		return 0
	}
	bits := ci.Channel.Close(reason)
	ci.Channel = nil
	ci.ActorChannelCloseFrameNum = 0
	conn.stats.ChannelsClosed++
	conn.stats.Bits += bits
	d.logger.Debug("actor channel closed",
		log.String("connection", string(conn.ID())),
		log.String("actor", actor.String()),
		log.String("reason", reason.String()),
	)
	return bits
}
