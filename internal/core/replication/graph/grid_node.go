package graph

import (
	"math"

	"github.com/zeusync/repgraph/internal/core/models"
	"github.com/zeusync/repgraph/internal/core/observability/log"
	"github.com/zeusync/repgraph/internal/core/replication/info"
)

// GridBounds fixes the world area of the grid. A bounded grid never grows;
// positions outside it are clamped to the edge cells.
type GridBounds struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

type GridSettings struct {
	CellSize     float64
	SpatialBiasX float64
	SpatialBiasY float64
	Bounds       *GridBounds

	// RebuildDenyList holds classes whose positions never trigger a grid
	// rebuild; they are clamped into the current grid instead.
	RebuildDenyList []models.ClassTag

	// DestroyDormantDynamicActors closes the channel of dormant actors that
	// left the view of a connection once the cell they were seen from expires.
	DestroyDormantDynamicActors bool
	CellTTLFrames               uint32

	DynamicBuckets FrequencyBucketSettings
}

func DefaultGridSettings() GridSettings {
	return GridSettings{
		CellSize:       10000,
		SpatialBiasX:   -150000,
		SpatialBiasY:   -200000,
		CellTTLFrames:  30,
		DynamicBuckets: DefaultFrequencyBucketSettings(),
	}
}

type staticActorInfo struct {
	rect           cellRect
	dormant        bool
	dormancyDriven bool
}

type dynamicActorInfo struct {
	rect           cellRect
	placed         bool
	dormancyDriven bool
}

// gridCellHistory is the per connection record of recently gathered cells.
type gridCellHistory struct {
	generation uint32
	ttl        map[cellCoord]uint32
}

var _ Node = (*GridSpatialization2DNode)(nil)

// GridSpatialization2DNode buckets actors into square cells on the X/Y plane.
// An actor occupies every cell touched by the square of side twice its cull
// distance around it; a viewer gathers only the cell it stands in.
type GridSpatialization2DNode struct {
	nodeBase
	settings GridSettings
	biasX    float64
	biasY    float64
	maxCellX int
	maxCellY int
	bounded  bool

	grid    [][]*GridCellNode
	static  map[*models.Actor]*staticActorInfo
	dynamic map[*models.Actor]*dynamicActorInfo
	denied  map[models.ClassTag]struct{}

	dirty        bool
	pendingBiasX float64
	pendingBiasY float64
	generation   uint32

	visible []cellCoord
	dormant []*models.Actor
}

func NewGridSpatialization2DNode(d *Driver, settings GridSettings) *GridSpatialization2DNode {
	if settings.CellSize <= 0 {
		settings.CellSize = DefaultGridSettings().CellSize
	}
	n := &GridSpatialization2DNode{
		nodeBase: newNodeBase(d, "grid"),
		settings: settings,
		biasX:    settings.SpatialBiasX,
		biasY:    settings.SpatialBiasY,
		static:   make(map[*models.Actor]*staticActorInfo),
		dynamic:  make(map[*models.Actor]*dynamicActorInfo),
		denied:   make(map[models.ClassTag]struct{}, len(settings.RebuildDenyList)),
	}
	if b := settings.Bounds; b != nil {
		n.bounded = true
		n.biasX, n.biasY = b.MinX, b.MinY
		n.maxCellX = int(math.Floor((b.MaxX - b.MinX) / settings.CellSize))
		n.maxCellY = int(math.Floor((b.MaxY - b.MinY) / settings.CellSize))
	}
	for _, tag := range settings.RebuildDenyList {
		n.denied[tag] = struct{}{}
	}
	return n
}

func (n *GridSpatialization2DNode) Settings() GridSettings { return n.settings }

// Bias returns the world position of the corner of cell (0, 0).
func (n *GridSpatialization2DNode) Bias() (float64, float64) { return n.biasX, n.biasY }

func (n *GridSpatialization2DNode) Generation() uint32 { return n.generation }

// RebuildPending reports whether the next prepare pass rebuilds the grid.
func (n *GridSpatialization2DNode) RebuildPending() bool { return n.dirty }

// NotifyAddNetworkActor places the actor as dynamic; use the explicit Add
// methods to choose a placement.
func (n *GridSpatialization2DNode) NotifyAddNetworkActor(actor *models.Actor) {
	n.AddActorDynamic(actor)
}

func (n *GridSpatialization2DNode) NotifyRemoveNetworkActor(actor *models.Actor, warnIfNotFound bool) bool {
	if n.RemoveActorStatic(actor) || n.RemoveActorDynamic(actor) {
		return true
	}
	n.warnNotFound(actor, warnIfNotFound)
	return false
}

// AddActorStatic places an actor that does not move. It is re-placed only on
// a grid rebuild. When it wants to be dormant it goes to the cell dormancy nodes.
func (n *GridSpatialization2DNode) AddActorStatic(actor *models.Actor) {
	n.addStatic(actor, false)
}

func (n *GridSpatialization2DNode) addStatic(actor *models.Actor, dormancyDriven bool) {
	if _, ok := n.static[actor]; ok {
		return
	}
	gi := n.driver.globalInfo.Get(actor)
	gi.RefreshLocation(actor, n.driver.frameNum)
	si := &staticActorInfo{
		rect:           n.coverage(actor, gi),
		dormant:        gi.WantsToBeDormant,
		dormancyDriven: dormancyDriven,
	}
	n.static[actor] = si
	n.putStatic(actor, si)
	gi.Events.OnDormancyChange(n, n.onDormancyChange)
}

func (n *GridSpatialization2DNode) putStatic(actor *models.Actor, si *staticActorInfo) {
	si.rect.forEach(func(x, y int) {
		n.cell(x, y).AddStaticActor(actor, si.dormant)
	})
}

func (n *GridSpatialization2DNode) pullStatic(actor *models.Actor, si *staticActorInfo) {
	si.rect.forEach(func(x, y int) {
		if c := n.findCell(x, y); c != nil {
			c.RemoveStaticActor(actor, si.dormant)
		}
	})
}

// AddActorDynamic places a moving actor; its cells follow it every prepare pass.
func (n *GridSpatialization2DNode) AddActorDynamic(actor *models.Actor) {
	n.addDynamic(actor, false)
}

func (n *GridSpatialization2DNode) addDynamic(actor *models.Actor, dormancyDriven bool) {
	if _, ok := n.dynamic[actor]; ok {
		return
	}
	di := &dynamicActorInfo{dormancyDriven: dormancyDriven}
	n.dynamic[actor] = di
	n.updateDynamic(actor, di)
	if dormancyDriven {
		n.driver.globalInfo.Get(actor).Events.OnDormancyChange(n, n.onDormancyChange)
	}
}

// AddActorDormancy places an actor that is dynamic while awake and static
// while it wants to be dormant.
func (n *GridSpatialization2DNode) AddActorDormancy(actor *models.Actor) {
	gi := n.driver.globalInfo.Get(actor)
	if gi.WantsToBeDormant {
		n.addStatic(actor, true)
		return
	}
	n.addDynamic(actor, true)
}

func (n *GridSpatialization2DNode) RemoveActorStatic(actor *models.Actor) bool {
	si, ok := n.static[actor]
	if !ok {
		return false
	}
	n.pullStatic(actor, si)
	delete(n.static, actor)
	n.unsubscribe(actor)
	return true
}

func (n *GridSpatialization2DNode) RemoveActorDynamic(actor *models.Actor) bool {
	di, ok := n.dynamic[actor]
	if !ok {
		return false
	}
	if di.placed {
		di.rect.forEach(func(x, y int) {
			if c := n.findCell(x, y); c != nil {
				c.RemoveDynamicActor(actor)
			}
		})
	}
	delete(n.dynamic, actor)
	n.unsubscribe(actor)
	return true
}

func (n *GridSpatialization2DNode) unsubscribe(actor *models.Actor) {
	if gi, ok := n.driver.globalInfo.Find(actor); ok {
		gi.Events.RemoveDormancyChange(n)
	}
}

func (n *GridSpatialization2DNode) onDormancyChange(actor *models.Actor, gi *info.GlobalActorInfo, wantsDormant bool) {
	if si, ok := n.static[actor]; ok {
		if si.dormancyDriven && !wantsDormant {
			n.pullStatic(actor, si)
			delete(n.static, actor)
			di := &dynamicActorInfo{dormancyDriven: true}
			n.dynamic[actor] = di
			n.updateDynamic(actor, di)
			return
		}
		if si.dormant != wantsDormant {
			n.pullStatic(actor, si)
			si.dormant = wantsDormant
			n.putStatic(actor, si)
		}
		return
	}
	di, ok := n.dynamic[actor]
	if !ok || !di.dormancyDriven || !wantsDormant {
		return
	}
	if di.placed {
		di.rect.forEach(func(x, y int) {
			if c := n.findCell(x, y); c != nil {
				c.RemoveDynamicActor(actor)
			}
		})
	}
	delete(n.dynamic, actor)
	gi.RefreshLocation(actor, n.driver.frameNum)
	si := &staticActorInfo{rect: n.coverage(actor, gi), dormant: true, dormancyDriven: true}
	n.static[actor] = si
	n.putStatic(actor, si)
}

// IsStatic and IsDynamic report how the actor is currently placed.
func (n *GridSpatialization2DNode) IsStatic(actor *models.Actor) bool {
	_, ok := n.static[actor]
	return ok
}

func (n *GridSpatialization2DNode) IsDynamic(actor *models.Actor) bool {
	_, ok := n.dynamic[actor]
	return ok
}

// CellsOf returns the cells the actor currently occupies.
func (n *GridSpatialization2DNode) CellsOf(actor *models.Actor) (startX, startY, endX, endY int, ok bool) {
	var r cellRect
	if si, found := n.static[actor]; found {
		r, ok = si.rect, true
	} else if di, found := n.dynamic[actor]; found && di.placed {
		r, ok = di.rect, true
	}
	return r.StartX, r.StartY, r.EndX, r.EndY, ok
}

// Cell returns the cell node at (x, y) or nil when it was never created.
func (n *GridSpatialization2DNode) Cell(x, y int) *GridCellNode {
	return n.findCell(x, y)
}

func (n *GridSpatialization2DNode) findCell(x, y int) *GridCellNode {
	if x < 0 || y < 0 || x >= len(n.grid) || y >= len(n.grid[x]) {
		return nil
	}
	return n.grid[x][y]
}

func (n *GridSpatialization2DNode) cell(x, y int) *GridCellNode {
	for len(n.grid) <= x {
		n.grid = append(n.grid, nil)
	}
	for len(n.grid[x]) <= y {
		n.grid[x] = append(n.grid[x], nil)
	}
	c := n.grid[x][y]
	if c == nil {
		c = newGridCellNode(n.driver, cellCoord{X: x, Y: y}, n.settings.DynamicBuckets)
		n.grid[x][y] = c
	}
	return c
}

func (n *GridSpatialization2DNode) cellIndex(pos, bias float64, max int) int {
	idx := int(math.Floor((pos - bias) / n.settings.CellSize))
	if idx < 0 {
		return 0
	}
	if n.bounded && idx > max {
		return max
	}
	return idx
}

// coverage computes the occupied cells from the cached location and cull
// distance, and schedules a rebuild when the actor sits below the grid origin.
func (n *GridSpatialization2DNode) coverage(actor *models.Actor, gi *info.GlobalActorInfo) cellRect {
	loc := gi.WorldLocation
	dist := math.Sqrt(gi.CullDistanceSquared)
	n.checkGrowth(actor, loc, dist)
	return cellRect{
		StartX: n.cellIndex(loc.X-dist, n.biasX, n.maxCellX),
		StartY: n.cellIndex(loc.Y-dist, n.biasY, n.maxCellY),
		EndX:   n.cellIndex(loc.X+dist, n.biasX, n.maxCellX),
		EndY:   n.cellIndex(loc.Y+dist, n.biasY, n.maxCellY),
	}
}

func (n *GridSpatialization2DNode) checkGrowth(actor *models.Actor, loc models.Vector, dist float64) {
	if loc.X >= n.biasX && loc.Y >= n.biasY {
		return
	}
	if n.bounded {
		return
	}
	if _, ok := n.denied[actor.Class]; ok {
		return
	}
	if !n.dirty {
		n.pendingBiasX, n.pendingBiasY = n.biasX, n.biasY
	}
	n.pendingBiasX = math.Min(n.pendingBiasX, n.alignedBias(loc.X-dist, n.biasX))
	n.pendingBiasY = math.Min(n.pendingBiasY, n.alignedBias(loc.Y-dist, n.biasY))
	if !n.dirty {
		n.logger.Info("grid origin exceeded, rebuild scheduled",
			log.String("actor", actor.String()),
			log.Float64("x", loc.X),
			log.Float64("y", loc.Y),
		)
	}
	n.dirty = true
}

// alignedBias moves bias down in whole cells until it is at or below pos.
func (n *GridSpatialization2DNode) alignedBias(pos, bias float64) float64 {
	if pos >= bias {
		return bias
	}
	return bias - math.Ceil((bias-pos)/n.settings.CellSize)*n.settings.CellSize
}

func (n *GridSpatialization2DNode) RequiresPrepare() bool { return true }

func (n *GridSpatialization2DNode) PrepareForReplication() {
	if n.dirty {
		n.rebuild()
	}
	for actor, di := range n.dynamic {
		if !models.IsValidActor(actor) {
			n.logger.Warn("invalid dynamic actor in grid", log.String("actor", actor.String()))
			continue
		}
		n.updateDynamic(actor, di)
	}
}

// updateDynamic moves the actor between cells. Overlapping rectangles only
// touch the rows and columns that differ.
func (n *GridSpatialization2DNode) updateDynamic(actor *models.Actor, di *dynamicActorInfo) {
	gi := n.driver.globalInfo.Get(actor)
	gi.RefreshLocation(actor, n.driver.frameNum)
	next := n.coverage(actor, gi)

	add := func(x, y int) { n.cell(x, y).AddDynamicActor(actor) }
	remove := func(x, y int) {
		if c := n.findCell(x, y); c != nil {
			c.RemoveDynamicActor(actor)
		}
	}

	switch {
	case !di.placed:
		next.forEach(add)
	case next == di.rect:
		return
	case !next.overlaps(di.rect):
		di.rect.forEach(remove)
		next.forEach(add)
	default:
		di.rect.forEachNotIn(next, remove)
		next.forEachNotIn(di.rect, add)
	}
	di.rect = next
	di.placed = true
}

// rebuild drops every cell and re-places all actors around the pending bias.
func (n *GridSpatialization2DNode) rebuild() {
	n.logger.Info("rebuilding grid",
		log.Float64("bias_x", n.pendingBiasX),
		log.Float64("bias_y", n.pendingBiasY),
		log.Int("static", len(n.static)),
		log.Int("dynamic", len(n.dynamic)),
	)
	for _, column := range n.grid {
		for _, c := range column {
			if c != nil {
				c.tearDown()
			}
		}
	}
	n.grid = nil
	n.biasX, n.biasY = n.pendingBiasX, n.pendingBiasY
	n.dirty = false
	n.generation++

	for actor, si := range n.static {
		gi := n.driver.globalInfo.Get(actor)
		si.rect = n.coverage(actor, gi)
		n.putStatic(actor, si)
	}
	for _, di := range n.dynamic {
		di.placed = false
	}
	for actor, di := range n.dynamic {
		n.updateDynamic(actor, di)
	}
}

func (n *GridSpatialization2DNode) GatherActorListsForConnection(params *GatherParams) {
	n.visible = n.visible[:0]
	for _, viewer := range params.Viewers {
		loc := n.clamp(viewer.Location)
		coord := cellCoord{
			X: n.cellIndex(loc.X, n.biasX, n.maxCellX),
			Y: n.cellIndex(loc.Y, n.biasY, n.maxCellY),
		}
		if containsCoord(n.visible, coord) {
			continue
		}
		n.visible = append(n.visible, coord)
		if c := n.findCell(coord.X, coord.Y); c != nil {
			c.GatherActorListsForConnection(params)
		}
	}
	n.gatherChildren(params)
	n.ageCells(params.Connection)
}

func (n *GridSpatialization2DNode) clamp(loc models.Vector) models.Vector {
	if b := n.settings.Bounds; b != nil {
		loc.X = math.Min(math.Max(loc.X, b.MinX), b.MaxX)
		loc.Y = math.Min(math.Max(loc.Y, b.MinY), b.MaxY)
	}
	return loc
}

func containsCoord(coords []cellCoord, c cellCoord) bool {
	for _, v := range coords {
		if v == c {
			return true
		}
	}
	return false
}

// ageCells refreshes the TTL of the cells gathered this frame and expires the
// rest. Expired cells may destroy dormant actors that left view.
func (n *GridSpatialization2DNode) ageCells(conn *ConnectionManager) {
	if n.settings.CellTTLFrames == 0 {
		return
	}
	history, ok := conn.cellHistory[n]
	if !ok {
		history = &gridCellHistory{generation: n.generation, ttl: make(map[cellCoord]uint32)}
		conn.cellHistory[n] = history
	}
	if history.generation != n.generation {
		if len(history.ttl) > 0 {
			n.logger.Warn("dropping cell history from previous grid",
				log.String("connection", string(conn.ID())),
				log.Int("cells", len(history.ttl)),
			)
		}
		clear(history.ttl)
		history.generation = n.generation
	}

	for coord, ttl := range history.ttl {
		if containsCoord(n.visible, coord) {
			continue
		}
		if ttl > 1 {
			history.ttl[coord] = ttl - 1
			continue
		}
		delete(history.ttl, coord)
		if n.settings.DestroyDormantDynamicActors {
			n.destroyDormantLeftCell(conn, coord, history)
		}
	}
	for _, coord := range n.visible {
		history.ttl[coord] = n.settings.CellTTLFrames
	}
}

// destroyDormantLeftCell closes the channels of dormancy driven actors that
// went dormant in an expired cell and are not covered by any tracked cell.
func (n *GridSpatialization2DNode) destroyDormantLeftCell(conn *ConnectionManager, coord cellCoord, history *gridCellHistory) {
	c := n.findCell(coord.X, coord.Y)
	if c == nil || c.Dormancy() == nil {
		return
	}
	cn, ok := c.Dormancy().FindConnectionNode(conn)
	if !ok {
		return
	}
	n.dormant = n.dormant[:0]
	for _, actor := range cn.removed.View() {
		n.dormant = append(n.dormant, actor)
	}
	cn.removedStreaming.ForEach(func(actor *models.Actor) {
		n.dormant = append(n.dormant, actor)
	})

	for _, actor := range n.dormant {
		si, ok := n.static[actor]
		if !ok || !si.dormancyDriven || n.tracked(si.rect, history) {
			continue
		}
		ci, ok := conn.ActorInfoMap.Find(actor)
		if !ok {
			continue
		}
		if ci.Channel != nil {
			n.driver.closeChannel(conn, actor, ci, models.CloseDestroyed)
		}
		ci.DormantOnConnection = false
		ci.BecomingDormant = false
		conn.wake(actor)
	}
}

func (n *GridSpatialization2DNode) tracked(rect cellRect, history *gridCellHistory) bool {
	for coord := range history.ttl {
		if rect.contains(coord) {
			return true
		}
	}
	for _, coord := range n.visible {
		if rect.contains(coord) {
			return true
		}
	}
	return false
}

func (n *GridSpatialization2DNode) NotifyConnectionRemoved(conn *ConnectionManager) {
	delete(conn.cellHistory, n)
	for _, column := range n.grid {
		for _, c := range column {
			if c != nil {
				c.NotifyConnectionRemoved(conn)
			}
		}
	}
	n.nodeBase.NotifyConnectionRemoved(conn)
}
