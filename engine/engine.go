package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/kenaz/geometry"
	"github.com/aukilabs/kenaz/intersection"
	"github.com/aukilabs/kenaz/models"
	"github.com/aukilabs/kenaz/scheduler"
	"github.com/aukilabs/kenaz/spatial"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

const (
	ErrTypeEntityNotFound = "entity-not-found"
	ErrTypeProbeNotFound  = "probe-not-found"
	ErrTypeBadRequest     = "bad-request"
	ErrTypeEngineStopped  = "engine-stopped"

	EngineIDTag = "engine_id"

	DefaultCellSize         = 1
	DefaultWorldExtent      = 1000
	DefaultOversizeFraction = 0.25
	DefaultProbeLength      = 2
	DefaultProbeRadius      = 0.25
	DefaultCommandQueueSize = 1024
)

type Options struct {
	// The edge length of a grid cell.
	CellSize float32

	// The size of the world. Entities larger than WorldExtent *
	// OversizeFraction are not bucketed in cells.
	WorldExtent      float32
	OversizeFraction float32

	// The time a frame may spend synchronizing the index.
	FrameBudget time.Duration
	MinSlice    time.Duration
	ChunkSize   int

	ProbeLength float32
	ProbeRadius float32

	Policy   intersection.TestPolicy
	RayCount int

	DeactivateOnGrab bool
	ResolveStatic    bool
	DisableBootstrap bool

	// Excludes entities from the bootstrap scan.
	Exclude func(*models.Entity) bool

	// Receives probe transitions.
	Listener intersection.Listener

	Clock            scheduler.Clock
	CommandQueueSize int
}

func (o *Options) setDefaults() {
	if o.CellSize <= 0 {
		o.CellSize = DefaultCellSize
	}
	if o.WorldExtent <= 0 {
		o.WorldExtent = DefaultWorldExtent
	}
	if o.OversizeFraction <= 0 {
		o.OversizeFraction = DefaultOversizeFraction
	}
	if o.ProbeLength <= 0 {
		o.ProbeLength = DefaultProbeLength
	}
	if o.ProbeRadius < 0 {
		o.ProbeRadius = 0
	}
	if o.ProbeRadius == 0 {
		o.ProbeRadius = DefaultProbeRadius
	}
	if o.CommandQueueSize <= 0 {
		o.CommandQueueSize = DefaultCommandQueueSize
	}
	if o.Clock == nil {
		o.Clock = scheduler.SystemClock{}
	}
}

// DebugInfo describes the engine state.
type DebugInfo struct {
	EngineID     string                   `json:"engine_id"`
	Bootstrapped bool                     `json:"bootstrapped"`
	Probes       int                      `json:"probes"`
	Tasks        int                      `json:"tasks"`
	Parked       int                      `json:"parked"`
	Index        spatial.SpatialDebugInfo `json:"index"`
}

// Engine indexes the entities of a scene and resolves what its probes point
// at. The engine is not safe for concurrent use: it runs on the goroutine
// calling Tick or Run, other goroutines reach it with Do and Dispatch.
type Engine struct {
	ID string

	opts      Options
	scene     *models.Scene
	index     *Index
	scheduler *scheduler.Scheduler
	resolver  *intersection.Resolver

	probeIDs models.SequentialIDGenerator
	probes   map[uint32]*intersection.Probe

	bootstrapped atomic.Bool
	commands     chan func(*Engine)
	closeOnce    sync.Once
	closed       chan struct{}
}

func New(scene *models.Scene, opts Options) *Engine {
	opts.setDefaults()

	e := &Engine{
		ID:     uuid.NewString(),
		opts:   opts,
		scene:  scene,
		probes: make(map[uint32]*intersection.Probe),

		commands: make(chan func(*Engine), opts.CommandQueueSize),
		closed:   make(chan struct{}),
	}

	e.index = NewIndex(spatial.NewHashGrid(opts.CellSize, opts.WorldExtent*opts.OversizeFraction))
	e.resolver = &intersection.Resolver{
		Index:            e.index,
		Listener:         opts.Listener,
		Policy:           opts.Policy,
		RayCount:         opts.RayCount,
		DeactivateOnGrab: opts.DeactivateOnGrab,
		ResolveStatic:    opts.ResolveStatic,
	}
	e.scheduler = scheduler.New(scheduler.Options{
		Name:      scene.Name,
		Limit:     opts.FrameBudget,
		MinSlice:  opts.MinSlice,
		ChunkSize: opts.ChunkSize,
		Clock:     opts.Clock,
	})

	if opts.DisableBootstrap {
		e.bootstrapped.Store(true)
	} else {
		e.scheduler.Add(&bootstrapTask{engine: e})
	}
	e.scheduler.Add(&resyncTask{engine: e})

	logs.WithTag(EngineIDTag, e.ID).
		WithTag("scene", scene.Name).
		WithTag("cell_size", opts.CellSize).
		WithTag("policy", opts.Policy.String()).
		Info("engine created")
	return e
}

func (e *Engine) Scene() *models.Scene {
	return e.scene
}

// Bootstrapped reports whether the entities present at startup are indexed.
// It is safe for concurrent use.
func (e *Engine) Bootstrapped() bool {
	return e.bootstrapped.Load()
}

// Run ticks the engine every frame until the context is done.
func (e *Engine) Run(ctx context.Context, frameDuration time.Duration) {
	defer e.close()

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logs.WithTag(EngineIDTag, e.ID).Info("engine stopped")
			return

		case <-ticker.C:
			e.Tick()
		}
	}
}

func (e *Engine) close() {
	e.closeOnce.Do(func() {
		close(e.closed)
	})
}

// Tick runs queued commands, synchronizes the index within the frame budget
// and resolves every probe.
func (e *Engine) Tick() scheduler.TickResult {
	start := time.Now()

	e.drainCommands()
	res := e.scheduler.Tick()

	for _, p := range e.Probes() {
		e.resolver.Resolve(p)
	}

	instrumentFrame(e.scene.Name, time.Since(start), e.index.DebugInfo())
	return res
}

func (e *Engine) drainCommands() {
	for n := len(e.commands); n > 0; n-- {
		cmd := <-e.commands
		cmd(e)
	}
}

// Do runs f on the engine goroutine and waits for it to return.
func (e *Engine) Do(ctx context.Context, f func(*Engine)) error {
	done := make(chan struct{})
	cmd := func(e *Engine) {
		defer close(done)
		f(e)
	}

	select {
	case e.commands <- cmd:
	case <-ctx.Done():
		return errors.New("engine command cancelled").
			WithType(ErrTypeEngineStopped).
			Wrap(ctx.Err())
	case <-e.closed:
		return errors.New("engine is stopped").WithType(ErrTypeEngineStopped)
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("engine command cancelled").
			WithType(ErrTypeEngineStopped).
			Wrap(ctx.Err())
	case <-e.closed:
		return errors.New("engine is stopped").WithType(ErrTypeEngineStopped)
	}
}

// Dispatch queues f to run on the engine goroutine without waiting. The
// command is dropped when the queue is full.
func (e *Engine) Dispatch(f func(*Engine)) {
	select {
	case e.commands <- f:
	default:
		instrumentDroppedCommand(e.scene.Name)
		logs.WithTag(EngineIDTag, e.ID).
			Warn(errors.New("engine command queue is full").
				WithTag("size", cap(e.commands)))
	}
}

// AddToIndex indexes an entity outside of the bootstrap scan. Entities held
// by a probe are not indexed.
func (e *Engine) AddToIndex(entity *models.Entity) bool {
	if e.grabbedBy(entity) != nil {
		return false
	}
	return e.index.Insert(entity)
}

func (e *Engine) RemoveFromIndex(entity *models.Entity) bool {
	return e.index.Remove(entity)
}

func (e *Engine) eligible(entity *models.Entity) bool {
	if !entity.Valid() || e.index.Contains(entity) || e.grabbedBy(entity) != nil {
		return false
	}
	return e.opts.Exclude == nil || !e.opts.Exclude(entity)
}

func (e *Engine) grabbedBy(entity *models.Entity) *intersection.Probe {
	for _, p := range e.probes {
		if p.Grabbed() == entity {
			return p
		}
	}
	return nil
}

// RegisterProbe creates a probe driven by the given transform.
func (e *Engine) RegisterProbe(t intersection.Transformer) *intersection.Probe {
	p := intersection.NewProbe(e.probeIDs.New(), t, e.opts.ProbeLength, e.opts.ProbeRadius)
	e.probes[p.ID] = p

	logs.WithTag(EngineIDTag, e.ID).
		WithTag(intersection.ProbeIDTag, p.ID).
		Debug("probe registered")
	return p
}

// UnregisterProbe releases the entity held by the probe and exits its
// current intersection before removing it.
func (e *Engine) UnregisterProbe(id uint32) bool {
	p, ok := e.probes[id]
	if !ok {
		return false
	}

	e.release(p)
	e.resolver.Exit(p)
	delete(e.probes, id)
	e.probeIDs.Reuse(id)

	logs.WithTag(EngineIDTag, e.ID).
		WithTag(intersection.ProbeIDTag, id).
		Debug("probe unregistered")
	return true
}

func (e *Engine) Probe(id uint32) (*intersection.Probe, bool) {
	p, ok := e.probes[id]
	return p, ok
}

// Probes returns the registered probes ordered by id.
func (e *Engine) Probes() []*intersection.Probe {
	probes := make([]*intersection.Probe, 0, len(e.probes))
	for _, p := range e.probes {
		probes = append(probes, p)
	}

	sort.Slice(probes, func(i, j int) bool {
		return probes[i].ID < probes[j].ID
	})
	return probes
}

// QueryBounds returns the indexed entities overlapping b, ordered by id.
func (e *Engine) QueryBounds(b geometry.Bounds, ignore ...uint32) []*models.Entity {
	if !b.Valid() {
		return nil
	}

	return e.query(b, ignore, func(eb geometry.Bounds) bool {
		return eb.Intersects(b)
	})
}

// QuerySphere returns the indexed entities overlapping the sphere, ordered by
// id.
func (e *Engine) QuerySphere(center mgl32.Vec3, radius float32, ignore ...uint32) []*models.Entity {
	if radius < 0 {
		return nil
	}

	b := geometry.NewBoundsFromSphere(center, radius)
	if !b.Valid() {
		return nil
	}

	return e.query(b, ignore, func(eb geometry.Bounds) bool {
		return eb.IntersectsSphere(center, radius)
	})
}

func (e *Engine) query(b geometry.Bounds, ignore []uint32, match func(geometry.Bounds) bool) []*models.Entity {
	ignored := make(map[uint32]struct{}, len(ignore))
	for _, id := range ignore {
		ignored[id] = struct{}{}
	}

	var res []*models.Entity
	for _, entity := range e.index.Query(b) {
		if _, ok := ignored[entity.ID]; ok {
			continue
		}
		if !entity.Valid() || !match(entity.Bounds()) {
			continue
		}
		res = append(res, entity)
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].ID < res[j].ID
	})
	return res
}

// Raycast returns the closest indexed entity hit by the ray and the hit
// distance along it, expressed in [0, 1]. It returns nil and -1 on a miss.
func (e *Engine) Raycast(r geometry.Ray, ignore ...uint32) (*models.Entity, float32) {
	ignored := make(map[uint32]struct{}, len(ignore))
	for _, id := range ignore {
		ignored[id] = struct{}{}
	}

	var closest *models.Entity
	closestT := float32(-1)

	for _, entity := range e.index.QueryRay(r) {
		if _, ok := ignored[entity.ID]; ok {
			continue
		}
		if !entity.Valid() {
			continue
		}

		hit, t := entity.IntersectRay(r)
		if !hit {
			continue
		}

		if closest == nil || t < closestT || (t == closestT && entity.ID < closest.ID) {
			closest = entity
			closestT = t
		}
	}
	return closest, closestT
}

// GetIntersected returns the entity the probe intersected on the last tick.
func (e *Engine) GetIntersected(probeID uint32) *models.Entity {
	p, ok := e.probes[probeID]
	if !ok {
		return nil
	}
	return p.Intersected()
}

// GrabAndRemove makes the probe hold its intersected entity, removing it
// from the index until released.
func (e *Engine) GrabAndRemove(probeID uint32) *models.Entity {
	p, ok := e.probes[probeID]
	if !ok {
		return nil
	}
	return e.resolver.GrabAndRemove(p)
}

// Release puts the entity held by the probe back in the index.
func (e *Engine) Release(probeID uint32) *models.Entity {
	p, ok := e.probes[probeID]
	if !ok {
		return nil
	}
	return e.release(p)
}

// release parks released entities whose bounds can't be indexed so that
// resync picks them up once they change.
func (e *Engine) release(p *intersection.Probe) *models.Entity {
	entity := e.resolver.Release(p)
	if entity != nil && !e.index.Contains(entity) && !entity.Destroyed() {
		e.index.park(entity)
	}
	return entity
}

func (e *Engine) MaxBounds() (geometry.Bounds, bool) {
	return e.index.MaxBounds()
}

func (e *Engine) IndexLen() int {
	return e.index.Len()
}

// Indexed reports whether the entity is in the index.
func (e *Engine) Indexed(entity *models.Entity) bool {
	return e.index.Contains(entity)
}

func (e *Engine) DebugInfo() DebugInfo {
	return DebugInfo{
		EngineID:     e.ID,
		Bootstrapped: e.Bootstrapped(),
		Probes:       len(e.probes),
		Tasks:        e.scheduler.Len(),
		Parked:       e.index.ParkedLen(),
		Index:        e.index.DebugInfo(),
	}
}

// SetCellSize changes the grid cell size and rebuilds the whole index
// before returning.
func (e *Engine) SetCellSize(size float32) {
	if size <= 0 || size == e.index.CellSize() {
		return
	}

	start := time.Now()
	n := e.index.Rebuild(size)
	instrumentRebuild(e.scene.Name)

	logs.WithTag(EngineIDTag, e.ID).
		WithTag("cell_size", size).
		WithTag("entities", n).
		WithTag("duration", time.Since(start)).
		Info("index rebuilt")
}
