package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/kenaz/geometry"
	"github.com/aukilabs/kenaz/intersection"
	"github.com/aukilabs/kenaz/models"
	"github.com/aukilabs/kenaz/scheduler"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

// tickingClock moves forward every time it is read.
type tickingClock struct {
	mutex sync.Mutex
	now   time.Time
	step  time.Duration
}

func (c *tickingClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.now = c.now.Add(c.step)
	return c.now
}

type recorder struct {
	mutex  sync.Mutex
	events []string
}

func (r *recorder) record(event string, p *intersection.Probe, e *models.Entity) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.events = append(r.events, fmt.Sprintf("%s(%d,%s)", event, p.ID, e.Name))
}

func (r *recorder) listener() intersection.Listener {
	return intersection.ListenerFuncs{
		Enter: func(p *intersection.Probe, e *models.Entity) { r.record("enter", p, e) },
		Exit:  func(p *intersection.Probe, e *models.Entity) { r.record("exit", p, e) },
	}
}

func (r *recorder) reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.events = nil
}

func addCube(scene *models.Scene, name string, center mgl32.Vec3, half float32) *models.Entity {
	e := models.NewEntity(scene.NewEntityID(), name, geometry.NewBoundsFromCenter(
		center,
		mgl32.Vec3{half, half, half},
	))
	scene.AddEntity(e)
	return e
}

func pointerAt(x, y, z float32) *models.Pointer {
	p := &models.Pointer{}
	p.SetTransform(mgl32.Translate3D(x, y, z))
	return p
}

func newTestEngine(scene *models.Scene, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = scheduler.NewManualClock(time.Unix(0, 0))
	}
	return New(scene, opts)
}

func TestEngineBootstrap(t *testing.T) {
	scene := models.NewScene("bootstrap")
	for i := 0; i < 50; i++ {
		addCube(scene, fmt.Sprintf("cube-%d", i), mgl32.Vec3{float32(i), 0, 0}, 0.25)
	}

	excluded := addCube(scene, "excluded", mgl32.Vec3{0, 5, 0}, 0.25)
	destroyed := addCube(scene, "destroyed", mgl32.Vec3{0, 6, 0}, 0.25)
	destroyed.Destroy()

	eng := New(scene, Options{
		FrameBudget: 10 * time.Millisecond,
		Clock:       &tickingClock{now: time.Unix(0, 0), step: time.Millisecond},
		Exclude: func(e *models.Entity) bool {
			return e.Name == "excluded"
		},
	})
	require.False(t, eng.Bootstrapped())

	ticks := 0
	for !eng.Bootstrapped() {
		eng.Tick()
		ticks++
		require.Less(t, ticks, 100)
	}

	// Nine cubes fit in a frame when the clock moves 1ms per read. Passes
	// over unchanged entities must not eat that share.
	require.Greater(t, ticks, 1)
	require.LessOrEqual(t, ticks, 8)
	require.Equal(t, 50, eng.IndexLen())
	require.False(t, eng.Indexed(excluded))
	require.False(t, eng.Indexed(destroyed))
	require.Equal(t, 1, eng.DebugInfo().Tasks)
}

func TestEngineBootstrapSkippedEntities(t *testing.T) {
	scene := models.NewScene("bootstrap-skipped")
	for i := 0; i < 200; i++ {
		addCube(scene, "excluded", mgl32.Vec3{float32(i), 0, 0}, 0.25)
	}
	cube := addCube(scene, "cube", mgl32.Vec3{0, 5, 0}, 0.25)

	clock := scheduler.NewManualClock(time.Unix(0, 0))
	eng := New(scene, Options{
		FrameBudget: 10 * time.Millisecond,
		Clock:       clock,
		Exclude: func(e *models.Entity) bool {
			clock.Advance(time.Millisecond)
			return e.Name == "excluded"
		},
	})

	ticks := 0
	for !eng.Bootstrapped() {
		res := eng.Tick()
		ticks++
		require.Less(t, ticks, 100)
		require.LessOrEqual(t, res.Elapsed, time.Duration(scheduler.SkipStride)*time.Millisecond)
	}

	require.Greater(t, ticks, 1)
	require.True(t, eng.Indexed(cube))
	require.Equal(t, 1, eng.IndexLen())
}

func TestEngineDisableBootstrap(t *testing.T) {
	scene := models.NewScene("no-bootstrap")
	e := addCube(scene, "cube", mgl32.Vec3{}, 0.5)

	eng := newTestEngine(scene, Options{DisableBootstrap: true})
	require.True(t, eng.Bootstrapped())

	eng.Tick()
	require.Zero(t, eng.IndexLen())

	require.True(t, eng.AddToIndex(e))
	require.True(t, eng.Indexed(e))

	require.True(t, eng.RemoveFromIndex(e))
	require.False(t, eng.RemoveFromIndex(e))
	require.False(t, eng.Indexed(e))
}

func TestEngineQuerySphere(t *testing.T) {
	scene := models.NewScene("sphere")
	e := models.NewEntity(scene.NewEntityID(), "cube", geometry.NewBounds(
		mgl32.Vec3{0, 0, 0},
		mgl32.Vec3{0.5, 0.5, 0.5},
	))
	scene.AddEntity(e)

	eng := newTestEngine(scene, Options{CellSize: 1})
	eng.Tick()

	require.Equal(t, []*models.Entity{e}, eng.QuerySphere(mgl32.Vec3{0, 0, 0}, 0.1))
	require.Empty(t, eng.QuerySphere(mgl32.Vec3{10, 10, 10}, 0.1))

	t.Run("ignored entities are filtered", func(t *testing.T) {
		require.Empty(t, eng.QuerySphere(mgl32.Vec3{0, 0, 0}, 0.1, e.ID))
	})

	t.Run("precise filter drops cell neighbours", func(t *testing.T) {
		require.Empty(t, eng.QuerySphere(mgl32.Vec3{0.45, 0.45, 1.4}, 0.5))
	})

	t.Run("negative radius", func(t *testing.T) {
		require.Empty(t, eng.QuerySphere(mgl32.Vec3{}, -1))
	})
}

func TestEngineQueryBounds(t *testing.T) {
	scene := models.NewScene("bounds")
	a := addCube(scene, "a", mgl32.Vec3{0, 0, 0}, 0.5)
	b := addCube(scene, "b", mgl32.Vec3{1.2, 0, 0}, 0.5)
	addCube(scene, "c", mgl32.Vec3{10, 0, 0}, 0.5)

	eng := newTestEngine(scene, Options{CellSize: 4})
	eng.Tick()

	query := geometry.NewBounds(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{2, 1, 1})
	require.Equal(t, []*models.Entity{a, b}, eng.QueryBounds(query))
	require.Equal(t, []*models.Entity{b}, eng.QueryBounds(query, a.ID))

	query = geometry.NewBounds(mgl32.Vec3{0.6, -1, -1}, mgl32.Vec3{0.65, 1, 1})
	require.Empty(t, eng.QueryBounds(query))

	require.Empty(t, eng.QueryBounds(geometry.Bounds{Min: mgl32.Vec3{1, 1, 1}}))
}

func TestEngineResync(t *testing.T) {
	scene := models.NewScene("resync")
	e := addCube(scene, "moving", mgl32.Vec3{0, 0, 0}, 0.5)
	other := addCube(scene, "doomed", mgl32.Vec3{0, 3, 0}, 0.5)

	eng := newTestEngine(scene, Options{CellSize: 1})
	eng.Tick()
	require.Equal(t, 2, eng.IndexLen())

	e.SetBounds(geometry.NewBoundsFromCenter(mgl32.Vec3{20, 0, 0}, mgl32.Vec3{0.5, 0.5, 0.5}))
	require.Empty(t, eng.QuerySphere(mgl32.Vec3{20, 0, 0}, 0.1))

	eng.Tick()
	require.False(t, e.Changed())
	require.Equal(t, []*models.Entity{e}, eng.QuerySphere(mgl32.Vec3{20, 0, 0}, 0.1))
	require.Empty(t, eng.QuerySphere(mgl32.Vec3{0, 0, 0}, 0.1))

	t.Run("destroyed entities are dropped", func(t *testing.T) {
		other.Destroy()
		eng.Tick()
		require.False(t, eng.Indexed(other))
		require.Equal(t, 1, eng.IndexLen())
	})

	t.Run("idempotent resync", func(t *testing.T) {
		cells := eng.index.partition.Cells(e.ID)
		for i := 0; i < 5; i++ {
			e.SetBounds(e.Bounds())
			eng.Tick()
		}
		require.ElementsMatch(t, cells, eng.index.partition.Cells(e.ID))
	})
}

func TestEngineDegenerateBounds(t *testing.T) {
	scene := models.NewScene("degenerate")
	e := addCube(scene, "cube", mgl32.Vec3{}, 0.5)
	valid := e.Bounds()
	nan := float32(math.NaN())

	eng := newTestEngine(scene, Options{CellSize: 1})
	eng.Tick()
	require.True(t, eng.Indexed(e))

	t.Run("degenerate bounds park the entity", func(t *testing.T) {
		e.SetBounds(geometry.Bounds{Min: mgl32.Vec3{nan, 0, 0}, Max: mgl32.Vec3{1, 1, 1}})
		eng.Tick()

		require.False(t, eng.Indexed(e))
		require.True(t, eng.index.Parked(e))
		require.Empty(t, eng.QuerySphere(mgl32.Vec3{}, 0.1))
		require.Equal(t, 1, eng.DebugInfo().Parked)

		eng.Tick()
		require.True(t, eng.index.Parked(e))
	})

	t.Run("valid bounds index the entity again", func(t *testing.T) {
		e.SetBounds(valid)
		eng.Tick()

		require.True(t, eng.Indexed(e))
		require.False(t, eng.index.Parked(e))
		require.Equal(t, []*models.Entity{e}, eng.QuerySphere(mgl32.Vec3{}, 0.1))
	})

	t.Run("inverted bounds survive a rebuild", func(t *testing.T) {
		e.SetBounds(geometry.Bounds{Min: mgl32.Vec3{1, 1, 1}, Max: mgl32.Vec3{-1, -1, -1}})
		eng.SetCellSize(4)
		require.True(t, eng.index.Parked(e))

		e.SetBounds(valid)
		eng.Tick()
		require.Equal(t, []*models.Entity{e}, eng.QuerySphere(mgl32.Vec3{}, 0.1))
	})

	t.Run("destroyed parked entities are dropped", func(t *testing.T) {
		e.SetBounds(geometry.Bounds{Min: mgl32.Vec3{nan, nan, nan}})
		eng.Tick()
		require.True(t, eng.index.Parked(e))

		e.Destroy()
		eng.Tick()
		require.False(t, eng.index.Parked(e))
		require.False(t, eng.Indexed(e))
		require.Zero(t, eng.DebugInfo().Parked)
	})
}

func TestEngineLazyRemoval(t *testing.T) {
	scene := models.NewScene("lazy")
	e := addCube(scene, "cube", mgl32.Vec3{}, 0.5)

	eng := newTestEngine(scene, Options{})
	eng.Tick()

	e.Destroy()
	require.Empty(t, eng.QuerySphere(mgl32.Vec3{}, 0.1))
	require.False(t, eng.Indexed(e))
}

func TestEngineGrab(t *testing.T) {
	scene := models.NewScene("grab")
	e := addCube(scene, "E", mgl32.Vec3{0, 0, 3}, 0.5)

	var rec recorder
	eng := newTestEngine(scene, Options{
		ProbeLength: 5,
		ProbeRadius: 0.5,
		Listener:    rec.listener(),
	})

	p1 := eng.RegisterProbe(pointerAt(0, 0, 0))
	p2Pointer := pointerAt(0.2, 0, 0)
	p2 := eng.RegisterProbe(p2Pointer)
	eng.Tick()

	require.Equal(t, e, eng.GetIntersected(p1.ID))
	require.Equal(t, e, eng.GetIntersected(p2.ID))
	rec.reset()

	require.Equal(t, e, eng.GrabAndRemove(p1.ID))
	require.False(t, eng.Indexed(e))
	require.Empty(t, eng.QuerySphere(mgl32.Vec3{0, 0, 3}, 1))

	eng.Tick()
	require.Nil(t, eng.GetIntersected(p1.ID))
	require.Nil(t, eng.GetIntersected(p2.ID))
	require.Equal(t, []string{"exit(2,E)"}, rec.events)

	t.Run("grabbed entities are not indexed again", func(t *testing.T) {
		require.False(t, eng.AddToIndex(e))
	})

	t.Run("release", func(t *testing.T) {
		rec.reset()
		require.Equal(t, e, eng.Release(p1.ID))
		eng.Tick()
		require.Equal(t, e, eng.GetIntersected(p1.ID))

		p2Pointer.SetTransform(mgl32.Translate3D(0.1, 0, 0))
		eng.Tick()
		require.Equal(t, e, eng.GetIntersected(p2.ID))
		require.Equal(t, []string{"enter(1,E)", "enter(2,E)"}, rec.events)
	})

	t.Run("unknown probes", func(t *testing.T) {
		require.Nil(t, eng.GrabAndRemove(42))
		require.Nil(t, eng.Release(42))
		require.Nil(t, eng.GetIntersected(42))
	})
}

func TestEngineUnregisterProbe(t *testing.T) {
	scene := models.NewScene("unregister")
	e := addCube(scene, "E", mgl32.Vec3{0, 0, 3}, 0.5)

	var rec recorder
	eng := newTestEngine(scene, Options{
		ProbeLength: 5,
		ProbeRadius: 0.5,
		Listener:    rec.listener(),
	})

	p := eng.RegisterProbe(pointerAt(0, 0, 0))
	eng.Tick()
	require.Equal(t, e, eng.GetIntersected(p.ID))

	t.Run("pending exit is emitted", func(t *testing.T) {
		rec.reset()
		require.True(t, eng.UnregisterProbe(p.ID))
		require.Equal(t, []string{"exit(1,E)"}, rec.events)

		_, ok := eng.Probe(p.ID)
		require.False(t, ok)
		require.False(t, eng.UnregisterProbe(p.ID))
	})

	t.Run("grabbed entity is released", func(t *testing.T) {
		p := eng.RegisterProbe(pointerAt(0, 0, 0))
		eng.Tick()
		require.Equal(t, e, eng.GrabAndRemove(p.ID))
		require.False(t, eng.Indexed(e))

		require.True(t, eng.UnregisterProbe(p.ID))
		require.True(t, eng.Indexed(e))
		require.Empty(t, eng.Probes())
	})
}

func TestEngineRaycast(t *testing.T) {
	scene := models.NewScene("raycast")
	far := addCube(scene, "far", mgl32.Vec3{0, 0, 8}, 0.5)
	near := addCube(scene, "near", mgl32.Vec3{0, 0, 4}, 0.5)
	addCube(scene, "aside", mgl32.Vec3{3, 0, 4}, 0.5)

	eng := newTestEngine(scene, Options{})
	eng.Tick()

	ray := geometry.Ray{From: mgl32.Vec3{0, 0, 0}, To: mgl32.Vec3{0, 0, 10}}

	hit, d := eng.Raycast(ray)
	require.Equal(t, near, hit)
	require.InDelta(t, 0.35, d, 1e-5)

	hit, _ = eng.Raycast(ray, near.ID)
	require.Equal(t, far, hit)

	hit, d = eng.Raycast(geometry.Ray{From: mgl32.Vec3{0, 5, 0}, To: mgl32.Vec3{0, 5, 10}})
	require.Nil(t, hit)
	require.Equal(t, float32(-1), d)
}

func TestEngineSetCellSize(t *testing.T) {
	scene := models.NewScene("rebuild")
	for i := 0; i < 20; i++ {
		addCube(scene, fmt.Sprintf("cube-%d", i), mgl32.Vec3{float32(i) * 2, 0, 0}, 0.5)
	}

	eng := newTestEngine(scene, Options{CellSize: 1})
	eng.Tick()
	before := eng.DebugInfo()
	require.Equal(t, uint32(20), before.Index.EntityCount)

	eng.SetCellSize(8)
	after := eng.DebugInfo()
	require.Equal(t, float32(8), after.Index.CellSize)
	require.Equal(t, uint32(20), after.Index.EntityCount)
	require.Less(t, after.Index.CellCount, before.Index.CellCount)
	require.Len(t, eng.QuerySphere(mgl32.Vec3{10, 0, 0}, 0.1), 1)

	maxBounds, ok := eng.MaxBounds()
	require.True(t, ok)
	require.Equal(t, float32(-0.5), maxBounds.Min.X())
	require.Equal(t, float32(38.5), maxBounds.Max.X())
}

func TestEngineRun(t *testing.T) {
	scene := models.NewScene("run")
	addCube(scene, "cube", mgl32.Vec3{}, 0.5)

	eng := New(scene, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		eng.Run(ctx, time.Millisecond)
	}()

	require.Eventually(t, eng.Bootstrapped, time.Second, time.Millisecond)

	var n int
	err := eng.Do(context.Background(), func(e *Engine) {
		n = e.IndexLen()
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	t.Run("cancelled context", func(t *testing.T) {
		cctx, ccancel := context.WithCancel(context.Background())
		ccancel()

		err := eng.Do(cctx, func(e *Engine) {})
		if err != nil {
			require.True(t, errors.IsType(err, ErrTypeEngineStopped))
		}
	})

	cancel()
	<-stopped

	err = eng.Do(context.Background(), func(e *Engine) {})
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeEngineStopped))
}

func TestEngineDispatch(t *testing.T) {
	eng := newTestEngine(models.NewScene("dispatch"), Options{CommandQueueSize: 1})

	calls := 0
	eng.Dispatch(func(e *Engine) { calls++ })
	eng.Dispatch(func(e *Engine) { calls++ })

	eng.Tick()
	require.Equal(t, 1, calls)
}
