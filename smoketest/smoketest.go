package smoketest

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/kenaz/engine"
	"github.com/aukilabs/kenaz/geometry"
	"github.com/aukilabs/kenaz/intersection"
	"github.com/aukilabs/kenaz/models"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/segmentio/encoding/json"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	ErrTypeTimeout = "smoke-test-timeout"

	defaultEntities = 64
	defaultProbes   = 4
	defaultTimeout  = 5 * time.Second

	entitySpacing = 2
	maxEntities   = 10000
	maxProbes     = 64
)

// Request describes a smoke test run on a private engine.
type Request struct {
	Entities    int           `json:"entities"`
	Probes      int           `json:"probes"`
	CellSize    float32       `json:"cell_size"`
	FrameBudget time.Duration `json:"frame_budget"`
	Timeout     time.Duration `json:"timeout"`
}

func (r *Request) setDefaults() {
	if r.Entities <= 0 {
		r.Entities = defaultEntities
	}
	if r.Entities > maxEntities {
		r.Entities = maxEntities
	}
	if r.Probes <= 0 {
		r.Probes = defaultProbes
	}
	if r.Probes > maxProbes {
		r.Probes = maxProbes
	}
	if r.Timeout <= 0 {
		r.Timeout = defaultTimeout
	}
}

// Results summarizes a smoke test run.
type Results struct {
	Status         string  `json:"status"`
	Entities       int     `json:"entities"`
	Probes         int     `json:"probes"`
	BootstrapTicks int     `json:"bootstrap_ticks"`
	SweepTicks     int     `json:"sweep_ticks"`
	Enters         int     `json:"enters"`
	Exits          int     `json:"exits"`
	Indexed        int     `json:"indexed"`
	DurationMS     float64 `json:"duration_ms"`
	Error          string  `json:"error,omitempty"`
}

type Options struct {
	// The engine options used as a base for every run.
	Engine engine.Options

	SendResult func(context.Context, Results) error
}

type testCtxKey string

var testCtxKeyValue testCtxKey = "test-context"

type testContext struct {
	context.Context
	Cancel func()
}

// HandleSmokeTest starts a smoke test in the background and answers
// immediately. Results are reported with opts.SendResult.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			logs.Error(errors.New("reading body failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req Request
		if len(b) != 0 {
			if err := json.Unmarshal(b, &req); err != nil {
				logs.Debug(errors.New("invalid smoke test request").Wrap(err))
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}

		go func() {
			defer func() {
				// Signals tests that the run is over.
				if tctx := ctx.Value(testCtxKeyValue); tctx != nil {
					testCtx := tctx.(testContext)
					if testCtx.Cancel != nil {
						testCtx.Cancel()
					}
				}
			}()

			res, err := Run(ctx, opts.Engine, req)
			if err != nil {
				logs.Warn(err)
			}

			if opts.SendResult == nil {
				return
			}
			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("status", res.Status).
					Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}()

		w.WriteHeader(http.StatusAccepted)
	}
}

// Run builds a synthetic scene with a row of cubes, bootstraps a private
// engine over it and sweeps probes across the row. The run fails when the
// index or the probe transitions are not consistent with the scene.
func Run(ctx context.Context, base engine.Options, req Request) (Results, error) {
	req.setDefaults()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	res := Results{
		Status:   StatusFailed,
		Entities: req.Entities,
		Probes:   req.Probes,
	}

	scene := models.NewScene("smoke-test")
	for i := 0; i < req.Entities; i++ {
		scene.AddEntity(models.NewEntity(scene.NewEntityID(), "cube", geometry.NewBoundsFromCenter(
			mgl32.Vec3{float32(i * entitySpacing), 0, 2},
			mgl32.Vec3{0.5, 0.5, 0.5},
		)))
	}

	opts := base
	opts.DisableBootstrap = false
	opts.Exclude = nil
	opts.Clock = nil
	opts.Listener = intersection.ListenerFuncs{
		Enter: func(*intersection.Probe, *models.Entity) { res.Enters++ },
		Exit:  func(*intersection.Probe, *models.Entity) { res.Exits++ },
	}
	if req.CellSize > 0 {
		opts.CellSize = req.CellSize
	}
	if req.FrameBudget > 0 {
		opts.FrameBudget = req.FrameBudget
	}

	eng := engine.New(scene, opts)

	fail := func(err error) (Results, error) {
		res.DurationMS = float64(time.Since(start)) / float64(time.Millisecond)
		res.Error = err.Error()
		return res, err
	}

	for !eng.Bootstrapped() {
		if err := ctx.Err(); err != nil {
			return fail(errors.New("bootstrap timed out").
				WithType(ErrTypeTimeout).
				WithTag("ticks", res.BootstrapTicks).
				Wrap(err))
		}

		eng.Tick()
		res.BootstrapTicks++
	}

	res.Indexed = eng.IndexLen()
	if res.Indexed != req.Entities {
		return fail(errors.New("bootstrap indexed an unexpected number of entities").
			WithTag("expected", req.Entities).
			WithTag("indexed", res.Indexed))
	}

	pointers := make([]*models.Pointer, req.Probes)
	probes := make([]*intersection.Probe, req.Probes)
	for i := range pointers {
		pointers[i] = &models.Pointer{ID: scene.NewPointerID()}
		scene.AddPointer(pointers[i])
		probes[i] = eng.RegisterProbe(pointers[i])
	}

	// Every probe starts in front of its own cube and walks the row one cube
	// per tick until it leaves it.
	for step := 0; step <= req.Entities; step++ {
		if err := ctx.Err(); err != nil {
			return fail(errors.New("probe sweep timed out").
				WithType(ErrTypeTimeout).
				WithTag("step", step).
				Wrap(err))
		}

		for i, p := range pointers {
			x := float32((i + step) * entitySpacing)
			p.SetTransform(mgl32.Translate3D(x, 0, 0))
		}

		eng.Tick()
		res.SweepTicks++
	}

	if res.Enters == 0 || res.Enters != res.Exits {
		return fail(errors.New("unbalanced probe transitions").
			WithTag("enters", res.Enters).
			WithTag("exits", res.Exits))
	}

	if err := checkGrab(eng, pointers[0], probes[0], req.Entities); err != nil {
		return fail(err)
	}

	res.Indexed = eng.IndexLen()
	res.Status = StatusSuccess
	res.DurationMS = float64(time.Since(start)) / float64(time.Millisecond)
	return res, nil
}

// checkGrab points the probe at the first cube, grabs it and releases it,
// verifying that the index follows.
func checkGrab(eng *engine.Engine, pointer *models.Pointer, probe *intersection.Probe, entities int) error {
	pointer.SetTransform(mgl32.Ident4())
	eng.Tick()

	if eng.GetIntersected(probe.ID) == nil {
		return errors.New("probe does not intersect the first cube")
	}

	grabbed := eng.GrabAndRemove(probe.ID)
	if grabbed == nil || eng.Indexed(grabbed) || eng.IndexLen() != entities-1 {
		return errors.New("grabbed entity is still indexed").
			WithTag("indexed", eng.IndexLen())
	}

	if eng.Release(probe.ID) != grabbed || !eng.Indexed(grabbed) {
		return errors.New("released entity is not indexed").
			WithTag("indexed", eng.IndexLen())
	}
	return nil
}
