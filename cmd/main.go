package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/kenaz/engine"
	"github.com/aukilabs/kenaz/featureflag"
	"github.com/aukilabs/kenaz/geometry"
	kenazhttp "github.com/aukilabs/kenaz/http"
	"github.com/aukilabs/kenaz/intersection"
	"github.com/aukilabs/kenaz/models"
	"github.com/aukilabs/kenaz/smoketest"
	kwebsocket "github.com/aukilabs/kenaz/websocket"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The Kenaz version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "kenaz_info",
		Help:        "Kenaz information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"KENAZ_ADDR"                 help:"Listening address for client connections."`
	AdminAddr          string        `cli:""        env:"KENAZ_ADMIN_ADDR"           help:"Admin listening address."`
	PublicEndpoint     string        `cli:""        env:"KENAZ_PUBLIC_ENDPOINT"      help:"The public endpoint where this Kenaz server is reachable."`
	APIToken           string        `cli:""        env:"KENAZ_API_TOKEN"            help:"The token required to modify the scene and to connect pointers. Empty disables authentication."`
	APITokenFile       string        `cli:""        env:"KENAZ_API_TOKEN_FILE"       help:"The file that contains the API token."`
	LogLevel           string        `cli:""        env:"KENAZ_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"KENAZ_LOG_INDENT"           help:"Indent logs."`
	ClientIdleTimeout  time.Duration `cli:",hidden" env:"KENAZ_CLIENT_IDLE_TIMEOUT"  help:"Time until an idle pointer client will be disconnected."`
	FrameDuration      time.Duration `cli:",hidden" env:"KENAZ_FRAME_DURATION"       help:"The duration of an engine frame."`
	ShutdownTimeout    time.Duration `cli:",hidden" env:"KENAZ_SHUTDOWN_TIMEOUT"     help:"The time servers get to close their connections on shutdown."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"KENAZ_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
	StayEvents         bool          `cli:",hidden" env:"KENAZ_STAY_EVENTS"          help:"Sends stay events to pointer clients."`
	DemoEntities       int           `cli:",hidden" env:"KENAZ_DEMO_ENTITIES"        help:"The number of random boxes added to the scene at startup."`
	Index              indexConfig   `cli:",hidden" env:"-"                          help:"Spatial index configuration."`
	Probe              probeConfig   `cli:",hidden" env:"-"                          help:"Probe configuration."`
	Events             eventsConfig  `cli:",hidden" env:"-"                          help:"Event pusher configuration."`
	FeatureFlags       []string      `cli:",hidden" env:"KENAZ_FEATURE_FLAGS"        help:"Comma separated feature flags."`
	Version            bool          `cli:""        env:"-"                          help:"Show version."`
	Help               bool          `cli:""        env:"-"                          help:"Show help."`
}

type indexConfig struct {
	CellSize         float64       `cli:",hidden" env:"KENAZ_INDEX_CELL_SIZE"         help:"The edge length of a grid cell."`
	WorldExtent      float64       `cli:",hidden" env:"KENAZ_INDEX_WORLD_EXTENT"      help:"The size of the world."`
	OversizeFraction float64       `cli:",hidden" env:"KENAZ_INDEX_OVERSIZE_FRACTION" help:"The fraction of the world size above which entities are not bucketed in cells."`
	FrameBudget      time.Duration `cli:",hidden" env:"KENAZ_INDEX_FRAME_BUDGET"      help:"The time a frame may spend synchronizing the index."`
	MinSlice         time.Duration `cli:",hidden" env:"KENAZ_INDEX_MIN_SLICE"         help:"The minimum time a synchronization task runs before yielding on its chunk size."`
	ChunkSize        int           `cli:",hidden" env:"KENAZ_INDEX_CHUNK_SIZE"        help:"The number of entities a synchronization task processes before it may yield. 0 disables chunking."`
}

type probeConfig struct {
	Length   float64 `cli:",hidden" env:"KENAZ_PROBE_LENGTH"    help:"The length of pointer probes."`
	Radius   float64 `cli:",hidden" env:"KENAZ_PROBE_RADIUS"    help:"The end radius of pointer probes."`
	RayCount int     `cli:",hidden" env:"KENAZ_PROBE_RAY_COUNT" help:"The number of rim rays used with the PROBE_RAY_TEST feature flag."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"KENAZ_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"KENAZ_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"KENAZ_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"KENAZ_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:               ":4100",
		AdminAddr:          ":18290",
		PublicEndpoint:     "http://localhost:4100",
		LogLevel:           logs.InfoLevel.String(),
		ClientIdleTimeout:  time.Minute * 5,
		FrameDuration:      time.Millisecond * 15,
		ShutdownTimeout:    kenazhttp.DefaultShutdownTimeout,
		LogSummaryInterval: time.Minute,
		Index: indexConfig{
			CellSize:         engine.DefaultCellSize,
			WorldExtent:      engine.DefaultWorldExtent,
			OversizeFraction: engine.DefaultOversizeFraction,
			FrameBudget:      time.Millisecond * 5,
			MinSlice:         time.Millisecond,
		},
		Probe: probeConfig{
			Length:   engine.DefaultProbeLength,
			Radius:   engine.DefaultProbeRadius,
			RayCount: intersection.DefaultRayCount,
		},
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts Kenaz server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	apiToken, err := loadAPIToken(conf)
	if err != nil {
		logs.Fatal(errors.New("error loading api token").Wrap(err))
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "kenaz",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	flags := featureflag.New(conf.FeatureFlags)
	if unknown := flags.Unknown(); len(unknown) != 0 {
		logs.Warn(errors.New("unknown feature flags").
			WithTag("flags", unknown))
	}

	scene := models.NewScene("main")
	addDemoEntities(scene, conf.DemoEntities, float32(conf.Index.WorldExtent))

	router := &kwebsocket.Router{StayEvents: conf.StayEvents}
	opts := engineOptions(conf, flags)
	opts.Listener = intersection.ListenerWithMetrics(intersection.ListenerWithLogs(router))

	eng := engine.New(scene, opts)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx, conf.FrameDuration)
	}()

	var service http.ServeMux
	service.Handle("/health", kenazhttp.HandleWithCORS(http.HandlerFunc(kenazhttp.HandleHealthCheck)))
	service.Handle("/version", kenazhttp.HandleWithCORS(http.HandlerFunc(kenazhttp.HandleVersion(version))))
	service.Handle("/ready", kenazhttp.HandleWithCORS(http.HandlerFunc(kenazhttp.HandleReadyCheck(eng.Bootstrapped))))

	api := kenazhttp.API{
		Engine: eng,
		Token:  apiToken,
	}
	api.Register(&service)

	smokeTestOpts := engineOptions(conf, flags)
	service.HandleFunc("POST /smoke-test", kenazhttp.VerifyAuthTokenHandler(apiToken, smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Engine: smokeTestOpts,
		SendResult: func(ctx context.Context, res smoketest.Results) error {
			logs.WithTag("results", res).Info("smoke test completed")
			return nil
		},
	})))

	service.Handle("/", kenazhttp.HandleWithCORS(websocket.Server{
		Handshake: kenazhttp.VerifyAuthToken(apiToken),
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var ph kwebsocket.Handler = &kwebsocket.PointerHandler{
				Engine:            eng,
				Router:            router,
				ClientIdleTimeout: conf.ClientIdleTimeout,
			}
			h := kwebsocket.HandlerWithLogs(ph, conf.LogSummaryInterval)
			h = kwebsocket.HandlerWithMetrics(h, conf.PublicEndpoint)
			defer h.Close()

			kwebsocket.Handle(ctx, conn, h)
		},
	}))

	service.Handle("/ping", websocket.Server{
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()
			io.Copy(ws, ws)
		},
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", kenazhttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", kenazhttp.HandleReadyCheck(eng.Bootstrapped))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("engine_id", eng.ID).
		WithTag("auth", apiToken != "").
		Info("starting kenaz server")

	err = kenazhttp.ListenAndServe(ctx, conf.ShutdownTimeout,
		kenazhttp.Server{
			Name: "service",
			Server: &http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
				kenazhttp.MetricsPathFormatter)},
		},
		kenazhttp.Server{
			Name:   "admin",
			Server: &http.Server{Addr: conf.AdminAddr, Handler: &admin},
		},
	)

	cancel()
	wg.Wait()

	if err != nil {
		logs.Fatal(errors.New("kenaz server stopped").
			WithTag(engine.EngineIDTag, eng.ID).
			WithTag("scene", scene.Name).
			Wrap(err))
	}
}

func engineOptions(conf config, flags featureflag.FeatureFlag) engine.Options {
	opts := engine.Options{
		CellSize:         float32(conf.Index.CellSize),
		WorldExtent:      float32(conf.Index.WorldExtent),
		OversizeFraction: float32(conf.Index.OversizeFraction),
		FrameBudget:      conf.Index.FrameBudget,
		MinSlice:         conf.Index.MinSlice,
		ChunkSize:        conf.Index.ChunkSize,
		ProbeLength:      float32(conf.Probe.Length),
		ProbeRadius:      float32(conf.Probe.Radius),
		RayCount:         conf.Probe.RayCount,
		DeactivateOnGrab: flags.IsSet(featureflag.FlagDeactivateProbeOnGrab),
		ResolveStatic:    flags.IsSet(featureflag.FlagResolveStaticProbes),
		DisableBootstrap: flags.IsSet(featureflag.FlagDisableBootstrap),
	}

	flags.IfSet(featureflag.FlagProbeRayTest, func() {
		opts.Policy = intersection.TestRays
	})
	return opts
}

// addDemoEntities fills the scene with random boxes spread over the center
// of the world.
func addDemoEntities(scene *models.Scene, n int, worldExtent float32) {
	if n <= 0 {
		return
	}

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	spread := worldExtent / 10

	for i := 0; i < n; i++ {
		center := mgl32.Vec3{
			(rnd.Float32()*2 - 1) * spread,
			(rnd.Float32()*2 - 1) * spread,
			(rnd.Float32()*2 - 1) * spread,
		}
		extents := mgl32.Vec3{
			0.1 + rnd.Float32(),
			0.1 + rnd.Float32(),
			0.1 + rnd.Float32(),
		}

		scene.AddEntity(models.NewEntity(
			scene.NewEntityID(),
			fmt.Sprintf("demo-%d", i),
			geometry.NewBoundsFromCenter(center, extents),
		))
	}

	logs.WithTag("scene", scene.Name).
		WithTag("entities", n).
		Info("demo entities added")
}

func loadAPIToken(conf config) (string, error) {
	token := conf.APIToken

	if len(conf.APITokenFile) != 0 {
		b, err := os.ReadFile(conf.APITokenFile)
		if err != nil {
			return "", errors.New("error loading api token from file").
				WithTag("file_name", conf.APITokenFile).
				Wrap(err)
		}
		token = string(b)
	}

	return strings.TrimSpace(token), nil
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if len(conf.APIToken) != 0 &&
		len(conf.APITokenFile) != 0 {
		return errors.New("have to specify either api token or api token file, not both")
	}

	if conf.FrameDuration <= 0 {
		return errors.New("frame duration must be positive").
			WithTag("frame_duration", conf.FrameDuration)
	}

	if conf.Index.CellSize <= 0 {
		return errors.New("cell size must be positive").
			WithTag("cell_size", conf.Index.CellSize)
	}

	if conf.Index.OversizeFraction <= 0 || conf.Index.OversizeFraction > 1 {
		return errors.New("oversize fraction must be in ]0, 1]").
			WithTag("oversize_fraction", conf.Index.OversizeFraction)
	}

	return nil
}
