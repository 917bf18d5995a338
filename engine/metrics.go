package engine

import (
	"time"

	"github.com/aukilabs/kenaz/spatial"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	sceneLabel = "scene"
)

var (
	engineFrameLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_frame_latency",
		Help:    "The time to process an engine frame.",
		Buckets: []float64{.0005, .001, .002, .005, .01, .02, .05, .1},
	}, []string{sceneLabel})

	engineDroppedCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_dropped_commands",
		Help: "The number of commands dropped because the engine queue was full.",
	}, []string{sceneLabel})

	indexEntityCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "index_entity_count",
		Help: "The number of indexed entities.",
	}, []string{sceneLabel})

	indexCellCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "index_cell_count",
		Help: "The number of occupied grid cells.",
	}, []string{sceneLabel})

	indexOversizedCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "index_oversized_count",
		Help: "The number of indexed entities too large to be bucketed.",
	}, []string{sceneLabel})

	indexRebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "index_rebuilds",
		Help: "The number of full index rebuilds.",
	}, []string{sceneLabel})
)

func instrumentFrame(scene string, d time.Duration, info spatial.SpatialDebugInfo) {
	labels := prometheus.Labels{sceneLabel: scene}

	engineFrameLatency.With(labels).Observe(d.Seconds())
	indexEntityCount.With(labels).Set(float64(info.EntityCount))
	indexCellCount.With(labels).Set(float64(info.CellCount))
	indexOversizedCount.With(labels).Set(float64(info.OversizedCount))
}

func instrumentDroppedCommand(scene string) {
	engineDroppedCommands.
		With(prometheus.Labels{sceneLabel: scene}).
		Inc()
}

func instrumentRebuild(scene string) {
	indexRebuilds.
		With(prometheus.Labels{sceneLabel: scene}).
		Inc()
}
