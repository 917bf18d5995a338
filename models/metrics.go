package models

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	sceneLabel = "scene"
)

var (
	sceneEntityCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scene_entity_count",
		Help: "The number of entities in a scene.",
	}, []string{sceneLabel})

	scenePointerCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scene_pointer_count",
		Help: "The number of pointer devices attached to a scene.",
	}, []string{sceneLabel})
)

func instrumentEntityGauge(scene string, delta float64) {
	sceneEntityCount.
		With(prometheus.Labels{sceneLabel: scene}).
		Add(delta)
}

func instrumentPointerGauge(scene string, delta float64) {
	scenePointerCount.
		With(prometheus.Labels{sceneLabel: scene}).
		Add(delta)
}
