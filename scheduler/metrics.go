package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	schedulerLabel = "scheduler"
	taskLabel      = "task"
	statusLabel    = "status"
)

var (
	schedulerTickLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_tick_latency",
		Help:    "The time spent running tasks in a scheduler tick.",
		Buckets: []float64{.0005, .001, .002, .005, .01, .02, .05, .1},
	}, []string{schedulerLabel})

	schedulerTaskSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_task_steps",
		Help: "The number of task steps by outcome.",
	}, []string{
		schedulerLabel,
		taskLabel,
		statusLabel,
	})

	schedulerProcessedItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_processed_items",
		Help: "The number of work units processed by tasks.",
	}, []string{
		schedulerLabel,
		taskLabel,
	})
)

func instrumentTick(scheduler string, d time.Duration) {
	schedulerTickLatency.
		With(prometheus.Labels{schedulerLabel: scheduler}).
		Observe(d.Seconds())
}

func instrumentStep(scheduler, task string, status Status, items int) {
	schedulerTaskSteps.
		With(prometheus.Labels{
			schedulerLabel: scheduler,
			taskLabel:      task,
			statusLabel:    status.String(),
		}).
		Inc()

	schedulerProcessedItems.
		With(prometheus.Labels{
			schedulerLabel: scheduler,
			taskLabel:      task,
		}).
		Add(float64(items))
}
