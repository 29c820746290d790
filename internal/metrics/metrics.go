package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ReconcilerTicks counts completed reconciler ticks
	ReconcilerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gpuctl_reconciler_ticks_total",
		Help: "Completed reconciler ticks",
	})

	// Launches counts successful VM launches by path (immediate or queued)
	Launches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpuctl_launches_total",
		Help: "Successful VM launches",
	}, []string{"path"})

	// Terminations counts VM terminations by reason
	Terminations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpuctl_terminations_total",
		Help: "VM terminations",
	}, []string{"reason"})

	// QueueDepth is the number of queued launch requests at the last tick
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gpuctl_launch_queue_depth",
		Help: "Queued launch requests observed by the last tick",
	})
)

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}
