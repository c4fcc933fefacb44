// Package exporters serves the collected metrics.
package exporters

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPHandler returns the Prometheus handler for every promauto-registered
// metric, with OpenMetrics negotiation enabled.
func HTTPHandler() http.Handler {
	return HandlerFor(prometheus.DefaultGatherer)
}

// HandlerFor serves the metrics of g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
