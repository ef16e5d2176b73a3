package metricsvc

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/campus/core/entitycache"
)

const namespace = "campus"

// CacheCollector exports the entity cache activity to Prometheus.
type CacheCollector struct {
	gatherer prometheus.Gatherer

	pending       *prometheus.GaugeVec
	flushes       *prometheus.CounterVec
	flushedRows   *prometheus.CounterVec
	flushDuration *prometheus.HistogramVec
	droppedRows   *prometheus.CounterVec
}

var _ entitycache.Metrics = (*CacheCollector)(nil) // interface compliance check

// NewCacheCollector registers the cache metrics in a new registry, along with the Go & process collectors.
func NewCacheCollector() *CacheCollector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newCacheCollector(reg, reg)
}

func newCacheCollector(reg prometheus.Registerer, gatherer prometheus.Gatherer) *CacheCollector {
	factory := promauto.With(reg)
	return &CacheCollector{
		gatherer: gatherer,
		pending: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_pending_entities",
				Help:      "Number of entities waiting to be flushed",
			},
			[]string{"table"},
		),
		flushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_flushes_total",
				Help:      "Total number of flush statements executed",
			},
			[]string{"table", "status"},
		),
		flushedRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_flushed_rows_total",
				Help:      "Total number of rows successfully written",
			},
			[]string{"table"},
		),
		flushDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_flush_duration_seconds",
				Help:      "Flush statement duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"table"},
		),
		droppedRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_dropped_rows_total",
				Help:      "Total number of entities lost by failed scheduled flushes",
			},
			[]string{"table"},
		),
	}
}

func (c *CacheCollector) SetPending(table string, n int) {
	c.pending.WithLabelValues(table).Set(float64(n))
}

func (c *CacheCollector) ObserveFlush(table string, rows int, took time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	} else {
		c.flushedRows.WithLabelValues(table).Add(float64(rows))
	}
	c.flushes.WithLabelValues(table, status).Inc()
	c.flushDuration.WithLabelValues(table).Observe(took.Seconds())
}

func (c *CacheCollector) AddDropped(table string, n int) {
	c.droppedRows.WithLabelValues(table).Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *CacheCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
