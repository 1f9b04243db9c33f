// metrics exposes engine and HTTP observations to Prometheus
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lloydmeta/datahub/internal/domain/storage"
)

const namespace = "datahub"

// Engine is a storage.Metrics backed by Prometheus collectors
type Engine struct {
	writes           *prometheus.CounterVec
	writeDuration    *prometheus.HistogramVec
	reads            *prometheus.CounterVec
	readDuration     *prometheus.HistogramVec
	keysLookups      *prometheus.CounterVec
	consolidations   *prometheus.CounterVec
	consolidatedKeys *prometheus.CounterVec
}

// NewEngine registers the engine collectors on registerer
func NewEngine(registerer prometheus.Registerer) *Engine {
	factory := promauto.With(registerer)
	return &Engine{
		writes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "content",
				Name:      "writes_total",
				Help:      "Content writes by outcome",
			},
			[]string{"channel", "outcome"},
		),
		writeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "content",
				Name:      "write_duration_seconds",
				Help:      "Time taken to generate a key, store and index content",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"channel"},
		),
		reads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "content",
				Name:      "reads_total",
				Help:      "Content reads by whether anything was found",
			},
			[]string{"channel", "found"},
		),
		readDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "content",
				Name:      "read_duration_seconds",
				Help:      "Time taken to read content by key",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"channel"},
		),
		keysLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "time_index",
				Name:      "lookups_total",
				Help:      "Minute bucket key lookups by the index that answered",
			},
			[]string{"channel", "source"},
		),
		consolidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "time_index",
				Name:      "consolidations_total",
				Help:      "Consolidated index writes by outcome",
			},
			[]string{"channel", "outcome"},
		),
		consolidatedKeys: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "time_index",
				Name:      "consolidated_keys_total",
				Help:      "Keys written into consolidated indices",
			},
			[]string{"channel"},
		),
	}
}

func (e *Engine) ObserveWrite(channel string, took time.Duration, err error) {
	e.writes.WithLabelValues(channel, outcome(err)).Inc()
	e.writeDuration.WithLabelValues(channel).Observe(took.Seconds())
}

func (e *Engine) ObserveRead(channel string, took time.Duration, found bool) {
	e.reads.WithLabelValues(channel, strconv.FormatBool(found)).Inc()
	e.readDuration.WithLabelValues(channel).Observe(took.Seconds())
}

func (e *Engine) ObserveKeysLookup(channel string, source storage.KeysSource) {
	e.keysLookups.WithLabelValues(channel, string(source)).Inc()
}

func (e *Engine) ObserveConsolidation(channel string, keys int, err error) {
	e.consolidations.WithLabelValues(channel, outcome(err)).Inc()
	if err == nil {
		e.consolidatedKeys.WithLabelValues(channel).Add(float64(keys))
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// HTTP counts requests and times them, labelled by route rather than raw
// path so that keys do not blow up cardinality
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTP(registerer prometheus.Registerer) *HTTP {
	factory := promauto.With(registerer)
	return &HTTP{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "route", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route"},
		),
	}
}

func (h *HTTP) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		h.requests.WithLabelValues(c.Request.Method, route, status).Inc()
		h.duration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

var _ storage.Metrics = (*Engine)(nil)
