package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"laundry-sync-backend/internal/event"
	"laundry-sync-backend/internal/model"
)

// Metrics owns the daemon's prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	// EventsTotal counts committed domain events by kind.
	EventsTotal *prometheus.CounterVec
	// MachinesByStatus tracks how many machines sit in each status.
	MachinesByStatus *prometheus.GaugeVec
	// AlertDeliveries counts external alert attempts. status: success/failed
	AlertDeliveries *prometheus.CounterVec
	// RecorderDropped counts events the recorder had no room for.
	RecorderDropped prometheus.Counter
	// SlowConsumers counts observers closed for falling behind.
	SlowConsumers prometheus.Counter
	// RequestLatency records HTTP handler latency.
	RequestLatency *prometheus.HistogramVec

	mu       sync.Mutex
	statuses map[int64]model.MachineStatus
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "laundry_events_total",
				Help: "Total number of committed domain events.",
			},
			[]string{"kind"},
		),
		MachinesByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "laundry_machines",
				Help: "Number of machines per status.",
			},
			[]string{"status"},
		),
		AlertDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "laundry_alert_deliveries_total",
				Help: "Total number of alert deliveries to external sinks.",
			},
			[]string{"sink", "status"},
		),
		RecorderDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "laundry_recorder_dropped_total",
			Help: "Events dropped because the persistence queue was full.",
		}),
		SlowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "laundry_sync_slow_consumers_total",
			Help: "Sync connections closed because their send buffer was full.",
		}),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "laundry_http_request_duration_seconds",
				Help:    "Latency of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "code"},
		),
		statuses: make(map[int64]model.MachineStatus),
	}

	m.registry.MustRegister(
		m.EventsTotal,
		m.MachinesByStatus,
		m.AlertDeliveries,
		m.RecorderDropped,
		m.SlowConsumers,
		m.RequestLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveConnections registers a gauge that reads the live observer count.
func (m *Metrics) ObserveConnections(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "laundry_sync_connections",
			Help: "Number of handshaken sync observers.",
		},
		func() float64 { return float64(count()) },
	))
}

// Seed sets the status gauges from the boot snapshot.
func (m *Metrics) Seed(machines []model.Machine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, machine := range machines {
		m.statuses[machine.ID] = machine.Status
	}
	m.refreshLocked()
}

// Handle implements event.Handler.
func (m *Metrics) Handle(e event.Event) {
	m.EventsTotal.WithLabelValues(string(e.Kind)).Inc()
	if len(e.Machines) == 0 || e.Kind == event.MachineTicked {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, machine := range e.Machines {
		m.statuses[machine.ID] = machine.Status
	}
	m.refreshLocked()
}

func (m *Metrics) refreshLocked() {
	counts := make(map[model.MachineStatus]int)
	for _, status := range m.statuses {
		counts[status]++
	}
	for _, status := range []model.MachineStatus{
		model.StatusAvailable, model.StatusInUse, model.StatusCompleted,
		model.StatusAwaitingCollection, model.StatusDisabled,
	} {
		m.MachinesByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// Delivered records one alert attempt; it matches the worker pool callback.
func (m *Metrics) Delivered(sink string, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	m.AlertDeliveries.WithLabelValues(sink, status).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request latency per route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestLatency.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
