package monitor

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"scope-service/internal/model"
)

// Metrics holds the instrument metrics. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry
	logger   *zap.Logger

	// connection metrics
	Connected   prometheus.Gauge
	Connections prometheus.Counter

	// exchange metrics
	Exchanges        *prometheus.CounterVec
	ExchangeDuration *prometheus.HistogramVec
	BytesSent        prometheus.Counter
	BytesReceived    prometheus.Counter

	// operation metrics
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// http metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// runtime metrics
	GoroutineCount prometheus.Gauge
	MemoryUsage    prometheus.Gauge
}

// NewMetrics creates the metrics and registers them on a fresh registry
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logger:   logger,

		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scope_connected",
			Help: "1 while the instrument connection is open",
		}),
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scope_connections_total",
			Help: "Instrument connections opened",
		}),

		Exchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scope_exchanges_total",
				Help: "Command/response exchanges by kind and result",
			},
			[]string{"kind", "result"},
		),
		ExchangeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scope_exchange_duration_seconds",
				Help:    "Exchange duration",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scope_bytes_sent_total",
			Help: "Command bytes written including terminators",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scope_bytes_received_total",
			Help: "Reply bytes read",
		}),

		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scope_operations_total",
				Help: "Instrument operations by name and result",
			},
			[]string{"operation", "result"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scope_operation_duration_seconds",
				Help:    "Instrument operation duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scope_http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scope_http_request_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		GoroutineCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scope_goroutines",
			Help: "Current goroutine count",
		}),
		MemoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scope_memory_usage_bytes",
			Help: "Allocated heap bytes",
		}),
	}

	m.registry.MustRegister(
		m.Connected,
		m.Connections,
		m.Exchanges,
		m.ExchangeDuration,
		m.BytesSent,
		m.BytesReceived,
		m.Operations,
		m.OperationDuration,
		m.HTTPRequests,
		m.HTTPRequestDuration,
		m.GoroutineCount,
		m.MemoryUsage,
	)

	return m
}

// Handler exposes the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetConnected updates the connection gauge
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.Connected.Set(1)
		m.Connections.Inc()
		return
	}
	m.Connected.Set(0)
}

// ObserveExchange records one exchange; kind is "command" or "query"
func (m *Metrics) ObserveExchange(kind string, sent, received int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.Exchanges.WithLabelValues(kind, Result(err)).Inc()
	m.ExchangeDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.BytesSent.Add(float64(sent))
	m.BytesReceived.Add(float64(received))
}

// ObserveOperation records one instrument operation
func (m *Metrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, Result(err)).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one served request. route is the matched
// pattern, never the raw path.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Result maps an error to a metric label
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrTimeout):
		return "timeout"
	case errors.Is(err, model.ErrParse):
		return "parse_error"
	case errors.Is(err, model.ErrDecode):
		return "decode_error"
	case errors.Is(err, model.ErrTransport):
		return "transport_error"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// StartRuntimeMonitor samples runtime gauges until ctx is done
func (m *Metrics) StartRuntimeMonitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sampleRuntime()
			}
		}
	}()
}

func (m *Metrics) sampleRuntime() {
	goroutines := runtime.NumGoroutine()
	m.GoroutineCount.Set(float64(goroutines))

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.MemoryUsage.Set(float64(memStats.Alloc))

	m.logger.Debug("Runtime sample",
		zap.Int("goroutines", goroutines),
		zap.Float64("memory_mb", float64(memStats.Alloc)/1024/1024),
	)
}
