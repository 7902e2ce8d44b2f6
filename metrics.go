package main

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the channel engine. Names follow the teacher's
// ws_ prefix convention (ws/metrics.go) adapted to this domain: connections,
// fan-out frames, presence, and the bus replace Kafka/replay-buffer metrics.
var (
	metricConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_connections_total",
		Help: "Total WebSocket connections established",
	})

	metricConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	metricConnectionsMax = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_max",
		Help: "Maximum allowed WebSocket connections",
	})

	metricConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_connections_rejected_total",
		Help: "Connection attempts rejected before upgrade, by reason",
	}, []string{"reason"})

	metricDisconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_disconnects_total",
		Help: "Disconnections by reason",
	}, []string{"reason"})

	metricConnectionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ws_connection_duration_seconds",
		Help:    "Connection lifetime before disconnect",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
	}, []string{"reason"})

	metricMessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_messages_sent_total",
		Help: "Total frames sent to clients",
	})

	metricMessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_messages_received_total",
		Help: "Total frames received from clients",
	})

	metricBytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_bytes_sent_total",
		Help: "Total bytes written to client sockets",
	})

	metricBytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_bytes_received_total",
		Help: "Total bytes read from client sockets",
	})

	metricSlowConsumersDisconnected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_slow_consumers_disconnected_total",
		Help: "Connections disconnected for three consecutive full-queue sends",
	})

	metricInboundRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_inbound_rate_limited_total",
		Help: "Inbound frames dropped by the per-connection rate limiter",
	})

	metricSubscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_subscriptions_active",
		Help: "Current channel subscriptions across all connections",
	})

	metricPresenceJoins = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_presence_joins_total",
		Help: "Presence channel joins that added a new member (member_added emitted)",
	})

	metricPresenceLeaves = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_presence_leaves_total",
		Help: "Presence channel leaves that removed the last socket for a member",
	})

	metricBusPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_bus_published_total",
		Help: "Envelopes published to the bus by POST /api/broadcast (presence events are not counted)",
	})

	metricBusReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_bus_reconnects_total",
		Help: "Bus client reconnect events",
	})

	metricBusConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_bus_connected",
		Help: "Bus connection status, 1 = connected",
	})

	metricPublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ws_publish_latency_seconds",
		Help:    "POST /api/broadcast handler latency",
		Buckets: prometheus.DefBuckets,
	})

	metricWorkerQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_worker_queue_depth",
		Help: "Tasks waiting in the fan-out worker pool queue",
	})

	metricWorkerQueueCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_worker_queue_capacity",
		Help: "Capacity of the fan-out worker pool queue",
	})

	metricWorkerDroppedTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_worker_dropped_tasks_total",
		Help: "Fan-out tasks the full worker queue rejected (the dispatcher runs them inline)",
	})

	metricMemoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_memory_bytes",
		Help: "Process memory usage (runtime.MemStats.Alloc)",
	})

	metricMemoryLimitBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_memory_limit_bytes",
		Help: "Memory limit read from cgroup, 0 if undetected",
	})

	metricCPUUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_cpu_usage_percent",
		Help: "Process CPU usage percentage",
	})

	metricGoroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_goroutines_active",
		Help: "Current goroutine count",
	})

	metricErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_errors_total",
		Help: "Errors by type and severity",
	}, []string{"type", "severity"})
)

func init() {
	prometheus.MustRegister(
		metricConnectionsTotal, metricConnectionsActive, metricConnectionsMax,
		metricConnectionsRejected, metricDisconnectsTotal, metricConnectionDuration,
		metricMessagesSent, metricMessagesReceived, metricBytesSent, metricBytesReceived,
		metricSlowConsumersDisconnected, metricInboundRateLimited, metricSubscriptionsActive,
		metricPresenceJoins, metricPresenceLeaves,
		metricBusPublished, metricBusReconnects, metricBusConnected, metricPublishLatency,
		metricWorkerQueueDepth, metricWorkerQueueCapacity, metricWorkerDroppedTasks,
		metricMemoryUsageBytes, metricMemoryLimitBytes, metricCPUUsagePercent, metricGoroutinesActive,
		metricErrorsTotal,
	)
}

// Error severity levels, used alongside metricErrorsTotal and structured logs.
const (
	ErrorSeverityWarning  = "warning"
	ErrorSeverityCritical = "critical"
	ErrorSeverityFatal    = "fatal"
)

// Error type categories.
const (
	ErrorTypeBus        = "bus"
	ErrorTypePresence   = "presence"
	ErrorTypeDispatch   = "dispatch"
	ErrorTypeConnection = "connection"
)

func RecordError(errorType, severity string) {
	metricErrorsTotal.WithLabelValues(errorType, severity).Inc()
}

// MetricsCollector periodically samples process and worker pool state into
// the gauges above; grounded on ws/metrics.go's MetricsCollector, trimmed of
// the Kafka/Stats-struct coupling that doesn't apply here.
type MetricsCollector struct {
	server   *Server
	stopChan chan struct{}
}

func NewMetricsCollector(server *Server) *MetricsCollector {
	return &MetricsCollector{server: server, stopChan: make(chan struct{})}
}

func (m *MetricsCollector) Start() {
	metricConnectionsMax.Set(float64(m.server.config.MaxConnections))

	if memLimit, err := getMemoryLimit(); err == nil && memLimit > 0 {
		metricMemoryLimitBytes.Set(float64(memLimit))
	}

	ticker := time.NewTicker(m.server.config.MetricsInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.collect()
			case <-m.stopChan:
				return
			}
		}
	}()
}

func (m *MetricsCollector) Stop() {
	close(m.stopChan)
}

func (m *MetricsCollector) collect() {
	metricConnectionsActive.Set(float64(m.server.connectionCount()))

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	metricMemoryUsageBytes.Set(float64(mem.Alloc))
	metricGoroutinesActive.Set(float64(runtime.NumGoroutine()))

	if m.server.resourceGuard != nil {
		metricCPUUsagePercent.Set(m.server.resourceGuard.CurrentCPU())
	}

	metricWorkerDroppedTasks.Set(float64(m.server.workerPool.GetDroppedTasks()))
	metricWorkerQueueDepth.Set(float64(m.server.workerPool.GetQueueDepth()))
	metricWorkerQueueCapacity.Set(float64(m.server.workerPool.GetQueueCapacity()))

	if m.server.bus.IsConnected() {
		metricBusConnected.Set(1)
	} else {
		metricBusConnected.Set(0)
	}
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}
