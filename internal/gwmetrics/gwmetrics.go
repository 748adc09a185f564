// Package gwmetrics exposes Prometheus counters and histograms for
// scheduled reads, command-driven writes, and the per-gateway lock wait
// that RTU-over-TCP transactions serialize behind, plus the /metrics and
// /health HTTP endpoints.
package gwmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns every metric this gateway reports. A single instance is
// constructed at startup and attached to every device via SetMetrics; the
// scheduler and the MQTT bridge record nothing of their own.
type Registry struct {
	reg *prometheus.Registry

	ReadsTotal      *prometheus.CounterVec
	WritesTotal     *prometheus.CounterVec
	ReadErrors      *prometheus.CounterVec
	WriteErrors     *prometheus.CounterVec
	GatewayLockWait *prometheus.HistogramVec
	OperationTime   *prometheus.HistogramVec
}

// New builds and registers every metric against a fresh registry, so
// repeated construction in tests never collides with prometheus's global
// default registry.
func New() *Registry {
	reg := &Registry{
		reg: prometheus.NewRegistry(),
		ReadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_reads_total",
			Help: "Total number of tag read transactions attempted.",
		}, []string{"device"}),
		WritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_writes_total",
			Help: "Total number of tag write transactions attempted.",
		}, []string{"device"}),
		ReadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_read_errors_total",
			Help: "Total number of failed tag read transactions.",
		}, []string{"device"}),
		WriteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_write_errors_total",
			Help: "Total number of failed tag write transactions.",
		}, []string{"device"}),
		GatewayLockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_lock_wait_seconds",
			Help:    "Time an RTU-over-TCP transaction waited to acquire its shared gateway lock.",
			Buckets: prometheus.DefBuckets,
		}, []string{"gateway"}),
		OperationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_operation_seconds",
			Help:    "Wall-clock time of a complete connect/transact/disconnect cycle.",
			Buckets: prometheus.DefBuckets,
		}, []string{"device", "op"}),
	}

	reg.reg.MustRegister(
		reg.ReadsTotal,
		reg.WritesTotal,
		reg.ReadErrors,
		reg.WriteErrors,
		reg.GatewayLockWait,
		reg.OperationTime,
	)
	return reg
}

// ObserveRead records a read attempt and, on failure, the error counter.
func (r *Registry) ObserveRead(device string, elapsed time.Duration, failed bool) {
	r.ReadsTotal.WithLabelValues(device).Inc()
	r.OperationTime.WithLabelValues(device, "read").Observe(elapsed.Seconds())
	if failed {
		r.ReadErrors.WithLabelValues(device).Inc()
	}
}

// ObserveWrite records a write attempt and, on failure, the error counter.
func (r *Registry) ObserveWrite(device string, elapsed time.Duration, failed bool) {
	r.WritesTotal.WithLabelValues(device).Inc()
	r.OperationTime.WithLabelValues(device, "write").Observe(elapsed.Seconds())
	if failed {
		r.WriteErrors.WithLabelValues(device).Inc()
	}
}

// ObserveLockWait records how long a transaction waited for its gateway's
// mutex.
func (r *Registry) ObserveLockWait(gateway string, waited time.Duration) {
	r.GatewayLockWait.WithLabelValues(gateway).Observe(waited.Seconds())
}

// Handler serves /metrics and /health on mux.
func (r *Registry) Handler(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}
