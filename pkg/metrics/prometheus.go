package metrics

import (
	"LiveTicks/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	framesTotal   prometheus.Counter
	parseErrors   prometheus.Counter
	reconnects    prometheus.Counter
	reconnectAtt  prometheus.Gauge
	flushesTotal  prometheus.Counter
	flushedPoints prometheus.Histogram
	status        prometheus.Gauge
	errorsTotal   *prometheus.CounterVec
	lastPrice     prometheus.Gauge
	latency       *prometheus.HistogramVec
}

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		framesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "liveticks_frames_received_total",
			Help: "Total number of frames received from the feed",
		}),
		parseErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "liveticks_parse_errors_total",
			Help: "Frames dropped because no valid price could be parsed",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "liveticks_reconnects_total",
			Help: "Total number of scheduled reconnect attempts",
		}),
		reconnectAtt: f.NewGauge(prometheus.GaugeOpts{
			Name: "liveticks_reconnect_attempt",
			Help: "Current reconnect attempt number (0 when connected)",
		}),
		flushesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "liveticks_flushes_total",
			Help: "Total number of non-empty batch flushes into the store",
		}),
		flushedPoints: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "liveticks_flush_batch_size",
			Help:    "Number of points committed per flush",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		status: f.NewGauge(prometheus.GaugeOpts{
			Name: "liveticks_connection_status",
			Help: "Connection status (0=disconnected, 1=reconnecting, 2=connected)",
		}),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "liveticks_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGauge(prometheus.GaugeOpts{
			Name: "liveticks_last_price",
			Help: "Last committed price",
		}),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "liveticks_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordFrame() { r.framesTotal.Inc() }

func (r *Recorder) RecordParseError() { r.parseErrors.Inc() }

// RecordReconnect records a scheduled reconnect; attempt 0 resets the gauge.
func (r *Recorder) RecordReconnect(attempt int) {
	if attempt > 0 {
		r.reconnects.Inc()
	}
	r.reconnectAtt.Set(float64(attempt))
}

// RecordFlush records a committed batch.
func (r *Recorder) RecordFlush(points int) {
	r.flushesTotal.Inc()
	r.flushedPoints.Observe(float64(points))
}

func (r *Recorder) RecordStatus(status models.ConnectionStatus) {
	r.status.Set(status.Gauge())
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last committed price.
func (r *Recorder) RecordLastPrice(price float64) {
	r.lastPrice.Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Noop discards everything. Useful in tests and when metrics are disabled.
type Noop struct{}

func (Noop) RecordFrame()                         {}
func (Noop) RecordParseError()                    {}
func (Noop) RecordReconnect(int)                  {}
func (Noop) RecordFlush(int)                      {}
func (Noop) RecordStatus(models.ConnectionStatus) {}
func (Noop) RecordError(string)                   {}
func (Noop) RecordLastPrice(float64)              {}
func (Noop) RecordLatency(string, float64)        {}
