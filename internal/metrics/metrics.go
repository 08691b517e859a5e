package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orrn/thermal-spool/internal/core"
)

const prefix = "thermal_spool_"

var jobsEnqueuedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "jobs_enqueued_total",
		Help: "Number of print jobs accepted into the queue",
	},
	[]string{"type"},
)

var jobsProcessedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "jobs_processed_total",
		Help: "Number of print jobs taken off the queue, by outcome",
	},
	[]string{"type", "outcome"},
)

var bytesSentCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: prefix + "bytes_sent_total",
		Help: "Bytes written to printers",
	},
)

var dispatchDurationHist = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    prefix + "dispatch_duration_seconds",
		Help:    "Time spent encoding and transmitting one job, excluding pacing",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"outcome"},
)

var printerReachableGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: prefix + "printer_reachable",
		Help: "1 when the last contact with the printer succeeded",
	},
	[]string{"endpoint"},
)

var unreachableNoticesCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "unreachable_notices_total",
		Help: "Unreachable notices emitted, at most one per outage",
	},
	[]string{"endpoint"},
)

var depthSource atomic.Value

var _ = promauto.NewGaugeFunc(
	prometheus.GaugeOpts{
		Name: prefix + "queue_depth",
		Help: "Jobs waiting in the print queue",
	},
	func() float64 {
		if fn, ok := depthSource.Load().(func() int); ok && fn != nil {
			return float64(fn())
		}
		return 0
	},
)

// SetQueueDepthSource installs the function sampled by the queue depth gauge.
func SetQueueDepthSource(fn func() int) {
	depthSource.Store(fn)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Sink records spooler events as Prometheus series.
type Sink struct{}

func NewSink() *Sink {
	return &Sink{}
}

func (s *Sink) JobEnqueued(summary core.JobSummary) {
	jobsEnqueuedCounter.WithLabelValues(jobTypeLabel(summary.Metadata.Type())).Inc()
}

func (s *Sink) JobProcessed(rec core.DispatchRecord) {
	jobsProcessedCounter.WithLabelValues(jobTypeLabel(rec.JobType), string(rec.Outcome)).Inc()
	if rec.Outcome == core.OutcomeSkipped {
		return
	}
	bytesSentCounter.Add(float64(rec.Bytes))
	dispatchDurationHist.WithLabelValues(string(rec.Outcome)).Observe(rec.Duration.Seconds())
}

func (s *Sink) PrinterReachability(endpoint core.PrinterEndpoint, name string, reachable bool) {
	v := 0.0
	if reachable {
		v = 1
	}
	printerReachableGauge.WithLabelValues(endpoint.String()).Set(v)
}

func (s *Sink) PrinterUnreachable(endpoint core.PrinterEndpoint, name string) {
	unreachableNoticesCounter.WithLabelValues(endpoint.String()).Inc()
	printerReachableGauge.WithLabelValues(endpoint.String()).Set(0)
}

func jobTypeLabel(t string) string {
	if t == "" {
		return "unset"
	}
	return t
}
