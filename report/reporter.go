package report

import (
	"time"

	"github.com/ngas/ngas-cachecontrol/utils"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	metricsNamespace string = "ngas"
	metricsSubsystem string = "cachecontrol"

	cycleResultOK     string = "ok"
	cycleResultFailed string = "failed"
)

// PrometheusReporter exports cache control activity as prometheus metrics
type PrometheusReporter struct {
	registerer prometheus.Registerer

	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	flagged        *prometheus.CounterVec
	reclaimed      prometheus.Counter
	reclaimedBytes prometheus.Counter
	errors         *prometheus.CounterVec
	cachedObjects  prometheus.Gauge
	cachedBytes    prometheus.Gauge
}

// NewPrometheusReporter creates a PrometheusReporter and registers its metrics.
// nodeID is attached to every metric as a constant label.
func NewPrometheusReporter(registerer prometheus.Registerer, nodeID string) (CacheControlReporter, error) {
	logger := log.WithFields(log.Fields{
		"package":  "report",
		"function": "NewPrometheusReporter",
	})

	defer utils.StackTraceFromPanic(logger)

	constLabels := prometheus.Labels{"node_id": nodeID}

	reporter := &PrometheusReporter{
		registerer: registerer,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "cycles_total",
			Help:        "Number of cache control cycles by result",
			ConstLabels: constLabels,
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "cycle_duration_seconds",
			Help:        "Duration of cache control cycles",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		flagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "flagged_total",
			Help:        "Number of objects scheduled for deletion by criterion",
			ConstLabels: constLabels,
		}, []string{"criterion"}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "reclaimed_objects_total",
			Help:        "Number of objects removed from the cache",
			ConstLabels: constLabels,
		}),
		reclaimedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "reclaimed_bytes_total",
			Help:        "Bytes removed from the cache",
			ConstLabels: constLabels,
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "errors_total",
			Help:        "Number of failures by kind",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		cachedObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "cached_objects",
			Help:        "Number of objects held in the cache",
			ConstLabels: constLabels,
		}),
		cachedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "cached_bytes",
			Help:        "Aggregate size of objects held in the cache",
			ConstLabels: constLabels,
		}),
	}

	registered := []prometheus.Collector{}
	for _, collector := range reporter.collectors() {
		err := registerer.Register(collector)
		if err != nil {
			for _, c := range registered {
				registerer.Unregister(c)
			}
			return nil, xerrors.Errorf("failed to register cache control metrics: %w", err)
		}
		registered = append(registered, collector)
	}

	return reporter, nil
}

func (reporter *PrometheusReporter) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		reporter.cycles,
		reporter.cycleDuration,
		reporter.flagged,
		reporter.reclaimed,
		reporter.reclaimedBytes,
		reporter.errors,
		reporter.cachedObjects,
		reporter.cachedBytes,
	}
}

// Release unregisters metrics
func (reporter *PrometheusReporter) Release() {
	for _, collector := range reporter.collectors() {
		reporter.registerer.Unregister(collector)
	}
}

// ReportCycle reports the end of a cycle
func (reporter *PrometheusReporter) ReportCycle(duration time.Duration, err error) {
	result := cycleResultOK
	if err != nil {
		result = cycleResultFailed
	}

	reporter.cycles.WithLabelValues(result).Inc()
	reporter.cycleDuration.Observe(duration.Seconds())
}

// ReportFlagged reports objects scheduled for deletion by a criterion
func (reporter *PrometheusReporter) ReportFlagged(criterion string, count int) {
	if count <= 0 {
		return
	}
	reporter.flagged.WithLabelValues(criterion).Add(float64(count))
}

// ReportReclaimed reports objects removed from the cache
func (reporter *PrometheusReporter) ReportReclaimed(count int, bytes int64) {
	if count > 0 {
		reporter.reclaimed.Add(float64(count))
	}
	if bytes > 0 {
		reporter.reclaimedBytes.Add(float64(bytes))
	}
}

// ReportError reports a failure of the given kind
func (reporter *PrometheusReporter) ReportError(kind string) {
	reporter.errors.WithLabelValues(kind).Inc()
}

// ReportUsage reports the current usage
func (reporter *PrometheusReporter) ReportUsage(count int, bytes int64) {
	reporter.cachedObjects.Set(float64(count))
	reporter.cachedBytes.Set(float64(bytes))
}
