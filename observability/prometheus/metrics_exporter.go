package prometheus

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Swind/go-coro/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "coro"

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	runSeconds     *prom.HistogramVec
	panicTotal     *prom.CounterVec
	queueDepth     *prom.GaugeVec
	stolenTotal    *prom.CounterVec
	blockedTotal   *prom.CounterVec
	unblockedTotal *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.ExponentialBuckets(1e-6, 4, 12)
	}

	runVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "coroutine_run_seconds",
		Help:      "Time a coroutine ran between resume and suspend, in seconds.",
		Buckets:   buckets,
	}, []string{"scheduler"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "coroutine_panic_total",
		Help:      "Total number of coroutine panics.",
	}, []string{"scheduler"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "processor_queue_depth",
		Help:      "Local ready queue depth per processor.",
	}, []string{"scheduler", "processor"})
	stolenVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "coroutines_stolen_total",
		Help:      "Total number of coroutines moved by work stealing.",
	}, []string{"scheduler"})
	blockedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "processor_blocked_total",
		Help:      "Total number of processors that stepped aside for a blocking call.",
	}, []string{"scheduler", "replaced"})
	unblockedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "processor_unblocked_total",
		Help:      "Total number of unblocks by outcome.",
	}, []string{"scheduler", "result"})

	var err error
	if runVec, err = registerCollector(reg, runVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if stolenVec, err = registerCollector(reg, stolenVec); err != nil {
		return nil, err
	}
	if blockedVec, err = registerCollector(reg, blockedVec); err != nil {
		return nil, err
	}
	if unblockedVec, err = registerCollector(reg, unblockedVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		runSeconds:     runVec,
		panicTotal:     panicVec,
		queueDepth:     queueDepthVec,
		stolenTotal:    stolenVec,
		blockedTotal:   blockedVec,
		unblockedTotal: unblockedVec,
	}, nil
}

// RecordCoroutineRun records how long one resume took.
func (m *MetricsExporter) RecordCoroutineRun(schedulerName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runSeconds.WithLabelValues(normalizeLabel(schedulerName, "unknown")).Observe(duration.Seconds())
}

// RecordCoroutinePanic records coroutine panic events.
func (m *MetricsExporter) RecordCoroutinePanic(schedulerName string, panicInfo any) {
	if m == nil {
		return
	}
	m.panicTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown")).Inc()
}

// RecordQueueDepth records a processor's local queue depth.
func (m *MetricsExporter) RecordQueueDepth(schedulerName string, processorID int, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(schedulerName, "unknown"), strconv.Itoa(processorID)).Set(float64(depth))
}

// RecordSteal records coroutines moved by a steal.
func (m *MetricsExporter) RecordSteal(schedulerName string, count int) {
	if m == nil {
		return
	}
	m.stolenTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown")).Add(float64(count))
}

// RecordProcessorBlocked records a processor entering a blocking call.
func (m *MetricsExporter) RecordProcessorBlocked(schedulerName string, replaced bool) {
	if m == nil {
		return
	}
	m.blockedTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown"), strconv.FormatBool(replaced)).Inc()
}

// RecordProcessorUnblocked records the outcome of an unblock.
func (m *MetricsExporter) RecordProcessorUnblocked(schedulerName string, result core.UnblockResult) {
	if m == nil {
		return
	}
	m.unblockedTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown"), result.String()).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
