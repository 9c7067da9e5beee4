package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize     *prometheus.GaugeVec
	pushTotal     *prometheus.CounterVec
	dispatchTotal *prometheus.CounterVec
	outcomeTotal  *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	discarded     *prometheus.CounterVec
	currentID     *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "seqqueue_queue_size",
					Help: "Items waiting to be dispatched by queue.",
				},
				[]string{"queue"},
			),
			pushTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "seqqueue_push_total",
					Help: "Push calls by queue and result (accepted, rejected).",
				},
				[]string{"queue", "result"},
			),
			dispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "seqqueue_dispatch_total",
					Help: "Items dispatched by queue.",
				},
				[]string{"queue"},
			),
			outcomeTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "seqqueue_outcome_total",
					Help: "Dispatched items advanced past, by queue and outcome.",
				},
				[]string{"queue", "outcome"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "seqqueue_task_duration_seconds",
					Help:    "Time from dispatch to advance in seconds by queue.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"queue"},
			),
			discarded: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "seqqueue_discarded_total",
					Help: "Queued items dropped by a forced close.",
				},
				[]string{"queue"},
			),
			currentID: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "seqqueue_generation",
					Help: "Generation counter (id of the last dispatched item) by queue.",
				},
				[]string{"queue"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.pushTotal,
			m.dispatchTotal,
			m.outcomeTotal,
			m.taskDuration,
			m.discarded,
			m.currentID,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordPush(queue string, accepted bool, queueSize int) {
	m := getMetrics()
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	m.pushTotal.WithLabelValues(queue, result).Inc()
	m.queueSize.WithLabelValues(queue).Set(float64(queueSize))
}

func RecordDispatch(queue string, id uint64, queueSize int) {
	m := getMetrics()
	m.dispatchTotal.WithLabelValues(queue).Inc()
	m.currentID.WithLabelValues(queue).Set(float64(id))
	m.queueSize.WithLabelValues(queue).Set(float64(queueSize))
}

func RecordOutcome(queue, outcome string, duration time.Duration) {
	m := getMetrics()
	m.outcomeTotal.WithLabelValues(queue, outcome).Inc()
	m.taskDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

func RecordDiscarded(queue string, count int) {
	m := getMetrics()
	m.discarded.WithLabelValues(queue).Add(float64(count))
	m.queueSize.WithLabelValues(queue).Set(0)
}
