// Package metrics exposes kernel activity as Prometheus collectors fed from
// the bus event stream.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gokernel/pkg/bus"
)

const namespace = "gokernel"

// Metrics holds the kernel collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	received        *prometheus.CounterVec // channel, msg_type
	rejected        *prometheus.CounterVec // channel, reason
	handled         *prometheus.CounterVec // msg_type, status
	handlerDuration *prometheus.HistogramVec
	executions      *prometheus.CounterVec // status
	executeDuration prometheus.Histogram
	iopub           *prometheus.CounterVec // msg_type
	interrupts      prometheus.Counter
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages decoded on shell and control.",
		}, []string{"channel", "msg_type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Messages dropped for a bad signature, delimiter or body.",
		}, []string{"channel", "reason"}),
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests dispatched to a handler.",
		}, []string{"msg_type", "status"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from busy to idle per request.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"msg_type"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Executed cells by outcome.",
		}, []string{"status"}),
		executeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Cell execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		iopub: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iopub_published_total",
			Help:      "Messages written to the IOPub socket.",
		}, []string{"msg_type"}),
		interrupts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Running cells cancelled by interrupt_request.",
		}),
	}

	m.registry.MustRegister(
		m.received,
		m.rejected,
		m.handled,
		m.handlerDuration,
		m.executions,
		m.executeDuration,
		m.iopub,
		m.interrupts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Observe updates the collectors for one event. Unknown types are ignored.
func (m *Metrics) Observe(event bus.Event) {
	if m == nil {
		return
	}

	switch event.Type {
	case bus.EventMessageReceived:
		m.received.WithLabelValues(event.Channel, event.MsgType).Inc()
	case bus.EventMessageRejected:
		m.rejected.WithLabelValues(event.Channel, event.Payload["reason"]).Inc()
	case bus.EventRequestHandled:
		m.handled.WithLabelValues(event.MsgType, "ok").Inc()
		m.handlerDuration.WithLabelValues(event.MsgType).Observe(event.Duration.Seconds())
	case bus.EventRequestFailed:
		m.handled.WithLabelValues(event.MsgType, "error").Inc()
		m.handlerDuration.WithLabelValues(event.MsgType).Observe(event.Duration.Seconds())
	case bus.EventExecuteCompleted:
		m.executions.WithLabelValues("ok").Inc()
		m.executeDuration.Observe(event.Duration.Seconds())
	case bus.EventExecuteFailed:
		m.executions.WithLabelValues("error").Inc()
		m.executeDuration.Observe(event.Duration.Seconds())
	case bus.EventIOPubPublished:
		m.iopub.WithLabelValues(event.MsgType).Inc()
	case bus.EventInterrupted:
		m.interrupts.Inc()
	}
}
