package filesystem

import (
	"time"

	"github.com/MegaGrindStone/go-mcp-servers/roots"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of a filesystem server. A nil *Metrics records nothing.
type Metrics struct {
	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	rootsAccepted prometheus.Counter
	rootsRejected *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcp",
			Subsystem: "filesystem",
			Name:      "tool_calls_total",
			Help:      "Tool calls handled, by tool and status.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcp",
			Subsystem: "filesystem",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call latency, by tool.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		rootsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcp",
			Subsystem: "filesystem",
			Name:      "roots_accepted_total",
			Help:      "Client roots accepted as allowed directories.",
		}),
		rootsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcp",
			Subsystem: "filesystem",
			Name:      "roots_rejected_total",
			Help:      "Client roots rejected during validation, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.toolCalls, m.toolDuration, m.rootsAccepted, m.rootsRejected)

	return m
}

func (m *Metrics) observeToolCall(tool string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

func (m *Metrics) observeRoots(res roots.Result) {
	if m == nil {
		return
	}
	m.rootsAccepted.Add(float64(len(res.Directories)))
	for _, rej := range res.Rejected {
		m.rootsRejected.WithLabelValues(rej.Reason.String()).Inc()
	}
}
