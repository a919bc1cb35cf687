// Package metrics exposes Prometheus collectors for sessions, dispatched
// operations and upstream NEAR calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/NEARWEEK/MCP/mcp"
	"github.com/NEARWEEK/MCP/mcpservice"
	"github.com/NEARWEEK/MCP/near"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "near_mcp"

// Metrics owns a private registry so tests and multiple servers do not
// collide on the global one.
type Metrics struct {
	reg *prometheus.Registry

	SessionsActive   prometheus.Gauge
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	UpstreamTotal    *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live MCP sessions held by the session manager",
		}),
		DispatchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Total dispatched MCP operations by method, tool and outcome",
		}, []string{"method", "tool", "outcome"}),
		DispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Latency of dispatched MCP operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		UpstreamTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total upstream NEAR RPC and NearBlocks calls by result",
		}, []string{"upstream", "method", "result"}),
		UpstreamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of upstream calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"upstream"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveSessions is a sessioncore size observer.
func (m *Metrics) ObserveSessions(n int) { m.SessionsActive.Set(float64(n)) }

// ObserveDispatch is an mcpservice.Observer. Only tool names are used as a
// label; resource URIs are unbounded.
func (m *Metrics) ObserveDispatch(method, target string, dur time.Duration, outcome mcpservice.Outcome) {
	tool := ""
	if method == string(mcp.ToolsCallMethod) {
		tool = target
	}
	m.DispatchTotal.WithLabelValues(method, tool, string(outcome)).Inc()
	m.DispatchDuration.WithLabelValues(method).Observe(dur.Seconds())
}

// ObserveUpstream is a near.Observer.
func (m *Metrics) ObserveUpstream(upstream, method string, dur time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.UpstreamTotal.WithLabelValues(upstream, method, result).Inc()
	m.UpstreamDuration.WithLabelValues(upstream).Observe(dur.Seconds())
}

var (
	_ mcpservice.Observer = (*Metrics)(nil).ObserveDispatch
	_ near.Observer       = (*Metrics)(nil).ObserveUpstream
)
