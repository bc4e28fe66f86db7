// Package metrics exposes Prometheus counters for gateway traffic.
// Registered on the default registry and served from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Requests counts sendMessage calls by backend and delivery mode
	// ("buffered" or "stream").
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatgateway_requests_total",
		Help: "Number of sendMessage calls handled.",
	}, []string{"backend", "mode"})

	// Errors counts failed turns by backend and error kind.
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatgateway_errors_total",
		Help: "Number of failed sendMessage calls.",
	}, []string{"backend", "kind"})

	// StreamTokens counts incremental tokens forwarded to callers.
	StreamTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatgateway_stream_tokens_total",
		Help: "Number of streamed tokens delivered to callers.",
	}, []string{"backend"})
)
