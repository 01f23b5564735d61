package observability

import (
	"context"
	"errors"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks total number of RPC requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mycash_rpc_requests_total",
			Help: "Total number of RPC requests",
		},
		[]string{"procedure", "code"},
	)

	// RequestDuration tracks request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mycash_rpc_duration_seconds",
			Help:    "RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"procedure"},
	)

	// ActiveRequests tracks currently active requests
	ActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mycash_rpc_active_requests",
			Help: "Number of active RPC requests",
		},
		[]string{"procedure"},
	)
)

var (
	// ImportsTotal counts statement parses by format and outcome
	ImportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mycash_import_parses_total",
			Help: "Statement parses by format and outcome",
		},
		[]string{"format", "outcome"},
	)

	// ImportCandidates counts candidates produced per format
	ImportCandidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mycash_import_candidates_total",
			Help: "Candidate transactions produced by parsers",
		},
		[]string{"format"},
	)

	// ImportDiagnostics counts skipped rows per format
	ImportDiagnostics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mycash_import_diagnostics_total",
			Help: "Rows skipped by parsers",
		},
		[]string{"format"},
	)

	// ImportParseDuration tracks parse time per format
	ImportParseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mycash_import_parse_duration_seconds",
			Help:    "Statement parse duration in seconds",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"format"},
	)

	// TransactionsCommitted counts rows written by import commits
	TransactionsCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mycash_import_transactions_committed_total",
			Help: "Transactions written by import commits",
		},
	)
)

// ObserveParse records one parse outcome
func ObserveParse(format, outcome string, candidates, diagnostics int, elapsed time.Duration) {
	if format == "" {
		format = "unknown"
	}
	ImportsTotal.WithLabelValues(format, outcome).Inc()
	ImportParseDuration.WithLabelValues(format).Observe(elapsed.Seconds())
	if candidates > 0 {
		ImportCandidates.WithLabelValues(format).Add(float64(candidates))
	}
	if diagnostics > 0 {
		ImportDiagnostics.WithLabelValues(format).Add(float64(diagnostics))
	}
}

// NewMetricsInterceptor creates an interceptor that collects Prometheus metrics
func NewMetricsInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			procedure := req.Spec().Procedure

			// Track active requests
			ActiveRequests.WithLabelValues(procedure).Inc()
			defer ActiveRequests.WithLabelValues(procedure).Dec()

			// Track duration
			start := time.Now()
			defer func() {
				RequestDuration.WithLabelValues(procedure).Observe(time.Since(start).Seconds())
			}()

			resp, err := next(ctx, req)

			RequestsTotal.WithLabelValues(procedure, codeOf(err)).Inc()
			return resp, err
		}
	}
}

func codeOf(err error) string {
	if err == nil {
		return "ok"
	}
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return connectErr.Code().String()
	}
	return "unknown"
}
