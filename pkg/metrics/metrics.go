// Package metrics records pipeline and search metrics.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/soundprediction/chronograph/pkg/types"
)

// Operation names.
const (
	OpIngest      = "ingest"
	OpSearch      = "search"
	OpCommunities = "communities"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusReused  = "reused"
	StatusError   = "error"
)

// Collector receives metrics from the client. Implementations must be safe
// for concurrent use.
type Collector interface {
	RecordOperation(ctx context.Context, operation, status string, d time.Duration)
	RecordStage(ctx context.Context, operation, stage string, d time.Duration)
	RecordError(ctx context.Context, operation string, kind types.ErrorKind)
	RecordChannel(ctx context.Context, channel types.Channel, outcome string)
	AddUsage(ctx context.Context, usage *types.TokenUsage, model string) error
}

// Prometheus is a Collector backed by a private registry.
type Prometheus struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	stageDuration     *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	channelsTotal     *prometheus.CounterVec
	tokensTotal       *prometheus.CounterVec
	registry          *prometheus.Registry
}

// NewPrometheus creates a collector whose metric names start with namespace.
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "chronograph"
	}
	registry := prometheus.NewRegistry()
	buckets := []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of operations by type and status",
		},
		[]string{"operation", "status"},
	)
	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of operations by type",
			Buckets:   buckets,
		},
		[]string{"operation"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages by operation and stage",
			Buckets:   buckets,
		},
		[]string{"operation", "stage"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation and kind",
		},
		[]string{"operation", "kind"},
	)
	channelsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_channel_total",
			Help:      "Search channel outcomes",
		},
		[]string{"channel", "outcome"},
	)
	tokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Language model tokens by model and direction",
		},
		[]string{"model", "direction"},
	)

	registry.MustRegister(operationsTotal)
	registry.MustRegister(operationDuration)
	registry.MustRegister(stageDuration)
	registry.MustRegister(errorsTotal)
	registry.MustRegister(channelsTotal)
	registry.MustRegister(tokensTotal)

	return &Prometheus{
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		stageDuration:     stageDuration,
		errorsTotal:       errorsTotal,
		channelsTotal:     channelsTotal,
		tokensTotal:       tokensTotal,
		registry:          registry,
	}
}

// RecordOperation records the completion of an operation.
func (m *Prometheus) RecordOperation(ctx context.Context, operation, status string, d time.Duration) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordStage records the duration of one stage of an operation.
func (m *Prometheus) RecordStage(ctx context.Context, operation, stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(operation, stage).Observe(d.Seconds())
}

// RecordError counts an error by its kind.
func (m *Prometheus) RecordError(ctx context.Context, operation string, kind types.ErrorKind) {
	m.errorsTotal.WithLabelValues(operation, string(kind)).Inc()
}

// RecordChannel counts one search channel outcome (ok, error, timeout).
func (m *Prometheus) RecordChannel(ctx context.Context, channel types.Channel, outcome string) {
	m.channelsTotal.WithLabelValues(string(channel), outcome).Inc()
}

// AddUsage counts token usage. It satisfies nlp.UsageRecorder.
func (m *Prometheus) AddUsage(ctx context.Context, usage *types.TokenUsage, model string) error {
	if usage == nil {
		return nil
	}
	m.tokensTotal.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
	m.tokensTotal.WithLabelValues(model, "completion").Add(float64(usage.CompletionTokens))
	return nil
}

// Registry returns the Prometheus registry for HTTP exposure.
func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}

// Noop discards everything.
type Noop struct{}

func (Noop) RecordOperation(context.Context, string, string, time.Duration) {}
func (Noop) RecordStage(context.Context, string, string, time.Duration)     {}
func (Noop) RecordError(context.Context, string, types.ErrorKind)           {}
func (Noop) RecordChannel(context.Context, types.Channel, string)           {}
func (Noop) AddUsage(context.Context, *types.TokenUsage, string) error      { return nil }

var (
	_ Collector = (*Prometheus)(nil)
	_ Collector = Noop{}
)
