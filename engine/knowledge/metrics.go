package knowledge

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "kontexa.knowledge"

var (
	metricsOnce             sync.Once
	metricsMu               sync.Mutex
	metricsInitErr          error
	queryLatencyHist        metric.Float64Histogram
	retrievalAttemptCounter metric.Int64Counter
	retrievalEmptyCounter   metric.Int64Counter
	scopeDegradedCounter    metric.Int64Counter
	malformedEntryCounter   metric.Int64Counter
)

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(meterName)
		queryLatencyHist, metricsInitErr = meter.Float64Histogram(
			"kontexa_knowledge_query_latency_seconds",
			metric.WithDescription("End-to-end latency of knowledge context retrieval"),
		)
		if metricsInitErr != nil {
			return
		}
		retrievalAttemptCounter, metricsInitErr = meter.Int64Counter(
			"kontexa_knowledge_retrieval_attempts_total",
			metric.WithDescription("Knowledge retrieval attempts"),
		)
		if metricsInitErr != nil {
			return
		}
		retrievalEmptyCounter, metricsInitErr = meter.Int64Counter(
			"kontexa_knowledge_retrieval_empty_total",
			metric.WithDescription("Retrievals that selected zero entries"),
		)
		if metricsInitErr != nil {
			return
		}
		scopeDegradedCounter, metricsInitErr = meter.Int64Counter(
			"kontexa_knowledge_scope_degraded_total",
			metric.WithDescription("Scope fetches degraded to empty after a store failure"),
		)
		if metricsInitErr != nil {
			return
		}
		malformedEntryCounter, metricsInitErr = meter.Int64Counter(
			"kontexa_knowledge_malformed_entries_total",
			metric.WithDescription("Stored entries skipped for violating entry invariants"),
		)
	})
	return metricsInitErr
}

// RecordQueryLatency records end-to-end retrieval latency for a tenant key.
func RecordQueryLatency(ctx context.Context, tenantKey string, d time.Duration) {
	if err := ensureMetrics(); err != nil || queryLatencyHist == nil {
		return
	}
	queryLatencyHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("tenant_key", tenantKey)))
}

// RecordRetrievalAttempt counts one retrieval attempt.
func RecordRetrievalAttempt(ctx context.Context, tenantKey string) {
	if err := ensureMetrics(); err != nil || retrievalAttemptCounter == nil {
		return
	}
	retrievalAttemptCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant_key", tenantKey)))
}

// RecordRetrievalEmpty counts a retrieval that produced no entries.
func RecordRetrievalEmpty(ctx context.Context, tenantKey string) {
	if err := ensureMetrics(); err != nil || retrievalEmptyCounter == nil {
		return
	}
	retrievalEmptyCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant_key", tenantKey)))
}

// RecordScopeDegraded counts a scope treated as empty after a store failure.
func RecordScopeDegraded(ctx context.Context, scope Scope) {
	if err := ensureMetrics(); err != nil || scopeDegradedCounter == nil {
		return
	}
	scopeDegradedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope.String())))
}

// RecordMalformedEntry counts a skipped malformed entry.
func RecordMalformedEntry(ctx context.Context, scope Scope) {
	if err := ensureMetrics(); err != nil || malformedEntryCounter == nil {
		return
	}
	malformedEntryCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope.String())))
}

// ResetMetricsForTesting clears metric state so tests observe fresh instruments.
func ResetMetricsForTesting() {
	metricsMu.Lock()
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	queryLatencyHist = nil
	retrievalAttemptCounter = nil
	retrievalEmptyCounter = nil
	scopeDegradedCounter = nil
	malformedEntryCounter = nil
	metricsMu.Unlock()
}
