package tls

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "trustboot.trust"

var (
	metricsOnce      sync.Once
	metricsInitErr   error
	trustMetricsInst *MetricsCollector
)

// MetricsCollector handles trust bootstrap metrics. A nil collector records nothing.
type MetricsCollector struct {
	storeLoads        metric.Int64Counter
	storeLoadErrors   metric.Int64Counter
	storeAliases      metric.Int64Histogram
	contextBuilds     metric.Int64Counter
	trustAnchors      metric.Int64Gauge
	audits            metric.Int64Counter
	bootstrapDuration metric.Float64Histogram
	bootstrapOutcomes metric.Int64Counter
}

// GetMetricsCollector returns the singleton collector bound to the global meter provider
func GetMetricsCollector() (*MetricsCollector, error) {
	metricsOnce.Do(func() {
		trustMetricsInst, metricsInitErr = NewMetricsCollector(otel.GetMeterProvider())
	})
	return trustMetricsInst, metricsInitErr
}

// NewMetricsCollector creates a collector on the given meter provider
func NewMetricsCollector(provider metric.MeterProvider) (*MetricsCollector, error) {
	meter := provider.Meter(meterName)
	collector := &MetricsCollector{}

	var err error

	collector.storeLoads, err = meter.Int64Counter(
		"trust_store_loads_total",
		metric.WithDescription("Total number of certificate store load attempts"),
		metric.WithUnit("{load}"),
	)
	if err != nil {
		return nil, err
	}

	collector.storeLoadErrors, err = meter.Int64Counter(
		"trust_store_load_errors_total",
		metric.WithDescription("Total number of certificate store load failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	collector.storeAliases, err = meter.Int64Histogram(
		"trust_store_aliases",
		metric.WithDescription("Number of aliases in successfully loaded stores"),
		metric.WithUnit("{alias}"),
	)
	if err != nil {
		return nil, err
	}

	collector.contextBuilds, err = meter.Int64Counter(
		"trust_context_builds_total",
		metric.WithDescription("Total number of secure transport context builds"),
		metric.WithUnit("{build}"),
	)
	if err != nil {
		return nil, err
	}

	collector.trustAnchors, err = meter.Int64Gauge(
		"trust_anchors",
		metric.WithDescription("Number of trust anchors in the last built context"),
		metric.WithUnit("{certificate}"),
	)
	if err != nil {
		return nil, err
	}

	collector.audits, err = meter.Int64Counter(
		"trust_audits_total",
		metric.WithDescription("Trust anchor audits by outcome"),
		metric.WithUnit("{audit}"),
	)
	if err != nil {
		return nil, err
	}

	collector.bootstrapDuration, err = meter.Float64Histogram(
		"trust_bootstrap_duration_seconds",
		metric.WithDescription("Trust bootstrap duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	collector.bootstrapOutcomes, err = meter.Int64Counter(
		"trust_bootstrap_total",
		metric.WithDescription("Trust bootstrap runs by final state"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	return collector, nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	if errorType := ErrorTypeOf(err); errorType != "" {
		return string(errorType)
	}
	return "error"
}

// RecordStoreLoad records a store load attempt
func (m *MetricsCollector) RecordStoreLoad(ctx context.Context, source string, aliasCount int, err error) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcomeOf(err)),
	)
	m.storeLoads.Add(ctx, 1, attrs)
	if err != nil {
		m.storeLoadErrors.Add(ctx, 1, attrs)
		return
	}
	m.storeAliases.Record(ctx, int64(aliasCount), metric.WithAttributes(attribute.String("source", source)))
}

// RecordContextBuild records a context build attempt
func (m *MetricsCollector) RecordContextBuild(ctx context.Context, anchorCount int, err error) {
	if m == nil {
		return
	}

	m.contextBuilds.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcomeOf(err))))
	if err == nil {
		m.trustAnchors.Record(ctx, int64(anchorCount))
	}
}

// RecordAudit records an audit outcome
func (m *MetricsCollector) RecordAudit(ctx context.Context, outcome AuditOutcome) {
	if m == nil {
		return
	}

	m.audits.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

// RecordBootstrap records the final state and duration of a bootstrap run
func (m *MetricsCollector) RecordBootstrap(ctx context.Context, state State, duration time.Duration) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("state", state.String()))
	m.bootstrapOutcomes.Add(ctx, 1, attrs)
	m.bootstrapDuration.Record(ctx, duration.Seconds(), attrs)
}
