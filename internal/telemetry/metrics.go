package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/tunnelkeep/tunnelkeep"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Provider gateway metrics
	ProviderCallsTotal    metric.Int64Counter
	ProviderRetriesTotal  metric.Int64Counter
	ProviderFailuresTotal metric.Int64Counter
	ProviderCallDuration  metric.Float64Histogram

	// Resource cache metrics
	CacheHitsTotal          metric.Int64Counter
	CacheMissesTotal        metric.Int64Counter
	CacheInvalidationsTotal metric.Int64Counter

	// Tunnel lifecycle metrics
	TunnelStepsTotal     metric.Int64Counter
	TunnelRollbacksTotal metric.Int64Counter

	// Facade metrics
	CommandsTotal      metric.Int64Counter
	CommandErrorsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.ProviderCallsTotal, _ = meter.Int64Counter(
		"tunnelkeep.provider.calls.total",
		metric.WithDescription("Total number of Cloudflare API calls issued"),
		metric.WithUnit("{call}"),
	)

	m.ProviderRetriesTotal, _ = meter.Int64Counter(
		"tunnelkeep.provider.retries.total",
		metric.WithDescription("Total number of retried transient provider failures"),
		metric.WithUnit("{retry}"),
	)

	m.ProviderFailuresTotal, _ = meter.Int64Counter(
		"tunnelkeep.provider.failures.total",
		metric.WithDescription("Total number of provider calls that failed after retries"),
		metric.WithUnit("{failure}"),
	)

	m.ProviderCallDuration, _ = meter.Float64Histogram(
		"tunnelkeep.provider.call.duration",
		metric.WithDescription("Duration of Cloudflare API calls"),
		metric.WithUnit("ms"),
	)

	m.CacheHitsTotal, _ = meter.Int64Counter(
		"tunnelkeep.cache.hits.total",
		metric.WithDescription("Total number of resource cache hits"),
		metric.WithUnit("{hit}"),
	)

	m.CacheMissesTotal, _ = meter.Int64Counter(
		"tunnelkeep.cache.misses.total",
		metric.WithDescription("Total number of resource cache misses"),
		metric.WithUnit("{miss}"),
	)

	m.CacheInvalidationsTotal, _ = meter.Int64Counter(
		"tunnelkeep.cache.invalidations.total",
		metric.WithDescription("Total number of resource cache invalidations"),
		metric.WithUnit("{invalidation}"),
	)

	m.TunnelStepsTotal, _ = meter.Int64Counter(
		"tunnelkeep.tunnel.steps.total",
		metric.WithDescription("Total number of committed tunnel lifecycle steps"),
		metric.WithUnit("{step}"),
	)

	m.TunnelRollbacksTotal, _ = meter.Int64Counter(
		"tunnelkeep.tunnel.rollbacks.total",
		metric.WithDescription("Total number of tunnel configuration rollbacks after failed pushes"),
		metric.WithUnit("{rollback}"),
	)

	m.CommandsTotal, _ = meter.Int64Counter(
		"tunnelkeep.commands.total",
		metric.WithDescription("Total number of commands dispatched through the facade"),
		metric.WithUnit("{command}"),
	)

	m.CommandErrorsTotal, _ = meter.Int64Counter(
		"tunnelkeep.commands.errors.total",
		metric.WithDescription("Total number of commands that produced an error payload"),
		metric.WithUnit("{error}"),
	)

	return m
}
