package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/wolfeidau/localca"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Root CA metrics
	RootInitTotal metric.Int64Counter

	// Issuance metrics
	IssuanceTotal    metric.Int64Counter
	IssuanceDuration metric.Float64Histogram

	// Watcher metrics
	WatchTicksTotal     metric.Int64Counter
	WatchRevisionsTotal metric.Int64Counter
	WatchRetriesTotal   metric.Int64Counter
	WatchDomains        metric.Int64Gauge
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
// Instruments are bound to the global meter provider, which is a no-op until
// InitTelemetry installs an exporter.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// Tracer returns the tracer used for CA operations.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(instrumentationName)

	m := &Metrics{}

	m.RootInitTotal, _ = meter.Int64Counter(
		"localca.root.init.total",
		metric.WithDescription("Total number of root CA initialization calls, by status"),
		metric.WithUnit("{call}"),
	)

	m.IssuanceTotal, _ = meter.Int64Counter(
		"localca.issuance.total",
		metric.WithDescription("Total number of leaf certificate issuance attempts, by outcome"),
		metric.WithUnit("{certificate}"),
	)

	m.IssuanceDuration, _ = meter.Float64Histogram(
		"localca.issuance.duration",
		metric.WithDescription("Duration of leaf certificate issuance including key generation"),
		metric.WithUnit("ms"),
	)

	m.WatchTicksTotal, _ = meter.Int64Counter(
		"localca.watch.ticks.total",
		metric.WithDescription("Total number of domain list polls, by whether the file changed"),
		metric.WithUnit("{tick}"),
	)

	m.WatchRevisionsTotal, _ = meter.Int64Counter(
		"localca.watch.revisions.total",
		metric.WithDescription("Total number of domain list revisions processed"),
		metric.WithUnit("{revision}"),
	)

	m.WatchRetriesTotal, _ = meter.Int64Counter(
		"localca.watch.retries.total",
		metric.WithDescription("Total number of issuance retries after transient failures"),
		metric.WithUnit("{retry}"),
	)

	m.WatchDomains, _ = meter.Int64Gauge(
		"localca.watch.domains",
		metric.WithDescription("Number of domains listed in the current revision"),
		metric.WithUnit("{domain}"),
	)

	return m
}
