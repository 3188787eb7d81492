package toolrt

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// meterName is the instrumentation scope name used for all runtime metrics.
const meterName = "github.com/jlceaser/go-toolrt"

// Metrics holds the OpenTelemetry instruments fed by registry events. All
// fields are safe for concurrent use — the underlying OTel types handle their
// own synchronisation.
type Metrics struct {
	// ToolCalls counts tool invocations. Recorded with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ToolDuration tracks tool execution latency in seconds.
	ToolDuration metric.Float64Histogram

	// CacheHits counts calls served from the response cache.
	CacheHits metric.Int64Counter

	// QueueDepth tracks the number of items pending on the dispatch queue.
	QueueDepth metric.Int64ObservableGauge
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for tool
// execution latencies.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised Metrics struct using the given
// metric.MeterProvider, registering the queue-depth gauge against queue.
// Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider, queue *DispatchQueue) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.ToolCalls, err = m.Int64Counter("toolrt.tool.calls",
		metric.WithDescription("Number of tool invocations."),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("toolrt.tool.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CacheHits, err = m.Int64Counter("toolrt.cache.hits",
		metric.WithDescription("Number of calls served from the response cache."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64ObservableGauge("toolrt.queue.depth",
		metric.WithDescription("Items pending on the priority dispatch queue."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(queue.Len()))
			return nil
		}),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Attach subscribes the instruments to reg's event stream so every execution,
// error and cache hit is recorded.
func (met *Metrics) Attach(reg *Registry) {
	ctx := context.Background()
	reg.Subscribe(func(ev Event) {
		switch ev.Kind {
		case EventExecuted:
			met.ToolCalls.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", ev.Tool),
				attribute.String("status", "ok"),
			))
			met.ToolDuration.Record(ctx, ev.Elapsed.Seconds(), metric.WithAttributes(
				attribute.String("tool", ev.Tool),
			))
		case EventError:
			met.ToolCalls.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", ev.Tool),
				attribute.String("status", "error"),
			))
			met.ToolDuration.Record(ctx, ev.Elapsed.Seconds(), metric.WithAttributes(
				attribute.String("tool", ev.Tool),
			))
		case EventCacheHit:
			met.CacheHits.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", ev.Tool),
			))
		}
	})
}

// InitMeterProvider initialises an OTel meter provider backed by a Prometheus
// exporter, so instruments are scrapeable via the transport's /metrics
// endpoint, and registers it as the global provider. The returned shutdown
// function flushes and closes the provider; call it in a defer from main().
func InitMeterProvider(serviceName, serviceVersion string) (shutdown func(context.Context) error, err error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}
