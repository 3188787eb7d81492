package toolrt

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
)

// Runtime bundles every moving part of the tool execution runtime: the
// priority queue, the breaker set, the response cache, the registry, the
// cooperative executor and the health monitor. It is constructed once from a
// Config and passed explicitly to whatever embeds it; there is no package
// state.
type Runtime struct {
	Queue    *DispatchQueue
	Breakers *BreakerSet
	Cache    *ResultCache
	Registry *Registry
	Executor *Executor
	Monitor  *Monitor
	Metrics  *Metrics

	logger *slog.Logger
}

// RuntimeOption configures NewRuntime.
type RuntimeOption func(*runtimeOptions)

type runtimeOptions struct {
	logger        *slog.Logger
	meterProvider metric.MeterProvider
}

// WithRuntimeLogger sets the logger shared by every component the runtime
// constructs.
func WithRuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(o *runtimeOptions) { o.logger = l }
}

// WithMeterProvider enables OTel instrumentation on the constructed registry
// and queue.
func WithMeterProvider(mp metric.MeterProvider) RuntimeOption {
	return func(o *runtimeOptions) { o.meterProvider = mp }
}

// NewRuntime wires a complete runtime from cfg. A nil cfg yields a runtime
// with every component on its defaults.
func NewRuntime(cfg *Config, options ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	opts := runtimeOptions{logger: slog.Default()}
	for _, opt := range options {
		opt(&opts)
	}

	queue := NewDispatchQueue()
	breakers := NewBreakerSet(cfg.BreakerConfig())

	cache, err := NewResultCache(cfg.CacheConfig())
	if err != nil {
		return nil, fmt.Errorf("runtime: cache: %w", err)
	}

	executor := NewExecutor(queue, cfg.ExecutorConfig(), WithExecutorLogger(opts.logger))

	registry := NewRegistry(breakers, cache, queue, executor.Wake,
		WithRegistryLogger(opts.logger),
		WithDispatchTimeout(cfg.Dispatch.Timeout.Std()),
	)

	monitor := NewMonitor(registry, breakers, cache, cfg.HealthConfig())

	rt := &Runtime{
		Queue:    queue,
		Breakers: breakers,
		Cache:    cache,
		Registry: registry,
		Executor: executor,
		Monitor:  monitor,
		logger:   opts.logger,
	}

	if opts.meterProvider != nil {
		met, err := NewMetrics(opts.meterProvider, queue)
		if err != nil {
			return nil, fmt.Errorf("runtime: metrics: %w", err)
		}
		met.Attach(registry)
		rt.Metrics = met
	}

	return rt, nil
}

// Run drives the cooperative executor until ctx is cancelled. It is a
// convenience for hosts that do not own their own loop; embedders with a frame
// or event loop call Executor.Tick themselves instead.
func (rt *Runtime) Run(ctx context.Context) {
	rt.Executor.Run(ctx)
}
