package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Provider 可观测性提供者
//
// 管理追踪与指标 SDK 的生命周期。
type Provider struct {
	config   Config
	metrics  *Metrics
	shutdown []func(context.Context) error
}

// Setup 初始化可观测性
//
// Enabled=false 时返回仅含空操作指标的 Provider。
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{config: cfg}

	if !cfg.Enabled || cfg.Exporter == ExporterNone {
		p.metrics = &Metrics{}
		return p, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	// 追踪
	traceExporter, err := newTraceExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	p.shutdown = append(p.shutdown, tracerProvider.Shutdown)

	// 指标
	reader, err := newMetricReader(ctx, cfg)
	if err != nil {
		return nil, err
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)
	p.shutdown = append(p.shutdown, meterProvider.Shutdown)

	metrics, err := NewMetrics(cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	p.metrics = metrics

	return p, nil
}

// Metrics 返回指标集合
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// Shutdown 关闭所有导出器
func (p *Provider) Shutdown(ctx context.Context) error {
	var lastErr error
	for i := len(p.shutdown) - 1; i >= 0; i-- {
		if err := p.shutdown[i](ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
