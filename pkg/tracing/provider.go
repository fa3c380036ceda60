package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Provider 持有 TracerProvider，负责关闭时刷出剩余 Span
type Provider struct {
	tp *trace.TracerProvider
}

// ProviderOption Provider 选项
type ProviderOption func(*providerOptions)

type providerOptions struct {
	stdout    io.Writer
	setGlobal bool
}

// WithStdoutWriter stdout 导出器的输出目标（测试用）
func WithStdoutWriter(w io.Writer) ProviderOption {
	return func(o *providerOptions) { o.stdout = w }
}

// WithoutGlobal 不替换 otel 全局 TracerProvider
func WithoutGlobal() ProviderOption {
	return func(o *providerOptions) { o.setGlobal = false }
}

// NewProvider 创建并（默认）注册为全局 TracerProvider
// cfg.Enabled 为 false 时使用 noop 导出器，Span 仍会创建但不导出
func NewProvider(ctx context.Context, cfg *Config, opts ...ProviderOption) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &providerOptions{setGlobal: true}
	for _, opt := range opts {
		opt(o)
	}

	exporterCfg := *cfg
	if !cfg.Enabled {
		exporterCfg.ExporterType = ExporterNoop
	}
	exporter, err := newExporter(ctx, &exporterCfg, o.stdout)
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: create resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithSampler(newSampler(cfg)),
		trace.WithBatcher(exporter,
			trace.WithBatchTimeout(cfg.BatchTimeout),
			trace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			trace.WithMaxQueueSize(cfg.MaxQueueSize),
		),
		trace.WithResource(res),
	)

	if o.setGlobal {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}
	return &Provider{tp: tp}, nil
}

// TracerProvider 底层 provider
func (p *Provider) TracerProvider() *trace.TracerProvider {
	return p.tp
}

// Shutdown 刷出并关闭
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

func newResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(cfg.Environment))
	}
	for k, v := range cfg.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	if env := os.Getenv("OTEL_RESOURCE_ATTRIBUTES"); env != "" {
		attrs = append(attrs, parseResourceAttributes(env)...)
	}
	return resource.New(ctx, resource.WithAttributes(attrs...), resource.WithTelemetrySDK())
}

// parseResourceAttributes 格式 key1=value1,key2=value2
func parseResourceAttributes(s string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			attrs = append(attrs, attribute.String(strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])))
		}
	}
	return attrs
}
