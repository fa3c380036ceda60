package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"grpc", func(c *Config) { c.ExporterType = ExporterOTLPGRPC }, true},
		{"no service", func(c *Config) { c.ServiceName = "" }, false},
		{"bad rate", func(c *Config) { c.SamplingRate = 2 }, false},
		{"bad exporter", func(c *Config) { c.ExporterType = "zipkin" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Equal(t, tt.ok, cfg.Validate() == nil)
		})
	}
}

func TestStdoutProvider(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.SamplingType = "always"

	p, err := NewProvider(context.Background(), cfg, WithStdoutWriter(&buf), WithoutGlobal())
	require.NoError(t, err)

	_, span := p.TracerProvider().Tracer("test").Start(context.Background(), "route")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "route")
}

func TestRecordErrorAndTraceID(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	cfg := DefaultConfig()
	p, err := NewProvider(context.Background(), cfg, WithoutGlobal())
	require.NoError(t, err)
	p.TracerProvider().RegisterSpanProcessor(recorder)

	ctx, span := p.TracerProvider().Tracer("test").Start(context.Background(), "handler")
	span.SetAttributes(attribute.String("k", "v"))
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	assert.NotEmpty(t, TraceID(ctx))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "boom", ended[0].Status().Description)
	assert.Empty(t, TraceID(context.Background()))
}

func TestParseResourceAttributes(t *testing.T) {
	attrs := parseResourceAttributes("a=1, b = 2,broken")
	require.Len(t, attrs, 2)
	assert.Equal(t, "b", string(attrs[1].Key))
	assert.Equal(t, "2", attrs[1].Value.AsString())
}
