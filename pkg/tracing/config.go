package tracing

import (
	"fmt"
	"time"
)

// 导出器类型
const (
	ExporterOTLP     = "otlp"      // OTLP over HTTP
	ExporterOTLPGRPC = "otlp-grpc" // OTLP over gRPC
	ExporterStdout   = "stdout"
	ExporterNoop     = "noop"
)

// Config 链路追踪配置
type Config struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName    string `mapstructure:"service_name" yaml:"service_name"`
	ServiceVersion string `mapstructure:"service_version" yaml:"service_version"`
	Environment    string `mapstructure:"environment" yaml:"environment"`

	ExporterType     string            `mapstructure:"exporter" yaml:"exporter"`
	ExporterEndpoint string            `mapstructure:"endpoint" yaml:"endpoint"`
	ExporterHeaders  map[string]string `mapstructure:"headers" yaml:"headers"`
	Insecure         bool              `mapstructure:"insecure" yaml:"insecure"`

	// 采样（always/never/ratio/parent_based）
	SamplingType string  `mapstructure:"sampling_type" yaml:"sampling_type"`
	SamplingRate float64 `mapstructure:"sampling_rate" yaml:"sampling_rate"`

	ResourceAttributes map[string]string `mapstructure:"resource_attributes" yaml:"resource_attributes"`

	BatchTimeout       time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
	MaxExportBatchSize int           `mapstructure:"max_export_batch_size" yaml:"max_export_batch_size"`
	MaxQueueSize       int           `mapstructure:"max_queue_size" yaml:"max_queue_size"`
}

// DefaultConfig 默认配置，默认关闭
func DefaultConfig() *Config {
	return &Config{
		Enabled:            false,
		ServiceName:        "wsgate",
		ServiceVersion:     "dev",
		Environment:        "development",
		ExporterType:       ExporterStdout,
		SamplingType:       "parent_based",
		SamplingRate:       1.0,
		BatchTimeout:       5 * time.Second,
		MaxExportBatchSize: 512,
		MaxQueueSize:       2048,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("tracing: service name is required")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("tracing: sampling rate must be between 0.0 and 1.0, got %v", c.SamplingRate)
	}
	switch c.ExporterType {
	case ExporterOTLP, ExporterOTLPGRPC, ExporterStdout, ExporterNoop:
	default:
		return fmt.Errorf("tracing: invalid exporter type %q", c.ExporterType)
	}
	return nil
}
