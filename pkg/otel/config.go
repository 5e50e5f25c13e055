// Package otel 为编排核心提供可观测性能力。
//
// 封装 OpenTelemetry 的追踪与指标，外加基于 slog 的结构化日志适配。
package otel

import "time"

// ExporterType 导出器类型
type ExporterType string

const (
	// ExporterOTLPGRPC OTLP gRPC 导出器
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	// ExporterOTLPHTTP OTLP HTTP 导出器
	ExporterOTLPHTTP ExporterType = "otlp-http"
	// ExporterStdout 标准输出导出器（用于调试）
	ExporterStdout ExporterType = "stdout"
	// ExporterNone 无导出器
	ExporterNone ExporterType = "none"
)

// Config 可观测性配置
type Config struct {
	// Enabled 是否启用追踪与指标
	Enabled bool
	// ServiceName 服务名称
	ServiceName string
	// ServiceVersion 服务版本
	ServiceVersion string
	// Exporter 导出器类型
	Exporter ExporterType
	// Endpoint OTLP 端点（如 "localhost:4317"）
	Endpoint string
	// Insecure 是否使用不安全连接
	Insecure bool
	// Timeout 导出超时
	Timeout time.Duration
	// SampleRate 采样率 [0, 1]
	SampleRate float64
	// MetricInterval 指标导出间隔
	MetricInterval time.Duration
}

// DefaultConfig 返回默认可观测性配置
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "orcha",
		Exporter:       ExporterStdout,
		Endpoint:       "localhost:4317",
		Insecure:       true,
		Timeout:        10 * time.Second,
		SampleRate:     1.0,
		MetricInterval: 30 * time.Second,
	}
}
