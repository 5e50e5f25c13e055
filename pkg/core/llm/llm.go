// Package llm 提供模型服务的统一接口
package llm

import (
	"context"

	"github.com/easyops/orcha-go/pkg/core/message"
)

// Provider 定义 LLM 提供商接口
//
// 编排核心只依赖非流式补全；任何 OpenAI 兼容端点均可接入。
type Provider interface {
	// Generate 生成响应（非流式）
	//
	// 调用失败时返回 ErrModelUnavailable 分类下的错误；
	// 当提供商返回了部分内容又中断时，Response.Content 携带已产生的文本，
	// error 同时非空，调用方必须保留该部分输出。
	Generate(ctx context.Context, req Request) (Response, error)

	// Name 返回提供商名称
	Name() string

	// Model 返回当前模型名称
	Model() string

	// Close 关闭客户端连接
	Close() error
}

// Request LLM 请求
type Request struct {
	// Messages 有序消息列表
	Messages []message.Message
	// Temperature 温度参数（可选）
	Temperature *float64
	// MaxTokens 最大输出 token（可选）
	MaxTokens *int
	// Stop 停止序列（可选）
	Stop []string
}

// Response LLM 响应
type Response struct {
	// ID 响应标识
	ID string `json:"id"`
	// Content 响应文本内容
	Content string `json:"content"`
	// TokenUsage Token 使用统计
	TokenUsage message.TokenUsage `json:"token_usage"`
	// FinishReason 结束原因
	// 值: "stop", "length", "content_filter"
	FinishReason string `json:"finish_reason"`
}
