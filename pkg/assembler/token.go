package assembler

import (
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter 定义 token 计数接口
//
// 实现必须单调：前缀的计数不大于全文的计数，
// 截断逻辑依赖这一点做二分。
type TokenCounter interface {
	// Count 返回给定文本的 token 数量
	Count(text string) int
}

// TiktokenCounter 使用 tiktoken 实现精确的 token 计数
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// TiktokenOption 配置 TiktokenCounter
type TiktokenOption func(*TiktokenCounter)

// WithModel 设置编码使用的模型
func WithModel(model string) TiktokenOption {
	return func(c *TiktokenCounter) {
		c.model = model
	}
}

// NewTiktokenCounter 创建 TiktokenCounter
//
// 默认使用 gpt-4o 的编码，取不到时降级到 cl100k_base。
func NewTiktokenCounter(opts ...TiktokenOption) (*TiktokenCounter, error) {
	c := &TiktokenCounter{model: "gpt-4o"}
	for _, opt := range opts {
		opt(c)
	}

	encoding, err := tiktoken.EncodingForModel(c.model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}

	c.encoding = encoding
	return c, nil
}

// Count 返回给定文本的 token 数量
func (c *TiktokenCounter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// EstimatedCounter 按字符数估算 token
//
// tiktoken 不可用时的降级方案，按 4 字符 1 token 估算。
type EstimatedCounter struct{}

// NewEstimatedCounter 创建 EstimatedCounter
func NewEstimatedCounter() *EstimatedCounter {
	return &EstimatedCounter{}
}

// Count 返回估算的 token 数量
func (c *EstimatedCounter) Count(text string) int {
	return len(text) / 4
}

// DefaultTokenCounter 优先返回 TiktokenCounter，失败时降级估算
func DefaultTokenCounter() TokenCounter {
	counter, err := NewTiktokenCounter()
	if err != nil {
		return NewEstimatedCounter()
	}
	return counter
}

// 编译时接口检查
var _ TokenCounter = (*TiktokenCounter)(nil)
var _ TokenCounter = (*EstimatedCounter)(nil)
