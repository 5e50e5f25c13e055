package assembler

import "strings"

// TriggerPolicy 决定未显式指定时是否触发知识库检索
type TriggerPolicy interface {
	// ShouldRetrieve 判断查询是否需要检索
	ShouldRetrieve(query string) bool
}

// KeywordPolicy 关键词加长度的启发式策略
//
// 命中检索类关键词，或查询足够长（可能是需要背景知识的
// 复杂问题）时触发检索。
type KeywordPolicy struct {
	// Keywords 触发检索的关键词，匹配不区分大小写
	Keywords []string
	// MinQueryRunes 超过该长度的查询一律触发检索
	MinQueryRunes int
}

// NewKeywordPolicy 创建默认的关键词策略
func NewKeywordPolicy() *KeywordPolicy {
	return &KeywordPolicy{
		Keywords:      []string{"rag", "search", "retrieve", "context"},
		MinQueryRunes: 100,
	}
}

// ShouldRetrieve 判断查询是否需要检索
func (p *KeywordPolicy) ShouldRetrieve(query string) bool {
	lower := strings.ToLower(query)
	for _, kw := range p.Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return len([]rune(query)) > p.MinQueryRunes
}

// AlwaysPolicy 恒定策略，测试与强制开关用
type AlwaysPolicy struct {
	Retrieve bool
}

// ShouldRetrieve 返回固定结果
func (p *AlwaysPolicy) ShouldRetrieve(string) bool {
	return p.Retrieve
}

// 编译时接口检查
var _ TriggerPolicy = (*KeywordPolicy)(nil)
var _ TriggerPolicy = (*AlwaysPolicy)(nil)
