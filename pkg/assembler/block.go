// Package assembler 将系统提示、检索结果、用户记忆、搜索结果与
// 会话历史拼装为发给模型的有序消息列表。
//
// 每类上下文构成一个 Block，各自有独立的 token 上限与降级策略；
// 系统提示永不截断。
package assembler

// BlockKind 上下文块类别
type BlockKind string

const (
	// KindSystemPrompt 系统提示
	KindSystemPrompt BlockKind = "system_prompt"
	// KindRAGSources 知识库检索结果
	KindRAGSources BlockKind = "rag_sources"
	// KindUserMemory 用户长期记忆
	KindUserMemory BlockKind = "user_memory"
	// KindSearchResults 互联网搜索结果
	KindSearchResults BlockKind = "search_results"
)

// Priority 块的组装优先级，数值越大越靠前
func (k BlockKind) Priority() int {
	switch k {
	case KindSystemPrompt:
		return 100
	case KindRAGSources:
		return 80
	case KindUserMemory:
		return 60
	case KindSearchResults:
		return 40
	default:
		return 0
	}
}

// Block 一段已计量的上下文
type Block struct {
	// Kind 块类别
	Kind BlockKind `json:"kind"`
	// Text 块正文
	Text string `json:"text"`
	// TokenCount 块的 token 数
	TokenCount int `json:"token_count"`
}
