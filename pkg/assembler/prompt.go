package assembler

import "strings"

// Mode 对话模式，决定系统提示与组装行为
type Mode string

const (
	// ModeChat 常规对话
	ModeChat Mode = "chat"
	// ModeMemoryExtract 记忆提取：模型输出将写入记忆库
	ModeMemoryExtract Mode = "memory_extract"
	// ModeSearchRefine 搜索词改写
	ModeSearchRefine Mode = "search_refine"
)

// memoryExtractPrefix 记忆提取请求的识别前缀
const memoryExtractPrefix = "Based on my recent messages, extract and remember"

// chatSystemPrompt 常规对话的系统提示
const chatSystemPrompt = `You are AURA, a professional assistant specializing in insurance and personal finance.

Guidelines:
- Answer questions about insurance products, coverage, claims, and personal finance clearly and accurately.
- When knowledge base sources are provided, ground your answers in them and cite the source id in brackets.
- When you remember facts about the user, use them to personalize your answer.
- If you are not sure about something, say so rather than guessing.
- Keep answers concise and practical.`

// memoryExtractSystemPrompt 记忆提取模式的系统提示
const memoryExtractSystemPrompt = `You extract durable facts about the user from their recent messages.

Rules:
- Only extract stable, long-lived facts: preferences, policies owned, family situation, financial goals.
- Ignore transient context such as greetings or one-off questions.
- Output one fact per line, in the third person, without commentary.`

// searchRefineSystemPrompt 搜索词改写模式的系统提示
const searchRefineSystemPrompt = `You rewrite a user's question into a short, effective web search query.

Rules:
- Output only the rewritten query, nothing else.
- Keep it under ten words and drop conversational filler.`

// SystemPrompt 返回模式对应的系统提示
func SystemPrompt(mode Mode) string {
	switch mode {
	case ModeMemoryExtract:
		return memoryExtractSystemPrompt
	case ModeSearchRefine:
		return searchRefineSystemPrompt
	default:
		return chatSystemPrompt
	}
}

// DetectMode 根据用户输入识别对话模式
//
// 记忆提取由固定前缀触发，其余输入一律按常规对话处理。
func DetectMode(userText string) Mode {
	if strings.HasPrefix(strings.TrimSpace(userText), memoryExtractPrefix) {
		return ModeMemoryExtract
	}
	return ModeChat
}
