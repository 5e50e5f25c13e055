// Package pulse 生成用户的每日对话摘要
//
// 摘要取用户最近的几段对话，裁剪后交给模型总结。
// 生成失败只记录日志，不影响在线链路。
package pulse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/easyops/orcha-go/pkg/core/llm"
	"github.com/easyops/orcha-go/pkg/core/message"
	"github.com/easyops/orcha-go/pkg/otel"
	"github.com/easyops/orcha-go/pkg/session"
)

const (
	// recentConversationCount 参与摘要的会话数
	recentConversationCount = 5
	// messageClipRunes 单条消息的裁剪长度
	messageClipRunes = 300
	// contextClipRunes 摘要上下文的总长度上限
	contextClipRunes = 4000
)

// digestSystemPrompt 摘要生成的系统提示
const digestSystemPrompt = `You write a short daily professional digest for a user of an insurance and personal finance assistant.

Rules:
- Summarize what the user worked on and asked about across their recent conversations.
- Highlight open questions and suggested next steps.
- Keep it under 200 words, in a warm but professional tone.`

// Digest 一份每日摘要
type Digest struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Sink 摘要的落地接口
type Sink interface {
	// SaveDigest 保存一份摘要
	SaveDigest(ctx context.Context, digest Digest) error
}

// Generator 摘要生成器
type Generator struct {
	provider llm.Provider
	sessions session.Store
	sink     Sink
	logger   otel.Logger
	now      func() time.Time
}

// GeneratorOption 配置 Generator
type GeneratorOption func(*Generator)

// WithLogger 设置日志器
func WithLogger(logger otel.Logger) GeneratorOption {
	return func(g *Generator) {
		g.logger = logger
	}
}

// WithClock 设置时钟函数
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) {
		g.now = now
	}
}

// NewGenerator 创建摘要生成器
func NewGenerator(provider llm.Provider, sessions session.Store, sink Sink, opts ...GeneratorOption) *Generator {
	g := &Generator{
		provider: provider,
		sessions: sessions,
		sink:     sink,
		logger:   otel.NewNoopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateForUser 为单个用户生成并保存摘要
//
// 用户近期没有对话时跳过，返回 (nil, nil)。
func (g *Generator) GenerateForUser(ctx context.Context, tenantID, userID string) (*Digest, error) {
	recent, err := g.sessions.RecentSessions(ctx, tenantID, userID, recentConversationCount)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent sessions: %w", err)
	}
	if len(recent) == 0 {
		return nil, nil
	}

	digestInput := buildContext(recent)

	resp, err := g.provider.Generate(ctx, llm.Request{
		Messages: []message.Message{
			message.NewSystemMessage(digestSystemPrompt),
			message.NewUserMessage("Recent conversations:\n\n" + digestInput),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate digest: %w", err)
	}

	digest := Digest{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		UserID:    userID,
		Content:   resp.Content,
		CreatedAt: g.now(),
	}

	if g.sink != nil {
		if err := g.sink.SaveDigest(ctx, digest); err != nil {
			return nil, fmt.Errorf("failed to save digest: %w", err)
		}
	}

	return &digest, nil
}

// buildContext 拼装裁剪后的摘要上下文
//
// 单条消息裁剪到 messageClipRunes，总长不超过 contextClipRunes。
func buildContext(sessions []*session.Session) string {
	var sb strings.Builder
	total := 0

	for _, sess := range sessions {
		header := fmt.Sprintf("## %s\n", sess.Title)
		if total+len([]rune(header)) > contextClipRunes {
			break
		}
		sb.WriteString(header)
		total += len([]rune(header))

		for _, msg := range sess.Turns {
			line := fmt.Sprintf("[%s] %s\n", msg.Role, clip(msg.Content, messageClipRunes))
			n := len([]rune(line))
			if total+n > contextClipRunes {
				return sb.String()
			}
			sb.WriteString(line)
			total += n
		}
		sb.WriteString("\n")
		total++
	}

	return sb.String()
}

// clip 按 rune 裁剪文本
func clip(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}

// MemorySink 进程内的摘要落地，测试与默认配置用
type MemorySink struct {
	digests []Digest
}

// NewMemorySink 创建进程内落地
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// SaveDigest 保存一份摘要
func (s *MemorySink) SaveDigest(_ context.Context, digest Digest) error {
	s.digests = append(s.digests, digest)
	return nil
}

// Digests 返回已保存的摘要
func (s *MemorySink) Digests() []Digest {
	return s.digests
}

// 编译时接口检查
var _ Sink = (*MemorySink)(nil)
