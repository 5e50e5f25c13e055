// Package session 管理多轮对话的会话与历史
//
// 会话在创建时绑定（租户，用户）身份，之后任何不一致的访问
// 都以 ErrIdentityMismatch 拒绝且不改动已有轮次。
package session

import (
	"context"
	"strings"
	"time"

	"github.com/easyops/orcha-go/pkg/core/message"
)

// maxTitleRunes 自动标题的最大长度
const maxTitleRunes = 50

// Session 一段对话
type Session struct {
	// ID 会话标识（UUID）
	ID string `json:"id"`
	// TenantID 所属租户
	TenantID string `json:"tenant_id"`
	// UserID 所属用户
	UserID string `json:"user_id"`
	// Title 会话标题，由首条用户消息自动生成
	Title string `json:"title"`
	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt 最后一次追加时间
	UpdatedAt time.Time `json:"updated_at"`
	// Turns 按追加顺序排列的消息
	Turns []message.Message `json:"turns"`
}

// Summary 会话摘要，用于列表展示
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count"`
}

// Store 定义会话存储接口
type Store interface {
	// Load 加载会话并校验身份
	//
	// conversationID 为空表示新会话，返回 (nil, nil)；
	// 不存在返回 ErrConversationNotFound；身份不符返回 ErrIdentityMismatch。
	Load(ctx context.Context, conversationID, tenantID, userID string) (*Session, error)

	// Append 追加消息并返回更新后的会话
	//
	// conversationID 为空时生成新会话并绑定身份。
	// 同一会话的追加串行执行，不同会话互不阻塞。
	Append(ctx context.Context, conversationID, tenantID, userID string, msgs ...message.Message) (*Session, error)

	// List 列出用户的会话摘要，按 UpdatedAt 倒序
	List(ctx context.Context, tenantID, userID string) ([]Summary, error)

	// RecentSessions 返回用户最近的 n 个完整会话，按 UpdatedAt 倒序
	RecentSessions(ctx context.Context, tenantID, userID string, n int) ([]*Session, error)
}

// makeTitle 由首条用户消息生成标题
func makeTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		return string(runes[:maxTitleRunes]) + "…"
	}
	return title
}
