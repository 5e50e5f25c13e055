// Package memory 维护用户级长期记忆
//
// 记忆只追加，不做物理删除；失效通过 Active 标记表达。
// 检索按 TF-IDF 余弦相似度排序，同分时新记忆优先。
package memory

import (
	"context"
	"time"
)

// Memory 一条用户记忆
type Memory struct {
	// ID 记忆标识（UUID）
	ID string `json:"id"`
	// UserID 所属用户
	UserID string `json:"user_id"`
	// Content 记忆内容
	Content string `json:"content"`
	// Source 来源，如 "extraction"、"manual"
	Source string `json:"source"`
	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at"`
	// Active 是否生效
	Active bool `json:"active"`
}

// Store 定义记忆存储接口
type Store interface {
	// Append 追加一条记忆
	Append(ctx context.Context, userID, content, source string) (Memory, error)

	// TopMemories 返回与查询最相关的 k 条生效记忆
	//
	// query 为空时按时间倒序返回最近 k 条。
	TopMemories(ctx context.Context, userID, query string, k int) ([]Memory, error)

	// Deactivate 软失效一条记忆
	Deactivate(ctx context.Context, userID, memoryID string) error
}
