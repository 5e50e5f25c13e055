// Package budget 维护按（租户，用户）键的滚动 24 小时 token 用量
//
// 用量跟踪是尽力而为的：底层存储不可达时返回 TrackingEnabled=false，
// 绝不阻断聊天回合。
package budget

import (
	"context"
	"time"
)

// Window 滚动窗口长度
//
// 从首次使用起算，与日历边界无关。
const Window = 24 * time.Hour

// Usage 当前用量快照
type Usage struct {
	// CurrentUsage 窗口内累计 token 数
	CurrentUsage int64 `json:"current_usage"`
	// TokensAdded 本次操作新增的 token 数
	TokensAdded int `json:"tokens_added"`
	// ResetAt 窗口到期时刻
	ResetAt time.Time `json:"reset_at"`
	// TrackingEnabled 跟踪是否可用
	TrackingEnabled bool `json:"tracking_enabled"`
}

// Tracker 定义用量跟踪接口
type Tracker interface {
	// GetUsage 查询当前用量（不累加）
	//
	// 存储不可达时返回 TrackingEnabled=false 的零用量快照，error 为 nil。
	GetUsage(ctx context.Context, tenantID, userID string) (Usage, error)

	// AddUsage 累加用量并返回新的快照
	//
	// 同一键上的并发调用不得丢失更新；tokens 为负时返回 ErrNegativeTokens。
	AddUsage(ctx context.Context, tenantID, userID string, tokens int) (Usage, error)

	// Reset 管理操作：清零并重启窗口
	Reset(ctx context.Context, tenantID, userID string) error
}

// key 组合（租户，用户）为存储键
func key(tenantID, userID string) string {
	return tenantID + ":" + userID
}
