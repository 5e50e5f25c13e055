package budget

import (
	"context"
	"sync"
	"time"

	"github.com/easyops/orcha-go/pkg/core/errors"
)

// record 单个键的窗口状态
//
// 每条记录自带互斥锁，不同键的操作完全并行。
type record struct {
	mu          sync.Mutex
	usedTokens  int64
	windowStart time.Time
}

// MemoryTracker 进程内的用量跟踪器
type MemoryTracker struct {
	mu      sync.Mutex
	records map[string]*record

	// now 可注入的时钟，便于测试窗口过期
	now func() time.Time
}

// MemoryTrackerOption 配置 MemoryTracker
type MemoryTrackerOption func(*MemoryTracker)

// WithClock 设置时钟函数
func WithClock(now func() time.Time) MemoryTrackerOption {
	return func(t *MemoryTracker) {
		t.now = now
	}
}

// NewMemoryTracker 创建进程内跟踪器
func NewMemoryTracker(opts ...MemoryTrackerOption) *MemoryTracker {
	t := &MemoryTracker{
		records: make(map[string]*record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// getRecord 取出或创建键对应的记录
func (t *MemoryTracker) getRecord(tenantID, userID string) *record {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(tenantID, userID)
	r, ok := t.records[k]
	if !ok {
		r = &record{windowStart: t.now()}
		t.records[k] = r
	}
	return r
}

// expireLocked 窗口过期时惰性重置
//
// 调用方必须持有记录锁。
func (t *MemoryTracker) expireLocked(r *record) {
	if t.now().Sub(r.windowStart) > Window {
		r.usedTokens = 0
		r.windowStart = t.now()
	}
}

// GetUsage 查询当前用量
func (t *MemoryTracker) GetUsage(_ context.Context, tenantID, userID string) (Usage, error) {
	r := t.getRecord(tenantID, userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	t.expireLocked(r)

	return Usage{
		CurrentUsage:    r.usedTokens,
		ResetAt:         r.windowStart.Add(Window),
		TrackingEnabled: true,
	}, nil
}

// AddUsage 累加用量
func (t *MemoryTracker) AddUsage(_ context.Context, tenantID, userID string, tokens int) (Usage, error) {
	if tokens < 0 {
		return Usage{}, errors.ErrNegativeTokens
	}

	r := t.getRecord(tenantID, userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	t.expireLocked(r)
	r.usedTokens += int64(tokens)

	return Usage{
		CurrentUsage:    r.usedTokens,
		TokensAdded:     tokens,
		ResetAt:         r.windowStart.Add(Window),
		TrackingEnabled: true,
	}, nil
}

// Reset 清零并重启窗口
func (t *MemoryTracker) Reset(_ context.Context, tenantID, userID string) error {
	r := t.getRecord(tenantID, userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.usedTokens = 0
	r.windowStart = t.now()
	return nil
}

// 编译时接口检查
var _ Tracker = (*MemoryTracker)(nil)
