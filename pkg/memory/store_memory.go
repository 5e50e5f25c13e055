package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easyops/orcha-go/pkg/core/errors"
)

// MemoryStore 进程内记忆存储
type MemoryStore struct {
	mu       sync.RWMutex
	memories map[string][]Memory

	now func() time.Time
}

// MemoryStoreOption 配置 MemoryStore
type MemoryStoreOption func(*MemoryStore)

// WithClock 设置时钟函数
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore 创建进程内记忆存储
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		memories: make(map[string][]Memory),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append 追加一条记忆
func (s *MemoryStore) Append(_ context.Context, userID, content, source string) (Memory, error) {
	m := Memory{
		ID:        uuid.NewString(),
		UserID:    userID,
		Content:   content,
		Source:    source,
		CreatedAt: s.now(),
		Active:    true,
	}

	s.mu.Lock()
	s.memories[userID] = append(s.memories[userID], m)
	s.mu.Unlock()

	return m, nil
}

// TopMemories 返回与查询最相关的 k 条生效记忆
func (s *MemoryStore) TopMemories(_ context.Context, userID, query string, k int) ([]Memory, error) {
	s.mu.RLock()
	var active []Memory
	for _, m := range s.memories[userID] {
		if m.Active {
			active = append(active, m)
		}
	}
	s.mu.RUnlock()

	return rankMemories(active, query, k), nil
}

// Deactivate 软失效一条记忆
func (s *MemoryStore) Deactivate(_ context.Context, userID, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.memories[userID] {
		if m.ID == memoryID {
			s.memories[userID][i].Active = false
			return nil
		}
	}
	return errors.ErrNotFound
}

// 编译时接口检查
var _ Store = (*MemoryStore)(nil)
