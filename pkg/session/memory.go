package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easyops/orcha-go/pkg/core/errors"
	"github.com/easyops/orcha-go/pkg/core/message"
)

// entry 单个会话的存储单元
//
// 每个条目自带互斥锁，同会话追加串行，不同会话并行。
type entry struct {
	mu      sync.Mutex
	session Session
}

// MemoryStore 进程内会话存储
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry

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

// NewMemoryStore 创建进程内会话存储
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load 加载会话并校验身份
func (s *MemoryStore) Load(_ context.Context, conversationID, tenantID, userID string) (*Session, error) {
	if conversationID == "" {
		return nil, nil
	}

	s.mu.RLock()
	e, ok := s.entries[conversationID]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.ErrConversationNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.TenantID != tenantID || e.session.UserID != userID {
		return nil, errors.ErrIdentityMismatch
	}

	snap := cloneSession(&e.session)
	return snap, nil
}

// Append 追加消息并返回更新后的会话
func (s *MemoryStore) Append(_ context.Context, conversationID, tenantID, userID string, msgs ...message.Message) (*Session, error) {
	e, err := s.resolve(conversationID, tenantID, userID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.TenantID != tenantID || e.session.UserID != userID {
		return nil, errors.ErrIdentityMismatch
	}

	for _, msg := range msgs {
		if e.session.Title == "" && msg.Role == message.RoleUser {
			e.session.Title = makeTitle(msg.Content)
		}
		e.session.Turns = append(e.session.Turns, msg)
	}
	e.session.UpdatedAt = s.now()

	return cloneSession(&e.session), nil
}

// resolve 取出已有条目或创建新会话
func (s *MemoryStore) resolve(conversationID, tenantID, userID string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conversationID == "" {
		now := s.now()
		e := &entry{session: Session{
			ID:        uuid.NewString(),
			TenantID:  tenantID,
			UserID:    userID,
			CreatedAt: now,
			UpdatedAt: now,
		}}
		s.entries[e.session.ID] = e
		return e, nil
	}

	e, ok := s.entries[conversationID]
	if !ok {
		return nil, errors.ErrConversationNotFound
	}
	return e, nil
}

// List 列出用户的会话摘要
func (s *MemoryStore) List(_ context.Context, tenantID, userID string) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Summary
	for _, e := range s.entries {
		e.mu.Lock()
		if e.session.TenantID == tenantID && e.session.UserID == userID {
			out = append(out, Summary{
				ID:        e.session.ID,
				Title:     e.session.Title,
				CreatedAt: e.session.CreatedAt,
				UpdatedAt: e.session.UpdatedAt,
				TurnCount: len(e.session.Turns),
			})
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// RecentSessions 返回用户最近的 n 个完整会话
func (s *MemoryStore) RecentSessions(_ context.Context, tenantID, userID string, n int) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Session
	for _, e := range s.entries {
		e.mu.Lock()
		if e.session.TenantID == tenantID && e.session.UserID == userID {
			out = append(out, cloneSession(&e.session))
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// cloneSession 拷贝会话，调用方持有条目锁
func cloneSession(src *Session) *Session {
	dst := *src
	dst.Turns = make([]message.Message, len(src.Turns))
	copy(dst.Turns, src.Turns)
	return &dst
}

// 编译时接口检查
var _ Store = (*MemoryStore)(nil)
