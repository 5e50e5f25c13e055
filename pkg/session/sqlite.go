package session

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/easyops/orcha-go/pkg/core/errors"
	"github.com/easyops/orcha-go/pkg/core/message"
)

// SQLiteStore SQLite 持久化会话存储
type SQLiteStore struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// SQLiteStoreOption 配置 SQLiteStore
type SQLiteStoreOption func(*SQLiteStore)

// WithSQLiteClock 设置时钟函数
func WithSQLiteClock(now func() time.Time) SQLiteStoreOption {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// NewSQLiteStore 创建 SQLite 会话存储
func NewSQLiteStore(dbPath string, opts ...SQLiteStoreOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{
		db:    db,
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

// initSchema 初始化表结构
func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(tenant_id, user_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		conversation_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, seq)
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// Close 关闭数据库连接
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// convLock 取出或创建会话对应的互斥锁
func (s *SQLiteStore) convLock(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[conversationID] = l
	}
	return l
}

// Load 加载会话并校验身份
func (s *SQLiteStore) Load(ctx context.Context, conversationID, tenantID, userID string) (*Session, error) {
	if conversationID == "" {
		return nil, nil
	}

	sess, err := s.loadSession(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if sess.TenantID != tenantID || sess.UserID != userID {
		return nil, errors.ErrIdentityMismatch
	}
	return sess, nil
}

// loadSession 读取会话头与全部消息
func (s *SQLiteStore) loadSession(ctx context.Context, conversationID string) (*Session, error) {
	sess := &Session{ID: conversationID}
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?`,
		conversationID,
	).Scan(&sess.TenantID, &sess.UserID, &sess.Title, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.UpdatedAt = time.UnixMilli(updatedAt)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, token_count, created_at FROM messages WHERE conversation_id = ? ORDER BY seq`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg message.Message
		var ts int64
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &msg.TokenCount, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Timestamp = time.UnixMilli(ts)
		sess.Turns = append(sess.Turns, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return sess, nil
}

// Append 追加消息并返回更新后的会话
func (s *SQLiteStore) Append(ctx context.Context, conversationID, tenantID, userID string, msgs ...message.Message) (*Session, error) {
	created := false
	if conversationID == "" {
		conversationID = uuid.NewString()
		created = true
	}

	l := s.convLock(conversationID)
	l.Lock()
	defer l.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	var title string
	var seq int

	if created {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversations (id, tenant_id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, '', ?, ?)`,
			conversationID, tenantID, userID, now.UnixMilli(), now.UnixMilli(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
	} else {
		var ownerTenant, ownerUser string
		err = tx.QueryRowContext(ctx,
			`SELECT tenant_id, user_id, title FROM conversations WHERE id = ?`,
			conversationID,
		).Scan(&ownerTenant, &ownerUser, &title)
		if err == sql.ErrNoRows {
			return nil, errors.ErrConversationNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation: %w", err)
		}
		if ownerTenant != tenantID || ownerUser != userID {
			return nil, errors.ErrIdentityMismatch
		}

		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`,
			conversationID,
		).Scan(&seq)
		if err != nil {
			return nil, fmt.Errorf("failed to count messages: %w", err)
		}
	}

	for _, msg := range msgs {
		if title == "" && msg.Role == message.RoleUser {
			title = makeTitle(msg.Content)
		}
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = now
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, seq, id, role, content, token_count, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			conversationID, seq, msg.ID, string(msg.Role), msg.Content, msg.TokenCount, ts.UnixMilli(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert message: %w", err)
		}
		seq++
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, now.UnixMilli(), conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return s.loadSession(ctx, conversationID)
}

// List 列出用户的会话摘要
func (s *SQLiteStore) List(ctx context.Context, tenantID, userID string) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT c.id, c.title, c.created_at, c.updated_at,
		(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
	FROM conversations c
	WHERE c.tenant_id = ? AND c.user_id = ?
	ORDER BY c.updated_at DESC
	`, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var createdAt, updatedAt int64
		if err := rows.Scan(&sum.ID, &sum.Title, &createdAt, &updatedAt, &sum.TurnCount); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		sum.CreatedAt = time.UnixMilli(createdAt)
		sum.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// RecentSessions 返回用户最近的 n 个完整会话
func (s *SQLiteStore) RecentSessions(ctx context.Context, tenantID, userID string, n int) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM conversations WHERE tenant_id = ? AND user_id = ? ORDER BY updated_at DESC LIMIT ?`,
		tenantID, userID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.loadSession(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// 编译时接口检查
var _ Store = (*SQLiteStore)(nil)
