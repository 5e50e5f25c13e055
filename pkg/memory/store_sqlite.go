package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/easyops/orcha-go/pkg/core/errors"
)

// SQLiteStore SQLite 持久化记忆存储
type SQLiteStore struct {
	db  *sql.DB
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

// NewSQLiteStore 创建 SQLite 记忆存储
func NewSQLiteStore(dbPath string, opts ...SQLiteStoreOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
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
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, active, created_at);
	`

	_, err := s.db.Exec(query)
	return err
}

// Close 关闭数据库连接
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append 追加一条记忆
func (s *SQLiteStore) Append(ctx context.Context, userID, content, source string) (Memory, error) {
	m := Memory{
		ID:        uuid.NewString(),
		UserID:    userID,
		Content:   content,
		Source:    source,
		CreatedAt: s.now(),
		Active:    true,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, user_id, content, source, created_at, active) VALUES (?, ?, ?, ?, ?, 1)`,
		m.ID, m.UserID, m.Content, m.Source, m.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Memory{}, fmt.Errorf("failed to insert memory: %w", err)
	}
	return m, nil
}

// TopMemories 返回与查询最相关的 k 条生效记忆
//
// 排序在进程内完成：单用户记忆量小，全量加载后做 TF-IDF 排序。
func (s *SQLiteStore) TopMemories(ctx context.Context, userID, query string, k int) ([]Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, source, created_at FROM memories WHERE user_id = ? AND active = 1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var active []Memory
	for rows.Next() {
		m := Memory{UserID: userID, Active: true}
		var ts int64
		if err := rows.Scan(&m.ID, &m.Content, &m.Source, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		m.CreatedAt = time.UnixMilli(ts)
		active = append(active, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return rankMemories(active, query, k), nil
}

// Deactivate 软失效一条记忆
func (s *SQLiteStore) Deactivate(ctx context.Context, userID, memoryID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET active = 0 WHERE id = ? AND user_id = ?`,
		memoryID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// 编译时接口检查
var _ Store = (*SQLiteStore)(nil)
