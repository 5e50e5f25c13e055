package budget

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/easyops/orcha-go/pkg/core/errors"
	"github.com/easyops/orcha-go/pkg/otel"
)

// SQLiteTracker SQLite 持久化的用量跟踪器
//
// 读改写在事务中执行；同键写入另有进程内互斥锁串行化，
// 避免 SQLite 写冲突导致的重试。
type SQLiteTracker struct {
	db     *sql.DB
	logger otel.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// SQLiteTrackerOption 配置 SQLiteTracker
type SQLiteTrackerOption func(*SQLiteTracker)

// WithLogger 设置日志器
func WithLogger(logger otel.Logger) SQLiteTrackerOption {
	return func(t *SQLiteTracker) {
		t.logger = logger
	}
}

// WithSQLiteClock 设置时钟函数
func WithSQLiteClock(now func() time.Time) SQLiteTrackerOption {
	return func(t *SQLiteTracker) {
		t.now = now
	}
}

// NewSQLiteTracker 创建 SQLite 跟踪器
func NewSQLiteTracker(dbPath string, opts ...SQLiteTrackerOption) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	t := &SQLiteTracker{
		db:     db,
		logger: otel.NewNoopLogger(),
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	if err := t.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return t, nil
}

// initSchema 初始化表结构
func (t *SQLiteTracker) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS token_usage (
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		used_tokens INTEGER NOT NULL DEFAULT 0,
		window_start INTEGER NOT NULL,
		last_updated INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, user_id)
	);
	`

	_, err := t.db.Exec(query)
	return err
}

// Close 关闭数据库连接
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}

// keyLock 取出或创建键对应的互斥锁
func (t *SQLiteTracker) keyLock(tenantID, userID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(tenantID, userID)
	l, ok := t.locks[k]
	if !ok {
		l = &sync.Mutex{}
		t.locks[k] = l
	}
	return l
}

// disabled 存储失败时的降级快照
func (t *SQLiteTracker) disabled(tokens int) Usage {
	return Usage{TokensAdded: tokens, TrackingEnabled: false}
}

// GetUsage 查询当前用量
//
// 惰性过期在读取路径也落库，保证报告的窗口起点与
// 后续 AddUsage 记录的一致。
func (t *SQLiteTracker) GetUsage(ctx context.Context, tenantID, userID string) (Usage, error) {
	l := t.keyLock(tenantID, userID)
	l.Lock()
	defer l.Unlock()

	var usedTokens int64
	var windowStart int64

	err := t.db.QueryRowContext(ctx,
		`SELECT used_tokens, window_start FROM token_usage WHERE tenant_id = ? AND user_id = ?`,
		tenantID, userID,
	).Scan(&usedTokens, &windowStart)

	if err == sql.ErrNoRows {
		return Usage{
			ResetAt:         t.now().Add(Window),
			TrackingEnabled: true,
		}, nil
	}
	if err != nil {
		t.logger.Warn("token tracking unavailable", "error", err)
		return t.disabled(0), nil
	}

	start := time.UnixMilli(windowStart)
	now := t.now()
	if now.Sub(start) > Window {
		_, err := t.db.ExecContext(ctx, `
		UPDATE token_usage SET used_tokens = 0, window_start = ?, last_updated = ?
		WHERE tenant_id = ? AND user_id = ?
		`, now.UnixMilli(), now.UnixMilli(), tenantID, userID)
		if err != nil {
			t.logger.Warn("token tracking unavailable", "error", err)
			return t.disabled(0), nil
		}
		return Usage{
			ResetAt:         now.Add(Window),
			TrackingEnabled: true,
		}, nil
	}

	return Usage{
		CurrentUsage:    usedTokens,
		ResetAt:         start.Add(Window),
		TrackingEnabled: true,
	}, nil
}

// AddUsage 累加用量
func (t *SQLiteTracker) AddUsage(ctx context.Context, tenantID, userID string, tokens int) (Usage, error) {
	if tokens < 0 {
		return Usage{}, errors.ErrNegativeTokens
	}

	l := t.keyLock(tenantID, userID)
	l.Lock()
	defer l.Unlock()

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		t.logger.Warn("token tracking unavailable", "error", err)
		return t.disabled(tokens), nil
	}
	defer tx.Rollback()

	var usedTokens int64
	var windowStart int64
	now := t.now()

	err = tx.QueryRowContext(ctx,
		`SELECT used_tokens, window_start FROM token_usage WHERE tenant_id = ? AND user_id = ?`,
		tenantID, userID,
	).Scan(&usedTokens, &windowStart)

	start := time.UnixMilli(windowStart)
	switch {
	case err == sql.ErrNoRows:
		usedTokens = 0
		start = now
	case err != nil:
		t.logger.Warn("token tracking unavailable", "error", err)
		return t.disabled(tokens), nil
	case now.Sub(start) > Window:
		usedTokens = 0
		start = now
	}

	usedTokens += int64(tokens)

	_, err = tx.ExecContext(ctx, `
	INSERT INTO token_usage (tenant_id, user_id, used_tokens, window_start, last_updated)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(tenant_id, user_id) DO UPDATE SET
		used_tokens = excluded.used_tokens,
		window_start = excluded.window_start,
		last_updated = excluded.last_updated
	`, tenantID, userID, usedTokens, start.UnixMilli(), now.UnixMilli())
	if err != nil {
		t.logger.Warn("token tracking unavailable", "error", err)
		return t.disabled(tokens), nil
	}

	if err := tx.Commit(); err != nil {
		t.logger.Warn("token tracking unavailable", "error", err)
		return t.disabled(tokens), nil
	}

	return Usage{
		CurrentUsage:    usedTokens,
		TokensAdded:     tokens,
		ResetAt:         start.Add(Window),
		TrackingEnabled: true,
	}, nil
}

// Reset 清零并重启窗口
func (t *SQLiteTracker) Reset(ctx context.Context, tenantID, userID string) error {
	l := t.keyLock(tenantID, userID)
	l.Lock()
	defer l.Unlock()

	now := t.now()
	_, err := t.db.ExecContext(ctx, `
	INSERT INTO token_usage (tenant_id, user_id, used_tokens, window_start, last_updated)
	VALUES (?, ?, 0, ?, ?)
	ON CONFLICT(tenant_id, user_id) DO UPDATE SET
		used_tokens = 0,
		window_start = excluded.window_start,
		last_updated = excluded.last_updated
	`, tenantID, userID, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return errors.WrapError(errors.ErrTrackingUnavailable, err.Error())
	}
	return nil
}

// 编译时接口检查
var _ Tracker = (*SQLiteTracker)(nil)
