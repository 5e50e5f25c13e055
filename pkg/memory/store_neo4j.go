package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/easyops/orcha-go/pkg/core/errors"
)

// Neo4jStore Neo4j 图存储的记忆后端
//
// 记忆建模为 (:User)-[:REMEMBERS]->(:Memory) 节点，
// 便于后续沿用户图做关联查询。
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	now    func() time.Time
}

// Neo4jConfig Neo4j 连接配置
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
}

// NewNeo4jStore 创建 Neo4j 记忆存储
func NewNeo4jStore(config Neo4jConfig) (*Neo4jStore, error) {
	if config.URI == "" {
		config.URI = "bolt://localhost:7687"
	}

	auth := neo4j.NoAuth()
	if config.Username != "" && config.Password != "" {
		auth = neo4j.BasicAuth(config.Username, config.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(config.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	s := &Neo4jStore{driver: driver, now: time.Now}

	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return s, nil
}

// createIndexes 创建索引
func (s *Neo4jStore) createIndexes(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	indexes := []string{
		"CREATE INDEX memory_id IF NOT EXISTS FOR (m:Memory) ON (m.id)",
		"CREATE INDEX user_id IF NOT EXISTS FOR (u:User) ON (u.id)",
	}

	for _, idx := range indexes {
		if _, err := session.Run(ctx, idx, nil); err != nil {
			if !strings.Contains(err.Error(), "already exists") {
				return err
			}
		}
	}

	return nil
}

// Close 关闭连接
func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

// Append 追加一条记忆
func (s *Neo4jStore) Append(ctx context.Context, userID, content, source string) (Memory, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	m := Memory{
		ID:        uuid.NewString(),
		UserID:    userID,
		Content:   content,
		Source:    source,
		CreatedAt: s.now(),
		Active:    true,
	}

	query := `
	MERGE (u:User {id: $userId})
	CREATE (m:Memory {
		id: $id,
		content: $content,
		source: $source,
		created_at: $createdAt,
		active: true
	})
	CREATE (u)-[:REMEMBERS]->(m)
	`

	params := map[string]interface{}{
		"userId":    userID,
		"id":        m.ID,
		"content":   m.Content,
		"source":    m.Source,
		"createdAt": m.CreatedAt.UnixMilli(),
	}

	if _, err := session.Run(ctx, query, params); err != nil {
		return Memory{}, fmt.Errorf("failed to create memory: %w", err)
	}
	return m, nil
}

// TopMemories 返回与查询最相关的 k 条生效记忆
//
// 图里只做过滤，相关性排序与 SQLite 后端一样在进程内完成。
func (s *Neo4jStore) TopMemories(ctx context.Context, userID, query string, k int) ([]Memory, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	cypher := `
	MATCH (u:User {id: $userId})-[:REMEMBERS]->(m:Memory)
	WHERE m.active = true
	RETURN m
	`

	result, err := session.Run(ctx, cypher, map[string]interface{}{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}

	var active []Memory
	for result.Next(ctx) {
		record := result.Record()
		nodeVal, _ := record.Get("m")
		node := nodeVal.(neo4j.Node)
		active = append(active, s.nodeToMemory(userID, node))
	}
	if err := result.Err(); err != nil {
		return nil, err
	}

	return rankMemories(active, query, k), nil
}

// Deactivate 软失效一条记忆
func (s *Neo4jStore) Deactivate(ctx context.Context, userID, memoryID string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	cypher := `
	MATCH (u:User {id: $userId})-[:REMEMBERS]->(m:Memory {id: $id})
	SET m.active = false
	RETURN count(m) as n
	`

	result, err := session.Run(ctx, cypher, map[string]interface{}{
		"userId": userID,
		"id":     memoryID,
	})
	if err != nil {
		return fmt.Errorf("failed to deactivate memory: %w", err)
	}

	if result.Next(ctx) {
		record := result.Record()
		countVal, _ := record.Get("n")
		if countVal.(int64) == 0 {
			return errors.ErrNotFound
		}
		return nil
	}
	return errors.ErrNotFound
}

// nodeToMemory 将 Neo4j 节点转换为 Memory
func (s *Neo4jStore) nodeToMemory(userID string, node neo4j.Node) Memory {
	m := Memory{UserID: userID, Active: true}
	if v, ok := node.Props["id"].(string); ok {
		m.ID = v
	}
	if v, ok := node.Props["content"].(string); ok {
		m.Content = v
	}
	if v, ok := node.Props["source"].(string); ok {
		m.Source = v
	}
	if v, ok := node.Props["created_at"].(int64); ok {
		m.CreatedAt = time.UnixMilli(v)
	}
	return m
}

// 编译时接口检查
var _ Store = (*Neo4jStore)(nil)
