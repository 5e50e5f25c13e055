// Package retrieval 封装外部检索服务的客户端
//
// 检索失败统一包装为 ErrRetrievalUnavailable，由上层降级处理。
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/easyops/orcha-go/pkg/core/errors"
)

// DefaultTimeout 默认请求超时
const DefaultTimeout = 15 * time.Second

// Chunk 一段检索结果
type Chunk struct {
	// SourceID 来源标识，拼装上下文时作为引用标签
	SourceID string `json:"source_id"`
	// Text 片段正文
	Text string `json:"text"`
	// Score 相关性分数
	Score float64 `json:"score"`
}

// Client 定义检索客户端接口
type Client interface {
	// Query 检索与文本最相关的 topK 个片段
	Query(ctx context.Context, text string, topK int) ([]Chunk, error)
}

// HTTPClient 基于 HTTP 的检索客户端
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	rerank     bool
}

// Option 配置 HTTPClient
type Option func(*HTTPClient)

// WithTimeout 设置请求超时
func WithTimeout(timeout time.Duration) Option {
	return func(c *HTTPClient) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient 设置底层 HTTP 客户端
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		c.httpClient = client
	}
}

// WithRerank 开启服务端重排
func WithRerank(rerank bool) Option {
	return func(c *HTTPClient) {
		c.rerank = rerank
	}
}

// NewHTTPClient 创建检索客户端
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		rerank:     true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// queryRequest 检索服务的请求体
type queryRequest struct {
	Query  string `json:"query"`
	K      int    `json:"k"`
	Rerank bool   `json:"rerank"`
}

// queryResult 检索服务返回的单条结果
//
// 不同部署的字段名不一致，text / chunk / content 均接受。
type queryResult struct {
	SourceID string  `json:"source_id"`
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Chunk    string  `json:"chunk"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}

// queryResponse 检索服务的响应体
type queryResponse struct {
	Results []queryResult `json:"results"`
}

// Query 检索与文本最相关的 topK 个片段
func (c *HTTPClient) Query(ctx context.Context, text string, topK int) ([]Chunk, error) {
	body, err := json.Marshal(queryRequest{Query: text, K: topK, Rerank: c.rerank})
	if err != nil {
		return nil, errors.WrapError(errors.ErrRetrievalUnavailable, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, errors.WrapError(errors.ErrRetrievalUnavailable, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WrapError(errors.ErrRetrievalUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.WrapError(errors.ErrRetrievalUnavailable,
			fmt.Sprintf("retrieval service returned status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapError(errors.ErrRetrievalUnavailable, err.Error())
	}

	var parsed queryResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.WrapError(errors.ErrRetrievalUnavailable, err.Error())
	}

	chunks := make([]Chunk, 0, len(parsed.Results))
	for i, r := range parsed.Results {
		chunk := Chunk{
			SourceID: r.SourceID,
			Text:     r.Text,
			Score:    r.Score,
		}
		if chunk.Text == "" {
			chunk.Text = r.Chunk
		}
		if chunk.Text == "" {
			chunk.Text = r.Content
		}
		if chunk.SourceID == "" {
			chunk.SourceID = r.ID
		}
		if chunk.SourceID == "" {
			chunk.SourceID = fmt.Sprintf("source_%d", i+1)
		}
		if chunk.Text == "" {
			continue
		}
		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

// Diagnostic 将检索失败映射为注入上下文的用户可读文案
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	return "The knowledge base is temporarily unavailable; answering without retrieved sources."
}

// 编译时接口检查
var _ Client = (*HTTPClient)(nil)
