// Package websearch 封装互联网搜索客户端
//
// 当前实现对接 Google Custom Search JSON API。搜索失败按配额、
// 鉴权、超时、服务端错误分类，供上层注入可读的诊断文案。
package websearch

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/easyops/orcha-go/pkg/core/errors"
)

// DefaultTimeout 默认请求超时
const DefaultTimeout = 10 * time.Second

// defaultEndpoint Google Custom Search JSON API 地址
const defaultEndpoint = "https://www.googleapis.com/customsearch/v1"

// Result 一条搜索结果
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Client 定义搜索客户端接口
type Client interface {
	// Search 检索互联网，最多返回 maxResults 条结果
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// GoogleClient Google Custom Search 客户端
//
// 免费额度为每天 100 次查询，超出后返回 429。
type GoogleClient struct {
	apiKey     string
	engineID   string
	endpoint   string
	httpClient *http.Client
}

// Option 配置 GoogleClient
type Option func(*GoogleClient)

// WithTimeout 设置请求超时
func WithTimeout(timeout time.Duration) Option {
	return func(c *GoogleClient) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient 设置底层 HTTP 客户端
func WithHTTPClient(client *http.Client) Option {
	return func(c *GoogleClient) {
		c.httpClient = client
	}
}

// WithEndpoint 覆盖 API 地址，测试用
func WithEndpoint(endpoint string) Option {
	return func(c *GoogleClient) {
		c.endpoint = endpoint
	}
}

// NewGoogleClient 创建 Google 搜索客户端
func NewGoogleClient(apiKey, engineID string, opts ...Option) (*GoogleClient, error) {
	if apiKey == "" || engineID == "" {
		return nil, errors.WrapError(errors.ErrInvalidConfig, "websearch requires api key and engine id")
	}

	c := &GoogleClient{
		apiKey:     apiKey,
		engineID:   engineID,
		endpoint:   defaultEndpoint,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// searchResponse Google API 的响应体
type searchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

// Search 检索互联网，最多返回 maxResults 条结果
func (c *GoogleClient) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	// API 单次最多 10 条
	if maxResults > 10 {
		maxResults = 10
	}

	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("cx", c.engineID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.WrapError(errors.ErrSearchProvider, err.Error())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapError(errors.ErrSearchProvider, err.Error())
	}

	var parsed searchResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.WrapError(errors.ErrSearchProvider, err.Error())
	}

	results := make([]Result, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		results = append(results, Result{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
		})
	}
	return results, nil
}

// classifyStatus 按 HTTP 状态分类失败
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return errors.ErrSearchQuotaExceeded
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.ErrSearchAuth
	default:
		return errors.WrapError(errors.ErrSearchProvider,
			fmt.Sprintf("search provider returned status %d", status))
	}
}

// classifyTransportError 按传输层失败分类
func classifyTransportError(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.ErrSearchTimeout
	}
	var netErr interface{ Timeout() bool }
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.ErrSearchTimeout
	}
	return errors.WrapError(errors.ErrSearchProvider, err.Error())
}

// Class 返回失败类别标签，用于指标维度
func Class(err error) string {
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, errors.ErrSearchQuotaExceeded):
		return "quota"
	case stderrors.Is(err, errors.ErrSearchAuth):
		return "auth"
	case stderrors.Is(err, errors.ErrSearchTimeout):
		return "timeout"
	default:
		return "provider"
	}
}

// Diagnostic 将搜索失败映射为注入上下文的用户可读文案
func Diagnostic(err error) string {
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, errors.ErrSearchQuotaExceeded):
		return "Web search is temporarily unavailable: the daily search quota has been exhausted."
	case stderrors.Is(err, errors.ErrSearchAuth):
		return "Web search is unavailable: the search provider rejected the credentials."
	case stderrors.Is(err, errors.ErrSearchTimeout):
		return "Web search timed out before returning results."
	default:
		return "Web search failed due to a provider error."
	}
}

// 编译时接口检查
var _ Client = (*GoogleClient)(nil)
