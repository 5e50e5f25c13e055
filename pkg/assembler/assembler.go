package assembler

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/easyops/orcha-go/pkg/core/config"
	"github.com/easyops/orcha-go/pkg/core/message"
	"github.com/easyops/orcha-go/pkg/memory"
	"github.com/easyops/orcha-go/pkg/otel"
	"github.com/easyops/orcha-go/pkg/retrieval"
	"github.com/easyops/orcha-go/pkg/websearch"
)

// topMemoryCount 注入上下文的记忆条数
const topMemoryCount = 5

// ragHeading 检索块的标题行
const ragHeading = "=== SOURCES ==="

// memoryHeading 记忆块的标题行
const memoryHeading = "=== USER MEMORY ==="

// searchHeading 搜索块的标题行
const searchHeading = "=== WEB SEARCH RESULTS ==="

// Input 一次组装的输入
type Input struct {
	// Mode 对话模式，零值按 ModeChat 处理
	Mode Mode
	// Query 当前用户输入
	Query string
	// UserID 记忆检索的归属用户
	UserID string
	// History 已有的会话历史
	History []message.Message
	// UseRAG 显式指定是否检索；nil 时交给 TriggerPolicy
	UseRAG *bool
	// UseSearch 是否启用互联网搜索
	UseSearch bool
	// Tenant 租户级容量配置
	Tenant config.TenantConfig
}

// Output 组装结果
type Output struct {
	// Messages 发给模型的有序消息列表
	Messages []message.Message
	// Blocks 各上下文块及其 token 计量，用于观测
	Blocks []Block
}

// Assembler 上下文组装器
type Assembler struct {
	counter   TokenCounter
	retriever retrieval.Client
	searcher  websearch.Client
	memories  memory.Store
	policy    TriggerPolicy
	logger    otel.Logger
	metrics   *otel.Metrics
}

// Option 配置 Assembler
type Option func(*Assembler)

// WithTokenCounter 设置 token 计数器
func WithTokenCounter(counter TokenCounter) Option {
	return func(a *Assembler) {
		a.counter = counter
	}
}

// WithRetriever 设置知识库检索客户端
func WithRetriever(client retrieval.Client) Option {
	return func(a *Assembler) {
		a.retriever = client
	}
}

// WithSearcher 设置互联网搜索客户端
func WithSearcher(client websearch.Client) Option {
	return func(a *Assembler) {
		a.searcher = client
	}
}

// WithMemoryStore 设置记忆存储
func WithMemoryStore(store memory.Store) Option {
	return func(a *Assembler) {
		a.memories = store
	}
}

// WithTriggerPolicy 设置检索触发策略
func WithTriggerPolicy(policy TriggerPolicy) Option {
	return func(a *Assembler) {
		a.policy = policy
	}
}

// WithLogger 设置日志器
func WithLogger(logger otel.Logger) Option {
	return func(a *Assembler) {
		a.logger = logger
	}
}

// WithMetrics 设置指标记录器
func WithMetrics(metrics *otel.Metrics) Option {
	return func(a *Assembler) {
		a.metrics = metrics
	}
}

// New 创建上下文组装器
func New(opts ...Option) *Assembler {
	a := &Assembler{
		counter: DefaultTokenCounter(),
		policy:  NewKeywordPolicy(),
		logger:  otel.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble 组装一次模型调用的上下文
//
// 检索与搜索并行发起；任一来源失败只影响对应的块，
// 不中断整体组装。
func (a *Assembler) Assemble(ctx context.Context, input Input) (*Output, error) {
	mode := input.Mode
	if mode == "" {
		mode = DetectMode(input.Query)
	}

	out := &Output{}

	systemText := SystemPrompt(mode)
	a.addBlock(out, KindSystemPrompt, systemText)

	// 记忆提取等内部模式不注入外部上下文
	if mode == ModeChat {
		src := a.fetchSources(ctx, input)

		if text := a.buildRAGBlock(ctx, src.chunks, src.retrievalErr, input.Tenant.TenantID, input.Tenant.RAGTokenCap); text != "" {
			a.addBlock(out, KindRAGSources, text)
		}
		if text := a.buildMemoryBlock(ctx, input); text != "" {
			a.addBlock(out, KindUserMemory, text)
		}
		if input.UseSearch && a.searcher != nil {
			if text := a.buildSearchBlock(src.searchResults, src.searchErr, input.Tenant.SearchResultCap); text != "" {
				a.addBlock(out, KindSearchResults, text)
			}
		}
	}

	history := input.History
	if limit := input.Tenant.HistoryLimit; limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	messages := make([]message.Message, 0, len(out.Blocks)+len(history)+1)
	for _, block := range out.Blocks {
		messages = append(messages, message.NewSystemMessage(block.Text))
	}
	messages = append(messages, history...)
	messages = append(messages, message.NewUserMessage(input.Query))
	out.Messages = messages

	total := 0
	for _, block := range out.Blocks {
		total += block.TokenCount
	}
	a.metrics.RecordContextTokens(ctx, input.Tenant.TenantID, total)

	return out, nil
}

// addBlock 计量并登记一个上下文块
func (a *Assembler) addBlock(out *Output, kind BlockKind, text string) {
	out.Blocks = append(out.Blocks, Block{
		Kind:       kind,
		Text:       text,
		TokenCount: a.counter.Count(text),
	})
}

// sources 并行拉取的外部上下文来源
type sources struct {
	chunks        []retrieval.Chunk
	retrievalErr  error
	searchResults []websearch.Result
	searchErr     error
}

// fetchSources 并行拉取检索与搜索结果
func (a *Assembler) fetchSources(ctx context.Context, input Input) sources {
	doRAG := a.retriever != nil
	if doRAG {
		if input.UseRAG != nil {
			doRAG = *input.UseRAG
		} else {
			doRAG = a.policy.ShouldRetrieve(input.Query)
		}
	}
	doSearch := input.UseSearch && a.searcher != nil

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		src sources
	)

	if doRAG {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := a.retriever.Query(ctx, input.Query, input.Tenant.RAGTopK)
			mu.Lock()
			src.chunks, src.retrievalErr = got, err
			mu.Unlock()
			if err != nil {
				a.logger.Warn("retrieval failed", "error", err)
				a.metrics.RecordRetrievalFailure(ctx)
			}
		}()
	}

	if doSearch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := a.searcher.Search(ctx, input.Query, input.Tenant.SearchResultCap)
			mu.Lock()
			src.searchResults, src.searchErr = got, err
			mu.Unlock()
			if err != nil {
				a.logger.Warn("web search failed", "error", err)
				a.metrics.RecordSearchFailure(ctx, websearch.Class(err))
			}
		}()
	}

	wg.Wait()
	return src
}

// buildRAGBlock 构建检索块
//
// 检索失败不静默吞掉，块正文换成诊断文案。
// 只放完整片段：放不下的片段整体丢弃，到达上限即停止。
func (a *Assembler) buildRAGBlock(ctx context.Context, chunks []retrieval.Chunk, retrievalErr error, tenantID string, tokenCap int) string {
	if retrievalErr != nil {
		return ragHeading + "\n" + retrieval.Diagnostic(retrievalErr)
	}
	if len(chunks) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(ragHeading)
	sb.WriteString("\n")
	used := a.counter.Count(sb.String())

	included := 0
	for _, chunk := range chunks {
		entry := fmt.Sprintf("[%s]\n%s\n\n", chunk.SourceID, chunk.Text)
		cost := a.counter.Count(entry)
		if tokenCap > 0 && used+cost > tokenCap {
			a.metrics.RecordBlockDropped(ctx, tenantID, string(KindRAGSources))
			break
		}
		sb.WriteString(entry)
		used += cost
		included++
	}

	if included == 0 {
		return ""
	}
	return strings.TrimRight(sb.String(), "\n")
}

// buildMemoryBlock 构建记忆块
//
// 超出上限时保留最新内容：从尾部截断，前缀加 "..."。
func (a *Assembler) buildMemoryBlock(ctx context.Context, input Input) string {
	if a.memories == nil || input.UserID == "" {
		return ""
	}

	mems, err := a.memories.TopMemories(ctx, input.UserID, input.Query, topMemoryCount)
	if err != nil {
		a.logger.Warn("memory lookup failed", "error", err)
		return ""
	}
	if len(mems) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(memoryHeading)
	sb.WriteString("\n")
	for _, m := range mems {
		sb.WriteString("- ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}

	text := strings.TrimRight(sb.String(), "\n")
	if tokenCap := input.Tenant.MemoryTokenCap; tokenCap > 0 {
		text = truncateTail(text, tokenCap, a.counter)
	}
	return text
}

// buildSearchBlock 构建搜索块
//
// 搜索失败不静默吞掉，块正文换成分类后的诊断文案。
func (a *Assembler) buildSearchBlock(results []websearch.Result, searchErr error, maxResults int) string {
	if searchErr != nil {
		return searchHeading + "\n" + websearch.Diagnostic(searchErr)
	}
	if len(results) == 0 {
		return searchHeading + "\nNo results found."
	}

	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}

	var sb strings.Builder
	sb.WriteString(searchHeading)
	sb.WriteString("\n")
	for _, r := range results {
		sb.WriteString(r.Title)
		sb.WriteString(" - ")
		sb.WriteString(r.URL)
		sb.WriteString("\n")
		sb.WriteString(r.Snippet)
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// truncateTail 截断到 token 上限，保留尾部内容
//
// 计数器单调，对起始位置二分即可落在 token 边界附近。
func truncateTail(text string, tokenCap int, counter TokenCounter) string {
	if counter.Count(text) <= tokenCap {
		return text
	}

	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi) / 2
		if counter.Count("..."+string(runes[mid:])) <= tokenCap {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return "..." + string(runes[lo:])
}
