// Package orchestrator 串联会话、上下文组装、模型调用与用量跟踪，
// 对外提供单次对话回合的处理入口。
//
// 处理结果永远以 Response 信封返回，调用方按 Success 分支；
// 模型中断产生的部分文本也会保留在 Data.Text 中。
package orchestrator

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/easyops/orcha-go/pkg/assembler"
	"github.com/easyops/orcha-go/pkg/budget"
	"github.com/easyops/orcha-go/pkg/core/config"
	"github.com/easyops/orcha-go/pkg/core/errors"
	"github.com/easyops/orcha-go/pkg/core/llm"
	"github.com/easyops/orcha-go/pkg/core/message"
	"github.com/easyops/orcha-go/pkg/memory"
	"github.com/easyops/orcha-go/pkg/otel"
	"github.com/easyops/orcha-go/pkg/session"
)

// Request 一次对话回合的请求
type Request struct {
	// TenantID 租户标识，为空时回落到默认租户
	TenantID string `json:"tenant_id"`
	// UserID 用户标识，为空时使用租户的默认用户
	UserID string `json:"user_id"`
	// ConversationID 会话标识，为空表示新会话
	ConversationID string `json:"conversation_id"`
	// Text 用户输入
	Text string `json:"text"`
	// Mode 显式指定回合模式；为空时按输入内容识别
	Mode assembler.Mode `json:"mode,omitempty"`
	// UseRAG 显式指定是否检索；nil 时由触发策略决定
	UseRAG *bool `json:"use_rag,omitempty"`
	// UseSearch 是否启用互联网搜索
	UseSearch bool `json:"use_search"`
}

// Data 响应数据
type Data struct {
	// Text 模型输出（失败时可能是部分文本）
	Text string `json:"text"`
	// ConversationID 本回合归属的会话
	ConversationID string `json:"conversation_id"`
	// Contexts 组装进上下文的各块，用于观测与调试
	Contexts []assembler.Block `json:"contexts,omitempty"`
}

// Response 一次对话回合的响应信封
type Response struct {
	// Success 回合是否完整成功
	Success bool `json:"success"`
	// Message 失败时的说明
	Message string `json:"message,omitempty"`
	// Data 响应数据
	Data Data `json:"data"`
	// TokenUsage 本回合的 token 用量
	TokenUsage *message.TokenUsage `json:"token_usage,omitempty"`
	// BudgetUsage 累计用量快照
	BudgetUsage *budget.Usage `json:"budget_usage,omitempty"`
}

// Orchestrator 对话回合编排器
type Orchestrator struct {
	provider  llm.Provider
	sessions  session.Store
	assembler *assembler.Assembler
	tracker   budget.Tracker
	memories  memory.Store
	tenants   *config.Tenants
	logger    otel.Logger
	metrics   *otel.Metrics
	tracer    *otel.Tracer
}

// Option 配置 Orchestrator
type Option func(*Orchestrator)

// WithTracker 设置用量跟踪器
func WithTracker(tracker budget.Tracker) Option {
	return func(o *Orchestrator) {
		o.tracker = tracker
	}
}

// WithMemoryStore 设置记忆存储
//
// 记忆提取回合会把模型输出写入该存储。
func WithMemoryStore(store memory.Store) Option {
	return func(o *Orchestrator) {
		o.memories = store
	}
}

// WithLogger 设置日志器
func WithLogger(logger otel.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics 设置指标记录器
func WithMetrics(metrics *otel.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// WithTracer 设置链路追踪器
func WithTracer(tracer *otel.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

// New 创建编排器
func New(provider llm.Provider, sessions session.Store, asm *assembler.Assembler, tenants *config.Tenants, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:  provider,
		sessions:  sessions,
		assembler: asm,
		tenants:   tenants,
		logger:    otel.NewNoopLogger(),
		tracer:    otel.NewTracer("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleTurn 处理一次对话回合
func (o *Orchestrator) HandleTurn(ctx context.Context, req Request) Response {
	start := time.Now()

	tenant := o.resolveTenant(req)
	userID := req.UserID
	if userID == "" {
		userID = tenant.DefaultUserID
	}

	mode := req.Mode
	if mode == "" {
		mode = assembler.DetectMode(req.Text)
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.HandleTurn",
		attribute.String("tenant.id", tenant.TenantID),
		attribute.String("turn.mode", string(mode)),
	)

	resp := o.handleTurn(ctx, req, tenant, userID, mode)

	var spanErr error
	if !resp.Success {
		spanErr = stderrors.New(resp.Message)
	}
	otel.End(span, spanErr)
	o.metrics.RecordTurn(ctx, tenant.TenantID, string(mode), resp.Success, time.Since(start))

	return resp
}

// resolveTenant 解析请求的租户配置
func (o *Orchestrator) resolveTenant(req Request) config.TenantConfig {
	tenantID := req.TenantID
	if tenantID == "" {
		fallback := o.tenants.Get("")
		if fallback.DefaultTenantID != "" {
			tenantID = fallback.DefaultTenantID
		}
	}
	return o.tenants.Get(tenantID)
}

// handleTurn 回合状态机主体
func (o *Orchestrator) handleTurn(ctx context.Context, req Request, tenant config.TenantConfig, userID string, mode assembler.Mode) Response {
	log := o.logger.WithContext(ctx)

	sess, err := o.sessions.Load(ctx, req.ConversationID, tenant.TenantID, userID)
	if err != nil {
		log.Warn("failed to load conversation",
			"conversation_id", req.ConversationID, "error", err)
		return o.failure(req.ConversationID, "", err)
	}

	var history []message.Message
	if sess != nil {
		history = sess.Turns
	}

	assembled, err := o.assembler.Assemble(ctx, assembler.Input{
		Mode:      mode,
		Query:     req.Text,
		UserID:    userID,
		History:   history,
		UseRAG:    req.UseRAG,
		UseSearch: req.UseSearch,
		Tenant:    tenant,
	})
	if err != nil {
		return o.failure(req.ConversationID, "", err)
	}

	modelResp, modelErr := o.provider.Generate(ctx, llm.Request{Messages: assembled.Messages})
	if modelErr != nil {
		log.Error("model call failed", "error", modelErr)
		// 已产生的部分文本保留在响应里
		resp := o.failure(req.ConversationID, modelResp.Content, modelErr)
		resp.Data.Contexts = assembled.Blocks
		return resp
	}

	userMsg := message.NewUserMessage(req.Text)
	assistantMsg := message.NewAssistantMessage(modelResp.Content)
	sess, err = o.sessions.Append(ctx, req.ConversationID, tenant.TenantID, userID, userMsg, assistantMsg)
	if err != nil {
		log.Error("failed to persist turn", "error", err)
		resp := o.failure(req.ConversationID, modelResp.Content, err)
		resp.Data.Contexts = assembled.Blocks
		resp.TokenUsage = &modelResp.TokenUsage
		return resp
	}

	if mode == assembler.ModeMemoryExtract {
		o.storeExtractedMemories(ctx, userID, modelResp.Content)
	}

	usage := o.recordUsage(ctx, tenant.TenantID, userID, req.Text, modelResp)

	log.Info("turn completed",
		"tenant_id", tenant.TenantID,
		"conversation_id", sess.ID,
		"mode", string(mode),
		"total_tokens", modelResp.TokenUsage.TotalTokens,
	)

	return Response{
		Success: true,
		Data: Data{
			Text:           modelResp.Content,
			ConversationID: sess.ID,
			Contexts:       assembled.Blocks,
		},
		TokenUsage:  &modelResp.TokenUsage,
		BudgetUsage: usage,
	}
}

// storeExtractedMemories 将提取回合的输出逐行写入记忆库
func (o *Orchestrator) storeExtractedMemories(ctx context.Context, userID, output string) {
	if o.memories == nil {
		return
	}
	// 单行写入失败不放弃剩余行
	for _, line := range splitLines(output) {
		if _, err := o.memories.Append(ctx, userID, line, "extraction"); err != nil {
			o.logger.Warn("failed to store extracted memory", "error", err)
		}
	}
}

// recordUsage 上报本回合的 token 用量
//
// 提供商未返回用量时按文本长度估算；跟踪失败就地降级，
// 不影响回合结果。
func (o *Orchestrator) recordUsage(ctx context.Context, tenantID, userID, input string, modelResp llm.Response) *budget.Usage {
	if o.tracker == nil {
		return nil
	}

	total := modelResp.TokenUsage.TotalTokens
	if total == 0 {
		total = (len(input) + len(modelResp.Content)) / 4
	}

	usage, err := o.tracker.AddUsage(ctx, tenantID, userID, total)
	if err != nil {
		o.logger.Warn("usage tracking failed", "error", err)
		usage = budget.Usage{TrackingEnabled: false}
	}
	o.metrics.RecordBudgetTokens(ctx, tenantID, total)
	return &usage
}

// failure 构建失败信封
func (o *Orchestrator) failure(conversationID, partialText string, err error) Response {
	msg := "internal error"
	switch {
	case stderrors.Is(err, errors.ErrIdentityMismatch):
		msg = "conversation belongs to a different tenant or user"
	case stderrors.Is(err, errors.ErrConversationNotFound):
		msg = "conversation not found"
	case errors.IsRetryable(err):
		msg = "the model is temporarily unavailable, please retry"
	case errors.IsFatal(err):
		msg = "request rejected"
	case err != nil:
		msg = err.Error()
	}

	return Response{
		Success: false,
		Message: msg,
		Data: Data{
			Text:           partialText,
			ConversationID: conversationID,
		},
	}
}

// splitLines 拆分非空行
func splitLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
