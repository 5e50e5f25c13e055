package otel

// 指标名称常量
//
// 统一使用 orcha.* 前缀，便于在后端按服务聚合。
const (
	// MetricTurnsTotal 处理的聊天回合总数
	MetricTurnsTotal = "orcha.turns.total"
	// MetricTurnDuration 回合处理时长（毫秒）
	MetricTurnDuration = "orcha.turn.duration"
	// MetricTurnFailures 回合失败总数
	MetricTurnFailures = "orcha.turn.failures"
	// MetricContextTokens 注入上下文的 token 总量
	MetricContextTokens = "orcha.context.tokens"
	// MetricBlocksDropped 因预算被丢弃的上下文块总数
	MetricBlocksDropped = "orcha.context.blocks_dropped"
	// MetricSearchFailures 搜索提供商失败总数
	MetricSearchFailures = "orcha.search.failures"
	// MetricRetrievalFailures 检索服务失败总数
	MetricRetrievalFailures = "orcha.retrieval.failures"
	// MetricBudgetTokens 记入滚动窗口的 token 总量
	MetricBudgetTokens = "orcha.budget.tokens"
)

// 属性键常量
const (
	// AttrTenantID 租户标识属性
	AttrTenantID = "tenant_id"
	// AttrMode 请求模式属性
	AttrMode = "mode"
	// AttrBlockKind 上下文块类型属性
	AttrBlockKind = "block_kind"
	// AttrErrorClass 错误分类属性
	AttrErrorClass = "error_class"
	// AttrSuccess 回合是否成功
	AttrSuccess = "success"
)
