package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics 编排核心的指标集合
//
// 所有方法在未初始化时为空操作，组件无需判空。
type Metrics struct {
	turnsTotal        metric.Int64Counter
	turnDuration      metric.Float64Histogram
	turnFailures      metric.Int64Counter
	contextTokens     metric.Int64Histogram
	blocksDropped     metric.Int64Counter
	searchFailures    metric.Int64Counter
	retrievalFailures metric.Int64Counter
	budgetTokens      metric.Int64Counter
}

// NewMetrics 创建指标集合
func NewMetrics(meterName string) (*Metrics, error) {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}
	var err error

	if m.turnsTotal, err = meter.Int64Counter(MetricTurnsTotal,
		metric.WithDescription("total chat turns processed")); err != nil {
		return nil, err
	}
	if m.turnDuration, err = meter.Float64Histogram(MetricTurnDuration,
		metric.WithDescription("turn processing duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.turnFailures, err = meter.Int64Counter(MetricTurnFailures,
		metric.WithDescription("total failed turns")); err != nil {
		return nil, err
	}
	if m.contextTokens, err = meter.Int64Histogram(MetricContextTokens,
		metric.WithDescription("tokens injected as auxiliary context")); err != nil {
		return nil, err
	}
	if m.blocksDropped, err = meter.Int64Counter(MetricBlocksDropped,
		metric.WithDescription("context blocks dropped by the token budget")); err != nil {
		return nil, err
	}
	if m.searchFailures, err = meter.Int64Counter(MetricSearchFailures,
		metric.WithDescription("web search provider failures")); err != nil {
		return nil, err
	}
	if m.retrievalFailures, err = meter.Int64Counter(MetricRetrievalFailures,
		metric.WithDescription("retrieval service failures")); err != nil {
		return nil, err
	}
	if m.budgetTokens, err = meter.Int64Counter(MetricBudgetTokens,
		metric.WithDescription("tokens charged against the rolling window")); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordTurn 记录一次回合
func (m *Metrics) RecordTurn(ctx context.Context, tenantID, mode string, success bool, elapsed time.Duration) {
	if m == nil || m.turnsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(AttrTenantID, tenantID),
		attribute.String(AttrMode, mode),
		attribute.Bool(AttrSuccess, success),
	)
	m.turnsTotal.Add(ctx, 1, attrs)
	m.turnDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	if !success {
		m.turnFailures.Add(ctx, 1, attrs)
	}
}

// RecordContextTokens 记录上下文 token 量
func (m *Metrics) RecordContextTokens(ctx context.Context, tenantID string, tokens int) {
	if m == nil || m.contextTokens == nil {
		return
	}
	m.contextTokens.Record(ctx, int64(tokens),
		metric.WithAttributes(attribute.String(AttrTenantID, tenantID)))
}

// RecordBlockDropped 记录被丢弃的上下文块
func (m *Metrics) RecordBlockDropped(ctx context.Context, tenantID, kind string) {
	if m == nil || m.blocksDropped == nil {
		return
	}
	m.blocksDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrTenantID, tenantID),
		attribute.String(AttrBlockKind, kind),
	))
}

// RecordSearchFailure 记录搜索失败
func (m *Metrics) RecordSearchFailure(ctx context.Context, class string) {
	if m == nil || m.searchFailures == nil {
		return
	}
	m.searchFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String(AttrErrorClass, class)))
}

// RecordRetrievalFailure 记录检索失败
func (m *Metrics) RecordRetrievalFailure(ctx context.Context) {
	if m == nil || m.retrievalFailures == nil {
		return
	}
	m.retrievalFailures.Add(ctx, 1)
}

// RecordBudgetTokens 记录计入预算的 token 量
func (m *Metrics) RecordBudgetTokens(ctx context.Context, tenantID string, tokens int) {
	if m == nil || m.budgetTokens == nil {
		return
	}
	m.budgetTokens.Add(ctx, int64(tokens),
		metric.WithAttributes(attribute.String(AttrTenantID, tenantID)))
}
