package orchestrator

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/easyops/orcha-go/pkg/assembler"
	"github.com/easyops/orcha-go/pkg/budget"
	"github.com/easyops/orcha-go/pkg/core/config"
	"github.com/easyops/orcha-go/pkg/core/errors"
	"github.com/easyops/orcha-go/pkg/core/llm"
	"github.com/easyops/orcha-go/pkg/core/message"
	"github.com/easyops/orcha-go/pkg/memory"
	"github.com/easyops/orcha-go/pkg/session"
	"github.com/easyops/orcha-go/pkg/websearch"
)

// mockProvider returns a canned response or error.
type mockProvider struct {
	response llm.Response
	err      error
	requests []llm.Request
}

func (m *mockProvider) Generate(_ context.Context, req llm.Request) (llm.Response, error) {
	m.requests = append(m.requests, req)
	return m.response, m.err
}

func (m *mockProvider) Name() string  { return "mock" }
func (m *mockProvider) Model() string { return "mock-model" }
func (m *mockProvider) Close() error  { return nil }

func newTestOrchestrator(provider llm.Provider, opts ...Option) (*Orchestrator, session.Store) {
	sessions := session.NewMemoryStore()
	asm := assembler.New(assembler.WithTokenCounter(assembler.NewEstimatedCounter()))
	tenants := config.NewTenants(config.TenantConfig{DefaultUserID: "default-user"})
	return New(provider, sessions, asm, tenants, opts...), sessions
}

func TestHandleTurn_Success(t *testing.T) {
	provider := &mockProvider{response: llm.Response{
		Content: "your deductible is 500 dollars",
		TokenUsage: message.TokenUsage{
			PromptTokens:     100,
			CompletionTokens: 20,
			TotalTokens:      120,
		},
	}}

	tracker := budget.NewMemoryTracker()
	o, _ := newTestOrchestrator(provider, WithTracker(tracker))

	resp := o.HandleTurn(context.Background(), Request{
		TenantID: "acme",
		UserID:   "u1",
		Text:     "what is my deductible?",
	})

	if !resp.Success {
		t.Fatalf("expected success, got %q", resp.Message)
	}
	if resp.Data.Text != "your deductible is 500 dollars" {
		t.Errorf("unexpected text %q", resp.Data.Text)
	}
	if resp.Data.ConversationID == "" {
		t.Error("expected conversation id in response")
	}
	if resp.TokenUsage == nil || resp.TokenUsage.TotalTokens != 120 {
		t.Errorf("unexpected token usage %+v", resp.TokenUsage)
	}
	if resp.BudgetUsage == nil || resp.BudgetUsage.CurrentUsage != 120 {
		t.Errorf("unexpected budget usage %+v", resp.BudgetUsage)
	}

	// The model must have seen the system prompt and the user turn.
	req := provider.requests[0]
	if req.Messages[0].Role != message.RoleSystem {
		t.Error("expected system prompt first")
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != message.RoleUser || last.Content != "what is my deductible?" {
		t.Errorf("expected user turn last, got %+v", last)
	}
}

func TestHandleTurn_PersistsBothTurns(t *testing.T) {
	provider := &mockProvider{response: llm.Response{Content: "answer"}}
	o, sessions := newTestOrchestrator(provider)
	ctx := context.Background()

	resp := o.HandleTurn(ctx, Request{TenantID: "acme", UserID: "u1", Text: "question"})

	sess, err := sessions.Load(ctx, resp.Data.ConversationID, "acme", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sess.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(sess.Turns))
	}
	if sess.Turns[0].Role != message.RoleUser || sess.Turns[1].Role != message.RoleAssistant {
		t.Error("unexpected turn roles")
	}
}

func TestHandleTurn_ContinuesConversation(t *testing.T) {
	provider := &mockProvider{response: llm.Response{Content: "answer"}}
	o, _ := newTestOrchestrator(provider)
	ctx := context.Background()

	first := o.HandleTurn(ctx, Request{TenantID: "acme", UserID: "u1", Text: "first"})
	second := o.HandleTurn(ctx, Request{
		TenantID:       "acme",
		UserID:         "u1",
		ConversationID: first.Data.ConversationID,
		Text:           "second",
	})

	if second.Data.ConversationID != first.Data.ConversationID {
		t.Error("expected same conversation id")
	}

	// Second call must include the first exchange as history.
	req := provider.requests[1]
	foundHistory := false
	for _, msg := range req.Messages {
		if msg.Role == message.RoleUser && msg.Content == "first" {
			foundHistory = true
		}
	}
	if !foundHistory {
		t.Error("expected first turn in history")
	}
}

func TestHandleTurn_IdentityMismatch(t *testing.T) {
	provider := &mockProvider{response: llm.Response{Content: "answer"}}
	o, _ := newTestOrchestrator(provider)
	ctx := context.Background()

	first := o.HandleTurn(ctx, Request{TenantID: "acme", UserID: "u1", Text: "mine"})

	resp := o.HandleTurn(ctx, Request{
		TenantID:       "globex",
		UserID:         "u1",
		ConversationID: first.Data.ConversationID,
		Text:           "not mine",
	})

	if resp.Success {
		t.Fatal("expected failure for identity mismatch")
	}
	if resp.Message != "conversation belongs to a different tenant or user" {
		t.Errorf("unexpected message %q", resp.Message)
	}
	if len(provider.requests) != 1 {
		t.Error("expected no model call on identity mismatch")
	}
}

func TestHandleTurn_ModelFailurePreservesPartialText(t *testing.T) {
	provider := &mockProvider{
		response: llm.Response{Content: "partial answer before the"},
		err:      errors.ErrTimeout,
	}
	o, sessions := newTestOrchestrator(provider)
	ctx := context.Background()

	resp := o.HandleTurn(ctx, Request{TenantID: "acme", UserID: "u1", Text: "q"})

	if resp.Success {
		t.Fatal("expected failure on model error")
	}
	if resp.Data.Text != "partial answer before the" {
		t.Errorf("expected partial text preserved, got %q", resp.Data.Text)
	}

	// Failed turns are not persisted.
	sums, _ := sessions.List(ctx, "acme", "u1")
	if len(sums) != 0 {
		t.Errorf("expected no persisted conversation, got %d", len(sums))
	}
}

func TestHandleTurn_DefaultUserID(t *testing.T) {
	provider := &mockProvider{response: llm.Response{Content: "answer"}}
	o, sessions := newTestOrchestrator(provider)
	ctx := context.Background()

	resp := o.HandleTurn(ctx, Request{TenantID: "acme", Text: "no user supplied"})
	if !resp.Success {
		t.Fatalf("expected success, got %q", resp.Message)
	}

	sess, err := sessions.Load(ctx, resp.Data.ConversationID, "acme", "default-user")
	if err != nil {
		t.Fatalf("expected session bound to default user: %v", err)
	}
	if sess.UserID != "default-user" {
		t.Errorf("unexpected user %q", sess.UserID)
	}
}

func TestHandleTurn_MemoryExtraction(t *testing.T) {
	provider := &mockProvider{response: llm.Response{
		Content: "owns a home insurance policy\nprefers email contact\n",
	}}
	mems := memory.NewMemoryStore()
	o, _ := newTestOrchestrator(provider, WithMemoryStore(mems))
	ctx := context.Background()

	resp := o.HandleTurn(ctx, Request{
		TenantID: "acme",
		UserID:   "u1",
		Text:     "Based on my recent messages, extract and remember key facts about me",
	})
	if !resp.Success {
		t.Fatalf("expected success, got %q", resp.Message)
	}

	stored, _ := mems.TopMemories(ctx, "u1", "", 10)
	if len(stored) != 2 {
		t.Fatalf("expected 2 extracted memories, got %d", len(stored))
	}
	for _, m := range stored {
		if m.Source != "extraction" {
			t.Errorf("expected extraction source, got %q", m.Source)
		}
	}
}

// failingSearcher always returns the configured error.
type failingSearcher struct {
	err error
}

func (f *failingSearcher) Search(context.Context, string, int) ([]websearch.Result, error) {
	return nil, f.err
}

func TestHandleTurn_SearchQuotaExceededStillSucceeds(t *testing.T) {
	provider := &mockProvider{response: llm.Response{Content: "answer"}}
	sessions := session.NewMemoryStore()
	asm := assembler.New(
		assembler.WithTokenCounter(assembler.NewEstimatedCounter()),
		assembler.WithSearcher(&failingSearcher{err: errors.ErrSearchQuotaExceeded}),
	)
	tenants := config.NewTenants(config.TenantConfig{})
	o := New(provider, sessions, asm, tenants)

	resp := o.HandleTurn(context.Background(), Request{
		TenantID:  "acme",
		UserID:    "u1",
		Text:      "latest insurance news",
		UseSearch: true,
	})

	// A search provider failure degrades the block, never the turn.
	if !resp.Success {
		t.Fatalf("expected success despite quota exhaustion, got %q", resp.Message)
	}
	found := false
	for _, block := range resp.Data.Contexts {
		if block.Kind == assembler.KindSearchResults && strings.Contains(block.Text, "quota") {
			found = true
		}
	}
	if !found {
		t.Error("expected quota diagnostic in the search context block")
	}
}

func TestHandleTurn_ModeOverride(t *testing.T) {
	provider := &mockProvider{response: llm.Response{Content: "best travel insurance providers 2026"}}
	o, _ := newTestOrchestrator(provider)

	resp := o.HandleTurn(context.Background(), Request{
		TenantID: "acme",
		UserID:   "u1",
		Text:     "what should I search for to compare travel insurance?",
		Mode:     assembler.ModeSearchRefine,
	})
	if !resp.Success {
		t.Fatalf("expected success, got %q", resp.Message)
	}

	req := provider.requests[0]
	if req.Messages[0].Content != assembler.SystemPrompt(assembler.ModeSearchRefine) {
		t.Error("expected the search refinement system prompt")
	}
}

// flakyMemoryStore fails the first N appends, then delegates.
type flakyMemoryStore struct {
	inner    memory.Store
	failures int
	calls    int
}

func (f *flakyMemoryStore) Append(ctx context.Context, userID, content, source string) (memory.Memory, error) {
	f.calls++
	if f.calls <= f.failures {
		return memory.Memory{}, stderrors.New("store write failed")
	}
	return f.inner.Append(ctx, userID, content, source)
}

func (f *flakyMemoryStore) TopMemories(ctx context.Context, userID, query string, k int) ([]memory.Memory, error) {
	return f.inner.TopMemories(ctx, userID, query, k)
}

func (f *flakyMemoryStore) Deactivate(ctx context.Context, userID, memoryID string) error {
	return f.inner.Deactivate(ctx, userID, memoryID)
}

func TestHandleTurn_ExtractionContinuesPastStoreFailure(t *testing.T) {
	provider := &mockProvider{response: llm.Response{
		Content: "first fact\nsecond fact\nthird fact",
	}}
	mems := &flakyMemoryStore{inner: memory.NewMemoryStore(), failures: 1}
	o, _ := newTestOrchestrator(provider, WithMemoryStore(mems))
	ctx := context.Background()

	resp := o.HandleTurn(ctx, Request{
		TenantID: "acme",
		UserID:   "u1",
		Text:     "Based on my recent messages, extract and remember key facts about me",
	})
	if !resp.Success {
		t.Fatalf("expected success, got %q", resp.Message)
	}

	// One failed line must not drop the rest.
	stored, _ := mems.TopMemories(ctx, "u1", "", 10)
	if len(stored) != 2 {
		t.Fatalf("expected 2 memories stored after one failure, got %d", len(stored))
	}
}

func TestHandleTurn_TrackingFailureDoesNotFailTurn(t *testing.T) {
	provider := &mockProvider{response: llm.Response{
		Content:    "answer",
		TokenUsage: message.TokenUsage{TotalTokens: 50},
	}}

	tracker, err := budget.NewSQLiteTracker(t.TempDir() + "/usage.db")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tracker.Close() // store unreachable from here on

	o, _ := newTestOrchestrator(provider, WithTracker(tracker))

	resp := o.HandleTurn(context.Background(), Request{TenantID: "acme", UserID: "u1", Text: "q"})
	if !resp.Success {
		t.Fatalf("expected success despite tracking failure, got %q", resp.Message)
	}
	if resp.BudgetUsage == nil || resp.BudgetUsage.TrackingEnabled {
		t.Error("expected tracking disabled in budget usage")
	}
}

func TestHandleTurn_EstimatedUsageFallback(t *testing.T) {
	provider := &mockProvider{response: llm.Response{Content: "12345678"}}
	tracker := budget.NewMemoryTracker()
	o, _ := newTestOrchestrator(provider, WithTracker(tracker))

	resp := o.HandleTurn(context.Background(), Request{TenantID: "acme", UserID: "u1", Text: "12345678"})
	if !resp.Success {
		t.Fatalf("expected success, got %q", resp.Message)
	}
	// (8 + 8) / 4 = 4 estimated tokens
	if resp.BudgetUsage.CurrentUsage != 4 {
		t.Errorf("expected estimated usage 4, got %d", resp.BudgetUsage.CurrentUsage)
	}
}
