package assembler

import (
	"context"
	"strings"
	"testing"

	"github.com/easyops/orcha-go/pkg/core/config"
	"github.com/easyops/orcha-go/pkg/core/errors"
	"github.com/easyops/orcha-go/pkg/core/message"
	"github.com/easyops/orcha-go/pkg/memory"
	"github.com/easyops/orcha-go/pkg/retrieval"
	"github.com/easyops/orcha-go/pkg/websearch"
)

// fakeRetriever returns canned chunks or an error.
type fakeRetriever struct {
	chunks []retrieval.Chunk
	err    error
	calls  int
}

func (f *fakeRetriever) Query(_ context.Context, _ string, _ int) ([]retrieval.Chunk, error) {
	f.calls++
	return f.chunks, f.err
}

// fakeSearcher returns canned results or an error.
type fakeSearcher struct {
	results []websearch.Result
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, _ string, _ int) ([]websearch.Result, error) {
	return f.results, f.err
}

func testTenant() config.TenantConfig {
	return config.TenantConfig{
		TenantID:        "acme",
		MemoryTokenCap:  2000,
		SearchResultCap: 5,
		RAGTokenCap:     3200,
		RAGTopK:         8,
		HistoryLimit:    10,
	}
}

func boolPtr(b bool) *bool { return &b }

func TestAssemble_Ordering(t *testing.T) {
	mems := memory.NewMemoryStore()
	_, _ = mems.Append(context.Background(), "u1", "prefers concise answers", "manual")

	a := New(
		WithTokenCounter(NewEstimatedCounter()),
		WithRetriever(&fakeRetriever{chunks: []retrieval.Chunk{{SourceID: "doc_1", Text: "policy details"}}}),
		WithSearcher(&fakeSearcher{results: []websearch.Result{{Title: "News", URL: "https://e.com", Snippet: "s"}}}),
		WithMemoryStore(mems),
	)

	history := []message.Message{
		message.NewUserMessage("earlier question"),
		message.NewAssistantMessage("earlier answer"),
	}

	out, err := a.Assemble(context.Background(), Input{
		Query:     "tell me about my coverage",
		UserID:    "u1",
		History:   history,
		UseRAG:    boolPtr(true),
		UseSearch: true,
		Tenant:    testTenant(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantKinds := []BlockKind{KindSystemPrompt, KindRAGSources, KindUserMemory, KindSearchResults}
	if len(out.Blocks) != len(wantKinds) {
		t.Fatalf("expected %d blocks, got %d", len(wantKinds), len(out.Blocks))
	}
	for i, kind := range wantKinds {
		if out.Blocks[i].Kind != kind {
			t.Errorf("block %d: expected %s, got %s", i, kind, out.Blocks[i].Kind)
		}
	}

	// [system blocks...] + history + [user turn]
	wantLen := len(wantKinds) + len(history) + 1
	if len(out.Messages) != wantLen {
		t.Fatalf("expected %d messages, got %d", wantLen, len(out.Messages))
	}
	last := out.Messages[len(out.Messages)-1]
	if last.Role != message.RoleUser || last.Content != "tell me about my coverage" {
		t.Errorf("expected user turn last, got %+v", last)
	}
	if out.Messages[0].Role != message.RoleSystem {
		t.Error("expected system prompt first")
	}
}

func TestAssemble_SystemPromptNeverTruncated(t *testing.T) {
	a := New(WithTokenCounter(NewEstimatedCounter()))

	out, err := a.Assemble(context.Background(), Input{
		Query:  "hi",
		Tenant: config.TenantConfig{TenantID: "acme"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Blocks[0].Text != SystemPrompt(ModeChat) {
		t.Error("system prompt must be included verbatim")
	}
}

func TestAssemble_RAGWholeChunksUnderCap(t *testing.T) {
	big := strings.Repeat("x", 4000) // ~1000 estimated tokens
	retriever := &fakeRetriever{chunks: []retrieval.Chunk{
		{SourceID: "a", Text: big},
		{SourceID: "b", Text: big},
		{SourceID: "c", Text: big},
	}}

	tenant := testTenant()
	tenant.RAGTokenCap = 2100

	a := New(
		WithTokenCounter(NewEstimatedCounter()),
		WithRetriever(retriever),
	)

	out, err := a.Assemble(context.Background(), Input{
		Query:  "q",
		UseRAG: boolPtr(true),
		Tenant: tenant,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var rag *Block
	for i := range out.Blocks {
		if out.Blocks[i].Kind == KindRAGSources {
			rag = &out.Blocks[i]
		}
	}
	if rag == nil {
		t.Fatal("expected rag block")
	}
	if !strings.Contains(rag.Text, "[a]") || !strings.Contains(rag.Text, "[b]") {
		t.Error("expected first two chunks included")
	}
	if strings.Contains(rag.Text, "[c]") {
		t.Error("expected third chunk dropped whole")
	}
	if !strings.HasPrefix(rag.Text, "=== SOURCES ===") {
		t.Errorf("expected sources heading, got %q", rag.Text[:20])
	}
	if rag.TokenCount > tenant.RAGTokenCap {
		t.Errorf("rag block exceeds cap: %d > %d", rag.TokenCount, tenant.RAGTokenCap)
	}
}

func TestAssemble_RAGTriggeredByPolicy(t *testing.T) {
	retriever := &fakeRetriever{chunks: []retrieval.Chunk{{SourceID: "a", Text: "chunk"}}}
	a := New(
		WithTokenCounter(NewEstimatedCounter()),
		WithRetriever(retriever),
	)

	// Plain short query: the keyword policy must not trigger retrieval.
	_, _ = a.Assemble(context.Background(), Input{Query: "hello", Tenant: testTenant()})
	if retriever.calls != 0 {
		t.Error("expected no retrieval for plain short query")
	}

	// Keyword hit triggers retrieval.
	_, _ = a.Assemble(context.Background(), Input{Query: "search my documents", Tenant: testTenant()})
	if retriever.calls != 1 {
		t.Error("expected retrieval for keyword query")
	}

	// Explicit opt-out wins over the policy.
	_, _ = a.Assemble(context.Background(), Input{Query: "search this", UseRAG: boolPtr(false), Tenant: testTenant()})
	if retriever.calls != 1 {
		t.Error("expected explicit UseRAG=false to suppress retrieval")
	}
}

func TestAssemble_RetrievalFailureDegrades(t *testing.T) {
	a := New(
		WithTokenCounter(NewEstimatedCounter()),
		WithRetriever(&fakeRetriever{err: errors.ErrRetrievalUnavailable}),
	)

	out, err := a.Assemble(context.Background(), Input{
		Query:  "q",
		UseRAG: boolPtr(true),
		Tenant: testTenant(),
	})
	if err != nil {
		t.Fatalf("expected assembly to survive retrieval failure, got %v", err)
	}

	// A failed lookup degrades to a diagnostic block, not a silent omission.
	var ragBlock *Block
	for i := range out.Blocks {
		if out.Blocks[i].Kind == KindRAGSources {
			ragBlock = &out.Blocks[i]
		}
	}
	if ragBlock == nil {
		t.Fatalf("expected diagnostic rag block on retrieval failure, blocks=%d", len(out.Blocks))
	}
	if !strings.Contains(ragBlock.Text, "temporarily unavailable") {
		t.Errorf("expected diagnostic text in rag block, got %q", ragBlock.Text)
	}
}

func TestAssemble_MemoryTruncationKeepsTail(t *testing.T) {
	mems := memory.NewMemoryStore()
	_, _ = mems.Append(context.Background(), "u1", strings.Repeat("old ", 500)+"LATEST", "manual")

	tenant := testTenant()
	tenant.MemoryTokenCap = 100

	a := New(
		WithTokenCounter(NewEstimatedCounter()),
		WithMemoryStore(mems),
	)

	out, err := a.Assemble(context.Background(), Input{
		Query:  "q",
		UserID: "u1",
		Tenant: tenant,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var mem *Block
	for i := range out.Blocks {
		if out.Blocks[i].Kind == KindUserMemory {
			mem = &out.Blocks[i]
		}
	}
	if mem == nil {
		t.Fatal("expected memory block")
	}
	if !strings.HasPrefix(mem.Text, "...") {
		t.Errorf("expected ellipsis prefix, got %q", mem.Text[:10])
	}
	if !strings.HasSuffix(mem.Text, "LATEST") {
		t.Error("expected latest content kept")
	}
	if mem.TokenCount > tenant.MemoryTokenCap {
		t.Errorf("memory block exceeds cap: %d > %d", mem.TokenCount, tenant.MemoryTokenCap)
	}
}

func TestAssemble_SearchFailureDiagnostic(t *testing.T) {
	a := New(
		WithTokenCounter(NewEstimatedCounter()),
		WithSearcher(&fakeSearcher{err: errors.ErrSearchQuotaExceeded}),
	)

	out, err := a.Assemble(context.Background(), Input{
		Query:     "q",
		UseSearch: true,
		Tenant:    testTenant(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var search *Block
	for i := range out.Blocks {
		if out.Blocks[i].Kind == KindSearchResults {
			search = &out.Blocks[i]
		}
	}
	if search == nil {
		t.Fatal("expected search block with diagnostic")
	}
	if !strings.Contains(search.Text, "quota") {
		t.Errorf("expected quota diagnostic, got %q", search.Text)
	}
}

func TestAssemble_SearchResultCap(t *testing.T) {
	results := make([]websearch.Result, 8)
	for i := range results {
		results[i] = websearch.Result{Title: "t", URL: "u", Snippet: "s"}
	}

	tenant := testTenant()
	tenant.SearchResultCap = 3

	a := New(
		WithTokenCounter(NewEstimatedCounter()),
		WithSearcher(&fakeSearcher{results: results}),
	)

	out, _ := a.Assemble(context.Background(), Input{
		Query:     "q",
		UseSearch: true,
		Tenant:    tenant,
	})

	for _, block := range out.Blocks {
		if block.Kind == KindSearchResults {
			if got := strings.Count(block.Text, "t - u"); got != 3 {
				t.Errorf("expected 3 results, got %d", got)
			}
		}
	}
}

func TestAssemble_HistoryLimit(t *testing.T) {
	var history []message.Message
	for i := 0; i < 20; i++ {
		history = append(history, message.NewUserMessage("turn"))
	}

	tenant := testTenant()
	tenant.HistoryLimit = 4

	a := New(WithTokenCounter(NewEstimatedCounter()))
	out, _ := a.Assemble(context.Background(), Input{
		Query:   "q",
		History: history,
		Tenant:  tenant,
	})

	// system + 4 history + user
	if len(out.Messages) != 6 {
		t.Errorf("expected 6 messages, got %d", len(out.Messages))
	}
}

func TestAssemble_MemoryExtractModeSkipsSources(t *testing.T) {
	retriever := &fakeRetriever{chunks: []retrieval.Chunk{{SourceID: "a", Text: "chunk"}}}
	a := New(
		WithTokenCounter(NewEstimatedCounter()),
		WithRetriever(retriever),
	)

	out, _ := a.Assemble(context.Background(), Input{
		Mode:   ModeMemoryExtract,
		Query:  "search all the things",
		UseRAG: boolPtr(true),
		Tenant: testTenant(),
	})

	if retriever.calls != 0 {
		t.Error("expected no retrieval in memory extract mode")
	}
	if len(out.Blocks) != 1 || out.Blocks[0].Kind != KindSystemPrompt {
		t.Error("expected only the system prompt block")
	}
	if out.Blocks[0].Text != SystemPrompt(ModeMemoryExtract) {
		t.Error("expected memory extraction prompt")
	}
}

func TestDetectMode(t *testing.T) {
	if DetectMode("what is my deductible?") != ModeChat {
		t.Error("expected chat mode for plain question")
	}
	if DetectMode("Based on my recent messages, extract and remember key facts") != ModeMemoryExtract {
		t.Error("expected memory extract mode for extraction prefix")
	}
	if DetectMode("  Based on my recent messages, extract and remember this") != ModeMemoryExtract {
		t.Error("expected prefix match after whitespace trim")
	}
}

func TestTruncateTail(t *testing.T) {
	counter := NewEstimatedCounter()

	short := "short text"
	if got := truncateTail(short, 100, counter); got != short {
		t.Errorf("expected unchanged text, got %q", got)
	}

	long := strings.Repeat("abcd ", 200)
	got := truncateTail(long, 50, counter)
	if counter.Count(got) > 50 {
		t.Errorf("truncated text exceeds cap: %d", counter.Count(got))
	}
	if !strings.HasPrefix(got, "...") {
		t.Error("expected ellipsis prefix")
	}
	if !strings.HasSuffix(long, strings.TrimPrefix(got, "...")) {
		t.Error("expected kept content to be a suffix of the original")
	}
}

func TestBlockKindPriority(t *testing.T) {
	order := []BlockKind{KindSystemPrompt, KindRAGSources, KindUserMemory, KindSearchResults}
	for i := 1; i < len(order); i++ {
		if order[i-1].Priority() <= order[i].Priority() {
			t.Errorf("expected %s priority above %s", order[i-1], order[i])
		}
	}
}
