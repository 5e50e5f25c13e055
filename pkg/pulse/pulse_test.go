package pulse

import (
	"context"
	"strings"
	"testing"

	"github.com/easyops/orcha-go/pkg/core/llm"
	"github.com/easyops/orcha-go/pkg/core/message"
	"github.com/easyops/orcha-go/pkg/session"
)

// mockProvider captures the digest prompt and returns canned content.
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

func TestGenerateForUser(t *testing.T) {
	sessions := session.NewMemoryStore()
	ctx := context.Background()

	_, _ = sessions.Append(ctx, "", "acme", "u1",
		message.NewUserMessage("how do I file a claim?"),
		message.NewAssistantMessage("start by documenting the damage"))

	provider := &mockProvider{response: llm.Response{Content: "Today you explored the claims process."}}
	sink := NewMemorySink()
	gen := NewGenerator(provider, sessions, sink)

	digest, err := gen.GenerateForUser(ctx, "acme", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if digest == nil {
		t.Fatal("expected digest")
	}
	if digest.Content != "Today you explored the claims process." {
		t.Errorf("unexpected content %q", digest.Content)
	}
	if len(sink.Digests()) != 1 {
		t.Errorf("expected 1 saved digest, got %d", len(sink.Digests()))
	}

	// The prompt must include the conversation content.
	prompt := provider.requests[0].Messages[1].Content
	if !strings.Contains(prompt, "how do I file a claim?") {
		t.Error("expected conversation content in digest prompt")
	}
}

func TestGenerateForUser_NoConversations(t *testing.T) {
	provider := &mockProvider{response: llm.Response{Content: "unused"}}
	gen := NewGenerator(provider, session.NewMemoryStore(), NewMemorySink())

	digest, err := gen.GenerateForUser(context.Background(), "acme", "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if digest != nil {
		t.Error("expected nil digest for user without conversations")
	}
	if len(provider.requests) != 0 {
		t.Error("expected no model call for user without conversations")
	}
}

func TestBuildContext_ClipsMessages(t *testing.T) {
	long := strings.Repeat("x", 1000)
	sessions := []*session.Session{{
		Title: "long chat",
		Turns: []message.Message{message.NewUserMessage(long)},
	}}

	got := buildContext(sessions)
	if strings.Contains(got, long) {
		t.Error("expected message clipped to 300 runes")
	}
	if !strings.Contains(got, strings.Repeat("x", messageClipRunes)+"…") {
		t.Error("expected clipped message with ellipsis")
	}
}

func TestBuildContext_TotalCap(t *testing.T) {
	var sessions []*session.Session
	for i := 0; i < 20; i++ {
		var turns []message.Message
		for j := 0; j < 10; j++ {
			turns = append(turns, message.NewUserMessage(strings.Repeat("y", 290)))
		}
		sessions = append(sessions, &session.Session{Title: "chat", Turns: turns})
	}

	got := buildContext(sessions)
	if n := len([]rune(got)); n > contextClipRunes {
		t.Errorf("context exceeds cap: %d > %d", n, contextClipRunes)
	}
}

func TestClip(t *testing.T) {
	if got := clip("short", 300); got != "short" {
		t.Errorf("expected unchanged text, got %q", got)
	}
	got := clip(strings.Repeat("z", 400), 300)
	if len([]rune(got)) != 301 {
		t.Errorf("expected 300 runes plus ellipsis, got %d", len([]rune(got)))
	}
}
