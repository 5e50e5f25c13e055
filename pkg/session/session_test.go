package session

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/easyops/orcha-go/pkg/core/errors"
	"github.com/easyops/orcha-go/pkg/core/message"
)

func TestMemoryStore_LoadEmptyID(t *testing.T) {
	store := NewMemoryStore()

	sess, err := store.Load(context.Background(), "", "acme", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess != nil {
		t.Error("expected nil session for empty id")
	}
}

func TestMemoryStore_LoadNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Load(context.Background(), "missing", "acme", "u1")
	if err != errors.ErrConversationNotFound {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestMemoryStore_AppendCreates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess, err := store.Append(ctx, "", "acme", "u1",
		message.NewUserMessage("hello there"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected minted conversation id")
	}
	if sess.TenantID != "acme" || sess.UserID != "u1" {
		t.Errorf("identity not bound: %s/%s", sess.TenantID, sess.UserID)
	}
	if len(sess.Turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(sess.Turns))
	}
	if sess.Title != "hello there" {
		t.Errorf("expected auto title, got %q", sess.Title)
	}

	loaded, err := store.Load(ctx, sess.ID, "acme", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Turns[0].Content != "hello there" {
		t.Errorf("unexpected content %q", loaded.Turns[0].Content)
	}
}

func TestMemoryStore_TitleTruncation(t *testing.T) {
	store := NewMemoryStore()

	long := strings.Repeat("a", 80)
	sess, err := store.Append(context.Background(), "", "acme", "u1",
		message.NewUserMessage(long))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runes := []rune(sess.Title)
	if len(runes) != 51 {
		t.Errorf("expected 50 runes plus ellipsis, got %d", len(runes))
	}
	if runes[len(runes)-1] != '…' {
		t.Error("expected ellipsis suffix")
	}
}

func TestMemoryStore_IdentityMismatch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess, _ := store.Append(ctx, "", "acme", "u1",
		message.NewUserMessage("hi"))

	_, err := store.Load(ctx, sess.ID, "globex", "u1")
	if err != errors.ErrIdentityMismatch {
		t.Errorf("expected ErrIdentityMismatch, got %v", err)
	}

	_, err = store.Append(ctx, sess.ID, "acme", "u2",
		message.NewUserMessage("intruder"))
	if err != errors.ErrIdentityMismatch {
		t.Errorf("expected ErrIdentityMismatch, got %v", err)
	}

	// The mismatch must not mutate the turn sequence.
	loaded, _ := store.Load(ctx, sess.ID, "acme", "u1")
	if len(loaded.Turns) != 1 {
		t.Errorf("expected 1 turn after rejected append, got %d", len(loaded.Turns))
	}
}

func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess, _ := store.Append(ctx, "", "acme", "u1",
		message.NewUserMessage("start"))

	const goroutines = 10
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Append(ctx, sess.ID, "acme", "u1",
				message.NewAssistantMessage("reply"))
		}()
	}
	wg.Wait()

	loaded, _ := store.Load(ctx, sess.ID, "acme", "u1")
	if len(loaded.Turns) != goroutines+1 {
		t.Errorf("expected %d turns, got %d", goroutines+1, len(loaded.Turns))
	}
}

func TestMemoryStore_List(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, _ = store.Append(ctx, "", "acme", "u1", message.NewUserMessage("first"))
	_, _ = store.Append(ctx, "", "acme", "u1", message.NewUserMessage("second"))
	_, _ = store.Append(ctx, "", "acme", "u2", message.NewUserMessage("other user"))

	summaries, err := store.List(ctx, "acme", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	for _, sum := range summaries {
		if sum.TurnCount != 1 {
			t.Errorf("expected 1 turn, got %d", sum.TurnCount)
		}
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(t.TempDir() + "/sessions.db")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	sess, err := store.Append(ctx, "", "acme", "u1",
		message.NewUserMessage("what is covered by my policy?"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Title == "" {
		t.Error("expected auto title")
	}

	sess, err = store.Append(ctx, sess.ID, "acme", "u1",
		message.NewAssistantMessage("your policy covers..."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sess.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(sess.Turns))
	}
	if sess.Turns[0].Role != message.RoleUser || sess.Turns[1].Role != message.RoleAssistant {
		t.Error("turn order not preserved")
	}

	loaded, err := store.Load(ctx, sess.ID, "acme", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(loaded.Turns) != 2 {
		t.Errorf("expected 2 turns after reload, got %d", len(loaded.Turns))
	}
}

func TestSQLiteStore_IdentityMismatch(t *testing.T) {
	store, err := NewSQLiteStore(t.TempDir() + "/sessions.db")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	sess, _ := store.Append(ctx, "", "acme", "u1", message.NewUserMessage("hi"))

	_, err = store.Append(ctx, sess.ID, "globex", "u1", message.NewUserMessage("nope"))
	if err != errors.ErrIdentityMismatch {
		t.Errorf("expected ErrIdentityMismatch, got %v", err)
	}

	loaded, _ := store.Load(ctx, sess.ID, "acme", "u1")
	if len(loaded.Turns) != 1 {
		t.Errorf("expected 1 turn after rejected append, got %d", len(loaded.Turns))
	}
}

func TestSQLiteStore_RecentSessions(t *testing.T) {
	store, err := NewSQLiteStore(t.TempDir() + "/sessions.db")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, _ = store.Append(ctx, "", "acme", "u1", message.NewUserMessage("topic"))
	}

	recent, err := store.RecentSessions(ctx, "acme", "u1", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recent) != 5 {
		t.Errorf("expected 5 sessions, got %d", len(recent))
	}
}

func TestMakeTitle(t *testing.T) {
	if got := makeTitle("  hello   world  "); got != "hello world" {
		t.Errorf("expected collapsed whitespace, got %q", got)
	}
	if got := makeTitle("short"); got != "short" {
		t.Errorf("expected unchanged title, got %q", got)
	}
}
