package history

import (
	"context"
	"testing"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_History_AppendAndRecent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "session-a", RoleUser, "what is osmosis?"); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if err := s.Append(ctx, "session-a", RoleAssistant, "movement of water across a membrane"); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	msgs, err := s.Recent(ctx, "session-a", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "what is osmosis?" {
		t.Errorf("msg[0]: want user question, got %s/%s", msgs[0].Role, msgs[0].Content)
	}
	if msgs[1].Role != RoleAssistant {
		t.Errorf("msg[1]: want assistant, got %s", msgs[1].Role)
	}
}

func Test_History_RecentLimitRespected(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i := range 6 {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := s.Append(ctx, "session-b", role, "msg"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := s.Recent(ctx, "session-b", 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 4 {
		t.Errorf("want 4 messages, got %d", len(msgs))
	}
}

func Test_History_SessionIsolation(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "session-x", RoleUser, "from x"); err != nil {
		t.Fatalf("append x: %v", err)
	}
	if err := s.Append(ctx, "session-y", RoleUser, "from y"); err != nil {
		t.Fatalf("append y: %v", err)
	}

	msgsX, err := s.Recent(ctx, "session-x", 10)
	if err != nil {
		t.Fatalf("recent x: %v", err)
	}
	msgsY, err := s.Recent(ctx, "session-y", 10)
	if err != nil {
		t.Fatalf("recent y: %v", err)
	}

	if len(msgsX) != 1 || msgsX[0].Content != "from x" {
		t.Errorf("session x isolation failed: got %v", msgsX)
	}
	if len(msgsY) != 1 || msgsY[0].Content != "from y" {
		t.Errorf("session y isolation failed: got %v", msgsY)
	}
}

func Test_History_EmptySessionReturnsNil(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	msgs, err := s.Recent(ctx, "session-empty", 10)
	if err != nil {
		t.Fatalf("recent empty: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("want 0 messages, got %d", len(msgs))
	}
}

func Test_History_OldestFirstOrdering(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	contents := []string{"first", "second", "third"}
	for _, c := range contents {
		if err := s.Append(ctx, "session-order", RoleUser, c); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := s.Recent(ctx, "session-order", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	for i, want := range contents {
		if msgs[i].Content != want {
			t.Errorf("msg[%d]: want %q, got %q", i, want, msgs[i].Content)
		}
	}
}

func Test_History_Clear(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "session-c", RoleUser, "keep me not"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, "session-other", RoleUser, "keep me"); err != nil {
		t.Fatalf("append other: %v", err)
	}

	if err := s.Clear(ctx, "session-c"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	msgs, err := s.Recent(ctx, "session-c", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("want 0 messages after clear, got %d", len(msgs))
	}

	other, err := s.Recent(ctx, "session-other", 10)
	if err != nil {
		t.Fatalf("recent other: %v", err)
	}
	if len(other) != 1 {
		t.Errorf("clear leaked into other session: got %d messages", len(other))
	}

	// Clearing an unknown session is a no-op.
	if err := s.Clear(ctx, "session-unknown"); err != nil {
		t.Errorf("clear unknown session: %v", err)
	}
}
