package queue

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"

	"github.com/jwebster45206/stage-engine/pkg/queue"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	client, err := NewClient("redis://"+mr.Addr(), logger)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create queue client: %v", err)
	}

	return client, mr
}

func TestTurnQueue_EnqueueAndPop(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewTurnQueue(client)
	ctx := context.Background()
	session := uuid.New()

	texts := []string{
		`[BG: "park"] The sun is out.`,
		`[SPRITE: "Jessica/Happy"] "Hi!"`,
		`[HIDE: all]`,
	}
	for _, text := range texts {
		if err := q.EnqueueTurn(ctx, queue.NewTurnRequest(session, text)); err != nil {
			t.Fatalf("Failed to enqueue turn: %v", err)
		}
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Failed to get depth: %v", err)
	}
	if depth != len(texts) {
		t.Errorf("Expected %d ready markers, got %d", len(texts), depth)
	}
	sessionDepth, _ := q.SessionDepth(ctx, session)
	if sessionDepth != len(texts) {
		t.Errorf("Expected session depth %d, got %d", len(texts), sessionDepth)
	}

	for i, want := range texts {
		got, err := q.PopTurn(ctx, session)
		if err != nil {
			t.Fatalf("Failed to pop turn %d: %v", i, err)
		}
		if got == nil || got.Text != want {
			t.Fatalf("Turn %d mismatch: expected %q, got %+v", i, want, got)
		}
	}

	empty, err := q.PopTurn(ctx, session)
	if err != nil {
		t.Fatalf("Pop on empty session failed: %v", err)
	}
	if empty != nil {
		t.Errorf("Expected nil from empty session, got %+v", empty)
	}
}

func TestTurnQueue_NextSession(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewTurnQueue(client)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	_ = q.EnqueueTurn(ctx, queue.NewTurnRequest(a, "one"))
	_ = q.EnqueueTurn(ctx, queue.NewTurnRequest(b, "two"))

	got, ok, err := q.NextSession(ctx, time.Second)
	if err != nil || !ok || got != a {
		t.Fatalf("Expected session %s, got %s ok=%v err=%v", a, got, ok, err)
	}

	// A requeued session goes behind the others.
	if err := q.RequeueSession(ctx, a); err != nil {
		t.Fatalf("Failed to requeue: %v", err)
	}
	got, _, _ = q.NextSession(ctx, time.Second)
	if got != b {
		t.Errorf("Expected %s next, got %s", b, got)
	}
	got, _, _ = q.NextSession(ctx, time.Second)
	if got != a {
		t.Errorf("Expected requeued %s, got %s", a, got)
	}

	_, ok, err = q.NextSession(ctx, time.Second)
	if err != nil {
		t.Fatalf("Timeout should not be an error: %v", err)
	}
	if ok {
		t.Error("Expected no session after timeout")
	}
}

func TestTurnQueue_PeekAndClear(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewTurnQueue(client)
	ctx := context.Background()
	session, other := uuid.New(), uuid.New()

	for _, text := range []string{"1", "2", "3"} {
		_ = q.EnqueueTurn(ctx, queue.NewTurnRequest(session, text))
	}
	_ = q.EnqueueTurn(ctx, queue.NewTurnRequest(other, "x"))

	peeked, err := q.Peek(ctx, session, 2)
	if err != nil {
		t.Fatalf("Failed to peek: %v", err)
	}
	if len(peeked) != 2 || peeked[0].Text != "1" {
		t.Errorf("Unexpected peek result: %+v", peeked)
	}
	all, _ := q.Peek(ctx, session, 0)
	if len(all) != 3 {
		t.Errorf("Expected 3 pending turns, got %d", len(all))
	}

	if err := q.Clear(ctx, session); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}
	if d, _ := q.SessionDepth(ctx, session); d != 0 {
		t.Errorf("Expected empty session after clear, got %d", d)
	}
	if d, _ := q.SessionDepth(ctx, other); d != 1 {
		t.Errorf("Clear touched another session: depth %d", d)
	}
}

func TestTurnQueue_BadPayloads(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewTurnQueue(client)
	ctx := context.Background()
	session := uuid.New()

	if _, err := mr.Lpush(sessionKey(session), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := q.PopTurn(ctx, session); err == nil {
		t.Error("Expected parse error for malformed turn")
	}

	if _, err := mr.Lpush(ReadyKey, "not-a-uuid"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := q.NextSession(ctx, time.Second); err == nil {
		t.Error("Expected error for malformed session id")
	}
}

func TestNewClient_BadURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	if _, err := NewClient("not a url", logger); err == nil {
		t.Error("Expected error for invalid redis URL")
	}
}
