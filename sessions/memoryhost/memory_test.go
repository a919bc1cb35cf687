package memoryhost

import (
	"context"
	"errors"
	"testing"

	"github.com/NEARWEEK/MCP/sessions"
	"github.com/NEARWEEK/MCP/sessions/sessionhosttest"
)

func TestMemoryStreamHost(t *testing.T) {
	sessionhosttest.RunStreamHostTests(t, func(t *testing.T) sessions.StreamHost {
		return New()
	})
}

func TestReplayWindowIsBounded(t *testing.T) {
	h := New(WithMaxMessages(2))
	ctx := context.Background()
	if err := h.Open(ctx, "s"); err != nil {
		t.Fatalf("open: %v", err)
	}
	first, _ := h.Publish(ctx, "s", []byte("1"))
	_, _ = h.Publish(ctx, "s", []byte("2"))
	_, _ = h.Publish(ctx, "s", []byte("3"))

	err := h.Subscribe(ctx, "s", first, func(ctx context.Context, id string, data []byte) error { return nil })
	if !errors.Is(err, sessions.ErrUnknownEventID) {
		t.Fatalf("expected trimmed event to be unknown, got %v", err)
	}
}

func TestCleanupReleasesLog(t *testing.T) {
	h := New()
	ctx := context.Background()
	if err := h.Open(ctx, "s1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := h.Publish(ctx, "s1", []byte("1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := h.Cleanup(ctx, "s1"); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := h.Publish(ctx, "s1", []byte("late")); !errors.Is(err, sessions.ErrUnknownSession) {
		t.Fatalf("late publish = %v, want ErrUnknownSession", err)
	}
	if n := h.Len(); n != 0 {
		t.Fatalf("held logs = %d after cleanup", n)
	}
}
