package audit

import (
	"context"
	"testing"

	"plantops.org/internal/auth"
)

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("blank event name accepted")
	}
}

func TestLogEventWithContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = auth.ContextWithIdentity(ctx, auth.Identity{Username: "alice", Role: auth.RoleAdmin})
	if err := LogEvent(ctx, "machine_created", map[string]any{"machine_id": "m1"}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
}

func TestWithRequestIDIgnoresBlank(t *testing.T) {
	ctx := WithRequestID(context.Background(), "   ")
	if got := requestIDFromContext(ctx); got != "" {
		t.Fatalf("request id = %q, want empty", got)
	}
	ctx = WithRequestID(context.Background(), "abc")
	if got := requestIDFromContext(ctx); got != "abc" {
		t.Fatalf("request id = %q", got)
	}
}
