package toolexec

import (
	"context"
	"testing"
	"time"

	"github.com/quorumkit/agentcore/internal/domain"
)

type fakeTool struct {
	name    string
	delay   time.Duration
	panics  bool
	content string
}

func (f fakeTool) Name() string { return f.name }

func (f fakeTool) Execute(ctx context.Context, call domain.ToolCall) domain.ToolResult {
	if f.panics {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return domain.Failure(call.ID, domain.ErrTimeout, "cancelled")
		}
	}
	return domain.Success(call.ID, f.content, domain.ToolResultMeta{BytesOut: len(f.content)})
}

func TestExecuteSuccess(t *testing.T) {
	ex := New([]Tool{fakeTool{name: "echo", content: "hi"}}, DefaultConfig())
	res := ex.Execute(context.Background(), domain.ToolCall{ID: "1", Name: "echo"})
	if res.IsError() || res.Content != "hi" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecuteNotFound(t *testing.T) {
	ex := New(nil, DefaultConfig())
	res := ex.Execute(context.Background(), domain.ToolCall{ID: "1", Name: "missing"})
	if !res.IsError() || res.Err.Kind != domain.ErrNotFound {
		t.Fatalf("expected not_found, got %+v", res)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	ex := New([]Tool{fakeTool{name: "boom", panics: true}}, DefaultConfig())
	res := ex.Execute(context.Background(), domain.ToolCall{ID: "1", Name: "boom"})
	if !res.IsError() || res.Err.Kind != domain.ErrExecutionFailed {
		t.Fatalf("expected execution_failed from recovered panic, got %+v", res)
	}
}

func TestExecuteTimesOut(t *testing.T) {
	cfg := Config{Concurrency: 1, PerToolTimeout: 10 * time.Millisecond}
	ex := New([]Tool{fakeTool{name: "slow", delay: 100 * time.Millisecond}}, cfg)
	res := ex.Execute(context.Background(), domain.ToolCall{ID: "1", Name: "slow"})
	if !res.IsError() || res.Err.Kind != domain.ErrTimeout {
		t.Fatalf("expected timeout, got %+v", res)
	}
}

func TestExecuteConcurrentIndependentTools(t *testing.T) {
	ex := New([]Tool{
		fakeTool{name: "a", content: "a-result", delay: 20 * time.Millisecond},
		fakeTool{name: "b", content: "b-result", delay: 20 * time.Millisecond},
	}, Config{Concurrency: 2, PerToolTimeout: time.Second})

	done := make(chan domain.ToolResult, 2)
	go func() { done <- ex.Execute(context.Background(), domain.ToolCall{ID: "1", Name: "a"}) }()
	go func() { done <- ex.Execute(context.Background(), domain.ToolCall{ID: "2", Name: "b"}) }()

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		r := <-done
		got[r.Content] = true
	}
	if !got["a-result"] || !got["b-result"] {
		t.Fatalf("expected both tools to complete concurrently, got %+v", got)
	}
}
