// Package toolexec dispatches validated tool calls to concrete Tool
// implementations (spec §4.D). Grounded on the teacher's
// internal/agent/tool_exec.go / executor.go: a semaphore-bounded
// concurrent dispatcher with per-call timeout and panic recovery.
package toolexec

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/quorumkit/agentcore/internal/domain"
)

// Tool is one concrete, registered tool implementation. It is the
// counterpart to a domain.Definition: the definition describes the
// contract, the Tool executes it.
type Tool interface {
	Name() string
	Execute(ctx context.Context, call domain.ToolCall) domain.ToolResult
}

// Config controls concurrency and per-call timeout.
type Config struct {
	Concurrency    int
	PerToolTimeout time.Duration
}

// DefaultConfig mirrors the teacher's DefaultToolExecConfig.
func DefaultConfig() Config {
	return Config{Concurrency: 4, PerToolTimeout: 30 * time.Second}
}

// Executor dispatches ToolCalls to registered Tools. It is safe for
// concurrent use: multiple calls against independent tools may be in
// flight at once (spec §4.D).
type Executor struct {
	tools map[string]Tool
	sem   chan struct{}
	cfg   Config
}

// New builds an Executor over the given tools, keyed by Tool.Name().
func New(tools []Tool, cfg Config) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.PerToolTimeout <= 0 {
		cfg.PerToolTimeout = DefaultConfig().PerToolTimeout
	}
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
	}
	return &Executor{tools: byName, sem: make(chan struct{}, cfg.Concurrency), cfg: cfg}
}

// Execute dispatches call (already resolved to a canonical name and
// validated) to its Tool, bounding concurrency and wall time, and
// recovering a tool panic into an execution_failed result — a tool bug
// must never take down the agent run.
func (e *Executor) Execute(ctx context.Context, call domain.ToolCall) domain.ToolResult {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return domain.Failure(call.ID, domain.ErrExecutionFailed, "context canceled before dispatch")
	}

	tool, ok := e.tools[call.Name]
	if !ok {
		return domain.Failure(call.ID, domain.ErrNotFound, "tool not found: "+call.Name)
	}

	execCtx, cancel := context.WithTimeout(ctx, e.cfg.PerToolTimeout)
	defer cancel()

	resultCh := make(chan domain.ToolResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- domain.Failure(call.ID, domain.ErrExecutionFailed,
					fmt.Sprintf("tool %q panicked: %v\n%s", call.Name, r, debug.Stack()))
			}
		}()
		resultCh <- tool.Execute(execCtx, call)
	}()

	select {
	case res := <-resultCh:
		return res
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return domain.Failure(call.ID, domain.ErrExecutionFailed, "context canceled")
		}
		return domain.Failure(call.ID, domain.ErrTimeout,
			fmt.Sprintf("tool %q timed out after %s", call.Name, e.cfg.PerToolTimeout))
	}
}

// ExecuteSync is the synchronous variant named in spec §4.D: it wraps
// Execute without changing semantics, for callers outside the async
// Native Tool Use loop.
func (e *Executor) ExecuteSync(ctx context.Context, call domain.ToolCall) domain.ToolResult {
	return e.Execute(ctx, call)
}
