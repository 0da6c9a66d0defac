// Package nativeloop implements the Native Tool Use Loop (spec §4.H):
// send, branch on stop reason, resolve and validate every tool_use
// block, dispatch low-risk calls directly and high-risk calls through
// Quorum, send results back, and repeat until end_turn or the tool-turn
// budget is exhausted. Grounded on the teacher's
// internal/agent/loop.go AgenticLoop.Process turn loop.
package nativeloop

import (
	"context"
	"fmt"

	"github.com/quorumkit/agentcore/internal/budget"
	"github.com/quorumkit/agentcore/internal/domain"
	"github.com/quorumkit/agentcore/internal/llmsession"
	"github.com/quorumkit/agentcore/internal/toolexec"
	"github.com/quorumkit/agentcore/internal/tools"
)

// Progress receives interleaved text as it streams from the model,
// mirroring the teacher's StreamToolResults chunk forwarding.
type Progress func(text string)

// ActionReviewPolicy routes a high-risk tool call through Quorum before
// execution; nil disables the gate entirely (spec §4.H, §6).
type ActionReviewPolicy interface {
	Review(ctx context.Context, call domain.ToolCall, def domain.Definition) (approved bool, feedback string, err error)
}

// ErrMaxToolTurns is returned when a run exhausts MaxToolTurns without
// reaching end_turn (spec §7 task_execution_failed).
var ErrMaxToolTurns = fmt.Errorf("nativeloop: task_execution_failed: tool turn budget exhausted")

// ErrMaxToolRetries is returned when the model keeps producing
// invalid_argument tool calls past MaxToolRetries consecutive attempts
// (spec §7 task_execution_failed).
var ErrMaxToolRetries = fmt.Errorf("nativeloop: task_execution_failed: invalid argument retry budget exhausted")

// Result is the loop's final output: accumulated text plus the number of
// turns actually taken.
type Result struct {
	Text  string
	Turns int
}

// Loop drives one tool-use conversation to completion.
type Loop struct {
	MaxToolTurns   int
	MaxToolRetries int
}

// Run implements spec §4.H steps 1-5.
func (l Loop) Run(ctx context.Context, session *llmsession.Session, prompt string, registry *tools.Registry, validator *tools.Validator, executor *toolexec.Executor, actionReview ActionReviewPolicy, progress Progress) (*Result, error) {
	maxTurns := l.MaxToolTurns
	if maxTurns <= 0 {
		maxTurns = 10
	}
	maxRetries := l.MaxToolRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	schemas := registry.Schemas()
	text := prompt
	accumulated := ""
	invalidArgStreak := 0

	for turn := 1; turn <= maxTurns; turn++ {
		if budget.Cancelled(ctx) {
			return nil, ctx.Err()
		}

		resp, err := session.SendWithTools(ctx, text, schemas)
		if err != nil {
			return nil, fmt.Errorf("nativeloop: turn %d: %w", turn, err)
		}
		if t := resp.Text(); t != "" {
			accumulated += t
			if progress != nil {
				progress(t)
			}
		}

		if resp.StopReason != llmsession.StopToolUse {
			return &Result{Text: accumulated, Turns: turn}, nil
		}

		results, retryText, err := l.dispatchToolCalls(ctx, resp.ToolCalls(), registry, validator, executor, actionReview)
		if err != nil {
			return nil, err
		}
		session.AppendToolResults(results)

		if retryText == "" {
			invalidArgStreak = 0
			text = ""
			continue
		}
		invalidArgStreak++
		if invalidArgStreak > maxRetries {
			return nil, ErrMaxToolRetries
		}
		text = retryText
	}

	return nil, ErrMaxToolTurns
}

// dispatchToolCalls resolves, validates, and executes every tool_use
// block in one turn. An invalid_argument failure reports its retry text
// to Run, which hands it back to the model as the next turn and counts
// it against MaxToolRetries; everything else — including high-risk
// dispatch through Quorum — produces a ToolResult appended to history
// (spec §4.H).
func (l Loop) dispatchToolCalls(ctx context.Context, calls []domain.ToolCall, registry *tools.Registry, validator *tools.Validator, executor *toolexec.Executor, actionReview ActionReviewPolicy) ([]domain.ToolResult, string, error) {
	results := make([]domain.ToolResult, 0, len(calls))
	var retryNotes string

	for _, call := range calls {
		if budget.Cancelled(ctx) {
			return nil, "", ctx.Err()
		}

		canonical, ok := registry.Resolve(call.Name)
		if !ok {
			results = append(results, domain.Failure(call.ID, domain.ErrNotFound, fmt.Sprintf("tool %q is not registered", call.Name)))
			continue
		}
		def, _ := registry.Get(canonical)
		call.Name = canonical

		if verr := validator.Validate(def, call.Arguments); verr != nil {
			results = append(results, domain.ToolResult{ToolCallID: call.ID, Err: verr})
			retryNotes += verr.Message + "\n"
			continue
		}

		if def.Risk == domain.RiskHigh && actionReview != nil {
			approved, feedback, err := actionReview.Review(ctx, call, def)
			if err != nil {
				results = append(results, domain.Failure(call.ID, domain.ErrExecutionFailed, err.Error()))
				continue
			}
			if !approved {
				results = append(results, domain.Failure(call.ID, domain.ErrActionRejected, feedback))
				continue
			}
		}

		results = append(results, executor.Execute(ctx, call))
	}

	return results, retryNotes, nil
}
