package agentfsm

import (
	"context"
	"fmt"

	"github.com/quorumkit/agentcore/internal/budget"
	"github.com/quorumkit/agentcore/internal/domain"
	"github.com/quorumkit/agentcore/internal/hil"
	"github.com/quorumkit/agentcore/internal/nativeloop"
)

// executionModel is "the selected ensemble decision model" spec §4.I
// names: a single model runs every task's Native Tool Use loop,
// regardless of how many models proposed or reviewed the plan.
func (m *Machine) executionModel() domain.ModelID {
	if m.input.ConsensusLevel == domain.ConsensusEnsemble {
		return m.input.ExecutionModel
	}
	return m.input.DecisionModel
}

// includesActionReview reports whether the per-tool-call high-risk Quorum
// gate inside the Native Tool Use loop is wired in, per spec §3's phase
// scope table ({plan_review, execution, action_review} included under
// full; action_review excluded under fast and plan_only).
func (m *Machine) includesActionReview() bool {
	return m.input.PhaseScope == domain.ScopeFull
}

// stepExecuting implements spec §4.I's per-iteration executing semantics.
// The one-time execution-confirmation gate (spec §4.K, full scope only)
// consumes its own Step call so every call still performs exactly one
// transition; the next call picks and runs a task.
func (m *Machine) stepExecuting(ctx context.Context) (bool, error) {
	if m.input.PhaseScope == domain.ScopePlanOnly {
		m.phase = domain.PhaseCompleted
		return true, nil
	}

	if m.input.PhaseScope == domain.ScopeFull && !m.confirmedExecution {
		return m.stepExecutionConfirmation(ctx)
	}
	m.confirmedExecution = true

	m.notify("executing")
	m.iteration++
	if m.iteration > m.input.Params.MaxIterations {
		m.failureReason = domain.FailureMaxIterations
		m.phase = domain.PhaseFailed
		return true, nil
	}

	idx := m.plan.NextPending()
	if idx < 0 {
		m.phase = domain.PhaseFinalReview
		return false, nil
	}

	return m.runTask(ctx, idx)
}

// stepExecutionConfirmation resolves the one-time gate between an
// approved plan and the first task, using the same three-mode dispatch as
// the revision-limit boundary (spec §4.K). There is no revision count
// here, so the gate always dispatches on HiLMode by forcing the boundary
// past MaxPlanRevisions.
func (m *Machine) stepExecutionConfirmation(ctx context.Context) (bool, error) {
	m.notify("execution_confirmation")

	policy := hil.Policy{Agent: m.input.Policy, Human: m.collab.Human}
	prompt := fmt.Sprintf("Confirm execution of the approved plan for %q.", m.plan.Objective)
	decision, err := policy.Decide(ctx, hil.BoundaryExecutionConfirmation, m.input.Policy.MaxPlanRevisions, prompt)
	if err != nil {
		return false, fmt.Errorf("agentfsm: execution_confirmation: %w", err)
	}
	m.collab.Metrics.HiLDecision(string(hil.BoundaryExecutionConfirmation), string(decision.Action))

	switch decision.Action {
	case domain.HiLAbort:
		m.failureReason = domain.FailureHumanRejected
		m.phase = domain.PhaseFailed
		return true, nil
	default:
		m.confirmedExecution = true
		return false, nil
	}
}

// runTask drives one task through the Native Tool Use loop and folds its
// outcome into the plan and the context-budget ledger.
func (m *Machine) runTask(ctx context.Context, idx int) (bool, error) {
	task := &m.plan.Tasks[idx]
	task.Status = domain.TaskRunning

	sess, err := m.collab.Sessions(m.executionModel())
	if err != nil {
		return m.failTask(task, fmt.Sprintf("session unavailable: %v", err))
	}

	var actionReview nativeloop.ActionReviewPolicy
	if m.includesActionReview() {
		m.actionReviewRound++
		actionReview = &quorumActionReview{
			models:   m.input.Models,
			rule:     m.input.Rule,
			sessions: m.collab.Sessions,
			clock:    m.collab.Clock,
			round:    m.actionReviewRound,
		}
	}

	loop := nativeloop.Loop{MaxToolTurns: m.input.Params.MaxToolTurns, MaxToolRetries: m.input.Params.MaxToolRetries}
	var progress nativeloop.Progress
	if m.collab.Progress != nil {
		progress = func(text string) { m.collab.Progress(text) }
	}

	result, err := loop.Run(ctx, sess, m.taskPrompt(task), m.collab.Registry, m.collab.Validator, m.collab.Executor, actionReview, progress)
	if err != nil {
		if budget.Cancelled(ctx) {
			m.phase = domain.PhaseCancelled
			return true, nil
		}
		return m.failTask(task, err.Error())
	}

	m.collab.Metrics.ToolRunTurns(result.Turns)
	task.Status = domain.TaskSucceeded
	m.ledger.Append(fmt.Sprintf("[task %d: %s] %s", task.Index, task.Description, result.Text))
	return false, nil
}

// taskPrompt builds the task's prompt from its description plus whatever
// prior context its ContextMode admits (spec §3's full/projected/fresh
// tags).
func (m *Machine) taskPrompt(task *domain.Task) string {
	switch task.ContextMode {
	case domain.ContextFull:
		if prev := m.ledger.Render(); prev != "" {
			return fmt.Sprintf("%s\n\nPrior task results:\n%s", task.Description, prev)
		}
		return task.Description
	case domain.ContextProjected:
		if task.ProjectedContext != "" {
			return fmt.Sprintf("%s\n\nRelevant context:\n%s", task.Description, task.ProjectedContext)
		}
		return task.Description
	default: // ContextFresh
		return task.Description
	}
}

// failTask marks task failed, appends the failure to the ledger, and
// decides whether the whole run aborts (strict) or continues to the next
// pending task (lenient, the default — spec §4.I).
func (m *Machine) failTask(task *domain.Task, reason string) (bool, error) {
	task.Status = domain.TaskFailed
	m.ledger.Append(fmt.Sprintf("[task %d: %s] failed: %s", task.Index, task.Description, reason))
	m.collab.Logger.Warn("task failed", "task_index", task.Index, "reason", reason, "strict", m.input.StrictTaskFailure)

	if m.input.StrictTaskFailure {
		m.failureReason = domain.FailureTaskExecution
		m.phase = domain.PhaseFailed
		return true, nil
	}
	return false, nil
}
