package agentfsm

import (
	"context"
	"fmt"
	"strings"

	"github.com/quorumkit/agentcore/internal/domain"
	"github.com/quorumkit/agentcore/internal/hil"
	"github.com/quorumkit/agentcore/internal/quorum"
	"github.com/quorumkit/agentcore/internal/strategy"
)

// reviewStrategy maps the strategy orchestration axis to the concrete
// Strategy implementation driving one review round's peer discussion
// (spec §3 "strategy ∈ {quorum, debate}").
func (m *Machine) reviewStrategy() strategy.Strategy {
	if m.input.Strategy == domain.StrategyDebate {
		return strategy.Debate{Rounds: 3}
	}
	return strategy.Quorum{}
}

// runReview drives a full Strategy.Execute round over prompt — every
// review model answers independently (and, for debate, refines across
// rounds) before peer-critiquing — then treats each model's own answer as
// its ballot (approve iff its self-reported score is >= 7, the same
// agreement threshold strategy.synthesize already uses) and folds the
// ballots through Quorum Consensus (spec §4.E) under the configured Rule.
func (m *Machine) runReview(ctx context.Context, round int, prompt string) (*domain.ReviewRound, error) {
	outcome, err := m.reviewStrategy().Execute(ctx, prompt, m.input.Models, m.input.Moderator, m.collab.Sessions, m.collab.Progress)
	if err != nil {
		return nil, err
	}

	votes := make([]domain.Vote, 0, len(outcome.Answers))
	for _, a := range outcome.Answers {
		if a.Err != nil {
			continue
		}
		votes = append(votes, parseReviewVote(a.Model, a.Text))
	}
	if len(votes) == 0 {
		return nil, strategy.ErrAllModelsFailed
	}

	rr, err := quorum.Collect(round, votes, m.input.Rule, m.collab.Clock)
	if err == nil {
		m.collab.Metrics.ReviewRound(string(m.phase), string(rr.Outcome))
	}
	return rr, err
}

// parseReviewVote extracts a Vote from one model's free-text review.
// Approval is derived from the self-reported 1-10 score rather than
// keyword matching ("approve"/"reject" can both appear in hedged
// feedback); >= 7 is the same agreement threshold used elsewhere in this
// package's review synthesis.
func parseReviewVote(model domain.ModelID, text string) domain.Vote {
	score := parseScore(text)
	return domain.Vote{VoterModel: model, Approve: score >= 7, Score: &score, Feedback: strings.TrimSpace(text)}
}

// parseScore extracts the leading 1-10 integer a review response opens
// with, defaulting to 5 (the rule's tie point) when none is found.
func parseScore(text string) int {
	digits := ""
	for _, r := range strings.TrimSpace(text) {
		if r >= '0' && r <= '9' {
			digits += string(r)
			continue
		}
		break
	}
	if digits == "" {
		return 5
	}
	n := 0
	for _, r := range digits {
		n = n*10 + int(r-'0')
	}
	if n < 1 {
		n = 1
	}
	if n > 10 {
		n = 10
	}
	return n
}

// stepPlanReview implements spec §4.I's plan_review semantics.
func (m *Machine) stepPlanReview(ctx context.Context) (bool, error) {
	m.notify("plan_review")

	if !m.input.Policy.RequirePlanReview || m.input.PhaseScope == domain.ScopeFast {
		m.phase = domain.PhaseExecuting
		return false, nil
	}

	prompt := fmt.Sprintf(
		"Review this plan for the objective %q. Respond with a leading score 1-10 (>=7 means you approve) followed by your feedback.\nTasks:\n%s",
		m.plan.Objective, renderTasks(m.plan.Tasks),
	)
	round, err := m.runReview(ctx, m.revision+1, prompt)
	if err != nil {
		if err == strategy.ErrAllModelsFailed {
			m.failureReason = domain.FailureAllModelsFailed
			m.phase = domain.PhaseFailed
			return true, nil
		}
		return false, fmt.Errorf("agentfsm: plan_review: %w", err)
	}
	m.plan.ReviewHistory = append(m.plan.ReviewHistory, *round)

	if round.Outcome == domain.OutcomeApproved {
		m.phase = domain.PhaseExecuting
		m.confirmedExecution = false
		return false, nil
	}

	if m.revision < m.input.Policy.MaxPlanRevisions {
		m.revision++
		m.pendingFeedback = round.AggregatedFeedback
		m.phase = domain.PhasePlanning
		return false, nil
	}

	m.phase = domain.PhaseAwaitingHuman
	return false, nil
}

func renderTasks(tasks []domain.Task) string {
	var b strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&b, "%d. %s\n", t.Index, t.Description)
	}
	return b.String()
}

// stepAwaitingHuman implements the revision-limit boundary of spec §4.K:
// the same three-mode dispatch the execution-confirmation gate uses,
// here keyed to the plan revision count.
func (m *Machine) stepAwaitingHuman(ctx context.Context) (bool, error) {
	m.notify("awaiting_human")

	policy := hil.Policy{Agent: m.input.Policy, Human: m.collab.Human}
	prompt := fmt.Sprintf("Plan for %q was rejected %d times; approve, reject, or request a revision.", m.plan.Objective, m.revision)
	decision, err := policy.Decide(ctx, hil.BoundaryPlanRevision, m.revision, prompt)
	if err != nil {
		return false, fmt.Errorf("agentfsm: awaiting_human: %w", err)
	}
	m.collab.Metrics.HiLDecision(string(hil.BoundaryPlanRevision), string(decision.Action))

	switch decision.Action {
	case domain.HiLForceApprove:
		m.phase = domain.PhaseExecuting
		m.confirmedExecution = false
	case domain.HiLAbort:
		m.failureReason = domain.FailureHumanRejected
		m.phase = domain.PhaseFailed
		return true, nil
	case domain.HiLContinue:
		m.phase = domain.PhasePlanning
	default:
		// RequestIntervention without a resolvable Human is a
		// construction error surfaced by Decide as ErrNoHumanGate above;
		// reaching here means Human resolved but still asked to wait —
		// stay in awaiting_human for the next Step call.
	}
	return false, nil
}

// stepFinalReview implements spec §4.I's final review: a Quorum vote on
// the finished task set decides success vs failure.
func (m *Machine) stepFinalReview(ctx context.Context) (bool, error) {
	m.notify("final_review")

	if !m.input.Policy.RequireFinalReview {
		m.phase = domain.PhaseCompleted
		return true, nil
	}

	prompt := fmt.Sprintf(
		"Review the finished work for objective %q. Respond with a leading score 1-10 (>=7 means you approve) followed by your feedback.\nResults:\n%s",
		m.plan.Objective, m.ledger.Render(),
	)
	round, err := m.runReview(ctx, len(m.plan.ReviewHistory)+1, prompt)
	if err != nil {
		if err == strategy.ErrAllModelsFailed {
			m.failureReason = domain.FailureAllModelsFailed
			m.phase = domain.PhaseFailed
			return true, nil
		}
		return false, fmt.Errorf("agentfsm: final_review: %w", err)
	}
	m.plan.ReviewHistory = append(m.plan.ReviewHistory, *round)

	if round.Outcome == domain.OutcomeApproved {
		m.phase = domain.PhaseCompleted
	} else {
		// The spec's FailureReason enum has no dedicated
		// "final_review_rejected" code; task_execution_failed is the
		// closest existing reason (the finished work didn't hold up),
		// recorded as a deliberate mapping in DESIGN.md.
		m.failureReason = domain.FailureTaskExecution
		m.phase = domain.PhaseFailed
	}
	return true, nil
}
