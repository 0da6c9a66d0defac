package agentfsm

import (
	"context"
	"fmt"

	"github.com/quorumkit/agentcore/internal/domain"
	"github.com/quorumkit/agentcore/internal/ensemble"
	"github.com/quorumkit/agentcore/internal/strategy"
)

// stepPlanning drives ensemble.Planner over planningModels(), folding in
// any aggregated rejection feedback from a prior plan_review round (spec
// §4.I: "re-enter planning passing the aggregated feedback").
func (m *Machine) stepPlanning(ctx context.Context) (bool, error) {
	m.notify("planning")

	objective := m.input.Objective
	if m.pendingFeedback != "" {
		objective = fmt.Sprintf("%s\n\nAddress this reviewer feedback from the prior revision:\n%s", objective, m.pendingFeedback)
	}
	m.pendingFeedback = ""

	planner := ensemble.Planner{Sessions: m.collab.Sessions}
	result, err := planner.Plan(ctx, objective, m.planningModels(), m.input.Params.EnsembleSessionTimeout)
	if err != nil {
		if err == strategy.ErrAllModelsFailed {
			m.failureReason = domain.FailureAllModelsFailed
			m.phase = domain.PhaseFailed
			return true, nil
		}
		return false, fmt.Errorf("agentfsm: planning: %w", err)
	}

	if result.Plan == nil {
		m.textSynthesis = result.TextSynthesis
		m.phase = domain.PhaseCompleted
		return true, nil
	}

	m.plan = result.Plan
	m.plan.Revision = m.revision
	m.phase = domain.PhasePlanReview
	return false, nil
}
