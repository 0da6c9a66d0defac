package agentfsm

import (
	"context"
	"fmt"

	"github.com/quorumkit/agentcore/internal/domain"
	"github.com/quorumkit/agentcore/internal/quorum"
	"github.com/quorumkit/agentcore/internal/strategy"
)

// quorumActionReview implements nativeloop.ActionReviewPolicy by putting
// one high-risk tool call to a vote across the review panel (spec §4.H's
// "action_review" gate, wired only under full phase scope). Unlike
// plan_review and final_review it asks a single yes/no question rather
// than driving a full Strategy round, since there is nothing to debate
// across rounds for one proposed call.
type quorumActionReview struct {
	models   []domain.ModelID
	rule     quorum.Rule
	sessions strategy.SessionFactory
	clock    quorum.Clock
	round    int
}

// Review asks every panel model whether call should be allowed to run,
// parses each answer into a Vote the same way plan_review does, and
// finalizes through Quorum Consensus. It fails closed: an empty panel or
// zero usable replies rejects the call.
func (r *quorumActionReview) Review(ctx context.Context, call domain.ToolCall, def domain.Definition) (bool, string, error) {
	prompt := fmt.Sprintf(
		"A task wants to run the high-risk tool %q with arguments %v (%s). Respond with a leading score 1-10 (>=7 means you approve) followed by your reasoning.",
		call.Name, call.Arguments, def.Description,
	)

	votes := make([]domain.Vote, 0, len(r.models))
	for _, model := range r.models {
		sess, err := r.sessions(model)
		if err != nil {
			continue
		}
		text, err := sess.Send(ctx, prompt)
		if err != nil {
			continue
		}
		votes = append(votes, parseReviewVote(model, text))
	}
	if len(votes) == 0 {
		return false, "no review model was reachable", nil
	}

	round, err := quorum.Collect(r.round, votes, r.rule, r.clock)
	if err != nil {
		return false, "", fmt.Errorf("agentfsm: action_review: %w", err)
	}
	return round.Outcome == domain.OutcomeApproved, round.AggregatedFeedback, nil
}
