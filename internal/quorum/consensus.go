package quorum

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quorumkit/agentcore/internal/domain"
)

// ErrNoVotes is returned by Collect when the vote list is empty; the spec
// (§4.E) treats an empty vote list as a hard failure, not a vacuous pass.
var ErrNoVotes = errors.New("quorum: empty vote list")

// Clock supplies the current time; injectable so ReviewRound timestamps
// are reproducible in tests, following the teacher's pattern of threading
// a now-function through time-sensitive code instead of calling
// time.Now() directly in every call site.
type Clock func() time.Time

// Collect runs one Quorum Consensus round over votes under rule and
// returns the resulting ReviewRound (spec §4.E). round is stored as the
// ReviewRound's round number; clock stamps it, defaulting to time.Now
// when nil.
func Collect(round int, votes []domain.Vote, rule Rule, clock Clock) (*domain.ReviewRound, error) {
	if len(votes) == 0 {
		return nil, ErrNoVotes
	}
	if clock == nil {
		clock = time.Now
	}

	for i := range votes {
		votes[i].ClampScore()
	}

	approve, reject := 0, 0
	for _, v := range votes {
		if v.Approve {
			approve++
		} else {
			reject++
		}
	}

	outcome := domain.OutcomeRejected
	if rule.Evaluate(approve, reject) {
		outcome = domain.OutcomeApproved
	}

	rr := &domain.ReviewRound{
		Round:           round,
		Votes:           votes,
		Outcome:         outcome,
		RuleDescription: rule.String(),
		Unanimous:       reject == 0 || approve == 0,
		Timestamp:       clock(),
	}
	if outcome == domain.OutcomeRejected {
		rr.AggregatedFeedback = aggregateRejectionFeedback(votes)
	}
	return rr, nil
}

// aggregateRejectionFeedback concatenates rejecters' feedback, one line
// per model, prefixed by model id (spec §4.E table).
func aggregateRejectionFeedback(votes []domain.Vote) string {
	var b strings.Builder
	first := true
	for _, v := range votes {
		if v.Approve || v.Feedback == "" {
			continue
		}
		if !first {
			b.WriteByte('\n')
		}
		first = false
		fmt.Fprintf(&b, "%s: %s", v.VoterModel, v.Feedback)
	}
	return b.String()
}
