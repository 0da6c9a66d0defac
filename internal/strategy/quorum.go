package strategy

import (
	"context"
	"fmt"

	"github.com/quorumkit/agentcore/internal/domain"
)

// Quorum runs a single-round fan-out, anonymized peer review, then
// moderator synthesis (spec §4.F).
type Quorum struct{}

func (Quorum) Execute(ctx context.Context, question string, models []domain.ModelID, moderator domain.ModelID, sessions SessionFactory, progress Progress) (*Outcome, error) {
	answers, err := gatherAnswers(ctx, question, models, sessions, progress)
	if err != nil {
		return nil, err
	}
	live := survivors(answers)
	if len(live) == 0 {
		return nil, ErrAllModelsFailed
	}

	critiques, err := reviewRound(ctx, live, sessions, progress)
	if err != nil {
		return nil, err
	}

	return synthesize(ctx, live, critiques, moderator, sessions)
}

// reviewRound has every surviving model score every peer's anonymized
// answer (spec §4.F "Review phase anonymizes peer answers").
func reviewRound(ctx context.Context, answers []ModelAnswer, sessions SessionFactory, progress Progress) ([]Critique, error) {
	anonymized := anonymize(answers)
	var critiques []Critique

	for _, reviewer := range answers {
		sess, err := sessions(reviewer.Model)
		if err != nil {
			notify(progress, fmt.Sprintf("review session for %s failed: %v", reviewer.Model, err))
			continue
		}
		for i := range answers {
			l := label(i)
			prompt := fmt.Sprintf("Critique %s on a 1-10 scale with brief feedback:\n\n%s", l, anonymized)
			text, err := sess.Send(ctx, prompt)
			if err != nil {
				notify(progress, fmt.Sprintf("%s failed to review %s: %v", reviewer.Model, l, err))
				continue
			}
			critiques = append(critiques, Critique{
				Reviewer:    reviewer.Model,
				TargetLabel: l,
				Score:       parseCritiqueScore(text),
				Feedback:    text,
			})
		}
	}
	return critiques, nil
}

// parseCritiqueScore extracts a leading 1-10 integer from free-form
// critique text, defaulting to a neutral midpoint when none is found —
// a real deployment would force this through a tool schema instead.
func parseCritiqueScore(text string) int {
	n, seen := 0, false
	for _, r := range text {
		if r >= '0' && r <= '9' {
			n, seen = n*10+int(r-'0'), true
			if n > 10 {
				n = 10
			}
			continue
		}
		if !seen && (r == ' ' || r == '\n' || r == '\t') {
			continue
		}
		break
	}
	if !seen {
		return 5
	}
	if n < 1 {
		return 1
	}
	return n
}
