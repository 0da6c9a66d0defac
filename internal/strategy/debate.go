package strategy

import (
	"context"
	"fmt"

	"github.com/quorumkit/agentcore/internal/domain"
)

// Debate runs a fixed number of rounds where every model sees the prior
// round's turns, in order, before replying — then synthesizes the same
// way Quorum does (spec §4.F).
type Debate struct {
	Rounds int
}

func (d Debate) Execute(ctx context.Context, question string, models []domain.ModelID, moderator domain.ModelID, sessions SessionFactory, progress Progress) (*Outcome, error) {
	rounds := d.Rounds
	if rounds < 1 {
		rounds = 1
	}

	answers, err := gatherAnswers(ctx, question, models, sessions, progress)
	if err != nil {
		return nil, err
	}
	live := survivors(answers)
	if len(live) == 0 {
		return nil, ErrAllModelsFailed
	}

	transcript := anonymize(live)
	for round := 2; round <= rounds; round++ {
		next := make([]ModelAnswer, 0, len(live))
		for _, a := range live {
			sess, err := sessions(a.Model)
			if err != nil {
				notify(progress, fmt.Sprintf("debate round %d: %s dropped: %v", round, a.Model, err))
				continue
			}
			prompt := fmt.Sprintf("Round %d. Prior responses:\n\n%s\nRefine your answer to: %s", round, transcript, question)
			text, err := sess.Send(ctx, prompt)
			if err != nil {
				notify(progress, fmt.Sprintf("debate round %d: %s failed: %v", round, a.Model, err))
				continue
			}
			next = append(next, ModelAnswer{Model: a.Model, Text: text})
		}
		if len(next) == 0 {
			return nil, ErrAllModelsFailed
		}
		live = next
		transcript = anonymize(live)
	}

	critiques, err := reviewRound(ctx, live, sessions, progress)
	if err != nil {
		return nil, err
	}
	return synthesize(ctx, live, critiques, moderator, sessions)
}
