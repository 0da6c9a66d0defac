// Package strategy implements the Orchestration Strategy axis (spec §4.F):
// Quorum and Debate, the two concrete algorithms an ensemble run can use
// to turn N independent model sessions into one synthesized outcome.
// Grounded on the teacher's internal/multiagent/orchestrator.go
// per-agent isolation (one goroutine per participant, errors captured
// rather than aborting the group) and internal/multiagent/swarm.go's
// bounded-parallelism executor, generalized with golang.org/x/sync/errgroup
// the way kadirpekel-hector's multi-agent runner does.
package strategy

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/quorumkit/agentcore/internal/domain"
	"github.com/quorumkit/agentcore/internal/llmsession"
)

// ErrAllModelsFailed is returned when every model call in a phase errors
// (spec §4.F).
var ErrAllModelsFailed = fmt.Errorf("strategy: all_models_failed")

// SessionFactory creates one fresh llmsession.Session bound to model.
type SessionFactory func(model domain.ModelID) (*llmsession.Session, error)

// Progress receives interleaved status updates as a run proceeds; nil is
// a valid no-op observer.
type Progress func(event string)

// ModelAnswer is one model's raw turn in a phase.
type ModelAnswer struct {
	Model domain.ModelID
	Text  string
	Err   error
}

// Critique is one model's scored review of a peer's anonymized answer.
type Critique struct {
	Reviewer     domain.ModelID
	TargetLabel  string // "Response A", "Response B", ...
	Score        int
	Feedback     string
}

// Outcome is what a Strategy produces: the moderator's synthesized
// conclusion plus the raw material that led to it (spec §4.F).
type Outcome struct {
	Conclusion   string
	Consensus    []string
	Disagreement []string
	Answers      []ModelAnswer
	Critiques    []Critique
}

// Strategy turns a question and a set of participating models into a
// single synthesized Outcome.
type Strategy interface {
	Execute(ctx context.Context, question string, models []domain.ModelID, moderator domain.ModelID, sessions SessionFactory, progress Progress) (*Outcome, error)
}

func notify(p Progress, event string) {
	if p != nil {
		p(event)
	}
}

// gatherAnswers fans out one Send per model, each owning an independent
// session, isolating per-model failures the way
// orchestrator.Process isolates a single agent's error from the rest of
// the run. A plain errgroup.Group (not the context-cancelling variant)
// is used deliberately: one model's failure must not cancel its peers.
func gatherAnswers(ctx context.Context, question string, models []domain.ModelID, sessions SessionFactory, progress Progress) ([]ModelAnswer, error) {
	answers := make([]ModelAnswer, len(models))

	var g errgroup.Group
	for i, m := range models {
		i, m := i, m
		g.Go(func() error {
			sess, err := sessions(m)
			if err != nil {
				answers[i] = ModelAnswer{Model: m, Err: err}
				return nil
			}
			text, err := sess.Send(ctx, question)
			answers[i] = ModelAnswer{Model: m, Text: text, Err: err}
			return nil
		})
	}
	_ = g.Wait() // per-model errors are captured in answers[i], not returned here

	failures := 0
	for _, a := range answers {
		if a.Err != nil {
			failures++
			notify(progress, fmt.Sprintf("model %s failed: %v", a.Model, a.Err))
		} else {
			notify(progress, fmt.Sprintf("model %s answered", a.Model))
		}
	}
	if failures == len(models) {
		return answers, ErrAllModelsFailed
	}
	return answers, nil
}

// survivors returns the answers that did not error, in original order.
func survivors(answers []ModelAnswer) []ModelAnswer {
	out := make([]ModelAnswer, 0, len(answers))
	for _, a := range answers {
		if a.Err == nil {
			out = append(out, a)
		}
	}
	return out
}

// label assigns "Response A", "Response B", ... to answers in order.
func label(i int) string {
	return fmt.Sprintf("Response %c", rune('A'+i))
}

// anonymize builds the peer-review prompt with answers relabeled so a
// reviewer can't identify which model produced which response.
func anonymize(answers []ModelAnswer) string {
	out := ""
	for i, a := range answers {
		out += fmt.Sprintf("%s:\n%s\n\n", label(i), a.Text)
	}
	return out
}

// synthesize hands the moderator every answer plus every critique and
// asks it to produce a conclusion and extracted consensus/disagreement
// lists. The moderator's raw text is returned as the conclusion; list
// extraction is left to a structured follow-up in a full deployment —
// here the lists are derived from critique agreement as a reasonable
// default (a response whose critiques average a score >= 7 counts as
// consensus, any other critiqued response as disagreement).
func synthesize(ctx context.Context, answers []ModelAnswer, critiques []Critique, moderator domain.ModelID, sessions SessionFactory) (*Outcome, error) {
	sess, err := sessions(moderator)
	if err != nil {
		return nil, fmt.Errorf("strategy: moderator session: %w", err)
	}

	prompt := "Synthesize the following responses and critiques into one conclusion:\n\n" +
		anonymize(answers)
	for _, c := range critiques {
		prompt += fmt.Sprintf("%s reviewed %s: score=%d, %s\n", c.Reviewer, c.TargetLabel, c.Score, c.Feedback)
	}

	conclusion, err := sess.Send(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("strategy: synthesis: %w", err)
	}

	consensus, disagreement := splitByAgreement(answers, critiques)
	return &Outcome{
		Conclusion:   conclusion,
		Consensus:    consensus,
		Disagreement: disagreement,
		Answers:      answers,
		Critiques:    critiques,
	}, nil
}

func splitByAgreement(answers []ModelAnswer, critiques []Critique) (consensus, disagreement []string) {
	scores := map[string][]int{}
	for _, c := range critiques {
		scores[c.TargetLabel] = append(scores[c.TargetLabel], c.Score)
	}
	for i := range answers {
		l := label(i)
		total, n := 0, 0
		for _, s := range scores[l] {
			total += s
			n++
		}
		if n == 0 {
			continue
		}
		if float64(total)/float64(n) >= 7 {
			consensus = append(consensus, l)
		} else {
			disagreement = append(disagreement, l)
		}
	}
	sort.Strings(consensus)
	sort.Strings(disagreement)
	return consensus, disagreement
}
