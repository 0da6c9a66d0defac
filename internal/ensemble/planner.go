// Package ensemble implements the Ensemble Planner (spec §4.G): parallel
// plan generation across N models, cross-model scored voting on the
// surviving candidates, and a deterministic tie-break. Grounded on
// internal/multiagent/swarm.go's bounded-parallelism fan-out and
// internal/quorum (component E) for the voting mechanics; the fan-out
// itself reuses strategy.gatherAnswers's errgroup.Group pattern, since
// this is the identical concern (bounded per-model fan-out where one
// model's failure must not abort its peers).
package ensemble

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quorumkit/agentcore/internal/domain"
	"github.com/quorumkit/agentcore/internal/strategy"
	"github.com/quorumkit/agentcore/internal/tools"
)

// createPlanSchema is the tool schema offered to every candidate model;
// a model that answers without invoking it is treated as a text-only
// responder (spec §4.G).
var createPlanSchema = tools.ToolSchema{
	Name:        "create_plan",
	Description: "Propose an ordered plan of tasks to satisfy the objective.",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tasks": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"description":  map[string]any{"type": "string"},
						"context_mode": map[string]any{"type": "string"},
					},
					"required": []string{"description"},
				},
			},
		},
		"required": []string{"tasks"},
	},
}

// Result is what Plan returns: either a voted Plan, or a TextSynthesis
// when no candidate invoked create_plan (spec §4.G).
type Result struct {
	Plan          *domain.Plan
	TextSynthesis string
}

// candidate is one producer's surviving proposal.
type candidate struct {
	producerIndex int
	model         domain.ModelID
	plan          *domain.Plan
	text          string
}

// Planner generates and votes on candidate plans.
type Planner struct {
	Sessions strategy.SessionFactory
}

// Plan fans out one SendWithTools per model under a per-session timeout
// (a timed-out session counts as a failed candidate, not fatal — spec
// §4.G/§4.J), then votes on the survivors.
func (p Planner) Plan(ctx context.Context, objective string, models []domain.ModelID, timeout time.Duration) (*Result, error) {
	type slot struct {
		c  *candidate
		ok bool
	}
	slots := make([]slot, len(models))

	var g errgroup.Group
	for i, m := range models {
		i, m := i, m
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			sess, err := p.Sessions(m)
			if err != nil {
				return nil
			}
			resp, err := sess.SendWithTools(sctx, objective, []tools.ToolSchema{createPlanSchema})
			if err != nil {
				return nil
			}

			c := candidate{producerIndex: i, model: m}
			if calls := resp.ToolCalls(); len(calls) > 0 {
				plan, err := planFromArgs(objective, calls[0].Arguments)
				if err != nil {
					return nil
				}
				c.plan = plan
			} else {
				c.text = resp.Text()
			}
			slots[i] = slot{c: &c, ok: true}
			return nil
		})
	}
	_ = g.Wait() // per-model failures are captured as a missing slot, not returned here

	candidates := make([]candidate, 0, len(models))
	for _, s := range slots {
		if s.ok {
			candidates = append(candidates, *s.c)
		}
	}

	if len(candidates) == 0 {
		return nil, strategy.ErrAllModelsFailed
	}

	planCandidates := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.plan != nil {
			planCandidates = append(planCandidates, c)
		}
	}
	if len(planCandidates) == 0 {
		return &Result{TextSynthesis: candidates[0].text}, nil
	}

	winner, err := p.vote(ctx, planCandidates, models)
	if err != nil {
		return nil, err
	}
	return &Result{Plan: winner.plan}, nil
}

// vote has every model (including each candidate's own producer) score
// every surviving plan candidate; the highest aggregate score wins, with
// ties broken by the lowest producer index — the spec's ensemble-voting
// open question, resolved deterministically (see DESIGN.md).
func (p Planner) vote(ctx context.Context, candidates []candidate, voters []domain.ModelID) (*candidate, error) {
	scores := make([]int, len(candidates))
	for ci, c := range candidates {
		planJSON, _ := json.Marshal(c.plan)
		for _, voter := range voters {
			sess, err := p.Sessions(voter)
			if err != nil {
				continue
			}
			prompt := fmt.Sprintf("Score this plan 1-10 for satisfying the objective %q:\n%s", c.plan.Objective, string(planJSON))
			text, err := sess.Send(ctx, prompt)
			if err != nil {
				continue
			}
			scores[ci] += parseScore(text)
		}
	}

	best := 0
	for i := 1; i < len(candidates); i++ {
		if scores[i] > scores[best] {
			best = i
		} else if scores[i] == scores[best] && candidates[i].producerIndex < candidates[best].producerIndex {
			best = i
		}
	}
	return &candidates[best], nil
}

func parseScore(text string) int {
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

func planFromArgs(objective string, args map[string]any) (*domain.Plan, error) {
	raw, ok := args["tasks"]
	if !ok {
		return nil, fmt.Errorf("ensemble: create_plan missing tasks")
	}
	taskList, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("ensemble: create_plan tasks is not a list")
	}

	plan := &domain.Plan{Objective: objective}
	for i, item := range taskList {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		desc, _ := m["description"].(string)
		mode := domain.ContextFull
		if cm, ok := m["context_mode"].(string); ok {
			if parsed, ok := domain.ParseContextMode(cm); ok {
				mode = parsed
			}
		}
		plan.Tasks = append(plan.Tasks, domain.Task{
			Index:       i,
			Description: desc,
			ContextMode: mode,
			Status:      domain.TaskPending,
		})
	}
	if len(plan.Tasks) == 0 {
		return nil, fmt.Errorf("ensemble: create_plan produced zero tasks")
	}
	return plan, nil
}
