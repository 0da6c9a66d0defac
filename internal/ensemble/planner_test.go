package ensemble

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/quorumkit/agentcore/internal/domain"
	"github.com/quorumkit/agentcore/internal/llmsession"
	"github.com/quorumkit/agentcore/internal/tools"
)

// scriptedBackend answers SendWithTools with a fixed create_plan call.
// For plain Send calls (used during voting) it scores based on a marker
// string expected to appear in the prompt, so different candidates can
// receive different votes without parsing real model output.
type scriptedBackend struct {
	toolArgsJSON string
	scoreFor     map[string]string // marker substring -> score text
	defaultScore string
}

func (b scriptedBackend) Stream(ctx context.Context, system string, messages []domain.Message, schemas []tools.ToolSchema) (<-chan llmsession.StreamDelta, error) {
	ch := make(chan llmsession.StreamDelta, 4)
	if len(schemas) > 0 && b.toolArgsJSON != "" {
		ch <- llmsession.StreamDelta{BlockIndex: 0, BlockKind: llmsession.BlockToolUse, ToolID: "call_1", ToolName: "create_plan"}
		ch <- llmsession.StreamDelta{BlockIndex: 0, BlockKind: llmsession.BlockToolUse, ArgsDelta: b.toolArgsJSON, Final: true, StopReason: llmsession.StopToolUse}
	} else {
		prompt := ""
		if len(messages) > 0 {
			prompt = messages[len(messages)-1].Content
		}
		score := b.defaultScore
		if score == "" {
			score = "5"
		}
		for marker, s := range b.scoreFor {
			if strings.Contains(prompt, marker) {
				score = s
				break
			}
		}
		ch <- llmsession.StreamDelta{BlockIndex: 0, BlockKind: llmsession.BlockText, TextDelta: score, Final: true, StopReason: llmsession.StopEndTurn}
	}
	close(ch)
	return ch, nil
}

func TestPlanVotesHighestScoringCandidate(t *testing.T) {
	lowPlan := `{"tasks":[{"description":"do one thing"}]}`
	highPlan := `{"tasks":[{"description":"step one"},{"description":"step two"}]}`

	scoreFor := map[string]string{"step two": "9", "do one thing": "3"}
	factory := func(model domain.ModelID) (*llmsession.Session, error) {
		switch model {
		case "model-low":
			return llmsession.New(model, "sys", scriptedBackend{toolArgsJSON: lowPlan, scoreFor: scoreFor}), nil
		case "model-high":
			return llmsession.New(model, "sys", scriptedBackend{toolArgsJSON: highPlan, scoreFor: scoreFor}), nil
		default:
			return llmsession.New(model, "sys", scriptedBackend{scoreFor: scoreFor}), nil
		}
	}

	p := Planner{Sessions: factory}
	result, err := p.Plan(context.Background(), "ship the feature", []domain.ModelID{"model-low", "model-high"}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Plan == nil {
		t.Fatal("expected a plan result, got text synthesis")
	}
	if len(result.Plan.Tasks) != 2 {
		t.Fatalf("expected the 2-task plan to win the vote, got %d tasks", len(result.Plan.Tasks))
	}
}

func TestPlanReturnsTextSynthesisWhenNoCandidateProposesPlan(t *testing.T) {
	factory := func(model domain.ModelID) (*llmsession.Session, error) {
		return llmsession.New(model, "sys", scriptedBackend{defaultScore: "just do it manually"}), nil
	}
	p := Planner{Sessions: factory}
	result, err := p.Plan(context.Background(), "trivial task", []domain.ModelID{"m1"}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Plan != nil {
		t.Fatal("expected nil plan when no candidate invoked create_plan")
	}
	if result.TextSynthesis == "" {
		t.Fatal("expected non-empty text synthesis")
	}
}
