package nativeloop

import (
	"context"
	"fmt"
	"testing"

	"github.com/quorumkit/agentcore/internal/domain"
	"github.com/quorumkit/agentcore/internal/llmsession"
	"github.com/quorumkit/agentcore/internal/toolexec"
	"github.com/quorumkit/agentcore/internal/tools"
)

// scriptedBackend replays a fixed sequence of turns: each call to Stream
// consumes the next scripted turn, letting a test drive a multi-turn
// tool-use conversation deterministically.
type scriptedBackend struct {
	turns []llmsession.StreamDelta
	calls int
}

func (b *scriptedBackend) Stream(ctx context.Context, system string, messages []domain.Message, schemas []tools.ToolSchema) (<-chan llmsession.StreamDelta, error) {
	if b.calls >= len(b.turns) {
		return nil, fmt.Errorf("scriptedBackend: no more turns scripted")
	}
	d := b.turns[b.calls]
	b.calls++
	ch := make(chan llmsession.StreamDelta, 1)
	ch <- d
	close(ch)
	return ch, nil
}

type echoTool struct{}

func (echoTool) Name() string { return "echo" }
func (echoTool) Execute(ctx context.Context, call domain.ToolCall) domain.ToolResult {
	msg, _ := call.Arguments["message"].(string)
	return domain.Success(call.ID, msg, domain.ToolResultMeta{BytesOut: len(msg)})
}

func newRegistry() (*tools.Registry, *tools.Validator) {
	reg := tools.NewRegistry().Register(domain.Definition{
		Name: "echo",
		Risk: domain.RiskLow,
		Params: []domain.Param{
			{Name: "message", Type: domain.ParamString, Required: true},
		},
	})
	return reg, tools.NewValidator(false)
}

func TestRunEndsOnEndTurnWithoutToolCalls(t *testing.T) {
	backend := &scriptedBackend{turns: []llmsession.StreamDelta{
		{BlockIndex: 0, BlockKind: llmsession.BlockText, TextDelta: "done", Final: true, StopReason: llmsession.StopEndTurn},
	}}
	sess := llmsession.New("m1", "sys", backend)
	reg, val := newRegistry()
	ex := toolexec.New([]toolexec.Tool{echoTool{}}, toolexec.DefaultConfig())

	loop := Loop{MaxToolTurns: 5}
	result, err := loop.Run(context.Background(), sess, "hello", reg, val, ex, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "done" || result.Turns != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunDispatchesLowRiskToolAndContinues(t *testing.T) {
	backend := &scriptedBackend{turns: []llmsession.StreamDelta{
		{BlockIndex: 0, BlockKind: llmsession.BlockToolUse, ToolID: "call_1", ToolName: "echo", ArgsDelta: `{"message":"hi"}`, Final: true, StopReason: llmsession.StopToolUse},
		{BlockIndex: 0, BlockKind: llmsession.BlockText, TextDelta: "all set", Final: true, StopReason: llmsession.StopEndTurn},
	}}
	sess := llmsession.New("m1", "sys", backend)
	reg, val := newRegistry()
	ex := toolexec.New([]toolexec.Tool{echoTool{}}, toolexec.DefaultConfig())

	loop := Loop{MaxToolTurns: 5}
	result, err := loop.Run(context.Background(), sess, "hello", reg, val, ex, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "all set" || result.Turns != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunUnknownToolProducesNotFoundAndContinues(t *testing.T) {
	backend := &scriptedBackend{turns: []llmsession.StreamDelta{
		{BlockIndex: 0, BlockKind: llmsession.BlockToolUse, ToolID: "call_1", ToolName: "missing", ArgsDelta: `{}`, Final: true, StopReason: llmsession.StopToolUse},
		{BlockIndex: 0, BlockKind: llmsession.BlockText, TextDelta: "recovered", Final: true, StopReason: llmsession.StopEndTurn},
	}}
	sess := llmsession.New("m1", "sys", backend)
	reg, val := newRegistry()
	ex := toolexec.New([]toolexec.Tool{echoTool{}}, toolexec.DefaultConfig())

	loop := Loop{MaxToolTurns: 5}
	result, err := loop.Run(context.Background(), sess, "hello", reg, val, ex, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "recovered" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunExceedsMaxToolTurns(t *testing.T) {
	toolTurn := llmsession.StreamDelta{BlockIndex: 0, BlockKind: llmsession.BlockToolUse, ToolID: "call_1", ToolName: "echo", ArgsDelta: `{"message":"hi"}`, Final: true, StopReason: llmsession.StopToolUse}
	backend := &scriptedBackend{turns: []llmsession.StreamDelta{toolTurn, toolTurn, toolTurn}}
	sess := llmsession.New("m1", "sys", backend)
	reg, val := newRegistry()
	ex := toolexec.New([]toolexec.Tool{echoTool{}}, toolexec.DefaultConfig())

	loop := Loop{MaxToolTurns: 3}
	_, err := loop.Run(context.Background(), sess, "hello", reg, val, ex, nil, nil)
	if err != ErrMaxToolTurns {
		t.Fatalf("expected ErrMaxToolTurns, got %v", err)
	}
}

// denyReview rejects every high-risk call, exercising the action_rejected path.
type denyReview struct{ feedback string }

func (d denyReview) Review(ctx context.Context, call domain.ToolCall, def domain.Definition) (bool, string, error) {
	return false, d.feedback, nil
}

func TestRunHighRiskToolRejectedByActionReview(t *testing.T) {
	backend := &scriptedBackend{turns: []llmsession.StreamDelta{
		{BlockIndex: 0, BlockKind: llmsession.BlockToolUse, ToolID: "call_1", ToolName: "danger", ArgsDelta: `{}`, Final: true, StopReason: llmsession.StopToolUse},
		{BlockIndex: 0, BlockKind: llmsession.BlockText, TextDelta: "ok", Final: true, StopReason: llmsession.StopEndTurn},
	}}
	sess := llmsession.New("m1", "sys", backend)
	reg := tools.NewRegistry().Register(domain.Definition{Name: "danger", Risk: domain.RiskHigh})
	val := tools.NewValidator(false)
	ex := toolexec.New(nil, toolexec.DefaultConfig())

	loop := Loop{MaxToolTurns: 5}
	result, err := loop.Run(context.Background(), sess, "hello", reg, val, ex, denyReview{feedback: "not allowed"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "ok" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunProgressCallbackReceivesInterleavedText(t *testing.T) {
	backend := &scriptedBackend{turns: []llmsession.StreamDelta{
		{BlockIndex: 0, BlockKind: llmsession.BlockText, TextDelta: "working on it", Final: true, StopReason: llmsession.StopEndTurn},
	}}
	sess := llmsession.New("m1", "sys", backend)
	reg, val := newRegistry()
	ex := toolexec.New([]toolexec.Tool{echoTool{}}, toolexec.DefaultConfig())

	var seen []string
	loop := Loop{MaxToolTurns: 5}
	_, err := loop.Run(context.Background(), sess, "hello", reg, val, ex, nil, func(text string) {
		seen = append(seen, text)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 1 || seen[0] != "working on it" {
		t.Fatalf("unexpected progress callbacks: %v", seen)
	}
}
