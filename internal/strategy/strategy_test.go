package strategy

import (
	"context"
	"testing"

	"github.com/quorumkit/agentcore/internal/domain"
	"github.com/quorumkit/agentcore/internal/llmsession"
	"github.com/quorumkit/agentcore/internal/tools"
)

// scriptedBackend replies with a canned string regardless of prompt,
// enough to drive Strategy without a real model.
type scriptedBackend struct{ reply string }

func (b scriptedBackend) Stream(ctx context.Context, system string, messages []domain.Message, schemas []tools.ToolSchema) (<-chan llmsession.StreamDelta, error) {
	ch := make(chan llmsession.StreamDelta, 1)
	ch <- llmsession.StreamDelta{BlockIndex: 0, BlockKind: llmsession.BlockText, TextDelta: b.reply, Final: true, StopReason: llmsession.StopEndTurn}
	close(ch)
	return ch, nil
}

func factoryFor(replies map[domain.ModelID]string) SessionFactory {
	return func(model domain.ModelID) (*llmsession.Session, error) {
		reply, ok := replies[model]
		if !ok {
			reply = "default reply"
		}
		return llmsession.New(model, "sys", scriptedBackend{reply: reply}), nil
	}
}

func TestQuorumExecuteProducesOutcome(t *testing.T) {
	models := []domain.ModelID{"claude-sonnet-4.5", "gpt-5.2-codex"}
	replies := map[domain.ModelID]string{
		"claude-sonnet-4.5": "score 8, looks solid",
		"gpt-5.2-codex":     "score 8, agreed",
	}
	factory := factoryFor(replies)

	out, err := Quorum{}.Execute(context.Background(), "how should we cache this?", models, "claude-sonnet-4.5", factory, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Conclusion == "" {
		t.Fatal("expected non-empty conclusion")
	}
	if len(out.Answers) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(out.Answers))
	}
	if len(out.Critiques) != 4 { // 2 reviewers x 2 targets
		t.Fatalf("expected 4 critiques, got %d", len(out.Critiques))
	}
}

func TestQuorumAllModelsFailedWhenFactoryErrors(t *testing.T) {
	failing := func(model domain.ModelID) (*llmsession.Session, error) {
		return nil, errBoom
	}
	_, err := Quorum{}.Execute(context.Background(), "q", []domain.ModelID{"m1", "m2"}, "m1", failing, nil)
	if err != ErrAllModelsFailed {
		t.Fatalf("expected ErrAllModelsFailed, got %v", err)
	}
}

func TestDebateRunsMultipleRounds(t *testing.T) {
	models := []domain.ModelID{"claude-sonnet-4.5", "gpt-5.2-codex"}
	factory := factoryFor(map[domain.ModelID]string{
		"claude-sonnet-4.5": "score 9",
		"gpt-5.2-codex":     "score 9",
	})
	out, err := Debate{Rounds: 3}.Execute(context.Background(), "debate this", models, "gpt-5.2-codex", factory, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Conclusion == "" {
		t.Fatal("expected non-empty conclusion after multi-round debate")
	}
}

var errBoom = sentinelErr("boom")

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }
