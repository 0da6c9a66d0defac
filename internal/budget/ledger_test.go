package budget

import (
	"context"
	"strings"
	"testing"

	"github.com/quorumkit/agentcore/internal/domain"
)

func TestTruncateHeadTailNoopWithinBudget(t *testing.T) {
	s := "short string"
	if got := TruncateHeadTail(s, 1000); got != s {
		t.Fatalf("expected unchanged string, got %q", got)
	}
}

func TestTruncateHeadTailKeepsHeadAndTail(t *testing.T) {
	s := strings.Repeat("a", 50) + strings.Repeat("b", 50)
	got := TruncateHeadTail(s, 40)
	if !strings.HasPrefix(got, "aaa") {
		t.Fatalf("expected head preserved, got %q", got)
	}
	if !strings.HasSuffix(got, "bbb") {
		t.Fatalf("expected tail preserved, got %q", got)
	}
	if !strings.Contains(got, truncationMarker) {
		t.Fatalf("expected truncation marker present, got %q", got)
	}
	if len(got) > 40 {
		t.Fatalf("expected result within budget, got %d bytes", len(got))
	}
}

func TestTruncateHeadTailNeverSplitsUTF8(t *testing.T) {
	s := strings.Repeat("日", 100) // each rune is 3 bytes
	got := TruncateHeadTail(s, 37)
	if !utf8ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got)
	}
}

func utf8ValidString(s string) bool {
	for _, r := range s {
		if r == '�' {
			return false
		}
	}
	return true
}

func TestLedgerCollapsesOldEntriesUnderPressure(t *testing.T) {
	cfg := domain.ContextBudget{MaxEntryBytes: 1000, MaxTotalBytes: 300, RecentFullCount: 1}
	l := NewLedger(cfg)

	l.Append(strings.Repeat("x", 200))
	l.Append(strings.Repeat("y", 200))

	if l.totalBytes() > cfg.MaxTotalBytes+summaryBudget {
		t.Fatalf("expected old entry collapsed, total=%d", l.totalBytes())
	}
	rendered := l.Render()
	if !strings.Contains(rendered, "collapsed") {
		t.Fatalf("expected collapsed marker in render, got %q", rendered)
	}
	if !strings.Contains(rendered, strings.Repeat("y", 50)) {
		t.Fatalf("expected most recent entry to remain full, got %q", rendered)
	}
}

func TestCancelledReflectsContextState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	if Cancelled(ctx) {
		t.Fatal("fresh context should not be cancelled")
	}
	cancel()
	if !Cancelled(ctx) {
		t.Fatal("expected Cancelled to report true after cancel")
	}
}

func TestDefaultExecutionParamsMatchOriginalImplementation(t *testing.T) {
	p := domain.DefaultExecutionParams()
	if p.MaxIterations != 50 || p.MaxToolTurns != 10 || p.MaxToolRetries != 2 {
		t.Fatalf("unexpected defaults: %+v", p)
	}
}
