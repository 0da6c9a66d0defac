// Package budget implements the Cancellation & Budget Policy (spec §4.J):
// a thin cancellation helper checked at every suspension point, and a
// context-budget Ledger with head+tail truncation built on
// domain.ContextBudget/domain.ExecutionParams. Grounded on
// internal/agent/context/pruning.go's soft-trim/hard-clear settings and
// the teacher's pervasive ctx.Done() checks in agent/loop.go.
package budget

import "context"

// Cancelled reports whether ctx has been cancelled, the single check
// every suspension point in the machine makes before consulting any
// other outcome (spec §7, §8 invariant 9: cancellation always wins).
func Cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
