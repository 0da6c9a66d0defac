// Package hil implements the Human-in-the-Loop Policy (spec §4.K): the
// boundary decision that fires when a plan revision limit is hit or an
// execution-confirmation gate is reached, dispatching to an external human
// port only in interactive mode. Grounded on the teacher's
// internal/tools/policy/approval.go pending/approve/deny/expire workflow,
// generalized from per-tool-call approval to these two run-level gates.
package hil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quorumkit/agentcore/internal/domain"
)

// Boundary names which gate Decide is being asked to resolve.
type Boundary string

const (
	// BoundaryPlanRevision fires once Revision reaches MaxPlanRevisions
	// without a quorum-approved plan (spec §4.I, §4.K).
	BoundaryPlanRevision Boundary = "plan_revision"

	// BoundaryExecutionConfirmation fires once, between the approved plan
	// and the first task, wired only when phase_scope=full (spec §4.K,
	// Open Question resolved in DESIGN.md).
	BoundaryExecutionConfirmation Boundary = "execution_confirmation"
)

// Decision is Decide's result: the action the state machine must take,
// plus any feedback text a human attached to an intervention.
type Decision struct {
	Action   domain.HiLAction
	Feedback string
}

// ErrNoHumanGate is returned when HiLMode is interactive but no Human
// port was configured — a construction error, not a runtime condition a
// caller should route around.
var ErrNoHumanGate = errors.New("hil: interactive mode requires a Human gate")

// Human is the external port a Policy dispatches to in interactive mode
// (spec §6 RequestIntervention / RequestExecutionConfirmation).
type Human interface {
	// Decide blocks until a human approves, denies, or the context is
	// cancelled. approved=false with a non-error return means the human
	// explicitly denied; feedback carries their reasoning either way.
	Decide(ctx context.Context, boundary Boundary, prompt string) (approved bool, feedback string, err error)
}

// Policy resolves HiL boundaries against an AgentPolicy, consulting Human
// only when the policy's mode is interactive.
type Policy struct {
	Agent domain.AgentPolicy
	Human Human
}

// Decide implements spec §4.K: below MaxPlanRevisions always continue;
// at or above it, dispatch on HiLMode. Interactive mode blocks on Human;
// auto-approve/auto-reject resolve immediately without a human round
// trip, mirroring AgentPolicy.Action's static mapping.
func (p Policy) Decide(ctx context.Context, boundary Boundary, revisionCount int, prompt string) (Decision, error) {
	switch p.Agent.Action(revisionCount) {
	case domain.HiLContinue:
		return Decision{Action: domain.HiLContinue}, nil
	case domain.HiLAbort:
		return Decision{Action: domain.HiLAbort}, nil
	case domain.HiLForceApprove:
		return Decision{Action: domain.HiLForceApprove}, nil
	case domain.HiLRequestIntervention:
		if p.Human == nil {
			return Decision{}, ErrNoHumanGate
		}
		approved, feedback, err := p.Human.Decide(ctx, boundary, prompt)
		if err != nil {
			return Decision{}, fmt.Errorf("hil: %s: %w", boundary, err)
		}
		if approved {
			return Decision{Action: domain.HiLForceApprove, Feedback: feedback}, nil
		}
		return Decision{Action: domain.HiLAbort, Feedback: feedback}, nil
	default:
		return Decision{Action: domain.HiLRequestIntervention}, nil
	}
}

// pendingGate is one outstanding human request: Decide blocks on done
// until Approve, Deny, or its expiry fires.
type pendingGate struct {
	boundary  Boundary
	prompt    string
	done      chan struct{}
	approved  bool
	feedback  string
	expiresAt time.Time
}

// Request describes one outstanding gate to an operator deciding it.
type Request struct {
	ID       string
	Boundary Boundary
	Prompt   string
}

// ManualGate is an in-process Human implementation: each Decide call
// registers a pending request and blocks until a caller resolves it via
// Approve/Deny, the context is cancelled, or it expires — the same
// pending/approve/deny/expire shape as the teacher's ApprovalManager,
// replacing its polling ticker with a channel the resolver signals
// directly.
type ManualGate struct {
	mu      sync.Mutex
	pending map[string]*pendingGate
	timeout time.Duration
	seq     int
}

// NewManualGate returns a ManualGate whose requests expire after timeout
// (zero means no expiry).
func NewManualGate(timeout time.Duration) *ManualGate {
	return &ManualGate{pending: make(map[string]*pendingGate), timeout: timeout}
}

// Decide registers a pending request under a fresh sequential id and
// blocks until resolved.
func (g *ManualGate) Decide(ctx context.Context, boundary Boundary, prompt string) (bool, string, error) {
	id, gate := g.register(boundary, prompt)

	var expiry <-chan time.Time
	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		expiry = timer.C
	}

	select {
	case <-gate.done:
		return gate.approved, gate.feedback, nil
	case <-ctx.Done():
		g.forget(id)
		return false, "", ctx.Err()
	case <-expiry:
		g.forget(id)
		return false, "request expired", nil
	}
}

// PendingRequests returns every outstanding gate, for a caller surfacing
// them to an operator.
func (g *ManualGate) PendingRequests() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Request, 0, len(g.pending))
	for id, gate := range g.pending {
		out = append(out, Request{ID: id, Boundary: gate.boundary, Prompt: gate.prompt})
	}
	return out
}

// Approve resolves a pending request as approved.
func (g *ManualGate) Approve(id, feedback string) error {
	return g.resolve(id, true, feedback)
}

// Deny resolves a pending request as denied.
func (g *ManualGate) Deny(id, feedback string) error {
	return g.resolve(id, false, feedback)
}

func (g *ManualGate) register(boundary Boundary, prompt string) (string, *pendingGate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("hil_%d", g.seq)
	gate := &pendingGate{boundary: boundary, prompt: prompt, done: make(chan struct{}), expiresAt: time.Now().Add(g.timeout)}
	g.pending[id] = gate
	return id, gate
}

func (g *ManualGate) resolve(id string, approved bool, feedback string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	gate, ok := g.pending[id]
	if !ok {
		return fmt.Errorf("hil: no pending request %q", id)
	}
	gate.approved = approved
	gate.feedback = feedback
	close(gate.done)
	delete(g.pending, id)
	return nil
}

func (g *ManualGate) forget(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, id)
}
