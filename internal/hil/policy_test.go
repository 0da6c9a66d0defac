package hil

import (
	"context"
	"testing"
	"time"

	"github.com/quorumkit/agentcore/internal/domain"
)

func TestDecideBelowLimitAlwaysContinues(t *testing.T) {
	p := Policy{Agent: domain.AgentPolicy{HiLMode: domain.HiLInteractive, MaxPlanRevisions: 3}}
	d, err := p.Decide(context.Background(), BoundaryPlanRevision, 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != domain.HiLContinue {
		t.Fatalf("expected continue, got %s", d.Action)
	}
}

func TestDecideAutoApproveForcesApprove(t *testing.T) {
	p := Policy{Agent: domain.AgentPolicy{HiLMode: domain.HiLAutoApprove, MaxPlanRevisions: 1}}
	d, err := p.Decide(context.Background(), BoundaryPlanRevision, 1, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != domain.HiLForceApprove {
		t.Fatalf("expected force_approve, got %s", d.Action)
	}
}

func TestDecideAutoRejectAborts(t *testing.T) {
	p := Policy{Agent: domain.AgentPolicy{HiLMode: domain.HiLAutoReject, MaxPlanRevisions: 1}}
	d, err := p.Decide(context.Background(), BoundaryPlanRevision, 2, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != domain.HiLAbort {
		t.Fatalf("expected abort, got %s", d.Action)
	}
}

func TestDecideInteractiveWithoutHumanGateErrors(t *testing.T) {
	p := Policy{Agent: domain.AgentPolicy{HiLMode: domain.HiLInteractive, MaxPlanRevisions: 1}}
	_, err := p.Decide(context.Background(), BoundaryPlanRevision, 1, "")
	if err != ErrNoHumanGate {
		t.Fatalf("expected ErrNoHumanGate, got %v", err)
	}
}

func TestDecideInteractiveApprovedByManualGate(t *testing.T) {
	gate := NewManualGate(0)
	p := Policy{Agent: domain.AgentPolicy{HiLMode: domain.HiLInteractive, MaxPlanRevisions: 1}, Human: gate}

	resultCh := make(chan Decision, 1)
	errCh := make(chan error, 1)
	go func() {
		d, err := p.Decide(context.Background(), BoundaryPlanRevision, 1, "please review")
		resultCh <- d
		errCh <- err
	}()

	var id string
	for id == "" {
		reqs := gate.PendingRequests()
		if len(reqs) > 0 {
			id = reqs[0].ID
		}
		time.Sleep(time.Millisecond)
	}
	if err := gate.Approve(id, "looks good"); err != nil {
		t.Fatalf("unexpected error approving: %v", err)
	}

	d := <-resultCh
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != domain.HiLForceApprove || d.Feedback != "looks good" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestDecideInteractiveDeniedByManualGate(t *testing.T) {
	gate := NewManualGate(0)
	p := Policy{Agent: domain.AgentPolicy{HiLMode: domain.HiLInteractive, MaxPlanRevisions: 1}, Human: gate}

	resultCh := make(chan Decision, 1)
	go func() {
		d, _ := p.Decide(context.Background(), BoundaryExecutionConfirmation, 1, "run rm -rf?")
		resultCh <- d
	}()

	var id string
	for id == "" {
		reqs := gate.PendingRequests()
		if len(reqs) > 0 {
			id = reqs[0].ID
		}
		time.Sleep(time.Millisecond)
	}
	_ = gate.Deny(id, "too risky")

	d := <-resultCh
	if d.Action != domain.HiLAbort || d.Feedback != "too risky" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestManualGateExpires(t *testing.T) {
	gate := NewManualGate(10 * time.Millisecond)
	approved, feedback, err := gate.Decide(context.Background(), BoundaryPlanRevision, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if approved {
		t.Fatal("expected expiry to resolve as not approved")
	}
	if feedback != "request expired" {
		t.Fatalf("unexpected feedback: %q", feedback)
	}
}

func TestManualGateContextCancellation(t *testing.T) {
	gate := NewManualGate(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := gate.Decide(ctx, BoundaryPlanRevision, "")
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
