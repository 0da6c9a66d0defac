// Package agentfsm implements the Agent State Machine (spec §4.I): the
// Plan → Review → Execute → Final-Review lifecycle with bounded revision
// and iteration limits, a human-in-the-loop detour, and cancellation.
// Grounded on the teacher's internal/agent/runtime.go layered
// architecture —
//
//	┌─────────────────────────────────────────┐
//	│              Machine                     │  phase transitions
//	├─────────────────────────────────────────┤
//	│  Planner   │  Strategy  │  Quorum/HiL    │  plan, review, gate
//	├─────────────────────────────────────────┤
//	│  Native Tool Use Loop  │  Tool Executor  │  task execution
//	└─────────────────────────────────────────┘
//
// generalized from the teacher's single monolithic Runtime.run call graph
// into the spec's explicit Step-driven design: every call to Step performs
// exactly one phase transition, so a test can single-step and assert state
// after each one.
package agentfsm

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/quorumkit/agentcore/internal/budget"
	"github.com/quorumkit/agentcore/internal/domain"
	"github.com/quorumkit/agentcore/internal/hil"
	"github.com/quorumkit/agentcore/internal/quorum"
	"github.com/quorumkit/agentcore/internal/strategy"
	"github.com/quorumkit/agentcore/internal/telemetry"
	"github.com/quorumkit/agentcore/internal/toolexec"
	"github.com/quorumkit/agentcore/internal/tools"
)

// Input is the immutable configuration one run is built from. Replaying
// the same Input against the same (deterministic) Collaborators and Seed
// reproduces the same transition sequence (spec §4.I idempotence note).
type Input struct {
	Objective string

	ConsensusLevel domain.ConsensusLevel
	PhaseScope     domain.PhaseScope
	Strategy       domain.DiscussionStrategy

	// DecisionModel plans and executes alone when ConsensusLevel is solo.
	DecisionModel domain.ModelID
	// Models is the ensemble planner pool and the review/voting panel for
	// plan_review, final_review, and action_review, regardless of
	// ConsensusLevel — planning fan-out and review fan-out are
	// independent per spec §3's orthogonal-axes note. Defaults to
	// DecisionModel alone if unset (see NewMachine).
	Models []domain.ModelID
	// ExecutionModel is "the selected ensemble decision model" spec §4.I
	// names for running tasks when ConsensusLevel is ensemble. Defaults
	// to Models[0] if unset (see NewMachine).
	ExecutionModel domain.ModelID
	// Moderator synthesizes Strategy.Execute's conclusion during
	// plan_review/final_review. Defaults to Models[0] if unset.
	Moderator domain.ModelID

	Policy        domain.AgentPolicy
	Params        domain.ExecutionParams
	ContextBudget domain.ContextBudget
	Rule          quorum.Rule

	// StrictTaskFailure aborts the whole run on the first failed task
	// instead of continuing to the next pending one (spec §4.I: "abort
	// (strict) or continue (lenient — default)").
	StrictTaskFailure bool

	Seed int64
}

// Collaborators are the injectable, possibly-fake dependencies a Machine
// drives. Tests substitute scripted sessions/tools for determinism.
type Collaborators struct {
	Sessions  strategy.SessionFactory
	Registry  *tools.Registry
	Validator *tools.Validator
	Executor  *toolexec.Executor
	Human     hil.Human // nil disables interactive HiL; required if Policy.HiLMode is interactive
	Clock     quorum.Clock
	Progress  func(event string)

	// Metrics and Tracer are optional; a nil value disables instrumentation
	// without requiring callers to special-case construction.
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer

	// Logger defaults to slog.Default() in NewMachine if unset.
	Logger *slog.Logger
}

// Machine is the explicit state-machine data structure spec §4.I and §9
// require: a Phase plus counters, driven only by Step.
type Machine struct {
	input  Input
	collab Collaborators
	rng    *rand.Rand

	phase    domain.Phase
	plan     *domain.Plan
	revision int
	iteration int

	confirmedExecution bool
	actionReviewRound   int

	ledger        *budget.Ledger
	pendingFeedback string
	textSynthesis   string
	failureReason   domain.FailureReason
}

// NewMachine validates input and builds a Machine positioned at
// gathering_context, the diagram's entry phase.
func NewMachine(input Input, collab Collaborators) (*Machine, error) {
	if err := input.ContextBudget.Validate(); err != nil {
		return nil, fmt.Errorf("agentfsm: %w", err)
	}
	if input.ConsensusLevel == domain.ConsensusEnsemble && len(input.Models) == 0 {
		return nil, fmt.Errorf("agentfsm: ensemble consensus level requires at least one model")
	}
	if len(input.Models) == 0 && input.DecisionModel != "" {
		input.Models = []domain.ModelID{input.DecisionModel}
	}
	if input.ExecutionModel == "" {
		if len(input.Models) > 0 {
			input.ExecutionModel = input.Models[0]
		} else {
			input.ExecutionModel = input.DecisionModel
		}
	}
	if input.Moderator == "" {
		if len(input.Models) > 0 {
			input.Moderator = input.Models[0]
		} else {
			input.Moderator = input.DecisionModel
		}
	}
	if input.Rule == nil {
		input.Rule = quorum.Majority{}
	}
	if collab.Registry == nil || collab.Validator == nil || collab.Executor == nil || collab.Sessions == nil {
		return nil, fmt.Errorf("agentfsm: Sessions, Registry, Validator, and Executor are required collaborators")
	}
	if collab.Logger == nil {
		collab.Logger = slog.Default()
	}

	return &Machine{
		input:  input,
		collab: collab,
		rng:    rand.New(rand.NewSource(input.Seed)),
		phase:  domain.PhaseGatheringContext,
		ledger: budget.NewLedger(input.ContextBudget),
	}, nil
}

// Phase returns the machine's current phase.
func (m *Machine) Phase() domain.Phase { return m.phase }

// Plan returns the current plan, or nil before one exists.
func (m *Machine) Plan() *domain.Plan { return m.plan }

// Revision returns the current plan revision count.
func (m *Machine) Revision() int { return m.revision }

// Iteration returns the number of executing-phase iterations taken.
func (m *Machine) Iteration() int { return m.iteration }

// TextSynthesis returns the moderator's text-only answer when planning
// short-circuited to "completed with text" (spec §4.G).
func (m *Machine) TextSynthesis() string { return m.textSynthesis }

// FailureReason returns why the run ended in PhaseFailed, if it did.
func (m *Machine) FailureReason() domain.FailureReason { return m.failureReason }

// PreviousResults renders the accumulated, budget-trimmed task summaries
// (spec §4.J).
func (m *Machine) PreviousResults() string { return m.ledger.Render() }

// isTerminal reports whether phase is one Step will no longer advance out of.
func isTerminal(phase domain.Phase) bool {
	switch phase {
	case domain.PhaseCompleted, domain.PhaseFailed, domain.PhaseCancelled:
		return true
	default:
		return false
	}
}

// Step performs exactly one phase transition and reports whether the run
// has reached a terminal phase (spec §4.I, §9). Cancellation always wins:
// every Step call checks it first, regardless of phase (spec §7, §8
// invariant 9).
func (m *Machine) Step(ctx context.Context) (bool, error) {
	if isTerminal(m.phase) {
		return true, nil
	}
	if budget.Cancelled(ctx) {
		m.phase = domain.PhaseCancelled
		m.collab.Metrics.RunOutcome(string(domain.PhaseCancelled), "")
		return true, nil
	}

	ctx, span := m.collab.Tracer.StartPhase(ctx, string(m.phase))
	defer func() { telemetry.EndWithError(span, nil) }()
	m.collab.Metrics.Phase(string(m.phase))
	m.collab.Logger.Debug("phase step", "phase", m.phase, "revision", m.revision, "iteration", m.iteration)

	var (
		done bool
		err  error
	)
	switch m.phase {
	case domain.PhaseGatheringContext:
		done, err = m.stepGatheringContext(ctx)
	case domain.PhasePlanning:
		done, err = m.stepPlanning(ctx)
	case domain.PhasePlanReview:
		done, err = m.stepPlanReview(ctx)
	case domain.PhaseAwaitingHuman:
		done, err = m.stepAwaitingHuman(ctx)
	case domain.PhaseExecuting:
		done, err = m.stepExecuting(ctx)
	case domain.PhaseFinalReview:
		done, err = m.stepFinalReview(ctx)
	default:
		return false, fmt.Errorf("agentfsm: unhandled phase %q", m.phase)
	}

	if done && isTerminal(m.phase) {
		m.collab.Metrics.RunOutcome(string(m.phase), string(m.failureReason))
		m.collab.Logger.Info("run finished", "phase", m.phase, "failure_reason", m.failureReason)
	}
	return done, err
}

// Run drives Step to completion, for callers that don't need to
// single-step (tests seeding spec §8 scenarios call Step directly).
func (m *Machine) Run(ctx context.Context) error {
	for {
		done, err := m.Step(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// stepGatheringContext is a single no-op transition acknowledging the
// external context-gathering collaborator's hook point (reference
// resolvers, project scanning — out of scope per spec §1) before entering
// the planning loop.
func (m *Machine) stepGatheringContext(ctx context.Context) (bool, error) {
	m.notify("gathering_context")
	m.phase = domain.PhasePlanning
	return false, nil
}

func (m *Machine) notify(event string) {
	if m.collab.Progress != nil {
		m.collab.Progress(event)
	}
}

// planningModels returns the pool ensemble.Planner fans out over: one
// model for solo, the full ensemble pool otherwise (spec §4.G, §2 control
// flow: "drives a Strategy (F or G) to produce a plan").
func (m *Machine) planningModels() []domain.ModelID {
	if m.input.ConsensusLevel == domain.ConsensusEnsemble {
		return m.input.Models
	}
	return []domain.ModelID{m.input.DecisionModel}
}
