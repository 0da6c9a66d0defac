// Package config is the process-start configuration snapshot: a YAML
// document unmarshaled once into an immutable Config, covering the
// orchestration axes, model-role selections, execution parameters, agent
// policy, context budget, and quorum rule (spec §6). Grounded on the
// teacher's internal/config/config.go (one root Config struct composed of
// per-concern nested structs, `yaml:"..."` tags throughout) and
// loader.go's env-var expansion, scaled down from Nexus's channel/
// plugin/auth surface to this engine's orchestration surface.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quorumkit/agentcore/internal/domain"
	"github.com/quorumkit/agentcore/internal/quorum"
)

// Config is the root configuration document for one orchestration run
// (or one long-lived host process that builds many runs from it).
type Config struct {
	Run       RunConfig       `yaml:"run"`
	Models    ModelsConfig    `yaml:"models"`
	Policy    PolicyConfig    `yaml:"policy"`
	Params    ParamsConfig    `yaml:"params"`
	Budget    BudgetConfig    `yaml:"context_budget"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// RunConfig selects the two orthogonal orchestration axes plus the
// strategy and quorum rule (spec §3).
type RunConfig struct {
	ConsensusLevel domain.ConsensusLevel     `yaml:"consensus_level"`
	PhaseScope     domain.PhaseScope         `yaml:"phase_scope"`
	Strategy       domain.DiscussionStrategy `yaml:"strategy"`
	// Rule is the quorum.Rule's wire form, parsed by TryParseRule:
	// "majority", "unanimous", "atleast:N", or "N%".
	Rule              string `yaml:"rule"`
	StrictTaskFailure bool   `yaml:"strict_task_failure"`
}

// ModelsConfig names the model roles spec §3/§4.I reference.
type ModelsConfig struct {
	DecisionModel  domain.ModelID   `yaml:"decision_model"`
	ExecutionModel domain.ModelID   `yaml:"execution_model"`
	Moderator      domain.ModelID   `yaml:"moderator"`
	Ensemble       []domain.ModelID `yaml:"ensemble"`
}

// PolicyConfig mirrors domain.AgentPolicy.
type PolicyConfig struct {
	HiLMode            domain.HiLMode `yaml:"hil_mode"`
	RequirePlanReview  bool           `yaml:"require_plan_review"`
	RequireFinalReview bool           `yaml:"require_final_review"`
	MaxPlanRevisions   int            `yaml:"max_plan_revisions"`
}

// ParamsConfig mirrors domain.ExecutionParams.
type ParamsConfig struct {
	MaxIterations          int           `yaml:"max_iterations"`
	MaxToolTurns           int           `yaml:"max_tool_turns"`
	MaxToolRetries         int           `yaml:"max_tool_retries"`
	WorkingDir             string        `yaml:"working_dir"`
	EnsembleSessionTimeout time.Duration `yaml:"ensemble_session_timeout"`
}

// BudgetConfig mirrors domain.ContextBudget.
type BudgetConfig struct {
	MaxEntryBytes   int `yaml:"max_entry_bytes"`
	MaxTotalBytes   int `yaml:"max_total_bytes"`
	RecentFullCount int `yaml:"recent_full_count"`
}

// TelemetryConfig controls the optional Prometheus/OTel wiring (spec
// DOMAIN STACK: this module never owns an exporter, only whether to ask
// for instrumentation at all).
type TelemetryConfig struct {
	MetricsEnabled bool `yaml:"metrics_enabled"`
	TracingEnabled bool `yaml:"tracing_enabled"`
}

// Default returns the spec's documented defaults (domain.DefaultAgentPolicy,
// domain.DefaultExecutionParams, domain.DefaultContextBudget), with the
// orchestration axes left at their safest (solo, full scope, majority).
func Default() Config {
	policy := domain.DefaultAgentPolicy()
	params := domain.DefaultExecutionParams()
	budget := domain.DefaultContextBudget()
	return Config{
		Run: RunConfig{
			ConsensusLevel: domain.ConsensusSolo,
			PhaseScope:     domain.ScopeFull,
			Strategy:       domain.StrategyQuorum,
			Rule:           "majority",
		},
		Policy: PolicyConfig{
			HiLMode:            policy.HiLMode,
			RequirePlanReview:  policy.RequirePlanReview,
			RequireFinalReview: policy.RequireFinalReview,
			MaxPlanRevisions:   policy.MaxPlanRevisions,
		},
		Params: ParamsConfig{
			MaxIterations:          params.MaxIterations,
			MaxToolTurns:           params.MaxToolTurns,
			MaxToolRetries:         params.MaxToolRetries,
			EnsembleSessionTimeout: params.EnsembleSessionTimeout,
		},
		Budget: BudgetConfig{
			MaxEntryBytes:   budget.MaxEntryBytes,
			MaxTotalBytes:   budget.MaxTotalBytes,
			RecentFullCount: budget.RecentFullCount,
		},
	}
}

// Load reads path, expands ${VAR}/$VAR references against the process
// environment (the teacher's loader.go does the same os.ExpandEnv pass
// before parsing, so secrets like API keys never sit in the file), merges
// the result over Default(), and validates the merged snapshot.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg := Default()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the cross-field invariants spec §3/§6 place on a
// configuration snapshot, beyond what Policy/Params/Budget validate
// individually.
func (c Config) Validate() error {
	if _, ok := quorum.TryParseRule(c.Run.Rule); !ok {
		return fmt.Errorf("run.rule %q is not one of majority, unanimous, atleast:N, N%%", c.Run.Rule)
	}
	if c.Run.ConsensusLevel == domain.ConsensusEnsemble && len(c.Models.Ensemble) == 0 {
		return fmt.Errorf("run.consensus_level ensemble requires models.ensemble to be non-empty")
	}
	if c.Run.ConsensusLevel == domain.ConsensusSolo && c.Models.DecisionModel == "" {
		return fmt.Errorf("run.consensus_level solo requires models.decision_model")
	}
	return c.ContextBudget().Validate()
}

// AgentPolicy converts PolicyConfig to its domain form.
func (c Config) AgentPolicy() domain.AgentPolicy {
	return domain.AgentPolicy{
		HiLMode:            c.Policy.HiLMode,
		RequirePlanReview:  c.Policy.RequirePlanReview,
		RequireFinalReview: c.Policy.RequireFinalReview,
		MaxPlanRevisions:   c.Policy.MaxPlanRevisions,
	}
}

// ExecutionParams converts ParamsConfig to its domain form.
func (c Config) ExecutionParams() domain.ExecutionParams {
	return domain.ExecutionParams{
		MaxIterations:          c.Params.MaxIterations,
		MaxToolTurns:           c.Params.MaxToolTurns,
		MaxToolRetries:         c.Params.MaxToolRetries,
		WorkingDir:             c.Params.WorkingDir,
		EnsembleSessionTimeout: c.Params.EnsembleSessionTimeout,
	}
}

// ContextBudget converts BudgetConfig to its domain form.
func (c Config) ContextBudget() domain.ContextBudget {
	return domain.ContextBudget{
		MaxEntryBytes:   c.Budget.MaxEntryBytes,
		MaxTotalBytes:   c.Budget.MaxTotalBytes,
		RecentFullCount: c.Budget.RecentFullCount,
	}
}

// Rule parses Run.Rule, falling back to Majority — Validate already
// rejected the config if this string were malformed, so the fallback
// here only guards callers that skip Validate.
func (c Config) Rule() quorum.Rule {
	return quorum.ParseRule(c.Run.Rule)
}
