// Package tools implements the canonical tool registry, alias resolution,
// and argument validation (spec §4.C). Grounded on the teacher's
// internal/agent/tool_registry.go chained-register shape, generalized
// with an alias table and risk tiering that the teacher's single-tenant
// registry does not need.
package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quorumkit/agentcore/internal/domain"
)

// Registry is an immutable-after-build mapping from canonical tool name to
// Definition, plus an alias table resolving synonyms to canonical names.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]domain.Definition
	aliases map[string]string
}

// NewRegistry returns an empty registry ready for chained Register calls.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]domain.Definition),
		aliases: make(map[string]string),
	}
}

// Register adds a canonical tool definition and returns the registry for
// chaining: NewRegistry().Register(a).Register(b)....
func (r *Registry) Register(def domain.Definition) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[def.Name] = def
	return r
}

// Alias registers a synonym that resolves to an existing canonical tool.
// Panics if canonical is not already registered — an alias table pointing
// nowhere is a construction-time bug, not a runtime condition (spec §3
// invariant: "every alias target must exist as a canonical tool").
func (r *Registry) Alias(alias, canonical string) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[canonical]; !ok {
		panic(fmt.Sprintf("tools: alias %q targets unregistered tool %q", alias, canonical))
	}
	r.aliases[alias] = canonical
	return r
}

// Resolve returns the canonical name for name: itself if name is already
// canonical, its alias target otherwise, or ok=false if name is unknown.
// Resolve is idempotent: Resolve(Resolve(x)) == Resolve(x) (spec §8
// invariant 1), since canonical names never collide with alias sources
// once Register/Alias have run.
func (r *Registry) Resolve(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.byName[name]; ok {
		return name, true
	}
	if canonical, ok := r.aliases[name]; ok {
		return canonical, true
	}
	return "", false
}

// Get returns the Definition for a canonical or aliased name.
func (r *Registry) Get(name string) (domain.Definition, bool) {
	canonical, ok := r.Resolve(name)
	if !ok {
		return domain.Definition{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byName[canonical]
	return def, ok
}

// All returns every registered definition, sorted lexicographically by
// name for deterministic schema emission (spec §6).
func (r *Registry) All() []domain.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Definition, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LowRiskOnly returns only the low-risk (read-only) definitions, sorted by
// name — used when emitting a restricted tool set to the model (e.g. the
// review models in a plan-review round should not see mutating tools).
func (r *Registry) LowRiskOnly() []domain.Definition {
	all := r.All()
	out := make([]domain.Definition, 0, len(all))
	for _, d := range all {
		if d.Risk == domain.RiskLow {
			out = append(out, d)
		}
	}
	return out
}
