package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/quorumkit/agentcore/internal/domain"
)

// Validator enforces spec §4.C's two rules for every tool call: every
// required parameter is present, and no unknown parameter keys appear.
// It optionally layers a compiled JSON Schema check after those two
// rules — stricter type-checking than the spec requires. When that layer
// is enabled, a call that passes both rules but fails the schema is also
// rejected as invalid_argument, with the schema error as its message.
type Validator struct {
	mu       sync.Mutex
	schemas  map[string]*jsonschema.Schema
	useJSONSchema bool
}

// NewValidator returns a Validator. If withJSONSchema is true, compiled
// schemas (built lazily, one per Definition, from ToJSONSchema) are also
// checked; construction never fails — a schema compile error just
// disables the extra layer for that tool.
func NewValidator(withJSONSchema bool) *Validator {
	return &Validator{schemas: make(map[string]*jsonschema.Schema), useJSONSchema: withJSONSchema}
}

// Validate checks args against def per spec §4.C. On failure it returns a
// domain.ToolResultError with Kind invalid_argument and a deterministic
// message citing the tool name and the offending parameter.
func (v *Validator) Validate(def domain.Definition, args map[string]any) *domain.ToolResultError {
	for _, p := range def.RequiredParams() {
		if _, ok := args[p.Name]; !ok {
			return &domain.ToolResultError{
				Kind:    domain.ErrInvalidArgument,
				Message: fmt.Sprintf("tool %q: missing required parameter %q", def.Name, p.Name),
			}
		}
	}

	known := make(map[string]struct{}, len(def.Params))
	for _, p := range def.Params {
		known[p.Name] = struct{}{}
	}
	for key := range args {
		if _, ok := known[key]; !ok {
			return &domain.ToolResultError{
				Kind:    domain.ErrInvalidArgument,
				Message: fmt.Sprintf("tool %q: unknown parameter %q", def.Name, key),
			}
		}
	}

	if v.useJSONSchema {
		if err := v.validateAgainstSchema(def, args); err != nil {
			return &domain.ToolResultError{
				Kind:    domain.ErrInvalidArgument,
				Message: fmt.Sprintf("tool %q: %v", def.Name, err),
			}
		}
	}
	return nil
}

func (v *Validator) validateAgainstSchema(def domain.Definition, args map[string]any) error {
	schema, err := v.compiledSchema(def)
	if err != nil || schema == nil {
		return nil // compile failure: skip the extra layer, spec rules already ran
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil
	}
	var v2 any
	if err := json.Unmarshal(raw, &v2); err != nil {
		return nil
	}
	return schema.Validate(v2)
}

func (v *Validator) compiledSchema(def domain.Definition) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.schemas[def.Name]; ok {
		return s, nil
	}
	raw, err := json.Marshal(ToJSONSchema(def))
	if err != nil {
		return nil, err
	}
	url := "mem://tools/" + def.Name
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	v.schemas[def.Name] = schema
	return schema, nil
}
