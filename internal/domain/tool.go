package domain

// ParamType is the JSON-Schema-compatible type of a tool parameter. Path is
// a domain refinement of string, collapsed to "string" at schema emission
// time (spec §6: "type mapping path→string").
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamPath    ParamType = "path"
)

// JSONSchemaType returns the wire type used when emitting tool schemas to
// an LLM backend.
func (t ParamType) JSONSchemaType() string {
	if t == ParamPath {
		return "string"
	}
	return string(t)
}

// Param describes a single tool parameter.
type Param struct {
	Name        string
	Description string
	Type        ParamType
	Required    bool
}

// RiskLevel tiers a tool by whether it can mutate external state.
type RiskLevel string

const (
	RiskLow  RiskLevel = "low"
	RiskHigh RiskLevel = "high"
)

// Definition is the canonical, registry-held description of a tool.
type Definition struct {
	Name        string
	Description string
	Params      []Param
	Risk        RiskLevel
}

// RequiredParams returns the subset of Params with Required set.
func (d Definition) RequiredParams() []Param {
	out := make([]Param, 0, len(d.Params))
	for _, p := range d.Params {
		if p.Required {
			out = append(out, p)
		}
	}
	return out
}

// ToolCall is an LLM's request to invoke a tool, prior to alias resolution.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
	Reasoning string
}

// ToolErrorKind categorizes a failed ToolResult.
type ToolErrorKind string

const (
	ErrInvalidArgument  ToolErrorKind = "invalid_argument"
	ErrNotFound         ToolErrorKind = "not_found"
	ErrPermissionDenied ToolErrorKind = "permission_denied"
	ErrExecutionFailed  ToolErrorKind = "execution_failed"
	ErrTimeout          ToolErrorKind = "timeout"
	ErrActionRejected   ToolErrorKind = "action_rejected"
)

// Retryable reports whether a turn loop may let the model correct itself
// and retry. invalid_argument is always retryable (spec §3); others are
// policy-dependent and default to non-retryable here.
func (k ToolErrorKind) Retryable() bool {
	return k == ErrInvalidArgument
}

// ToolResultMeta carries size/truncation bookkeeping for a successful
// tool result (spec §3, §6 "bytes_out, lines_out, truncated").
type ToolResultMeta struct {
	BytesOut  int
	LinesOut  int
	Truncated bool
}

// ToolResult is the structured union a tool execution produces: either a
// successful Content+Meta, or an Err with a Kind and Message.
type ToolResult struct {
	ToolCallID string
	Content    string
	Meta       ToolResultMeta
	Err        *ToolResultError
}

// ToolResultError is the error half of ToolResult's union.
type ToolResultError struct {
	Kind    ToolErrorKind
	Message string
}

// IsError reports whether this result represents a failure.
func (r ToolResult) IsError() bool { return r.Err != nil }

// Success builds a successful ToolResult.
func Success(toolCallID, content string, meta ToolResultMeta) ToolResult {
	return ToolResult{ToolCallID: toolCallID, Content: content, Meta: meta}
}

// Failure builds an error ToolResult.
func Failure(toolCallID string, kind ToolErrorKind, message string) ToolResult {
	return ToolResult{ToolCallID: toolCallID, Err: &ToolResultError{Kind: kind, Message: message}}
}
