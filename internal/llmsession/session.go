// Package llmsession implements the LLM Session (spec §4.B): a typed
// request/response and streaming-delta-reassembly layer over one
// Backend. Grounded on the teacher's
// internal/agent/loop.go streaming reassembly (LoopState.PendingTools
// accumulation by index) and internal/agent/providers/anthropic.go's
// provider-adapter shape, generalized so any Backend can drive it. The
// Backends in this module are the vendor SDK adapters in
// internal/providers; none of them runs over transport.Demux.
package llmsession

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/quorumkit/agentcore/internal/domain"
	"github.com/quorumkit/agentcore/internal/tools"
)

// BlockKind distinguishes the two content block shapes a turn can produce.
type BlockKind string

const (
	BlockText    BlockKind = "text"
	BlockToolUse BlockKind = "tool_use"
)

// ContentBlock is one ordered piece of a model turn.
type ContentBlock struct {
	Kind BlockKind
	Text string
	Tool domain.ToolCall
}

// StopReason mirrors the backend's reason for ending a turn.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopSequence  StopReason = "stop_sequence"
)

// Response is the reassembled result of one model turn.
type Response struct {
	Blocks     []ContentBlock
	StopReason StopReason
}

// Text concatenates every text block in order, the convenience path
// Send() uses when no tool schemas were offered.
func (r Response) Text() string {
	out := ""
	for _, b := range r.Blocks {
		if b.Kind == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolCalls returns every tool_use block's ToolCall.
func (r Response) ToolCalls() []domain.ToolCall {
	var calls []domain.ToolCall
	for _, b := range r.Blocks {
		if b.Kind == BlockToolUse {
			calls = append(calls, b.Tool)
		}
	}
	return calls
}

// StreamDelta is one chunk a Backend emits while producing a turn.
type StreamDelta struct {
	BlockIndex int
	TextDelta  string
	ToolID     string
	ToolName   string
	ArgsDelta  string // raw JSON fragment, accumulated until the block closes
	BlockKind  BlockKind
	Done       bool // this block index will receive no further deltas
	Final      bool // the whole turn is complete; StopReason is set
	StopReason StopReason
	Err        error
}

// Backend is the pluggable port a concrete provider implements: given a
// system prompt, conversation history, and optional tool schemas, stream
// back deltas (spec §4.B). Real adapters live in internal/providers/*.
type Backend interface {
	Stream(ctx context.Context, systemPrompt string, messages []domain.Message, schemas []tools.ToolSchema) (<-chan StreamDelta, error)
}

// Session binds a Backend to one conversation's running message history.
type Session struct {
	model   domain.ModelID
	system  string
	backend Backend

	history []domain.Message
}

// New constructs a Session over a Backend port implementation, keeping
// llmsession ignorant of JSON-RPC framing. This module has no Backend
// adapter over transport.Demux; its Backends call vendor SDKs directly.
func New(model domain.ModelID, systemPrompt string, backend Backend) *Session {
	return &Session{model: model, system: systemPrompt, backend: backend}
}

// Model returns the bound model id.
func (s *Session) Model() domain.ModelID { return s.model }

// Send issues a plain text turn with no tool schemas offered.
func (s *Session) Send(ctx context.Context, text string) (string, error) {
	resp, err := s.turn(ctx, text, nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// SendWithTools issues a turn offering the given tool schemas, returning
// the full reassembled Response (spec §4.B).
func (s *Session) SendWithTools(ctx context.Context, text string, schemas []tools.ToolSchema) (*Response, error) {
	return s.turn(ctx, text, schemas)
}

// AppendToolResults feeds tool outputs back into history as user-role
// messages ahead of the next turn, matching the teacher's loop.go
// convention of appending tool_result content as the next user turn.
func (s *Session) AppendToolResults(results []domain.ToolResult) {
	for _, r := range results {
		content := r.Content
		if r.IsError() {
			content = fmt.Sprintf("error(%s): %s", r.Err.Kind, r.Err.Message)
		}
		s.history = append(s.history, domain.Message{
			Role:    domain.RoleUser,
			Content: fmt.Sprintf("[tool_result %s] %s", r.ToolCallID, content),
		})
	}
}

func (s *Session) turn(ctx context.Context, text string, schemas []tools.ToolSchema) (*Response, error) {
	s.history = append(s.history, domain.Message{Role: domain.RoleUser, Content: text})

	deltas, err := s.backend.Stream(ctx, s.system, s.history, schemas)
	if err != nil {
		return nil, fmt.Errorf("llmsession: stream start: %w", err)
	}

	acc := newAccumulator()
	for {
		select {
		case d, ok := <-deltas:
			if !ok {
				return nil, fmt.Errorf("llmsession: backend closed stream without a final delta")
			}
			if d.Err != nil {
				return nil, d.Err
			}
			acc.apply(d)
			if d.Final {
				resp := acc.finalize(d.StopReason)
				s.recordAssistantTurn(resp)
				return resp, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Session) recordAssistantTurn(resp *Response) {
	if text := resp.Text(); text != "" {
		s.history = append(s.history, domain.Message{Role: domain.RoleAssistant, Content: text})
	}
}

// deltaAccumulator reassembles StreamDelta fragments into ordered
// ContentBlocks, keyed by block index — mirrors LoopState.PendingTools
// in the teacher's agent/loop.go, generalized to cover text blocks too.
type deltaAccumulator struct {
	order []int
	text  map[int]*stringsBuilder
	tools map[int]*toolBuilder
	kind  map[int]BlockKind
}

type stringsBuilder struct{ s string }

func (b *stringsBuilder) WriteString(s string) { b.s += s }

type toolBuilder struct {
	id, name string
	argsJSON string
}

func newAccumulator() *deltaAccumulator {
	return &deltaAccumulator{
		text:  make(map[int]*stringsBuilder),
		tools: make(map[int]*toolBuilder),
		kind:  make(map[int]BlockKind),
	}
}

func (a *deltaAccumulator) apply(d StreamDelta) {
	if _, seen := a.kind[d.BlockIndex]; !seen {
		a.order = append(a.order, d.BlockIndex)
		a.kind[d.BlockIndex] = d.BlockKind
		if d.BlockKind == BlockToolUse {
			a.tools[d.BlockIndex] = &toolBuilder{id: d.ToolID, name: d.ToolName}
		} else {
			a.text[d.BlockIndex] = &stringsBuilder{}
		}
	}

	switch a.kind[d.BlockIndex] {
	case BlockText:
		a.text[d.BlockIndex].WriteString(d.TextDelta)
	case BlockToolUse:
		tb := a.tools[d.BlockIndex]
		if d.ToolID != "" {
			tb.id = d.ToolID
		}
		if d.ToolName != "" {
			tb.name = d.ToolName
		}
		tb.argsJSON += d.ArgsDelta
	}
}

func (a *deltaAccumulator) finalize(stop StopReason) *Response {
	sort.Ints(a.order)
	resp := &Response{StopReason: stop}
	for _, idx := range a.order {
		switch a.kind[idx] {
		case BlockText:
			resp.Blocks = append(resp.Blocks, ContentBlock{Kind: BlockText, Text: a.text[idx].s})
		case BlockToolUse:
			tb := a.tools[idx]
			var args map[string]any
			if tb.argsJSON != "" {
				_ = json.Unmarshal([]byte(tb.argsJSON), &args)
			}
			resp.Blocks = append(resp.Blocks, ContentBlock{
				Kind: BlockToolUse,
				Tool: domain.ToolCall{ID: tb.id, Name: tb.name, Arguments: args},
			})
		}
	}
	return resp
}
