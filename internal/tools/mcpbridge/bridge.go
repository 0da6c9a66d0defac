// Package mcpbridge exposes a tools.Registry's low-risk tools as an MCP
// server, for hosts that want to front this engine's tool surface over
// the Model Context Protocol instead of driving the Native Tool Use Loop
// directly. Grounded on kadirpekel-hector's pkg/tool/mcptoolset (the
// mark3labs/mcp-go wiring this pack shows) and the teacher's
// internal/agent/tool_registry.go schema shape, run in the opposite
// direction: that code is an MCP *client* consuming a remote tool server,
// this is the *server* side wrapping our own registry.
//
// High-risk tools are never bridged: spec §4.H's action_review gate is a
// property of the Native Tool Use Loop, which an external MCP client
// bypasses entirely, so only RiskLow definitions are exposed.
package mcpbridge

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/quorumkit/agentcore/internal/domain"
	"github.com/quorumkit/agentcore/internal/toolexec"
	"github.com/quorumkit/agentcore/internal/tools"
)

// Bridge wraps an *server.MCPServer built from a registry's low-risk
// tools.
type Bridge struct {
	mcp *server.MCPServer
}

// New builds a Bridge named name/version, registering one MCP tool per
// low-risk definition in registry. Each call is validated and dispatched
// exactly as the Native Tool Use Loop would dispatch a low-risk call
// (tools.Validator then toolexec.Executor), so behavior is identical
// regardless of which front end produced the call.
func New(name, version string, registry *tools.Registry, validator *tools.Validator, executor *toolexec.Executor) *Bridge {
	s := server.NewMCPServer(name, version)

	for _, def := range registry.All() {
		if def.Risk != domain.RiskLow {
			continue
		}
		s.AddTool(toMCPTool(def), handlerFor(def, validator, executor))
	}

	return &Bridge{mcp: s}
}

// ServeStdio runs the bridge over stdio until ctx is done or the
// transport closes, the same way an MCP host process front-ends any
// other MCP server.
func (b *Bridge) ServeStdio(ctx context.Context) error {
	return server.ServeStdio(b.mcp, server.WithStdioContextFunc(func(context.Context) context.Context { return ctx }))
}

func toMCPTool(def domain.Definition) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(def.Description)}
	for _, p := range def.Params {
		propOpts := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			propOpts = append(propOpts, mcp.Required())
		}
		switch p.Type {
		case domain.ParamInteger, domain.ParamNumber:
			opts = append(opts, mcp.WithNumber(p.Name, propOpts...))
		case domain.ParamBoolean:
			opts = append(opts, mcp.WithBoolean(p.Name, propOpts...))
		default:
			opts = append(opts, mcp.WithString(p.Name, propOpts...))
		}
	}
	return mcp.NewTool(def.Name, opts...)
}

func handlerFor(def domain.Definition, validator *tools.Validator, executor *toolexec.Executor) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		if verr := validator.Validate(def, args); verr != nil {
			return mcp.NewToolResultError(verr.Message), nil
		}

		call := domain.ToolCall{ID: uuid.NewString(), Name: def.Name, Arguments: args}
		result := executor.Execute(ctx, call)
		if result.IsError() {
			return mcp.NewToolResultError(fmt.Sprintf("%s: %s", result.Err.Kind, result.Err.Message)), nil
		}
		return mcp.NewToolResultText(result.Content), nil
	}
}
