// Package providers adapts concrete LLM vendor SDKs to the
// llmsession.Backend port, grounded on the teacher's
// internal/agent/providers/anthropic.go and openai.go: each adapter owns
// one vendor client, converts the domain message history and tool
// schemas to that vendor's wire shapes, and translates the vendor's
// streaming events into llmsession.StreamDelta.
package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/quorumkit/agentcore/internal/domain"
	"github.com/quorumkit/agentcore/internal/llmsession"
	"github.com/quorumkit/agentcore/internal/tools"
)

// AnthropicConfig configures an AnthropicBackend.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	RetryDelay time.Duration
	MaxTokens  int64
}

// AnthropicBackend implements llmsession.Backend against Claude models.
type AnthropicBackend struct {
	client     anthropic.Client
	model      string
	maxRetries int
	retryDelay time.Duration
	maxTokens  int64
}

// NewAnthropicBackend validates cfg, applies defaults, and returns a
// ready-to-use backend.
func NewAnthropicBackend(cfg AnthropicConfig) (*AnthropicBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("providers: anthropic API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicBackend{
		client:     anthropic.NewClient(opts...),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		maxTokens:  cfg.MaxTokens,
	}, nil
}

// Stream issues one completion request and relays content-block deltas.
// Once a stream has started, errors surface as a terminal
// StreamDelta.Err rather than being retried mid-flight. Stream itself
// never retries (maxRetries and retryDelay are stored but not read here),
// and internal/nativeloop returns a failed turn's error to its caller
// without retrying it either.
func (b *AnthropicBackend) Stream(ctx context.Context, systemPrompt string, messages []domain.Message, schemas []tools.ToolSchema) (<-chan llmsession.StreamDelta, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.model),
		MaxTokens: b.maxTokens,
		Messages:  toAnthropicMessages(messages),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: systemPrompt}}
	}
	if len(schemas) > 0 {
		params.Tools = toAnthropicTools(schemas)
	}

	stream := b.client.Messages.NewStreaming(ctx, params)

	out := make(chan llmsession.StreamDelta, 16)
	go relayAnthropic(stream, out)
	return out, nil
}

// relayAnthropic drains the SDK's SSE stream, translating Anthropic's
// event union into StreamDelta values keyed by content-block index —
// mirrors the teacher's processStream switch over event.Type.
func relayAnthropic(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- llmsession.StreamDelta) {
	defer close(out)

	var currentKind llmsession.BlockKind
	var currentIndex int
	stopReason := llmsession.StopEndTurn

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "content_block_start":
			cbs := event.AsContentBlockStart()
			currentIndex = int(cbs.Index)
			switch cbs.ContentBlock.Type {
			case "tool_use":
				toolUse := cbs.ContentBlock.AsToolUse()
				currentKind = llmsession.BlockToolUse
				out <- llmsession.StreamDelta{
					BlockIndex: currentIndex,
					BlockKind:  llmsession.BlockToolUse,
					ToolID:     toolUse.ID,
					ToolName:   toolUse.Name,
				}
			default:
				currentKind = llmsession.BlockText
			}

		case "content_block_delta":
			cbd := event.AsContentBlockDelta()
			switch cbd.Delta.Type {
			case "text_delta":
				if cbd.Delta.Text != "" {
					out <- llmsession.StreamDelta{BlockIndex: currentIndex, BlockKind: llmsession.BlockText, TextDelta: cbd.Delta.Text}
				}
			case "input_json_delta":
				if cbd.Delta.PartialJSON != "" {
					out <- llmsession.StreamDelta{BlockIndex: currentIndex, BlockKind: llmsession.BlockToolUse, ArgsDelta: cbd.Delta.PartialJSON}
				}
			}

		case "message_delta":
			md := event.AsMessageDelta()
			stopReason = stopReasonFromAnthropic(string(md.Delta.StopReason))
			if stopReason == llmsession.StopToolUse {
				out <- llmsession.StreamDelta{BlockIndex: currentIndex, BlockKind: currentKind, Done: true}
			}

		case "message_stop":
			out <- llmsession.StreamDelta{BlockIndex: currentIndex, BlockKind: currentKind, Final: true, StopReason: stopReason}
			return

		case "error":
			out <- llmsession.StreamDelta{Err: fmt.Errorf("providers: anthropic stream error event")}
			return
		}
	}

	if err := stream.Err(); err != nil {
		out <- llmsession.StreamDelta{Err: fmt.Errorf("providers: anthropic stream: %w", err)}
	}
}

func stopReasonFromAnthropic(reason string) llmsession.StopReason {
	switch reason {
	case "tool_use":
		return llmsession.StopToolUse
	case "max_tokens":
		return llmsession.StopMaxTokens
	case "stop_sequence":
		return llmsession.StopSequence
	default:
		return llmsession.StopEndTurn
	}
}

func toAnthropicMessages(messages []domain.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case domain.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

func toAnthropicTools(schemas []tools.ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		props, _ := s.InputSchema["properties"].(map[string]any)
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        s.Name,
				Description: anthropic.String(s.Description),
				InputSchema: anthropic.ToolInputSchemaParam{Properties: props},
			},
		})
	}
	return out
}

