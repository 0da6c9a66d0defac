package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/quorumkit/agentcore/internal/domain"
	"github.com/quorumkit/agentcore/internal/llmsession"
	"github.com/quorumkit/agentcore/internal/tools"
)

// OpenAIConfig configures an OpenAIBackend.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	MaxRetries int
	RetryDelay time.Duration
	MaxTokens  int
}

// OpenAIBackend implements llmsession.Backend against GPT models.
type OpenAIBackend struct {
	client     *openai.Client
	model      string
	maxRetries int
	retryDelay time.Duration
	maxTokens  int
}

// NewOpenAIBackend validates cfg, applies defaults, and returns a
// ready-to-use backend.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("providers: openai API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-5.2-codex"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	return &OpenAIBackend{
		client:     openai.NewClient(cfg.APIKey),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		maxTokens:  cfg.MaxTokens,
	}, nil
}

// Stream issues one chat-completion request and relays deltas, retrying
// stream-open failures with linear backoff (mirrors the teacher's
// openai.go retry loop).
func (b *OpenAIBackend) Stream(ctx context.Context, systemPrompt string, messages []domain.Message, schemas []tools.ToolSchema) (<-chan llmsession.StreamDelta, error) {
	req := openai.ChatCompletionRequest{
		Model:    b.model,
		Messages: toOpenAIMessages(systemPrompt, messages),
		Stream:   true,
	}
	if b.maxTokens > 0 {
		req.MaxTokens = b.maxTokens
	}
	if len(schemas) > 0 {
		req.Tools = toOpenAITools(schemas)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < b.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = b.client.CreateChatCompletionStream(ctx, req)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("providers: openai stream init: %w", lastErr)
	}

	out := make(chan llmsession.StreamDelta, 16)
	go relayOpenAI(ctx, stream, out)
	return out, nil
}

// relayOpenAI drains the chunked stream, accumulating per-index tool
// call fragments the way the teacher's processStream does, and emits a
// Final delta once the stream reports io.EOF or a tool_calls finish.
func relayOpenAI(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- llmsession.StreamDelta) {
	defer close(out)
	defer stream.Close()

	seenTool := make(map[int]bool)

	for {
		select {
		case <-ctx.Done():
			out <- llmsession.StreamDelta{Err: ctx.Err()}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				out <- llmsession.StreamDelta{Final: true, StopReason: llmsession.StopEndTurn}
				return
			}
			out <- llmsession.StreamDelta{Err: fmt.Errorf("providers: openai stream: %w", err)}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			out <- llmsession.StreamDelta{BlockIndex: 0, BlockKind: llmsession.BlockText, TextDelta: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			blockIndex := index + 1 // reserve block 0 for interleaved text
			if !seenTool[blockIndex] {
				seenTool[blockIndex] = true
				out <- llmsession.StreamDelta{
					BlockIndex: blockIndex,
					BlockKind:  llmsession.BlockToolUse,
					ToolID:     tc.ID,
					ToolName:   tc.Function.Name,
				}
			}
			if tc.Function.Arguments != "" {
				out <- llmsession.StreamDelta{BlockIndex: blockIndex, BlockKind: llmsession.BlockToolUse, ArgsDelta: tc.Function.Arguments}
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			out <- llmsession.StreamDelta{Final: true, StopReason: llmsession.StopToolUse}
			return
		}
	}
}

func toOpenAIMessages(systemPrompt string, messages []domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func toOpenAITools(schemas []tools.ToolSchema) []openai.Tool {
	out := make([]openai.Tool, 0, len(schemas))
	for _, s := range schemas {
		params, _ := json.Marshal(s.InputSchema)
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return out
}
