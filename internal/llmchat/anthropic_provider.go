package llmchat

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider is the alternate chat-completion backend, selected via
// LLM_PROVIDER=anthropic, grounded in the teacher's multi-provider llm
// package (provider selection concern, not a file it shipped itself).
type AnthropicProvider struct {
	api anthropic.Client
}

// NewAnthropicProvider constructs an AnthropicProvider.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{api: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func toAnthropicMessages(msgs []Message) (system string, out []anthropic.MessageParam) {
	for _, m := range msgs {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, out
}

func (p *AnthropicProvider) Chat(ctx context.Context, model string, msgs []Message) (string, error) {
	system, sdkMsgs := toAnthropicMessages(msgs)
	resp, err := p.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1024,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages:  sdkMsgs,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("no content returned")
	}
	return resp.Content[0].Text, nil
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, model string, msgs []Message, h StreamHandler) error {
	system, sdkMsgs := toAnthropicMessages(msgs)
	stream := p.api.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1024,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages:  sdkMsgs,
	})
	defer stream.Close()
	for stream.Next() {
		event := stream.Current()
		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if text := delta.Delta.Text; text != "" {
				h.OnDelta(text)
			}
		}
	}
	return stream.Err()
}
