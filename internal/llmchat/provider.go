// Package llmchat provides the chat-completion provider abstraction shared by
// the query router (C6, rewrite/decomposition) and the answer composer (C8,
// streaming). Grounded on the teacher's internal/llm/provider.go interface.
package llmchat

import "context"

// Message is one turn of a chat conversation.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// StreamHandler receives incremental tokens from a streaming completion.
type StreamHandler interface {
	OnDelta(content string)
}

// StreamHandlerFunc adapts a function to StreamHandler.
type StreamHandlerFunc func(content string)

func (f StreamHandlerFunc) OnDelta(content string) { f(content) }

// Provider is the narrow chat-completion surface the rest of the service
// depends on; concrete backends (OpenAI, Anthropic) implement it.
type Provider interface {
	Chat(ctx context.Context, model string, msgs []Message) (string, error)
	ChatStream(ctx context.Context, model string, msgs []Message, h StreamHandler) error
}
