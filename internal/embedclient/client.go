// Package embedclient implements the embedding client (C2): a batching,
// order-preserving wrapper around an embedding provider, backed by the
// process-local embedding cache (C1) for single-text calls.
package embedclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/townhall-civic/rag/internal/cache"
)

// Error is a typed embedding failure, letting callers fall back to
// lexical-only retrieval per spec.md §4.2.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("embedding: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// provider is the narrow surface a backend must satisfy: embed a batch of
// already-trimmed, non-empty strings and return one vector per input,
// reassembled into input order.
type provider interface {
	embedBatch(ctx context.Context, inputs []string) ([][]float32, error)
}

// Client exposes Embed and EmbedBatch per the C2 contract.
type Client struct {
	backend   provider
	dimension int
	batchSize int
	cache     *cache.EmbeddingCache
}

// New constructs a Client backed by an OpenAI-compatible embeddings endpoint.
func New(baseURL, apiKey, model string, dimension, batchSize int, c *cache.EmbeddingCache) *Client {
	return newWithProvider(newOpenAIProvider(baseURL, apiKey, model), dimension, batchSize, c)
}

func newWithProvider(p provider, dimension, batchSize int, c *cache.EmbeddingCache) *Client {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Client{backend: p, dimension: dimension, batchSize: batchSize, cache: c}
}

// EmbedFunc adapts a plain function to the internal provider interface, so
// other packages' tests can construct a Client backed by a deterministic
// fake instead of a live network call.
type EmbedFunc func(ctx context.Context, inputs []string) ([][]float32, error)

func (f EmbedFunc) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	return f(ctx, inputs)
}

// NewWithFunc constructs a Client backed by fn, for use by other packages'
// tests.
func NewWithFunc(fn EmbedFunc, dimension, batchSize int, c *cache.EmbeddingCache) *Client {
	return newWithProvider(fn, dimension, batchSize, c)
}

// Dimension returns the configured fixed output dimension D.
func (c *Client) Dimension() int { return c.dimension }

// Embed returns the vector for a single piece of text, going through the
// embedding cache first.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, &Error{Op: "embed", Err: fmt.Errorf("empty input")}
	}
	if c.cache != nil {
		if v, ok := c.cache.Get(trimmed); ok {
			return v, nil
		}
	}
	vectors, err := c.callProvider(ctx, []string{trimmed})
	if err != nil {
		return nil, err
	}
	v := vectors[0]
	if c.cache != nil {
		c.cache.Put(trimmed, v)
	}
	return v, nil
}

// EmbedBatch embeds many texts, splitting into provider-sized batches and
// reassembling by the provider-reported index so the output always matches
// input order regardless of what order the provider returns items in.
// Batches bypass the single-text cache (spec.md §4.2).
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	trimmed := make([]string, len(texts))
	for i, t := range texts {
		tt := strings.TrimSpace(t)
		if tt == "" {
			return nil, &Error{Op: "embed_batch", Err: fmt.Errorf("empty input at index %d", i)}
		}
		trimmed[i] = tt
	}

	out := make([][]float32, len(trimmed))
	for start := 0; start < len(trimmed); start += c.batchSize {
		end := start + c.batchSize
		if end > len(trimmed) {
			end = len(trimmed)
		}
		chunk := trimmed[start:end]
		vectors, err := c.callProvider(ctx, chunk)
		if err != nil {
			return nil, err
		}
		for i, v := range vectors {
			out[start+i] = v
		}
	}
	return out, nil
}

func (c *Client) callProvider(ctx context.Context, inputs []string) ([][]float32, error) {
	vectors, err := c.backend.embedBatch(ctx, inputs)
	if err != nil {
		return nil, &Error{Op: "provider_call", Err: err}
	}
	if len(vectors) != len(inputs) {
		return nil, &Error{Op: "provider_call", Err: fmt.Errorf("unexpected embedding count: got %d, want %d", len(vectors), len(inputs))}
	}
	return vectors, nil
}

// CheckReachability sends a small probe request to verify the provider is
// reachable and responding, used at startup (not a spec-mandated endpoint).
func (c *Client) CheckReachability(ctx context.Context) error {
	_, err := c.callProvider(ctx, []string{"ping"})
	if err != nil {
		return fmt.Errorf("embedding endpoint reachability check failed: %w", err)
	}
	return nil
}
