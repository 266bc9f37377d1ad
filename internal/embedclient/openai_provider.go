package embedclient

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// openaiProvider calls an OpenAI-compatible /embeddings endpoint via the
// official SDK, modeled on the teacher's SDK-based chat completion client
// (internal/llm/openai_client.go).
type openaiProvider struct {
	api   openai.Client
	model string
}

func newOpenAIProvider(baseURL, apiKey, model string) *openaiProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openaiProvider{api: openai.NewClient(opts...), model: model}
}

// embedBatch reassembles the response by each item's reported index, since
// providers are not required to preserve request order (spec.md §4.2).
func (p *openaiProvider) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	resp, err := p.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
	})
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(out) {
			continue
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[idx] = vec
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return out, nil
}
